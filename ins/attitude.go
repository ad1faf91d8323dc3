package ins

import (
	"math"

	. "nyiyui.ca/hato/fmu"
)

// attitudeFilter is a Mahony complementary filter on a quaternion.
// Accelerometer feedback corrects tilt, the magnetometer corrects heading.
type attitudeFilter struct {
	q Quat
	// integral is the accumulated gyro bias correction in rad/s.
	integral Vec3

	aligned    bool
	alignN     int
	alignAccel Vec3
	alignMagN  int
	alignMag   Vec3
}

const (
	maxIntegral = 0.1
	// accelTrust is the band around 1 g within which the accelerometer is
	// taken as a gravity reference.
	accelTrust = 0.15
)

// addAlign accumulates a stationary sample. It returns true once enough
// accelerometer samples are in.
func (f *attitudeFilter) addAlign(s RawSample, need int) bool {
	switch s.Sensor {
	case SensorAccel:
		f.alignAccel = f.alignAccel.Add(s.Value)
		f.alignN++
	case SensorMag:
		f.alignMag = f.alignMag.Add(s.Value)
		f.alignMagN++
	}
	return f.alignN >= need
}

// align sets the attitude from the averaged samples.
func (f *attitudeFilter) align(declination float64) {
	a := f.alignAccel.Scale(1 / float64(f.alignN))
	roll := math.Atan2(-a.Y, -a.Z)
	pitch := math.Atan2(a.X, math.Hypot(a.Y, a.Z))
	yaw := 0.0
	if f.alignMagN > 0 {
		m := QuatFromEuler(roll, pitch, 0).Rotate(f.alignMag.Scale(1 / float64(f.alignMagN)))
		if math.Hypot(m.X, m.Y) > 1e-6 {
			yaw = WrapPi(declination - math.Atan2(m.Y, m.X))
		}
	}
	f.q = QuatFromEuler(roll, pitch, yaw)
	f.integral = Vec3{}
	f.aligned = true
}

// propagate integrates the gyro over dt seconds and returns the corrected body rate.
func (f *attitudeFilter) propagate(gyro, accel Vec3, useAccel bool, kp, ki, maxCorr, dt float64) Vec3 {
	var corr Vec3
	if n := accel.Norm(); useAccel && math.Abs(n-Gravity) < accelTrust*Gravity {
		measured := accel.Scale(1 / n)
		expected := f.q.RotateInv(Vec3{X: 0, Y: 0, Z: -1})
		e := measured.Cross(expected)
		if ki > 0 {
			f.integral = f.integral.Add(e.Scale(ki * dt)).ClampNorm(maxIntegral)
		}
		corr = e.Scale(kp).ClampNorm(maxCorr)
	}
	rate := gyro.Add(f.integral)
	f.q = f.q.Integrate(rate.Add(corr), dt)
	return rate
}

// correctHeading rotates the estimate about world down toward the heading
// implied by mag. The step is gain times the error, capped at maxStep radians.
func (f *attitudeFilter) correctHeading(mag Vec3, declination, gain, maxStep float64) float64 {
	m := f.q.Rotate(mag)
	if math.Hypot(m.X, m.Y) < 1e-6 {
		return 0
	}
	err := WrapPi(declination - math.Atan2(m.Y, m.X))
	step := math.Max(-maxStep, math.Min(maxStep, gain*err))
	f.q = QuatFromRotationVector(Vec3{Z: step}).Mul(f.q).Normalize()
	return step
}
