package fmu

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Gravity is standard gravity in m/s².
const Gravity = 9.80665

// Vec3 is a 3-vector. World-frame vectors are NED and body-frame vectors are FRD.
type Vec3 r3.Vec

func (a Vec3) Add(b Vec3) Vec3 { return Vec3(r3.Add(r3.Vec(a), r3.Vec(b))) }

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3(r3.Sub(r3.Vec(a), r3.Vec(b))) }

func (a Vec3) Scale(k float64) Vec3 { return Vec3(r3.Scale(k, r3.Vec(a))) }

func (a Vec3) Dot(b Vec3) float64 { return r3.Dot(r3.Vec(a), r3.Vec(b)) }

func (a Vec3) Cross(b Vec3) Vec3 { return Vec3(r3.Cross(r3.Vec(a), r3.Vec(b))) }

func (a Vec3) Norm() float64 { return r3.Norm(r3.Vec(a)) }

// Normalize returns the unit vector along a, or the zero vector if a is zero.
func (a Vec3) Normalize() Vec3 {
	if a == (Vec3{}) {
		return Vec3{}
	}
	return Vec3(r3.Unit(r3.Vec(a)))
}

// ClampNorm scales a down so its length does not exceed max.
func (a Vec3) ClampNorm(max float64) Vec3 {
	n := a.Norm()
	if n <= max || n == 0 {
		return a
	}
	return a.Scale(max / n)
}

// Horizontal drops the down component.
func (a Vec3) Horizontal() Vec3 { return Vec3{a.X, a.Y, 0} }

func (a Vec3) Finite() bool {
	return finite(a.X) && finite(a.Y) && finite(a.Z)
}

func (a Vec3) String() string {
	return fmt.Sprintf("(%.3f %.3f %.3f)", a.X, a.Y, a.Z)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// WrapPi wraps an angle into [-π, π).
func WrapPi(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// Quat is a Hamilton unit quaternion rotating body-frame vectors into the NED frame.
type Quat struct {
	W, X, Y, Z float64
}

var QuatIdentity = Quat{W: 1}

func (q Quat) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quat {
	return Quat{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

func (q Quat) Mul(r Quat) Quat { return fromNumber(quat.Mul(q.number(), r.number())) }

func (q Quat) Conj() Quat { return fromNumber(quat.Conj(q.number())) }

func (q Quat) Norm() float64 { return quat.Abs(q.number()) }

// Normalize returns q scaled to unit length. A degenerate q becomes the identity.
func (q Quat) Normalize() Quat {
	n := q.Norm()
	if n < 1e-12 || !finite(n) {
		return QuatIdentity
	}
	q = Quat{q.W / n, q.X / n, q.Y / n, q.Z / n}
	if q.W < 0 {
		q = Quat{-q.W, -q.X, -q.Y, -q.Z}
	}
	return q
}

// Valid reports whether q is finite and of unit length.
func (q Quat) Valid() bool {
	n := q.Norm()
	return finite(n) && math.Abs(n-1) < 1e-6
}

// Rotate rotates v from the body frame into the world frame. q must be a unit quaternion.
func (q Quat) Rotate(v Vec3) Vec3 {
	return Vec3(r3.Rotation(q.number()).Rotate(r3.Vec(v)))
}

// RotateInv rotates v from the world frame into the body frame.
func (q Quat) RotateInv(v Vec3) Vec3 { return q.Conj().Rotate(v) }

// QuatFromEuler builds a quaternion from ZYX (yaw, pitch, roll) angles in radians.
func QuatFromEuler(roll, pitch, yaw float64) Quat {
	sr, cr := math.Sincos(roll / 2)
	sp, cp := math.Sincos(pitch / 2)
	sy, cy := math.Sincos(yaw / 2)
	return Quat{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}.Normalize()
}

// Euler returns ZYX angles (roll, pitch, yaw) in radians.
func (q Quat) Euler() (roll, pitch, yaw float64) {
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	s := 2 * (q.W*q.Y - q.Z*q.X)
	pitch = math.Asin(math.Max(-1, math.Min(1, s)))
	yaw = math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return
}

func (q Quat) Yaw() float64 {
	_, _, yaw := q.Euler()
	return yaw
}

// QuatFromRotationVector returns the rotation of |v| radians about v.
func QuatFromRotationVector(v Vec3) Quat {
	angle := v.Norm()
	if angle < 1e-9 {
		return Quat{1, v.X / 2, v.Y / 2, v.Z / 2}.Normalize()
	}
	return fromNumber(quat.Number(r3.NewRotation(angle, r3.Vec(v))))
}

// Integrate advances q by body rate (rad/s) over dt seconds.
func (q Quat) Integrate(rate Vec3, dt float64) Quat {
	return q.Mul(QuatFromRotationVector(rate.Scale(dt))).Normalize()
}

// AngleTo returns the rotation angle in radians between q and r.
func (q Quat) AngleTo(r Quat) float64 {
	d := q.Conj().Mul(r)
	w := math.Min(1, math.Abs(d.W)/d.Norm())
	return 2 * math.Acos(w)
}

// QuatFromMatrix converts a body-to-world rotation matrix (m[row][col]) into a quaternion.
func QuatFromMatrix(m [3][3]float64) Quat {
	var q Quat
	tr := m[0][0] + m[1][1] + m[2][2]
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = Quat{s / 4, (m[2][1] - m[1][2]) / s, (m[0][2] - m[2][0]) / s, (m[1][0] - m[0][1]) / s}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = Quat{(m[2][1] - m[1][2]) / s, s / 4, (m[0][1] + m[1][0]) / s, (m[0][2] + m[2][0]) / s}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = Quat{(m[0][2] - m[2][0]) / s, (m[0][1] + m[1][0]) / s, s / 4, (m[1][2] + m[2][1]) / s}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = Quat{(m[1][0] - m[0][1]) / s, (m[0][2] + m[2][0]) / s, (m[1][2] + m[2][1]) / s, s / 4}
	}
	return q.Normalize()
}

func (q Quat) String() string {
	r, p, y := q.Euler()
	return fmt.Sprintf("rpy(%.1f° %.1f° %.1f°)", r*180/math.Pi, p*180/math.Pi, y*180/math.Pi)
}
