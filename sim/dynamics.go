package sim

import (
	"math"
	"time"

	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/ins"
)

const (
	noiseGyro = iota
	noiseAccel
	noiseMag
	noiseBaro
	noiseGPS
	noiseGPSVel
)

// hardLanding is the touchdown speed worth a log line, in m/s.
const hardLanding = 2.0

func (p *Plant) integrate(dt float64) {
	c := p.conf
	t := &p.truth
	cmd := p.command()

	alpha := 1.0
	if c.MotorLag > 0 {
		alpha = 1 - math.Exp(-dt/c.MotorLag.Seconds())
	}
	var total float64
	var torque Vec3
	for i, r := range c.Geometry {
		u := 0.0
		if cmd.Armed && p.remaining > 0 && i < len(cmd.Outputs) {
			u = Clamp(cmd.Outputs[i], 0, 1)
		}
		t.Motors[i] += (u - t.Motors[i]) * alpha
		f := t.Motors[i] * c.MotorThrust
		total += f
		// Rotor at (cos a, sin a)·arm pushing along body -Z.
		torque.X += -math.Sin(r.Angle) * c.Arm * f
		torque.Y += math.Cos(r.Angle) * c.Arm * f
		torque.Z += r.Dir * c.YawCoeff * f
	}
	p.remaining = math.Max(0, p.remaining-p.drain*dt*total/(c.Mass*Gravity)/c.Endurance.Seconds())

	// Euler's equations with a diagonal inertia.
	w := t.Rate
	in := c.Inertia
	iw := Vec3{X: in.X * w.X, Y: in.Y * w.Y, Z: in.Z * w.Z}
	net := torque.Sub(w.Cross(iw)).Sub(w.Scale(c.AngularDrag))
	wdot := Vec3{X: net.X / in.X, Y: net.Y / in.Y, Z: net.Z / in.Z}

	acc := t.Attitude.Rotate(Vec3{Z: -total}).Scale(1 / c.Mass).
		Add(Vec3{Z: Gravity}).
		Sub(t.Velocity.Scale(c.Drag / c.Mass))

	if t.Grounded {
		if acc.Z >= 0 {
			// Resting on the ground: the ground reacts to whatever pushes down.
			t.Accel = Vec3{}
			t.Velocity = Vec3{}
			t.Rate = Vec3{}
			return
		}
		t.Grounded = false
		p.log.Infow("liftoff", "thrust", total)
	}

	t.Rate = w.Add(wdot.Scale(dt))
	t.Attitude = t.Attitude.Integrate(t.Rate, dt)
	t.Accel = acc
	t.Velocity = t.Velocity.Add(acc.Scale(dt))
	t.Position = t.Position.Add(t.Velocity.Scale(dt))

	if t.Position.Z > 0 {
		if t.Velocity.Z > hardLanding {
			p.log.Warnw("hard landing", "speed", t.Velocity.Z)
		} else {
			p.log.Infow("touchdown", "speed", t.Velocity.Z)
		}
		t.Position.Z = 0
		t.Velocity = Vec3{}
		t.Accel = Vec3{}
		t.Rate = Vec3{}
		t.Attitude = QuatFromEuler(0, 0, t.Attitude.Yaw())
		t.Grounded = true
	}
}

func (p *Plant) noiseVec(kind int) Vec3 {
	n := &p.noise[kind]
	return Vec3{X: n.Rand(), Y: n.Rand(), Z: n.Rand()}
}

// emit sends every sample due at the current time.
func (p *Plant) emit() {
	now := p.truth.Time
	for id := SensorID(0); id < NumSensors; id++ {
		if now.Before(p.next[id]) {
			continue
		}
		for !now.Before(p.next[id]) {
			p.next[id] = p.next[id].Add(p.conf.Periods[id])
		}
		if p.dropped(id, now) || p.sink == nil {
			continue
		}
		p.sink.PushSample(p.sample(id, now))
	}
}

func (p *Plant) sample(id SensorID, now time.Time) RawSample {
	c := p.conf
	t := p.truth
	s := RawSample{Sensor: id, Time: now, Valid: true}
	switch id {
	case SensorGyro:
		s.Value = t.Rate.Add(c.GyroBias).Add(p.noiseVec(noiseGyro))
	case SensorAccel:
		s.Value = t.Attitude.RotateInv(t.Accel.Sub(Vec3{Z: Gravity})).Add(p.noiseVec(noiseAccel))
	case SensorMag:
		s.Value = t.Attitude.RotateInv(c.MagField).Add(p.noiseVec(noiseMag))
	case SensorBaro:
		alt := c.Home.Alt - t.Position.Z
		s.Value = Vec3{X: ins.AltitudePressure(alt) + p.noise[noiseBaro].Rand(), Y: 20}
	case SensorGPS:
		g := p.geo.ToGeo(t.Position.Add(p.noiseVec(noiseGPS)))
		s.Value = Vec3{X: g.Lat, Y: g.Lon, Z: g.Alt}
		s.GPS = GPSInfo{
			FixType:  3,
			NumSV:    14,
			HAcc:     math.Max(0.5, 2*c.Noise.GPS),
			VAcc:     math.Max(0.8, 3*c.Noise.GPS),
			SAcc:     math.Max(0.1, 2*c.Noise.GPSVel),
			Velocity: t.Velocity.Add(p.noiseVec(noiseGPSVel)),
		}
	}
	return s
}
