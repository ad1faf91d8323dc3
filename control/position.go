package control

import (
	"math"

	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// PositionStage turns position and velocity setpoints into an attitude and
// collective thrust. Setpoints with nothing for it to do pass through.
type PositionStage struct {
	conf  param.Control
	hover float64

	vel [3]PID
	// saturated is carried into the next step to freeze the velocity integrators.
	saturated bool
}

func NewPositionStage(conf param.Control) *PositionStage {
	s := &PositionStage{hover: conf.HoverThrust}
	s.SetParams(conf)
	return s
}

func (s *PositionStage) SetParams(conf param.Control) {
	s.conf = conf
	s.vel[0].Gains = conf.VelocityXY
	s.vel[1].Gains = conf.VelocityXY
	s.vel[2].Gains = conf.VelocityZ
}

// SetHover sets the collective thrust that holds altitude.
func (s *PositionStage) SetHover(h float64) { s.hover = h }

func (s *PositionStage) Reset() {
	for i := range s.vel {
		s.vel[i].Reset()
	}
	s.saturated = false
}

// Step runs the position and velocity loops. dt is in seconds.
func (s *PositionStage) Step(st VehicleState, sp Setpoint, dt float64) Setpoint {
	if !sp.Armed {
		s.Reset()
		return sp
	}
	if !sp.NeedsOuter() {
		return sp
	}
	c := s.conf

	var horizontal bool
	var velSp Vec3
	switch sp.Kind {
	case SetpointPosition:
		horizontal = true
		velSp = sp.Position.Sub(st.Position).Horizontal().Scale(c.PositionXYP).Add(sp.Velocity.Horizontal())
	case SetpointVelocity:
		horizontal = true
		velSp = sp.Velocity.Horizontal()
	}
	velSp = velSp.ClampNorm(c.MaxHorizontalSpeed)

	vertical := sp.Vertical != VerticalThrust
	switch sp.Vertical {
	case VerticalPosition:
		velSp.Z = c.PositionZP*(sp.Position.Z-st.Position.Z) + sp.Velocity.Z
	case VerticalVelocity:
		velSp.Z = sp.Velocity.Z
	}
	velSp.Z = Clamp(velSp.Z, -c.MaxClimbRate, c.MaxDescentRate)

	var acc Vec3
	freeze := s.saturated
	if horizontal {
		acc.X, _ = s.vel[0].Step(velSp.X, st.Velocity.X, 0, dt, freeze)
		acc.Y, _ = s.vel[1].Step(velSp.Y, st.Velocity.Y, 0, dt, freeze)
	} else {
		s.vel[0].Reset()
		s.vel[1].Reset()
	}
	if vertical {
		acc.Z, _ = s.vel[2].Step(velSp.Z, st.Velocity.Z, 0, dt, freeze)
	} else {
		s.vel[2].Reset()
	}

	out := Setpoint{
		Time:     sp.Time,
		Kind:     SetpointAttitude,
		Source:   sp.Source,
		Vertical: VerticalThrust,
		Yaw:      sp.Yaw,
		Armed:    true,
	}
	hover := s.hover
	if !horizontal {
		// Attitude comes from the supervisor; only thrust is computed, with
		// tilt compensation.
		out.Attitude = sp.Attitude
		out.Rate = sp.Rate
		thrust := sp.Thrust
		if vertical {
			up := out.Attitude.Rotate(Vec3{Z: -1})
			cosTilt := math.Max(math.Cos(c.MaxTilt), -up.Z)
			thrust = hover * (Gravity - acc.Z) / Gravity / cosTilt
		}
		out.Thrust = Clamp(thrust, c.MinThrust, c.MaxThrust)
		s.saturated = out.Thrust != thrust
		return out
	}

	// Thrust vector in NED, pointing where the rotors push.
	t := Vec3{X: acc.X, Y: acc.Y, Z: acc.Z - Gravity}
	if !vertical {
		t.Z = -Gravity * sp.Thrust / hover
	}
	if t.Z > -0.1*Gravity {
		t.Z = -0.1 * Gravity
	}
	limited := false
	maxH := -t.Z * math.Tan(c.MaxTilt)
	if h := t.Horizontal(); h.Norm() > maxH {
		h = h.ClampNorm(maxH)
		t.X, t.Y = h.X, h.Y
		limited = true
	}
	thrust := t.Norm() / Gravity * hover
	out.Thrust = Clamp(thrust, c.MinThrust, c.MaxThrust)
	out.Attitude = attitudeFromThrust(t, sp.Yaw)
	s.saturated = limited || out.Thrust != thrust
	return out
}

// attitudeFromThrust returns the attitude whose body up axis is along t
// with the nose pointing at yaw.
func attitudeFromThrust(t Vec3, yaw float64) Quat {
	zb := t.Scale(-1).Normalize()
	xc := Vec3{X: math.Cos(yaw), Y: math.Sin(yaw), Z: 0}
	yb := zb.Cross(xc)
	if yb.Norm() < 1e-6 {
		return QuatFromEuler(0, 0, yaw)
	}
	yb = yb.Normalize()
	xb := yb.Cross(zb)
	return QuatFromMatrix([3][3]float64{
		{xb.X, yb.X, zb.X},
		{xb.Y, yb.Y, zb.Y},
		{xb.Z, yb.Z, zb.Z},
	})
}
