package control

import (
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// AttitudeStage is a proportional loop on the quaternion error, producing
// body rate setpoints.
type AttitudeStage struct {
	conf param.Control
}

func NewAttitudeStage(conf param.Control) *AttitudeStage {
	return &AttitudeStage{conf: conf}
}

func (s *AttitudeStage) SetParams(conf param.Control) { s.conf = conf }

// Step converts an attitude setpoint. Rate setpoints pass through.
// Setpoint.Rate on an attitude setpoint is added as a feed-forward.
func (s *AttitudeStage) Step(st VehicleState, sp Setpoint) Setpoint {
	if sp.Kind < SetpointAttitude || !sp.Armed {
		return sp
	}
	c := s.conf
	// Error in the body frame; Normalize picks the short way round.
	e := st.Attitude.Conj().Mul(sp.Attitude).Normalize()
	rate := Vec3{
		X: 2 * e.X * c.AttitudeRollP,
		Y: 2 * e.Y * c.AttitudePitchP,
		Z: 2 * e.Z * c.AttitudeYawP,
	}.Add(sp.Rate)
	rate.X = Clamp(rate.X, -c.MaxRate, c.MaxRate)
	rate.Y = Clamp(rate.Y, -c.MaxRate, c.MaxRate)
	rate.Z = Clamp(rate.Z, -c.MaxYawRate, c.MaxYawRate)
	return Setpoint{
		Time:     sp.Time,
		Kind:     SetpointRate,
		Source:   sp.Source,
		Vertical: VerticalThrust,
		Rate:     rate,
		Thrust:   sp.Thrust,
		Yaw:      sp.Yaw,
		Armed:    true,
	}
}
