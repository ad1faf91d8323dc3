package control

import (
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// PIDState is everything a PID loop remembers between steps.
type PIDState struct {
	// Integral is kept in output units.
	Integral        float64
	PrevMeasurement float64
	// Primed is set once PrevMeasurement holds a real sample.
	Primed bool
}

// stepPID is one PID evaluation. The derivative acts on the measurement so
// setpoint steps do not kick the output. The integral is clamped to IMax and
// frozen while the output saturates in the direction of the error, or while
// freeze is set by a saturated stage further down.
func stepPID(g param.PIDGains, st PIDState, setpoint, measurement, ff, dt float64, freeze bool) (out float64, next PIDState, saturated bool) {
	err := setpoint - measurement
	var d float64
	if st.Primed && dt > 0 {
		d = -(measurement - st.PrevMeasurement) / dt
	}
	raw := g.Kp*err + st.Integral + g.Kd*d + ff
	out = Clamp(raw, -g.OutMax, g.OutMax)
	saturated = out != raw

	next = PIDState{Integral: st.Integral, PrevMeasurement: measurement, Primed: true}
	windup := saturated && (err > 0) == (raw > 0)
	if !windup && !freeze && dt > 0 {
		next.Integral = Clamp(st.Integral+g.Ki*err*dt, -g.IMax, g.IMax)
	}
	return out, next, saturated
}

// PID is a single-axis loop owning its state.
type PID struct {
	Gains param.PIDGains
	State PIDState
}

func (p *PID) Step(setpoint, measurement, ff, dt float64, freeze bool) (out float64, saturated bool) {
	out, p.State, saturated = stepPID(p.Gains, p.State, setpoint, measurement, ff, dt, freeze)
	return
}

func (p *PID) Reset() { p.State = PIDState{} }
