// Package control implements the multicopter control cascade:
// position → velocity → attitude → body rate → mixer.
//
// Each stage is owned by one task. A stage only acts on setpoints at its
// level or above and passes the rest through, so the supervisor can inject
// a setpoint at any level.
package control

import (
	"time"

	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// Cascade runs all stages back to back. The vehicle runs the stages as
// separate tasks instead; Cascade is for single-rate use.
type Cascade struct {
	Position *PositionStage
	Attitude *AttitudeStage
	Rate     *RateStage
}

func NewCascade(conf param.Control) (*Cascade, error) {
	r, err := NewRateStage(conf)
	if err != nil {
		return nil, err
	}
	return &Cascade{
		Position: NewPositionStage(conf),
		Attitude: NewAttitudeStage(conf),
		Rate:     r,
	}, nil
}

func (c *Cascade) SetParams(conf param.Control) error {
	c.Position.SetParams(conf)
	c.Attitude.SetParams(conf)
	return c.Rate.SetParams(conf)
}

func (c *Cascade) SetHover(h float64) {
	c.Position.SetHover(h)
	c.Rate.SetHover(h)
}

func (c *Cascade) Step(now time.Time, st VehicleState, sp Setpoint, dt float64) ActuatorCommand {
	sp = c.Position.Step(st, sp, dt)
	sp = c.Attitude.Step(st, sp)
	return c.Rate.Step(now, st, sp, dt)
}
