package fmu

import (
	"fmt"
	"time"
)

// ActuatorCommand is one mixed output frame, each output normalized to [0, 1].
type ActuatorCommand struct {
	Time      time.Time
	Outputs   []float64
	Saturated bool
	// Clipped marks outputs sitting on a limit after mixing.
	Clipped []bool
	Armed   bool

	// Thrust and Torque are what the mixer achieved, after any scaling.
	Thrust float64
	Torque Vec3
}

// Clone returns a deep copy so the command can be handed to another task.
func (c ActuatorCommand) Clone() ActuatorCommand {
	c.Outputs = append([]float64(nil), c.Outputs...)
	c.Clipped = append([]bool(nil), c.Clipped...)
	return c
}

// PWM maps the outputs to pulse widths in microseconds.
// Disarmed commands map every output to min.
func (c ActuatorCommand) PWM(min, max uint16) []uint16 {
	pwm := make([]uint16, len(c.Outputs))
	for i, o := range c.Outputs {
		if !c.Armed {
			pwm[i] = min
			continue
		}
		pwm[i] = min + uint16(Clamp(o, 0, 1)*float64(max-min)+0.5)
	}
	return pwm
}

func (c ActuatorCommand) String() string {
	return fmt.Sprintf("act@%s %.3v sat=%t armed=%t", c.Time.Format("15:04:05.000"), c.Outputs, c.Saturated, c.Armed)
}
