package control

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	. "nyiyui.ca/hato/fmu"
)

// Rotor is one propeller seen from above. Angle is measured from the nose
// towards the right wing. Dir is +1 for counter-clockwise spin and -1 for
// clockwise.
type Rotor struct {
	Angle float64
	Dir   float64
}

type Geometry []Rotor

const deg = math.Pi / 180

// QuadX is the usual X quad, motors numbered front-right, rear-left,
// front-left, rear-right.
func QuadX() Geometry {
	return Geometry{
		{45 * deg, 1},
		{225 * deg, 1},
		{315 * deg, -1},
		{135 * deg, -1},
	}
}

// HexX numbers motors clockwise from the front-right.
func HexX() Geometry {
	g := make(Geometry, 6)
	for i := range g {
		dir := -1.0
		if i%2 == 1 {
			dir = 1
		}
		g[i] = Rotor{Angle: float64(30+60*i) * deg, Dir: dir}
	}
	return g
}

func GeometryByName(name string) (Geometry, error) {
	switch name {
	case "quad-x":
		return QuadX(), nil
	case "hex-x":
		return HexX(), nil
	}
	return nil, fmt.Errorf("unknown geometry %q", name)
}

// Mixer distributes collective thrust and body torque over the rotors.
//
// Thrust is normalized so equal outputs u give thrust u; torques are in the
// same normalized units the rate loop produces.
type Mixer struct {
	n int
	// effect maps outputs to (thrust, roll, pitch, yaw).
	effect *mat.Dense
	// alloc is the pseudo-inverse of effect.
	alloc *mat.Dense
}

func NewMixer(g Geometry, yawAuthority float64) (*Mixer, error) {
	n := len(g)
	if n < 4 {
		return nil, fmt.Errorf("mixer needs at least 4 rotors, got %d", n)
	}
	b := mat.NewDense(4, n, nil)
	for i, r := range g {
		b.Set(0, i, 1/float64(n))
		b.Set(1, i, -math.Sin(r.Angle))
		b.Set(2, i, math.Cos(r.Angle))
		b.Set(3, i, r.Dir*yawAuthority)
	}
	var bbt, inv mat.Dense
	bbt.Mul(b, b.T())
	err := inv.Inverse(&bbt)
	if err != nil {
		return nil, fmt.Errorf("geometry has no full authority: %w", err)
	}
	alloc := mat.NewDense(n, 4, nil)
	alloc.Mul(b.T(), &inv)
	return &Mixer{n: n, effect: b, alloc: alloc}, nil
}

func (m *Mixer) Len() int { return m.n }

// Mix allocates thrust and torque. When the demand cannot be met it first
// gives up torque to keep every output above zero, then scales every output
// by the same factor to stay below one.
func (m *Mixer) Mix(thrust float64, torque Vec3) ActuatorCommand {
	base := mat.NewVecDense(m.n, nil)
	base.MulVec(m.alloc, mat.NewVecDense(4, []float64{thrust, 0, 0, 0}))
	diff := mat.NewVecDense(m.n, nil)
	diff.MulVec(m.alloc, mat.NewVecDense(4, []float64{0, torque.X, torque.Y, torque.Z}))

	cmd := ActuatorCommand{
		Outputs: make([]float64, m.n),
		Clipped: make([]bool, m.n),
	}
	scale := 1.0
	for i := 0; i < m.n; i++ {
		u := base.AtVec(i) + diff.AtVec(i)
		if u < 0 && diff.AtVec(i) < 0 {
			scale = math.Min(scale, math.Max(0, base.AtVec(i))/-diff.AtVec(i))
		}
	}
	if scale < 1 {
		cmd.Saturated = true
	}
	peak := 0.0
	for i := range cmd.Outputs {
		u := math.Max(0, base.AtVec(i)+scale*diff.AtVec(i))
		cmd.Outputs[i] = u
		peak = math.Max(peak, u)
	}
	if peak > 1 {
		cmd.Saturated = true
		for i := range cmd.Outputs {
			cmd.Outputs[i] /= peak
		}
	}
	const eps = 1e-9
	for i, u := range cmd.Outputs {
		cmd.Clipped[i] = u <= eps || u >= 1-eps
	}
	cmd.Thrust, cmd.Torque = m.Effect(cmd.Outputs)
	return cmd
}

// Effect returns the thrust and torque produced by outputs.
func (m *Mixer) Effect(outputs []float64) (thrust float64, torque Vec3) {
	var r mat.VecDense
	r.MulVec(m.effect, mat.NewVecDense(len(outputs), append([]float64(nil), outputs...)))
	return r.AtVec(0), Vec3{X: r.AtVec(1), Y: r.AtVec(2), Z: r.AtVec(3)}
}

// Idle is the disarmed command: every output at zero.
func (m *Mixer) Idle() ActuatorCommand {
	return ActuatorCommand{
		Outputs: make([]float64, m.n),
		Clipped: make([]bool, m.n),
	}
}
