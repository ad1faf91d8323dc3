package control

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

var t0 = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func level() VehicleState {
	return VehicleState{
		Time:          t0,
		Attitude:      QuatIdentity,
		AttitudeValid: true,
		AltitudeValid: true,
		PositionValid: true,
		Converged:     true,
	}
}

func TestPIDDeterministic(t *testing.T) {
	g := param.PIDGains{Kp: 1, Ki: 0.5, Kd: 0.1, IMax: 1, OutMax: 2}
	st := PIDState{Integral: 0.2, PrevMeasurement: 0.1, Primed: true}
	out1, next1, sat1 := stepPID(g, st, 1, 0.3, 0, 0.01, false)
	out2, next2, sat2 := stepPID(g, st, 1, 0.3, 0, 0.01, false)
	if out1 != out2 || sat1 != sat2 || !cmp.Equal(next1, next2) {
		t.Fatal("identical inputs gave different results")
	}
	t.Run("setpoint step", func(t *testing.T) {
		// Derivative on measurement: a setpoint step alone does not change D.
		wide := g
		wide.OutMax = 10
		outA, _, _ := stepPID(wide, st, 1, 0.1, 0, 0.01, false)
		outB, _, _ := stepPID(wide, st, 2, 0.1, 0, 0.01, false)
		if math.Abs((outB-outA)-wide.Kp) > 1e-12 {
			t.Fatalf("setpoint step changed output by %f", outB-outA)
		}
	})
	t.Run("clamped", func(t *testing.T) {
		out, _, sat := stepPID(g, st, 2, 0.1, 0, 0.01, false)
		if out != g.OutMax || !sat {
			t.Fatalf("out=%f sat=%t", out, sat)
		}
	})
}

func TestPIDAntiWindup(t *testing.T) {
	g := param.PIDGains{Kp: 1, Ki: 1, IMax: 10, OutMax: 1}
	var p PID
	p.Gains = g
	for i := 0; i < 100; i++ {
		out, sat := p.Step(5, 0, 0, 0.01, false)
		if out != 1 || !sat {
			t.Fatalf("step %d: out=%f sat=%t", i, out, sat)
		}
	}
	if p.State.Integral != 0 {
		t.Fatalf("integral wound up to %f", p.State.Integral)
	}
	// Unsaturated, it integrates, up to IMax.
	p.Gains.OutMax = 100
	for i := 0; i < 1000; i++ {
		p.Step(5, 0, 0, 0.01, false)
	}
	if p.State.Integral != g.IMax {
		t.Fatalf("integral %f", p.State.Integral)
	}
	// Freeze from downstream holds it.
	before := p.State.Integral
	p.Step(-5, 0, 0, 0.01, true)
	if p.State.Integral != before {
		t.Fatal("integral moved while frozen")
	}
}

func TestMixerReconstructs(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for _, name := range []string{"quad-x", "hex-x"} {
		t.Run(name, func(t *testing.T) {
			g, err := GeometryByName(name)
			if err != nil {
				t.Fatal(err)
			}
			m, err := NewMixer(g, 0.3)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 100; i++ {
				thrust := 0.4 + rnd.Float64()*0.2
				torque := Vec3{X: rnd.Float64()*0.2 - 0.1, Y: rnd.Float64()*0.2 - 0.1, Z: rnd.Float64()*0.04 - 0.02}
				cmd := m.Mix(thrust, torque)
				if cmd.Saturated {
					t.Fatalf("%d: saturated for %f %s: %v", i, thrust, torque, cmd.Outputs)
				}
				gotT, gotTau := m.Effect(cmd.Outputs)
				if math.Abs(gotT-thrust) > 1e-9 || gotTau.Sub(torque).Norm() > 1e-9 {
					t.Fatalf("%d: got %f %s, want %f %s", i, gotT, gotTau, thrust, torque)
				}
			}
		})
	}
}

func TestMixerProportional(t *testing.T) {
	m, err := NewMixer(QuadX(), 0.3)
	if err != nil {
		t.Fatal(err)
	}
	thrust, torque := 0.9, Vec3{X: 0.5, Y: -0.2}
	cmd := m.Mix(thrust, torque)
	if !cmd.Saturated {
		t.Fatal("not saturated")
	}
	peak := 0.0
	for _, u := range cmd.Outputs {
		if u < 0 {
			t.Fatalf("negative output %v", cmd.Outputs)
		}
		peak = math.Max(peak, u)
	}
	if math.Abs(peak-1) > 1e-9 {
		t.Fatalf("peak %f", peak)
	}
	k := cmd.Thrust / thrust
	if math.Abs(cmd.Torque.X/torque.X-k) > 1e-9 || math.Abs(cmd.Torque.Y/torque.Y-k) > 1e-9 {
		t.Fatalf("not proportional: thrust x%f torque %s", k, cmd.Torque)
	}
	clipped := 0
	for _, c := range cmd.Clipped {
		if c {
			clipped++
		}
	}
	if clipped == 0 {
		t.Fatal("no output marked clipped")
	}
}

func TestMixerKeepsThrustAtLowEnd(t *testing.T) {
	m, err := NewMixer(QuadX(), 0.3)
	if err != nil {
		t.Fatal(err)
	}
	cmd := m.Mix(0.05, Vec3{X: 1})
	for _, u := range cmd.Outputs {
		if u < 0 {
			t.Fatalf("negative output %v", cmd.Outputs)
		}
	}
	if !cmd.Saturated || math.Abs(cmd.Thrust-0.05) > 1e-9 {
		t.Fatalf("thrust %f saturated=%t", cmd.Thrust, cmd.Saturated)
	}
	if cmd.Torque.X <= 0 {
		t.Fatalf("torque lost entirely: %s", cmd.Torque)
	}
}

func TestPassThrough(t *testing.T) {
	conf := param.Default().Control
	ps, as := NewPositionStage(conf), NewAttitudeStage(conf)
	cases := []Setpoint{
		{Time: t0, Kind: SetpointRate, Rate: Vec3{X: 0.3}, Thrust: 0.4, Armed: true},
		{Time: t0, Kind: SetpointAttitude, Attitude: QuatFromEuler(0.1, 0, 0), Thrust: 0.4, Armed: true},
	}
	for i, sp := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			got := ps.Step(level(), sp, 0.02)
			if diff := cmp.Diff(got, sp); diff != "" {
				t.Fatalf("position stage changed setpoint: %s", diff)
			}
		})
	}
	got := as.Step(level(), cases[0])
	if diff := cmp.Diff(got, cases[0]); diff != "" {
		t.Fatalf("attitude stage changed rate setpoint: %s", diff)
	}
}

func TestAttitudeStage(t *testing.T) {
	conf := param.Default().Control
	as := NewAttitudeStage(conf)
	out := as.Step(level(), Setpoint{Time: t0, Kind: SetpointAttitude, Attitude: QuatFromEuler(0.1, 0, 0), Thrust: 0.5, Armed: true})
	if out.Kind != SetpointRate || out.Time != t0 {
		t.Fatalf("got %s", out)
	}
	want := 2 * math.Sin(0.05) * conf.AttitudeRollP
	if math.Abs(out.Rate.X-want) > 1e-9 || math.Abs(out.Rate.Y) > 1e-9 {
		t.Fatalf("rate %s, want roll %f", out.Rate, want)
	}
	out = as.Step(level(), Setpoint{Time: t0, Kind: SetpointAttitude, Attitude: QuatFromEuler(0, 0, 3), Armed: true})
	if math.Abs(out.Rate.Z) > conf.MaxYawRate+1e-12 {
		t.Fatalf("yaw rate %f over limit", out.Rate.Z)
	}
}

func TestPositionStage(t *testing.T) {
	conf := param.Default().Control
	t.Run("hold", func(t *testing.T) {
		ps := NewPositionStage(conf)
		out := ps.Step(level(), Setpoint{Time: t0, Kind: SetpointPosition, Vertical: VerticalPosition, Armed: true}, 0.02)
		if out.Kind != SetpointAttitude || out.Vertical != VerticalThrust {
			t.Fatalf("got %s", out)
		}
		if a := out.Attitude.AngleTo(QuatIdentity); a > 1e-9 {
			t.Fatalf("tilted %f at rest", a)
		}
		if math.Abs(out.Thrust-conf.HoverThrust) > 1e-9 {
			t.Fatalf("thrust %f", out.Thrust)
		}
	})
	t.Run("tilt limit", func(t *testing.T) {
		ps := NewPositionStage(conf)
		out := ps.Step(level(), Setpoint{Time: t0, Kind: SetpointPosition, Vertical: VerticalPosition, Position: Vec3{X: 100}, Armed: true}, 0.02)
		_, pitch, _ := out.Attitude.Euler()
		if pitch >= 0 {
			t.Fatalf("pitch %f, want nose down towards north", pitch)
		}
		up := out.Attitude.Rotate(Vec3{Z: -1})
		if tilt := math.Acos(-up.Z); tilt > conf.MaxTilt+1e-9 {
			t.Fatalf("tilt %f over %f", tilt, conf.MaxTilt)
		}
	})
	t.Run("climb", func(t *testing.T) {
		ps := NewPositionStage(conf)
		out := ps.Step(level(), Setpoint{Time: t0, Kind: SetpointAttitude, Vertical: VerticalVelocity, Attitude: QuatIdentity, Velocity: Vec3{Z: -1}, Armed: true}, 0.02)
		if out.Thrust <= conf.HoverThrust {
			t.Fatalf("thrust %f for climb", out.Thrust)
		}
		if out.Attitude != QuatIdentity {
			t.Fatalf("attitude changed to %s", out.Attitude)
		}
	})
}

func TestRateStageSetpointLoss(t *testing.T) {
	conf := param.Default().Control
	rs, err := NewRateStage(conf)
	if err != nil {
		t.Fatal(err)
	}
	sp := Setpoint{Kind: SetpointRate, Thrust: 0.6, Armed: true}
	now := t0
	var last ActuatorCommand
	for i := 0; i < 20; i++ {
		now = now.Add(4 * time.Millisecond)
		sp.Time = now
		last = rs.Step(now, level(), sp, 0.004)
	}
	if rs.Health() != SeverityOK {
		t.Fatal("unhealthy with fresh setpoints")
	}
	// Setpoint stops updating: hold, then fall back.
	var held, fellBack bool
	for now.Sub(sp.Time) < conf.SetpointTimeout+conf.SetpointGrace+100*time.Millisecond {
		now = now.Add(4 * time.Millisecond)
		cmd := rs.Step(now, level(), sp, 0.004)
		age := now.Sub(sp.Time)
		switch {
		case age <= conf.SetpointTimeout+conf.SetpointGrace:
			if !cmp.Equal(cmd.Outputs, last.Outputs) {
				t.Fatalf("age %s: output changed during grace: %v", age, cmd.Outputs)
			}
			if rs.Health() != SeverityOK {
				t.Fatalf("age %s: flagged during grace", age)
			}
			held = true
		case age > conf.SetpointTimeout+conf.SetpointGrace+4*time.Millisecond:
			if rs.Health() != SeverityCritical {
				t.Fatalf("age %s: not flagged", age)
			}
			want := conf.FallbackThrust * conf.HoverThrust
			if math.Abs(cmd.Thrust-want) > 1e-9 || !cmd.Armed {
				t.Fatalf("fallback thrust %f armed=%t", cmd.Thrust, cmd.Armed)
			}
			fellBack = true
		}
	}
	if !held || !fellBack {
		t.Fatalf("held=%t fellBack=%t", held, fellBack)
	}
	// Fresh again: health recovers after SetpointTimeout.
	for i := 0; i < 40; i++ {
		now = now.Add(4 * time.Millisecond)
		sp.Time = now
		rs.Step(now, level(), sp, 0.004)
	}
	if rs.Health() != SeverityOK {
		t.Fatal("did not recover")
	}
}

func TestRateStageDisarmed(t *testing.T) {
	rs, err := NewRateStage(param.Default().Control)
	if err != nil {
		t.Fatal(err)
	}
	cmd := rs.Step(t0, level(), Setpoint{Time: t0, Kind: SetpointRate, Thrust: 0.6}, 0.004)
	if cmd.Armed || !cmp.Equal(cmd.Outputs, []float64{0, 0, 0, 0}) {
		t.Fatalf("disarmed command %s", cmd)
	}
	cmd = rs.Step(t0.Add(time.Second), level(), Setpoint{Time: t0, Kind: SetpointRate}, 0.004)
	if cmd.Armed || rs.Health() != SeverityOK {
		t.Fatalf("stale while disarmed: %s health=%s", cmd, rs.Health())
	}
}

func TestHoverEstimator(t *testing.T) {
	conf := param.Default().Control
	h := NewHoverEstimator(conf)
	for i := 0; i < conf.HoverWindow; i++ {
		thrust := 0.3 + 0.2*float64(i%10)/9
		h.Add(thrust, 10*(thrust-0.4))
	}
	now := t0
	est := h.Update(now)
	if est.Thrust != conf.HoverThrust {
		t.Fatalf("first update moved estimate to %f", est.Thrust)
	}
	now = now.Add(time.Second)
	est = h.Update(now)
	if d := conf.HoverThrust - est.Thrust; d > conf.HoverMaxRate+1e-9 || d <= 0 {
		t.Fatalf("moved %f in one second", d)
	}
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		est = h.Update(now)
	}
	if !est.Valid || math.Abs(est.Thrust-0.4) > 1e-6 {
		t.Fatalf("estimate %s", est)
	}
}

func TestCascadeHover(t *testing.T) {
	c, err := NewCascade(param.Default().Control)
	if err != nil {
		t.Fatal(err)
	}
	cmd := c.Step(t0, level(), Setpoint{Time: t0, Kind: SetpointPosition, Vertical: VerticalPosition, Armed: true}, 0.004)
	for _, u := range cmd.Outputs {
		if math.Abs(u-0.5) > 1e-6 {
			t.Fatalf("outputs %v", cmd.Outputs)
		}
	}
	if cmd.Saturated || !cmd.Armed {
		t.Fatalf("command %s", cmd)
	}
}
