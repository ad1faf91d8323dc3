package fms

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

var t0 = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

const tick = 20 * time.Millisecond

type rig struct {
	t   *testing.T
	s   *Supervisor
	now time.Time
	in  Input
}

func newRig(t *testing.T) *rig {
	s, err := New(param.Default().FMS)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	r := &rig{t: t, s: s, now: t0}
	r.in = Input{
		State: VehicleState{
			Attitude:      QuatIdentity,
			Position:      Vec3{X: 3, Y: 4, Z: -10},
			AttitudeValid: true,
			AltitudeValid: true,
			PositionValid: true,
			Converged:     true,
			HomeSet:       true,
		},
		StateOK:   true,
		Pilot:     PilotInput{Throttle: 0.5},
		PilotOK:   true,
		Battery:   BatteryStatus{Voltage: 16.4, Remaining: 0.9},
		BatteryOK: true,
		Hover:     0.45,
	}
	return r
}

func (r *rig) tick() Output {
	r.now = r.now.Add(tick)
	r.in.Now = r.now
	r.in.State.Time = r.now
	out := r.s.Tick(r.in)
	r.in.CommandOK = false
	return out
}

func (r *rig) command(kind CommandKind, mode FlightMode) Output {
	r.in.Command = OperatorCommand{ID: uuid.New(), Time: r.now, Kind: kind, Mode: mode}
	r.in.CommandOK = true
	return r.tick()
}

func (r *rig) arm(mode FlightMode) {
	r.command(CommandArm, 0)
	if !r.s.Armed() {
		r.t.Fatalf("arm refused in %s", r.s.Mode())
	}
	if mode != r.s.Mode() {
		r.command(CommandMode, mode)
	}
	if r.s.Mode() != mode {
		r.t.Fatalf("mode: got %s, want %s", r.s.Mode(), mode)
	}
}

func TestTableCheck(t *testing.T) {
	tab := DefaultTable(ModeLand, ModeStabilize)
	if err := tab.Check(); err != nil {
		t.Fatalf("default table: %s", err)
	}
	var empty Table
	err := empty.Check()
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("empty table: got %v", err)
	}
	tab[ModeMission][TriggerHomeReached] = Transition{}
	if err := tab.Check(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("one hole: got %v", err)
	}
}

func TestIgnoredEntriesKeepMode(t *testing.T) {
	tab := DefaultTable(ModeLand, ModeStabilize)
	for m := FlightMode(0); m < NumModes; m++ {
		for trig := Trigger(0); trig < NumTriggers; trig++ {
			if !tab.Lookup(m, trig).Ignored {
				continue
			}
			t.Run(fmt.Sprintf("%s/%s", m, trig), func(t *testing.T) {
				r := newRig(t)
				r.s.mode = m
				r.s.armed = true
				r.in.Now = r.now
				if r.s.Fire(r.in, trig) {
					t.Fatal("Fire reported a change")
				}
				if r.s.Mode() != m {
					t.Fatalf("mode changed to %s", r.s.Mode())
				}
			})
		}
	}
}

func TestRequestGuards(t *testing.T) {
	r := newRig(t)
	r.in.State.PositionValid = false
	r.command(CommandMode, ModePositionHold)
	if r.s.Mode() != ModeManual {
		t.Fatalf("position hold without position: %s", r.s.Mode())
	}
	r.command(CommandMode, ModeMission)
	if r.s.Mode() != ModeManual {
		t.Fatalf("mission without plan: %s", r.s.Mode())
	}
	r.command(CommandMode, ModeAltitudeHold)
	if r.s.Mode() != ModeAltitudeHold {
		t.Fatalf("altitude hold: %s", r.s.Mode())
	}
	r.command(CommandMode, ModeFailsafe)
	if r.s.Mode() != ModeAltitudeHold {
		t.Fatalf("failsafe is not requestable: %s", r.s.Mode())
	}
}

func TestArming(t *testing.T) {
	r := newRig(t)
	r.in.State.Health = r.in.State.Health.With(HealthGyro, SeverityCritical)
	r.command(CommandArm, 0)
	if r.s.Armed() {
		t.Fatal("armed with a critical gyro")
	}
	r.in.State.Health = HealthFlags{}
	out := r.command(CommandArm, 0)
	if !r.s.Armed() || !out.Status.Armed || !out.Setpoint.Armed {
		t.Fatalf("not armed: %s", out.Status)
	}
	out = r.command(CommandDisarm, 0)
	if r.s.Armed() || out.Setpoint.Armed {
		t.Fatal("still armed")
	}
}

func TestPositionHoldRequest(t *testing.T) {
	r := newRig(t)
	r.arm(ModeStabilize)
	out := r.command(CommandMode, ModePositionHold)
	if out.Status.Mode != ModePositionHold {
		t.Fatalf("mode %s", out.Status.Mode)
	}
	sp := out.Setpoint
	if sp.Kind != SetpointPosition || sp.Vertical != VerticalPosition {
		t.Fatalf("setpoint %s", sp)
	}
	if !cmp.Equal(sp.Position, r.in.State.Position) {
		t.Fatal(cmp.Diff(sp.Position, r.in.State.Position))
	}
	if !sp.Time.Equal(r.now) {
		t.Fatalf("setpoint time %s, want %s", sp.Time, r.now)
	}

	r.in.Pilot.Pitch = 1
	sp = r.tick().Setpoint
	if sp.Kind != SetpointVelocity || sp.Velocity.X <= 0 {
		t.Fatalf("forward stick: %s", sp)
	}
}

func TestGPSLossFallsBack(t *testing.T) {
	r := newRig(t)
	r.arm(ModePositionHold)
	r.in.State.PositionValid = false
	r.in.Command = OperatorCommand{ID: uuid.New(), Kind: CommandMode, Mode: ModeLand}
	r.in.CommandOK = true
	out := r.tick()
	if out.Status.Mode != ModeAltitudeHold {
		t.Fatalf("mode %s", out.Status.Mode)
	}
	if out.Setpoint.Kind != SetpointAttitude || out.Setpoint.Vertical != VerticalPosition {
		t.Fatalf("setpoint %s", out.Setpoint)
	}
	// The same command is not replayed.
	r.in.CommandOK = true
	r.tick()
	if r.s.Mode() != ModeAltitudeHold {
		t.Fatalf("command replayed: %s", r.s.Mode())
	}
}

func TestAltitudeLost(t *testing.T) {
	r := newRig(t)
	r.arm(ModePositionHold)
	r.in.State.Health = r.in.State.Health.With(HealthEstimator, SeverityDegraded)
	r.in.State.AltitudeValid = false
	r.in.State.PositionValid = false
	r.tick()
	if r.s.Mode() != ModeFailsafe {
		t.Fatalf("altitude lost in position hold: %s", r.s.Mode())
	}
}

func TestResolveFallback(t *testing.T) {
	r := newRig(t)
	for _, c := range []struct {
		altitude, position bool
		want               FlightMode
	}{
		{true, true, ModePositionHold},
		{true, false, ModeAltitudeHold},
		{false, false, ModeStabilize},
	} {
		in := r.in
		in.State.AltitudeValid = c.altitude
		in.State.PositionValid = c.position
		if got := r.s.resolve(ModePositionHold, &in); got != c.want {
			t.Errorf("altitude=%t position=%t: got %s, want %s", c.altitude, c.position, got, c.want)
		}
	}
	in := r.in
	in.StateOK = false
	if got := r.s.resolve(ModeMission, &in); got != ModeFailsafe {
		t.Errorf("no state: got %s", got)
	}
}

func TestFailsafeMonotonic(t *testing.T) {
	r := newRig(t)
	r.arm(ModeStabilize)
	r.in.State.AttitudeValid = false
	out := r.tick()
	if out.Status.Mode != ModeFailsafe {
		t.Fatalf("attitude lost: %s", out.Status.Mode)
	}
	if out.Setpoint.Kind != SetpointRate || out.Setpoint.Source != SourceFailsafe {
		t.Fatalf("failsafe setpoint %s", out.Setpoint)
	}
	for m := ModeManual; m <= ModeLand; m++ {
		r.command(CommandMode, m)
		if r.s.Mode() != ModeFailsafe {
			t.Fatalf("request %s left failsafe", m)
		}
	}
	r.command(CommandRecover, 0)
	if r.s.Mode() != ModeFailsafe {
		t.Fatal("recovered with the cause present")
	}
	r.in.State.AttitudeValid = true
	r.command(CommandRecover, 0)
	if r.s.Mode() != ModeStabilize {
		t.Fatalf("recover: %s", r.s.Mode())
	}
}

func TestCommLost(t *testing.T) {
	r := newRig(t)
	r.arm(ModePositionHold)
	r.in.PilotOK = false
	out := r.tick()
	if out.Status.Mode != ModeReturn {
		t.Fatalf("mode %s", out.Status.Mode)
	}
	if out.Health.Get(HealthComm) != SeverityDegraded {
		t.Fatalf("health %s", out.Health)
	}
}

func TestBattery(t *testing.T) {
	for _, c := range []struct {
		remaining float64
		want      FlightMode
	}{
		{0.9, ModePositionHold},
		{0.2, ModeReturn},
		{0.05, ModeLand},
	} {
		t.Run(fmt.Sprintf("%.2f", c.remaining), func(t *testing.T) {
			r := newRig(t)
			r.arm(ModePositionHold)
			r.in.Battery.Remaining = c.remaining
			r.tick()
			if r.s.Mode() != c.want {
				t.Fatalf("got %s, want %s", r.s.Mode(), c.want)
			}
		})
	}
}

func TestSetpointLost(t *testing.T) {
	r := newRig(t)
	r.arm(ModeAltitudeHold)
	r.in.Health = r.in.Health.With(HealthSetpoint, SeverityCritical)
	r.tick()
	if r.s.Mode() != ModeFailsafe {
		t.Fatalf("mode %s", r.s.Mode())
	}
}

func TestMission(t *testing.T) {
	r := newRig(t)
	m := Mission{ID: uuid.New(), Waypoints: []Waypoint{
		{Position: Vec3{X: 10, Z: -10}},
		{Position: Vec3{X: 10, Y: 10, Z: -15}, Yaw: 1, Hold: 100 * time.Millisecond},
	}}
	r.in.Mission, r.in.MissionOK = m, true
	r.arm(ModeMission)

	out := r.tick()
	if !cmp.Equal(out.Setpoint.Position, m.Waypoints[0].Position) {
		t.Fatal(cmp.Diff(out.Setpoint.Position, m.Waypoints[0].Position))
	}
	r.in.State.Position = Vec3{X: 9.5, Z: -10}
	r.tick()
	out = r.tick()
	if out.Status.MissionIndex != 1 || !cmp.Equal(out.Setpoint.Position, m.Waypoints[1].Position) {
		t.Fatalf("second waypoint: %s %s", out.Status, out.Setpoint)
	}
	r.in.State.Position = m.Waypoints[1].Position
	for i := 0; i < 10 && r.s.Mode() == ModeMission; i++ {
		out = r.tick()
		if i < 4 && out.Status.MissionIndex != 1 {
			t.Fatalf("tick %d: left waypoint before hold elapsed", i)
		}
	}
	if r.s.Mode() != ModeLand {
		t.Fatalf("mission complete: %s", r.s.Mode())
	}
}

func TestReturnHome(t *testing.T) {
	r := newRig(t)
	r.arm(ModePositionHold)
	out := r.command(CommandMode, ModeReturn)
	want := Vec3{X: 3, Y: 4, Z: -30}
	if !cmp.Equal(out.Setpoint.Position, want) {
		t.Fatalf("climb: %s", cmp.Diff(out.Setpoint.Position, want))
	}
	r.in.State.Position = want
	r.tick()
	out = r.tick()
	if want := (Vec3{Z: -30}); !cmp.Equal(out.Setpoint.Position, want) {
		t.Fatalf("cruise: %s", cmp.Diff(out.Setpoint.Position, want))
	}
	r.in.State.Position = Vec3{X: 0.5, Z: -30}
	r.tick()
	r.tick()
	if r.s.Mode() != ModeLand {
		t.Fatalf("home reached: %s", r.s.Mode())
	}
}

func TestLandAutoDisarm(t *testing.T) {
	r := newRig(t)
	r.arm(ModeLand)
	out := r.tick()
	if out.Setpoint.Vertical != VerticalVelocity || out.Setpoint.Velocity.Z <= 0 {
		t.Fatalf("land setpoint %s", out.Setpoint)
	}
	r.in.Land, r.in.LandOK = LandStatus{State: LandLanded}, true
	r.tick()
	if r.s.Armed() {
		t.Fatal("still armed after landing")
	}
}
