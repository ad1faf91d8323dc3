// Package fms is the flight-mode supervisor: the only place the flight mode
// changes.
//
// Each Tick evaluates health, progress and operator triggers against a
// transition table, then produces the setpoint of the resulting mode.
package fms

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// Input is one tick's snapshot. The *OK flags say whether the matching
// value is present and fresh.
type Input struct {
	Now time.Time

	State   VehicleState
	StateOK bool

	Pilot   PilotInput
	PilotOK bool

	Command   OperatorCommand
	CommandOK bool

	Mission   Mission
	MissionOK bool

	Battery   BatteryStatus
	BatteryOK bool

	Land   LandStatus
	LandOK bool

	// Health carries flags owned by other tasks, such as HealthSetpoint.
	Health HealthFlags
	// Hover is the collective thrust that holds altitude.
	Hover float64
}

type Output struct {
	Status   ModeStatus
	Setpoint Setpoint
	// Health is every flag merged, as the supervisor judged it.
	Health HealthFlags
}

type Supervisor struct {
	conf  param.FMS
	table Table
	log   *zap.SugaredLogger

	mode   FlightMode
	since  time.Time
	reason string
	armed  bool

	// Failsafe entry, for the monotonicity guard.
	failsafeCause    Trigger
	failsafeSeverity Severity

	active  [NumTriggers]bool
	lastCmd uuid.UUID

	pendingComplete bool
	pendingHome     bool

	lastTick time.Time
	dt       float64

	// Hold points are captured lazily when the sticks centre.
	hold      Vec3
	holdingXY bool
	holdingZ  bool
	yawHold   float64

	missionPlan Mission
	missionIdx  int
	missionAt   time.Time
	returnPhase returnPhase
}

func New(conf param.FMS) (*Supervisor, error) {
	s := &Supervisor{
		log:  zap.S().With("task", "fms"),
		mode: ModeManual,
	}
	err := s.SetParams(conf)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetParams replaces the configuration and rebuilds the table.
func (s *Supervisor) SetParams(conf param.FMS) error {
	complete, err := ParseFlightMode(conf.MissionCompleteMode)
	if err != nil {
		return fmt.Errorf("mission_complete_mode: %w", err)
	}
	rec, err := ParseFlightMode(conf.RecoverMode)
	if err != nil {
		return fmt.Errorf("recover_mode: %w", err)
	}
	t := DefaultTable(complete, rec)
	err = t.Check()
	if err != nil {
		return err
	}
	s.conf = conf
	s.table = t
	return nil
}

// SetTable replaces the transition table. It must be complete.
func (s *Supervisor) SetTable(t Table) error {
	err := t.Check()
	if err != nil {
		return err
	}
	s.table = t
	return nil
}

func (s *Supervisor) Mode() FlightMode { return s.mode }

func (s *Supervisor) Armed() bool { return s.armed }

func (s *Supervisor) status(now time.Time) ModeStatus {
	return ModeStatus{
		Time:         now,
		Mode:         s.mode,
		Armed:        s.armed,
		Since:        s.since,
		Reason:       s.reason,
		MissionID:    s.missionPlan.ID,
		MissionIndex: s.missionIdx,
	}
}

// health merges the estimator's and other tasks' flags with the
// supervisor's own view of comms, power and state freshness.
func (s *Supervisor) health(in *Input) HealthFlags {
	h := in.State.Health.Merge(in.Health)
	h.Time = in.Now
	if !in.StateOK {
		h = h.With(HealthEstimator, SeverityCritical)
	}
	if !in.PilotOK {
		h = h.With(HealthComm, SeverityDegraded)
	}
	switch {
	case !in.BatteryOK:
		h = h.With(HealthPower, SeverityWarning)
	case in.Battery.Remaining < s.conf.CriticalBattery:
		h = h.With(HealthPower, SeverityCritical)
	case in.Battery.Remaining < s.conf.LowBattery:
		h = h.With(HealthPower, SeverityWarning)
	}
	return h
}

// conditions returns the health triggers asserted this tick.
func (s *Supervisor) conditions(in *Input, h HealthFlags) [NumTriggers]bool {
	var c [NumTriggers]bool
	st := in.State
	c[TriggerAttitudeLost] = !in.StateOK || !st.AttitudeValid
	c[TriggerAltitudeLost] = !in.StateOK || !st.AltitudeValid
	c[TriggerGPSLost] = !in.StateOK || !st.PositionValid
	c[TriggerEstimatorDegraded] = h.Get(HealthEstimator) >= SeverityDegraded
	c[TriggerCommLost] = !in.PilotOK
	c[TriggerLowBattery] = in.BatteryOK && in.Battery.Remaining < s.conf.LowBattery
	c[TriggerCriticalBattery] = in.BatteryOK && in.Battery.Remaining < s.conf.CriticalBattery
	c[TriggerSetpointLost] = h.Get(HealthSetpoint) >= SeverityCritical
	return c
}

var healthOrder = func() []Trigger {
	var ts []Trigger
	for t := Trigger(0); t < NumTriggers; t++ {
		if t.Class() == ClassHealth {
			ts = append(ts, t)
		}
	}
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Severity() > ts[j].Severity() })
	return ts
}()

// Tick runs one supervisor cycle.
func (s *Supervisor) Tick(in Input) Output {
	if s.since.IsZero() {
		s.since = in.Now
		s.reason = "startup"
	}
	if !s.lastTick.IsZero() {
		s.dt = Clamp(in.Now.Sub(s.lastTick).Seconds(), 0, maxTickGap)
	}
	s.lastTick = in.Now
	h := s.health(&in)
	s.active = s.conditions(&in, h)

	forced := false
	if s.armed {
		for _, trig := range healthOrder {
			if s.active[trig] && s.fire(&in, trig) {
				forced = true
			}
		}
		if s.pendingComplete {
			s.pendingComplete = false
			forced = s.fire(&in, TriggerMissionComplete) || forced
		}
		if s.pendingHome {
			s.pendingHome = false
			forced = s.fire(&in, TriggerHomeReached) || forced
		}
	}

	if in.MissionOK && in.Mission.ID != s.missionPlan.ID {
		s.loadMission(in.Mission)
	}

	if in.CommandOK && in.Command.ID != s.lastCmd {
		s.lastCmd = in.Command.ID
		if forced {
			s.log.Warnw("command dropped: forced transition this tick", "command", in.Command)
		} else {
			s.command(&in, h)
		}
	}

	if s.armed && in.LandOK && in.Land.State == LandLanded && (s.mode == ModeLand || s.mode == ModeFailsafe) {
		s.armed = false
		s.reason = "landed"
		s.log.Infow("auto disarm", "mode", s.mode)
	}

	sp := modeTable[s.mode].setpoint(s, &in)
	sp.Time = in.Now
	sp.Armed = s.armed
	return Output{Status: s.status(in.Now), Setpoint: sp, Health: h}
}

// Fire applies a single trigger outside of Tick, using in for guards.
// It reports whether the mode changed.
func (s *Supervisor) Fire(in Input, trig Trigger) bool {
	h := s.health(&in)
	s.active = s.conditions(&in, h)
	return s.fire(&in, trig)
}

func (s *Supervisor) fire(in *Input, trig Trigger) bool {
	tr := s.table.Lookup(s.mode, trig)
	if tr.Ignored {
		if trig.Class() == ClassRequest || trig.Class() == ClassOperator {
			s.log.Infow("request ignored by table", "mode", s.mode, "trigger", trig)
		}
		return false
	}
	if s.mode == ModeFailsafe {
		switch {
		case trig == TriggerRecover:
			if s.active[s.failsafeCause] {
				s.log.Warnw("recover refused: cause still present", "cause", s.failsafeCause)
				return false
			}
		case trig.Severity() <= s.failsafeSeverity:
			return false
		}
	}
	to := tr.To
	switch trig.Class() {
	case ClassRequest, ClassOperator:
		if m := s.missing(to, in); m != 0 {
			s.log.Warnw("mode request refused", "mode", s.mode, "requested", to, "missing", m)
			return false
		}
	default:
		to = s.resolve(to, in)
	}
	if to == s.mode {
		return false
	}
	s.enter(in, to, trig)
	return true
}

func (s *Supervisor) enter(in *Input, to FlightMode, trig Trigger) {
	s.log.Infow("mode change", "from", s.mode, "to", to, "trigger", trig)
	if to == ModeFailsafe {
		s.failsafeCause = trig
		s.failsafeSeverity = trig.Severity()
	}
	s.mode = to
	s.since = in.Now
	s.reason = trig.String()
	if f := modeTable[to].enter; f != nil {
		f(s, in)
	}
}

func (s *Supervisor) command(in *Input, h HealthFlags) {
	cmd := in.Command
	switch cmd.Kind {
	case CommandArm:
		s.arm(in, h)
	case CommandDisarm:
		if s.armed {
			s.armed = false
			s.reason = "disarm command"
			s.log.Infow("disarmed", "mode", s.mode)
		}
	case CommandRecover:
		s.fire(in, TriggerRecover)
	case CommandMode:
		trig, ok := RequestFor(cmd.Mode)
		if !ok {
			s.log.Warnw("mode cannot be requested", "mode", cmd.Mode)
			return
		}
		s.fire(in, trig)
	}
}

func (s *Supervisor) arm(in *Input, h HealthFlags) {
	if s.armed {
		return
	}
	if m := s.missing(s.mode, in); m != 0 {
		s.log.Warnw("arming refused", "mode", s.mode, "missing", m)
		return
	}
	if src, sev := h.Worst(); sev >= SeverityCritical {
		s.log.Warnw("arming refused", "source", src, "severity", sev)
		return
	}
	if s.mode == ModeFailsafe {
		s.log.Warnw("arming refused in failsafe")
		return
	}
	s.armed = true
	s.reason = "armed"
	if f := modeTable[s.mode].enter; f != nil {
		f(s, in)
	}
	s.log.Infow("armed", "mode", s.mode)
}
