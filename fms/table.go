package fms

import (
	"errors"
	"fmt"

	. "nyiyui.ca/hato/fmu"
)

var ErrIncomplete = errors.New("transition table incomplete")

// Transition is one table entry: go to To, or ignore the trigger.
type Transition struct {
	To      FlightMode
	Ignored bool
	set     bool
}

func (t Transition) String() string {
	if !t.set {
		return "undefined"
	}
	if t.Ignored {
		return "ignored"
	}
	return "→ " + t.To.String()
}

// Table holds a transition for every (mode, trigger) pair.
type Table [NumModes][NumTriggers]Transition

func (t *Table) Go(from FlightMode, trig Trigger, to FlightMode) {
	t[from][trig] = Transition{To: to, set: true}
}

func (t *Table) Ignore(from FlightMode, trig Trigger) {
	t[from][trig] = Transition{To: from, Ignored: true, set: true}
}

func (t *Table) Lookup(from FlightMode, trig Trigger) Transition { return t[from][trig] }

// Check reports every undefined entry.
func (t *Table) Check() error {
	var errs []error
	for m := FlightMode(0); m < NumModes; m++ {
		for trig := Trigger(0); trig < NumTriggers; trig++ {
			if !t[m][trig].set {
				errs = append(errs, fmt.Errorf("%s on %s: %w", m, trig, ErrIncomplete))
			}
		}
	}
	return errors.Join(errs...)
}

func modes(ms ...FlightMode) []FlightMode { return ms }

var allModes = modes(ModeManual, ModeStabilize, ModeAltitudeHold, ModePositionHold, ModeMission, ModeReturn, ModeLand, ModeFailsafe)

// DefaultTable is the standard multicopter table. missionComplete and
// rec are the targets of MissionComplete and Recover.
func DefaultTable(missionComplete, rec FlightMode) Table {
	var t Table
	for _, m := range allModes {
		for trig := Trigger(0); trig < NumTriggers; trig++ {
			t.Ignore(m, trig)
		}
	}

	for _, m := range allModes {
		if m == ModeFailsafe {
			continue
		}
		for trig := TriggerManual; trig <= TriggerLand; trig++ {
			if trig.requested() != m {
				t.Go(m, trig, trig.requested())
			}
		}
	}
	t.Go(ModeFailsafe, TriggerRecover, rec)

	t.Go(ModePositionHold, TriggerGPSLost, ModeAltitudeHold)
	t.Go(ModeMission, TriggerGPSLost, ModeAltitudeHold)
	t.Go(ModeReturn, TriggerGPSLost, ModeLand)

	for _, m := range modes(ModeAltitudeHold, ModePositionHold, ModeMission, ModeReturn, ModeLand) {
		t.Go(m, TriggerAltitudeLost, ModeFailsafe)
	}
	for _, m := range allModes {
		if m != ModeFailsafe {
			t.Go(m, TriggerAttitudeLost, ModeFailsafe)
			t.Go(m, TriggerSetpointLost, ModeFailsafe)
		}
	}
	for _, m := range modes(ModePositionHold, ModeMission, ModeReturn) {
		t.Go(m, TriggerEstimatorDegraded, ModeAltitudeHold)
	}
	for _, m := range modes(ModeManual, ModeStabilize, ModeAltitudeHold, ModePositionHold) {
		t.Go(m, TriggerCommLost, ModeReturn)
	}
	for _, m := range modes(ModeManual, ModeStabilize, ModeAltitudeHold, ModePositionHold, ModeMission) {
		t.Go(m, TriggerLowBattery, ModeReturn)
	}
	for _, m := range modes(ModeManual, ModeStabilize, ModeAltitudeHold, ModePositionHold, ModeMission, ModeReturn) {
		t.Go(m, TriggerCriticalBattery, ModeLand)
	}
	t.Go(ModeMission, TriggerMissionComplete, missionComplete)
	t.Go(ModeReturn, TriggerHomeReached, ModeLand)
	return t
}
