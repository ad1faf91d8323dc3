package fms

import (
	"fmt"

	. "nyiyui.ca/hato/fmu"
)

// Trigger is anything that can cause a mode transition.
type Trigger int

const (
	// Mode requests, in FlightMode order.
	TriggerManual Trigger = iota
	TriggerStabilize
	TriggerAltitudeHold
	TriggerPositionHold
	TriggerMission
	TriggerReturn
	TriggerLand

	TriggerRecover

	TriggerGPSLost
	TriggerAltitudeLost
	TriggerAttitudeLost
	TriggerEstimatorDegraded
	TriggerCommLost
	TriggerLowBattery
	TriggerCriticalBattery
	TriggerSetpointLost

	TriggerMissionComplete
	TriggerHomeReached

	NumTriggers
)

var triggerNames = []string{
	"manual", "stabilize", "altitude-hold", "position-hold", "mission", "return", "land",
	"recover",
	"gps-lost", "altitude-lost", "attitude-lost", "estimator-degraded", "comm-lost", "low-battery", "critical-battery", "setpoint-lost",
	"mission-complete", "home-reached",
}

func (t Trigger) String() string {
	if t < 0 || int(t) >= len(triggerNames) {
		return fmt.Sprintf("unknown(%d)", int(t))
	}
	return triggerNames[t]
}

type TriggerClass int

const (
	ClassRequest TriggerClass = iota
	ClassOperator
	ClassHealth
	ClassProgress
)

func (t Trigger) Class() TriggerClass {
	switch {
	case t <= TriggerLand:
		return ClassRequest
	case t == TriggerRecover:
		return ClassOperator
	case t <= TriggerSetpointLost:
		return ClassHealth
	default:
		return ClassProgress
	}
}

var triggerSeverity = [NumTriggers]Severity{
	TriggerGPSLost:           SeverityDegraded,
	TriggerAltitudeLost:      SeverityCritical,
	TriggerAttitudeLost:      SeverityCritical,
	TriggerEstimatorDegraded: SeverityDegraded,
	TriggerCommLost:          SeverityDegraded,
	TriggerLowBattery:        SeverityWarning,
	TriggerCriticalBattery:   SeverityCritical,
	TriggerSetpointLost:      SeverityCritical,
}

// Severity orders health triggers. Requests, Recover and progress triggers are SeverityOK.
func (t Trigger) Severity() Severity { return triggerSeverity[t] }

// RequestFor returns the trigger that asks for mode.
func RequestFor(mode FlightMode) (Trigger, bool) {
	if mode < ModeManual || mode > ModeLand {
		return 0, false
	}
	return Trigger(mode), true
}

// requested is the mode a request trigger asks for.
func (t Trigger) requested() FlightMode { return FlightMode(t) }
