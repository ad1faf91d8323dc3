package vehicle

import (
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/bus"
	"nyiyui.ca/hato/fmu/status"
)

// Topics are every stream on a vehicle's bus. Each has exactly one writer,
// noted beside it; inputs are written from outside the task set.
type Topics struct {
	State            *bus.Topic[VehicleState]    // ins
	Setpoint         *bus.Topic[Setpoint]        // fms
	AttitudeSetpoint *bus.Topic[Setpoint]        // ctl-position
	RateSetpoint     *bus.Topic[Setpoint]        // ctl-attitude
	Actuator         *bus.Topic[ActuatorCommand] // ctl-rate
	ControlHealth    *bus.Topic[HealthFlags]     // ctl-rate
	Health           *bus.Topic[HealthFlags]     // fms
	Mode             *bus.Topic[ModeStatus]      // fms
	Land             *bus.Topic[LandStatus]      // land
	Hover            *bus.Topic[HoverEstimate]   // land
	Indication       *bus.Topic[status.Pattern]  // status

	Pilot   *bus.Topic[PilotInput]      // input
	Command *bus.Topic[OperatorCommand] // input
	Mission *bus.Topic[Mission]         // input
	Battery *bus.Topic[BatteryStatus]   // input
}

func NewTopics(b *bus.Bus) Topics {
	return Topics{
		State:            bus.NewTopic[VehicleState](b, "state"),
		Setpoint:         bus.NewTopic[Setpoint](b, "setpoint"),
		AttitudeSetpoint: bus.NewTopic[Setpoint](b, "setpoint-attitude"),
		RateSetpoint:     bus.NewTopic[Setpoint](b, "setpoint-rate"),
		Actuator:         bus.NewTopic[ActuatorCommand](b, "actuator"),
		ControlHealth:    bus.NewTopic[HealthFlags](b, "health-control"),
		Health:           bus.NewTopic[HealthFlags](b, "health"),
		Mode:             bus.NewTopic[ModeStatus](b, "mode"),
		Land:             bus.NewTopic[LandStatus](b, "land"),
		Hover:            bus.NewTopic[HoverEstimate](b, "hover"),
		Indication:       bus.NewTopic[status.Pattern](b, "indication"),
		Pilot:            bus.NewTopic[PilotInput](b, "pilot"),
		Command:          bus.NewTopic[OperatorCommand](b, "command"),
		Mission:          bus.NewTopic[Mission](b, "mission"),
		Battery:          bus.NewTopic[BatteryStatus](b, "battery"),
	}
}
