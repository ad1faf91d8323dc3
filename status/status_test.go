package status

import (
	"strings"
	"testing"
	"time"

	. "nyiyui.ca/hato/fmu"
)

var t0 = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func TestPattern(t *testing.T) {
	ind := NewIndicator()
	var ok HealthFlags
	cases := []struct {
		name   string
		mode   FlightMode
		armed  bool
		health HealthFlags
		want   Pattern
	}{
		{"disarmed", ModePositionHold, false, ok, Pattern{Colour: ColourGreen, Blink: BlinkSlow}},
		{"armed", ModePositionHold, true, ok, Pattern{Colour: ColourGreen, Blink: BlinkSolid}},
		{"warning", ModeStabilize, true, ok.With(HealthPower, SeverityWarning), Pattern{Colour: ColourPurple, Blink: BlinkDouble}},
		{"critical", ModeStabilize, true, ok.With(HealthGyro, SeverityCritical), Pattern{Colour: ColourRed, Blink: BlinkFast}},
		{"failsafe", ModeFailsafe, true, ok, Pattern{Colour: ColourRed, Blink: BlinkFast}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ind.Pattern(t0, c.mode, c.armed, c.health)
			if got.Colour != c.want.Colour || got.Blink != c.want.Blink {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}
}

func TestPatternOn(t *testing.T) {
	p := Pattern{Time: t0, Colour: ColourGreen, Blink: BlinkSlow}
	if !p.On(t0.Add(100*time.Millisecond)) || p.On(t0.Add(600*time.Millisecond)) {
		t.Fatal("slow blink phase")
	}
	p.Blink = BlinkSolid
	if !p.On(t0.Add(600 * time.Millisecond)) {
		t.Fatal("solid is off")
	}
	p.Colour = ColourOff
	if p.On(t0) {
		t.Fatal("off is on")
	}
}

func TestText(t *testing.T) {
	v := View{
		Mode:     ModeStatus{Mode: ModeMission, Armed: true, Reason: "mission"},
		Health:   HealthFlags{}.With(HealthGPS, SeverityDegraded),
		Actuator: ActuatorCommand{Outputs: []float64{0.5, 1}, Clipped: []bool{false, true}},
	}
	if s := modeText(v); !strings.Contains(s, "mission  ARMED") {
		t.Fatalf("mode text %q", s)
	}
	if s := healthText(v.Health); !strings.Contains(s, "gps        degraded") {
		t.Fatalf("health text %q", s)
	}
	if s := actuatorText(v.Actuator); !strings.HasPrefix(s, "0.50 1.00!") {
		t.Fatalf("actuator text %q", s)
	}
}
