package status

import (
	"fmt"
	"strings"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	. "nyiyui.ca/hato/fmu"
)

// View is one frame of the console.
type View struct {
	Mode     ModeStatus
	State    VehicleState
	Health   HealthFlags
	Actuator ActuatorCommand
	Land     LandStatus
	Pattern  Pattern
}

// Console is a live terminal view. Only one may exist at a time.
type Console struct {
	mode     *widgets.Paragraph
	state    *widgets.Paragraph
	health   *widgets.Paragraph
	actuator *widgets.Paragraph
}

func NewConsole() (*Console, error) {
	err := termui.Init()
	if err != nil {
		return nil, fmt.Errorf("termui init: %w", err)
	}
	c := &Console{
		mode:     widgets.NewParagraph(),
		state:    widgets.NewParagraph(),
		health:   widgets.NewParagraph(),
		actuator: widgets.NewParagraph(),
	}
	c.mode.Title = "mode"
	c.mode.SetRect(0, 0, 60, 5)
	c.state.Title = "state"
	c.state.SetRect(0, 5, 60, 12)
	c.health.Title = "health"
	c.health.SetRect(60, 0, 90, 12)
	c.actuator.Title = "actuator"
	c.actuator.SetRect(0, 12, 90, 16)
	return c, nil
}

func (c *Console) Close() { termui.Close() }

// Events delivers terminal input, such as "q" and "<C-c>".
func (c *Console) Events() <-chan termui.Event { return termui.PollEvents() }

func (c *Console) Render(v View) {
	c.mode.Text = modeText(v)
	c.state.Text = stateText(v.State)
	c.health.Text = healthText(v.Health)
	c.actuator.Text = actuatorText(v.Actuator)
	c.mode.BorderStyle.Fg = termColour(v.Pattern.Colour)
	termui.Render(c.mode, c.state, c.health, c.actuator)
}

func termColour(c Colour) termui.Color {
	switch c {
	case ColourWhite:
		return termui.ColorWhite
	case ColourPurple:
		return termui.ColorMagenta
	case ColourBlue:
		return termui.ColorBlue
	case ColourGreen:
		return termui.ColorGreen
	case ColourCyan:
		return termui.ColorCyan
	case ColourYellow:
		return termui.ColorYellow
	case ColourRed:
		return termui.ColorRed
	default:
		return termui.ColorClear
	}
}

func modeText(v View) string {
	armed := "DISARMED"
	if v.Mode.Armed {
		armed = "ARMED"
	}
	s := fmt.Sprintf("%s  %s  since %s\nreason: %s\n%s  %s",
		v.Mode.Mode, armed, v.Mode.Since.Format("15:04:05"), v.Mode.Reason, v.Land, v.Pattern)
	return s
}

func stateText(st VehicleState) string {
	return fmt.Sprintf("att %s\npos %s\nvel %s\nalt %.1f m\nvalid att=%t alt=%t pos=%t",
		st.Attitude, st.Position, st.Velocity, st.Altitude(),
		st.AttitudeValid, st.AltitudeValid, st.PositionValid)
}

func healthText(h HealthFlags) string {
	var b strings.Builder
	for i, sev := range h.Flags {
		fmt.Fprintf(&b, "%-10s %s\n", HealthSource(i), sev)
	}
	return strings.TrimRight(b.String(), "\n")
}

func actuatorText(a ActuatorCommand) string {
	parts := make([]string, len(a.Outputs))
	for i, o := range a.Outputs {
		mark := ""
		if i < len(a.Clipped) && a.Clipped[i] {
			mark = "!"
		}
		parts[i] = fmt.Sprintf("%.2f%s", o, mark)
	}
	return fmt.Sprintf("%s\nthrust %.2f sat=%t", strings.Join(parts, " "), a.Thrust, a.Saturated)
}
