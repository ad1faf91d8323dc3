package fmu

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityDegraded
	SeverityCritical
)

var severityNames = []string{"ok", "warning", "degraded", "critical"}

func (s Severity) String() string { return nameOf(severityNames, int(s)) }

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	i, ok := parseName(severityNames, string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", b)
	}
	*s = Severity(i)
	return nil
}

// HealthSource names a subsystem with a health flag.
// The first NumSensors sources line up with SensorID.
type HealthSource int

const (
	HealthGyro HealthSource = iota
	HealthAccel
	HealthMag
	HealthBaro
	HealthGPS
	HealthEstimator
	HealthComm
	HealthPower
	HealthSetpoint
	NumHealthSources
)

var healthNames = []string{"gyro", "accel", "mag", "baro", "gps", "estimator", "comm", "power", "setpoint"}

func (h HealthSource) String() string { return nameOf(healthNames, int(h)) }

func SensorHealth(id SensorID) HealthSource { return HealthSource(id) }

// HealthFlags holds one severity per health source.
type HealthFlags struct {
	Time  time.Time
	Flags [NumHealthSources]Severity
}

func (h HealthFlags) Get(src HealthSource) Severity { return h.Flags[src] }

func (h HealthFlags) OK(src HealthSource) bool { return h.Flags[src] == SeverityOK }

// With returns a copy of h with src set to sev.
func (h HealthFlags) With(src HealthSource, sev Severity) HealthFlags {
	h.Flags[src] = sev
	return h
}

// Merge returns the per-source worst of h and o.
func (h HealthFlags) Merge(o HealthFlags) HealthFlags {
	for i := range h.Flags {
		if o.Flags[i] > h.Flags[i] {
			h.Flags[i] = o.Flags[i]
		}
	}
	if o.Time.After(h.Time) {
		h.Time = o.Time
	}
	return h
}

// Worst returns the source with the highest severity (the first one on ties).
func (h HealthFlags) Worst() (HealthSource, Severity) {
	var src HealthSource
	var sev Severity
	for i, s := range h.Flags {
		if s > sev {
			src, sev = HealthSource(i), s
		}
	}
	return src, sev
}

func (h HealthFlags) AllGreen() bool {
	_, sev := h.Worst()
	return sev == SeverityOK
}

func (h HealthFlags) String() string {
	b := new(strings.Builder)
	for i, s := range h.Flags {
		if s == SeverityOK {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(b, "%s=%s", HealthSource(i), s)
	}
	if b.Len() == 0 {
		return "all-green"
	}
	return b.String()
}

type healthFlagsJSON struct {
	Time  time.Time           `json:"time"`
	Flags map[string]Severity `json:"flags"`
}

func (h HealthFlags) MarshalJSON() ([]byte, error) {
	j := healthFlagsJSON{Time: h.Time, Flags: map[string]Severity{}}
	for i, s := range h.Flags {
		j.Flags[HealthSource(i).String()] = s
	}
	return json.Marshal(j)
}

func (h *HealthFlags) UnmarshalJSON(b []byte) error {
	var j healthFlagsJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*h = HealthFlags{Time: j.Time}
	for name, s := range j.Flags {
		i, ok := parseName(healthNames, name)
		if !ok {
			return fmt.Errorf("unknown health source %q", name)
		}
		h.Flags[i] = s
	}
	return nil
}

// HealthLatch holds the severity of one health source.
// A worse severity is taken immediately. A better one is only taken once it
// has been reported continuously for Recovery.
type HealthLatch struct {
	Recovery time.Duration

	sev       Severity
	improving bool
	since     time.Time
	target    Severity
}

// Update reports the instantaneous severity at now and returns the latched one.
func (l *HealthLatch) Update(now time.Time, sev Severity) (latched Severity, changed bool) {
	if sev >= l.sev {
		changed = sev > l.sev
		l.sev = sev
		l.improving = false
		return l.sev, changed
	}
	if !l.improving {
		l.improving = true
		l.since = now
		l.target = sev
	} else if sev > l.target {
		l.target = sev
	}
	if now.Sub(l.since) >= l.Recovery {
		l.sev = l.target
		l.improving = false
		return l.sev, true
	}
	return l.sev, false
}

func (l *HealthLatch) Severity() Severity { return l.sev }

func (l *HealthLatch) Reset() {
	*l = HealthLatch{Recovery: l.Recovery}
}
