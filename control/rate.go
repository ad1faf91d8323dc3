package control

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// RateStage closes the body rate loops and mixes the result.
//
// It is also where a missing upstream setpoint is noticed: the setpoint
// time is the supervisor's, so a stall anywhere above shows up here.
type RateStage struct {
	conf  param.Control
	mixer *Mixer
	hover float64
	log   *zap.SugaredLogger

	pid       [3]PID
	saturated bool

	last     ActuatorCommand
	haveLast bool
	// lostSince is zero while setpoints are fresh.
	lostSince time.Time
	health    HealthLatch
}

func NewRateStage(conf param.Control) (*RateStage, error) {
	s := &RateStage{
		hover: conf.HoverThrust,
		log:   zap.S().With("task", "ctl-rate"),
	}
	err := s.SetParams(conf)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetParams applies new gains and limits. The mixer is rebuilt when the
// geometry changes.
func (s *RateStage) SetParams(conf param.Control) error {
	if s.mixer == nil || conf.Geometry != s.conf.Geometry || conf.YawAuthority != s.conf.YawAuthority {
		g, err := GeometryByName(conf.Geometry)
		if err != nil {
			return err
		}
		m, err := NewMixer(g, conf.YawAuthority)
		if err != nil {
			return fmt.Errorf("mixer for %s: %w", conf.Geometry, err)
		}
		s.mixer = m
		s.haveLast = false
	}
	s.conf = conf
	s.pid[0].Gains = conf.RateRoll
	s.pid[1].Gains = conf.RatePitch
	s.pid[2].Gains = conf.RateYaw
	s.health.Recovery = conf.SetpointTimeout
	return nil
}

func (s *RateStage) SetHover(h float64) { s.hover = h }

func (s *RateStage) Mixer() *Mixer { return s.mixer }

// Health is the severity for HealthSetpoint.
func (s *RateStage) Health() Severity { return s.health.Severity() }

func (s *RateStage) Reset() {
	for i := range s.pid {
		s.pid[i].Reset()
	}
	s.saturated = false
}

// Step produces the actuator command for now. dt is in seconds.
//
// A setpoint older than SetpointTimeout makes the stage repeat its last
// output for SetpointGrace, then raise HealthSetpoint and fly the fallback:
// zero body rates at FallbackThrust times hover.
func (s *RateStage) Step(now time.Time, st VehicleState, sp Setpoint, dt float64) ActuatorCommand {
	fresh := sp.Kind != SetpointNone && !sp.Time.IsZero() && now.Sub(sp.Time) <= s.conf.SetpointTimeout
	sev := SeverityOK
	if fresh {
		if !s.lostSince.IsZero() {
			s.log.Infow("setpoint back", "lost_for", now.Sub(s.lostSince))
			s.lostSince = time.Time{}
		}
	} else {
		if s.lostSince.IsZero() {
			s.lostSince = now
			s.log.Warnw("setpoint stale", "setpoint", sp, "age", now.Sub(sp.Time))
		}
		wasArmed := s.haveLast && s.last.Armed
		if wasArmed && now.Sub(s.lostSince) <= s.conf.SetpointGrace {
			s.health.Update(now, SeverityOK)
			cmd := s.last.Clone()
			cmd.Time = now
			return cmd
		}
		if wasArmed {
			sev = SeverityCritical
		}
		sp = Setpoint{
			Time:   now,
			Kind:   SetpointRate,
			Source: SourceFailsafe,
			Thrust: s.conf.FallbackThrust * s.hover,
			Armed:  wasArmed,
		}
	}
	if latched, changed := s.health.Update(now, sev); changed {
		s.log.Infow("setpoint health", "severity", latched)
	}

	cmd := s.compute(st, sp, dt)
	cmd.Time = now
	s.last = cmd.Clone()
	s.haveLast = true
	return cmd
}

func (s *RateStage) compute(st VehicleState, sp Setpoint, dt float64) ActuatorCommand {
	if !sp.Armed {
		s.Reset()
		return s.mixer.Idle()
	}
	var rate Vec3
	if sp.Kind == SetpointRate {
		rate = sp.Rate
	}
	var torque Vec3
	torque.X, _ = s.pid[0].Step(rate.X, st.Rate.X, 0, dt, s.saturated)
	torque.Y, _ = s.pid[1].Step(rate.Y, st.Rate.Y, 0, dt, s.saturated)
	torque.Z, _ = s.pid[2].Step(rate.Z, st.Rate.Z, 0, dt, s.saturated)
	thrust := Clamp(sp.Thrust, s.conf.MinThrust, s.conf.MaxThrust)
	cmd := s.mixer.Mix(thrust, torque)
	cmd.Armed = true
	s.saturated = cmd.Saturated
	return cmd
}
