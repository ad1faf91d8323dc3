package vehicle

import (
	"time"

	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/fms"
	"nyiyui.ca/hato/fmu/land"
)

// Every task takes one snapshot at the start of its tick and publishes its
// topics once at the end.

func (v *Vehicle) stepINS(now time.Time) {
	if p, ok := v.follow(&v.insTask); ok {
		v.ins.SetParams(p.INS)
	}
	// Bounded so a flooding producer cannot starve the tick.
drain:
	for n := cap(v.samples); n > 0; n-- {
		select {
		case s := <-v.samples:
			v.ins.Ingest(s)
		default:
			break drain
		}
	}
	st := v.ins.Update(now)
	v.Topics.State.Publish(st, now)
}

// hoverFrom returns the learned hover thrust, or the configured one.
func (v *Vehicle) hoverFrom(h HoverEstimate, ok bool) float64 {
	if ok && h.Valid {
		return h.Thrust
	}
	return v.gen.Load().p.Control.HoverThrust
}

func (v *Vehicle) stepPosition(now time.Time) {
	if p, ok := v.follow(&v.positionTask); ok {
		v.position.SetParams(p.Control)
	}
	snap := v.Bus.Snapshot()
	dt := v.positionTask.dt(now)
	sp, _, ok := v.Topics.Setpoint.From(snap)
	if !ok {
		return
	}
	st, _, _ := v.Topics.State.From(snap)
	h, _, hok := v.Topics.Hover.From(snap)
	v.position.SetHover(v.hoverFrom(h, hok))
	v.Topics.AttitudeSetpoint.Publish(v.position.Step(st, sp, dt), now)
}

func (v *Vehicle) stepAttitude(now time.Time) {
	if p, ok := v.follow(&v.attitudeTask); ok {
		v.attitude.SetParams(p.Control)
	}
	snap := v.Bus.Snapshot()
	sp, _, ok := v.Topics.AttitudeSetpoint.From(snap)
	if !ok {
		return
	}
	st, _, _ := v.Topics.State.From(snap)
	v.Topics.RateSetpoint.Publish(v.attitude.Step(st, sp), now)
}

func (v *Vehicle) stepRate(now time.Time) {
	if p, ok := v.follow(&v.rateTask); ok {
		err := v.rate.SetParams(p.Control)
		if err != nil {
			v.log.Errorw("ctl-rate: params rejected", "err", err)
		}
	}
	snap := v.Bus.Snapshot()
	dt := v.rateTask.dt(now)
	// A missing setpoint is a zero one, which the stage treats as stale.
	sp, _, _ := v.Topics.RateSetpoint.From(snap)
	st, _, _ := v.Topics.State.From(snap)
	h, _, hok := v.Topics.Hover.From(snap)
	v.rate.SetHover(v.hoverFrom(h, hok))

	cmd := v.rate.Step(now, st, sp, dt)
	if v.sink != nil {
		err := v.sink.Write(cmd)
		switch {
		case err != nil && !v.sinkFailing:
			v.log.Errorw("actuator write failed", "err", err)
			v.sinkFailing = true
		case err == nil && v.sinkFailing:
			v.log.Infow("actuator write recovered")
			v.sinkFailing = false
		}
	}
	v.Topics.Actuator.Publish(cmd.Clone(), now)
	v.Topics.ControlHealth.Publish(HealthFlags{Time: now}.With(HealthSetpoint, v.rate.Health()), now)
}

func (v *Vehicle) stepFMS(now time.Time) {
	if p, ok := v.follow(&v.fmsTask); ok {
		err := v.fms.SetParams(p.FMS)
		if err != nil {
			v.log.Errorw("fms: params rejected", "err", err)
		}
	}
	c := v.gen.Load().p.FMS
	snap := v.Bus.Snapshot()
	t := &v.Topics

	in := fms.Input{Now: now}
	in.State, in.StateOK = t.State.FreshFrom(snap, now, c.StateTimeout)
	in.Pilot, in.PilotOK = t.Pilot.FreshFrom(snap, now, c.CommTimeout)
	in.Command, _, in.CommandOK = t.Command.From(snap)
	in.Mission, _, in.MissionOK = t.Mission.From(snap)
	in.Battery, in.BatteryOK = t.Battery.FreshFrom(snap, now, c.BatteryTimeout)
	in.Land, _, in.LandOK = t.Land.From(snap)
	in.Health, _, _ = t.ControlHealth.From(snap)
	h, _, hok := t.Hover.From(snap)
	in.Hover = v.hoverFrom(h, hok)

	out := v.fms.Tick(in)
	t.Setpoint.Publish(out.Setpoint, now)
	t.Mode.Publish(out.Status, now)
	t.Health.Publish(out.Health, now)
}

func (v *Vehicle) stepLand(now time.Time) {
	p, changed := v.follow(&v.landTask)
	if changed {
		v.land.SetParams(p.Land)
		v.hover.SetParams(p.Control)
	} else {
		p = v.gen.Load().p
	}
	snap := v.Bus.Snapshot()
	t := &v.Topics
	st, _, _ := t.State.From(snap)
	act, _, _ := t.Actuator.From(snap)
	mode, _, _ := t.Mode.From(snap)
	h, _, hok := t.Hover.From(snap)

	ls := v.land.Update(land.Input{
		Now:    now,
		State:  st,
		Thrust: act.Thrust,
		Armed:  mode.Armed && act.Armed,
		Hover:  v.hoverFrom(h, hok),
	})
	ls.Time = now
	t.Land.Publish(ls, now)

	if !p.Vehicle.LearnHover {
		return
	}
	if mode.Armed && ls.State == LandFlying && !ls.Freefall && st.AltitudeValid {
		v.hover.Add(act.Thrust, -st.Accel.Z)
	}
	t.Hover.Publish(v.hover.Update(now), now)
}

func (v *Vehicle) stepStatus(now time.Time) {
	snap := v.Bus.Snapshot()
	mode, _, _ := v.Topics.Mode.From(snap)
	health, _, _ := v.Topics.Health.From(snap)
	v.Topics.Indication.Publish(v.indicator.Pattern(now, mode.Mode, mode.Armed, health), now)
}
