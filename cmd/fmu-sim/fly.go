package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"nyiyui.ca/hato/fmu/sim"
	"nyiyui.ca/hato/fmu/status"
	"nyiyui.ca/hato/fmu/vehicle"
)

const (
	step          = time.Millisecond
	batteryPeriod = 100 * time.Millisecond
	renderPeriod  = 100 * time.Millisecond
	// slack is how far ahead of the wall clock the simulation may run
	// before it sleeps.
	slack = 2 * time.Millisecond
)

// fly steps the plant and the vehicle in lockstep until ctx is done or the
// simulated duration has passed.
func fly(ctx context.Context, v *vehicle.Vehicle, plant *sim.Plant, start time.Time, setClock func(int64), console *status.Console) {
	for _, d := range faults {
		plant.Drop(d.sensor, start.Add(d.after), start.Add(d.after+d.length))
		zap.S().Infow("sensor outage scheduled", "sensor", d.sensor, "after", d.after, "for", d.length)
	}
	zap.S().Infof("starting simulation…")
	now := start
	plant.Step(now)
	v.Topics.Battery.Publish(plant.Battery(), now)
	v.StepUntil(now)
	lastBattery, lastRender := now, now
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if duration > 0 && now.Sub(start) >= duration {
			return
		}
		now = now.Add(step)
		setClock(now.UnixNano())
		plant.Step(now)
		if now.Sub(lastBattery) >= batteryPeriod {
			v.Topics.Battery.Publish(plant.Battery(), now)
			lastBattery = now
		}
		v.StepUntil(now)
		if console != nil && now.Sub(lastRender) >= renderPeriod {
			console.Render(view(v))
			lastRender = now
		}
		if realtime {
			if d := time.Until(now); d > slack {
				time.Sleep(d)
			}
		}
	}
}

func view(v *vehicle.Vehicle) status.View {
	snap := v.Bus.Snapshot()
	t := &v.Topics
	var vw status.View
	vw.Mode, _, _ = t.Mode.From(snap)
	vw.State, _, _ = t.State.From(snap)
	vw.Health, _, _ = t.Health.From(snap)
	vw.Actuator, _, _ = t.Actuator.From(snap)
	vw.Land, _, _ = t.Land.From(snap)
	vw.Pattern, _, _ = t.Indication.From(snap)
	return vw
}
