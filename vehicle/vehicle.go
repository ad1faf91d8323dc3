// Package vehicle wires the multicopter task set onto one bus.
package vehicle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/bus"
	"nyiyui.ca/hato/fmu/control"
	"nyiyui.ca/hato/fmu/fms"
	"nyiyui.ca/hato/fmu/ins"
	"nyiyui.ca/hato/fmu/land"
	"nyiyui.ca/hato/fmu/param"
	"nyiyui.ca/hato/fmu/runtime"
	"nyiyui.ca/hato/fmu/status"
)

// ActuatorSink receives every actuator command, once per rate tick.
// Write must not block.
type ActuatorSink interface {
	Write(cmd ActuatorCommand) error
}

// generation is one parameter set. Tasks apply a generation at the start
// of a tick when theirs is older.
type generation struct {
	n uint64
	p param.Params
}

type Vehicle struct {
	Bus    *bus.Bus
	Topics Topics

	log  *zap.SugaredLogger
	gen  atomic.Pointer[generation]
	sink ActuatorSink

	samples chan RawSample
	dropped atomic.Uint64

	instance *runtime.Instance

	ins       *ins.Estimator
	position  *control.PositionStage
	attitude  *control.AttitudeStage
	rate      *control.RateStage
	hover     *control.HoverEstimator
	fms       *fms.Supervisor
	land      *land.Detector
	indicator *status.Indicator

	insTask, positionTask, attitudeTask, rateTask, fmsTask, landTask taskState
	sinkFailing                                                      bool
}

// taskState is per-task bookkeeping touched only by that task.
type taskState struct {
	gen  uint64
	last time.Time
}

// dt returns the seconds since the previous tick of the task.
func (t *taskState) dt(now time.Time) float64 {
	var dt float64
	if !t.last.IsZero() {
		dt = now.Sub(t.last).Seconds()
	}
	t.last = now
	return dt
}

// New builds a vehicle from p. sink may be nil.
func New(p param.Params, sink ActuatorSink) (*Vehicle, error) {
	err := p.Validate()
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	b := bus.New()
	v := &Vehicle{
		Bus:       b,
		Topics:    NewTopics(b),
		log:       zap.S().With("task", "vehicle"),
		sink:      sink,
		samples:   make(chan RawSample, p.Vehicle.SampleQueue),
		ins:       ins.New(p.INS),
		position:  control.NewPositionStage(p.Control),
		attitude:  control.NewAttitudeStage(p.Control),
		hover:     control.NewHoverEstimator(p.Control),
		land:      land.New(p.Land),
		indicator: status.NewIndicator(),
	}
	v.rate, err = control.NewRateStage(p.Control)
	if err != nil {
		return nil, fmt.Errorf("rate stage: %w", err)
	}
	v.fms, err = fms.New(p.FMS)
	if err != nil {
		return nil, fmt.Errorf("fms: %w", err)
	}
	v.gen.Store(&generation{n: 1, p: p})
	for _, t := range []*taskState{&v.insTask, &v.positionTask, &v.attitudeTask, &v.rateTask, &v.fmsTask, &v.landTask} {
		t.gen = 1
	}

	s := p.Sched
	// Each stage runs before its upstream stage at the same instant and reads
	// the snapshot taken at its own tick start, so a setpoint published by fms
	// reaches the mixer one period of each stage later. See SetpointLatency.
	v.instance = runtime.NewInstance(&runtime.Graph{Tasks: []runtime.Task{
		{Comment: "ins", Period: s.INS, Priority: 100, Step: v.stepINS},
		{Comment: "ctl-rate", Period: s.Rate, Priority: 90, Step: v.stepRate},
		{Comment: "ctl-attitude", Period: s.Attitude, Priority: 80, Step: v.stepAttitude},
		{Comment: "ctl-position", Period: s.Position, Priority: 70, Step: v.stepPosition},
		{Comment: "fms", Period: s.FMS, Priority: 60, Step: v.stepFMS},
		{Comment: "land", Period: s.Land, Priority: 50, Step: v.stepLand},
		{Comment: "status", Period: s.Status, Priority: 10, Step: v.stepStatus},
	}})
	err = v.instance.Check()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vehicle) Instance() *runtime.Instance { return v.instance }

// Run runs the task set in real time until ctx is done.
func (v *Vehicle) Run(ctx context.Context) error { return v.instance.Run(ctx) }

// StepUntil runs the task set in simulated time.
func (v *Vehicle) StepUntil(now time.Time) { v.instance.StepUntil(now) }

// Params returns the parameter set tasks are converging to.
func (v *Vehicle) Params() param.Params { return v.gen.Load().p }

// UpdateParams hands a new parameter set to every task. Each task applies
// it at its next tick. Scheduling periods only take effect on restart.
func (v *Vehicle) UpdateParams(p param.Params) error {
	err := p.Validate()
	if err != nil {
		return err
	}
	for {
		old := v.gen.Load()
		if old.p.Sched != p.Sched {
			v.log.Warnw("sched changes apply on restart")
		}
		if v.gen.CompareAndSwap(old, &generation{n: old.n + 1, p: p}) {
			return nil
		}
	}
}

// Follow applies every parameter set published by store until ctx is done.
func (v *Vehicle) Follow(ctx context.Context, store *param.Store) {
	c := make(chan param.Params, 1)
	store.Subscribe("vehicle", c)
	defer store.Unsubscribe(c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c:
			// The snapshot is never older than the message.
			err := v.UpdateParams(store.Snapshot())
			if err != nil {
				v.log.Errorw("param update rejected", "err", err)
			}
		}
	}
}

// follow returns the newest parameters when t has not seen them yet.
func (v *Vehicle) follow(t *taskState) (param.Params, bool) {
	g := v.gen.Load()
	if g.n == t.gen {
		return param.Params{}, false
	}
	t.gen = g.n
	return g.p, true
}

// PushSample queues a sensor sample for the ins task. It never blocks; a
// full queue drops the sample.
func (v *Vehicle) PushSample(s RawSample) bool {
	select {
	case v.samples <- s:
		return true
	default:
		n := v.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			v.log.Warnw("sample queue full", "dropped", n)
		}
		return false
	}
}

// Dropped returns how many samples PushSample dropped.
func (v *Vehicle) Dropped() uint64 { return v.dropped.Load() }

// Estimator exposes the ins counters and lock-free state for diagnostics.
func (v *Vehicle) Estimator() *ins.Estimator { return v.ins }

// SetpointLatency bounds how long an fms setpoint takes to reach the
// actuators through ctl-position, ctl-attitude and ctl-rate.
func SetpointLatency(s param.Sched) time.Duration {
	return s.FMS + s.Position + s.Attitude + s.Rate
}
