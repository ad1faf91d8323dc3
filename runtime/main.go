package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

var ErrInvalidTask = errors.New("invalid task")

// Task is one periodic job. Step must not block; it is handed the tick time.
type Task struct {
	// Comment is a human-friendly name, unique within a Graph.
	Comment  string
	Period   time.Duration
	Deadline time.Duration
	// Priority orders tasks due at the same instant; higher runs first.
	Priority int
	Step     func(now time.Time)
}

func (t Task) deadline() time.Duration {
	if t.Deadline == 0 {
		return t.Period
	}
	return t.Deadline
}

type Graph struct {
	Tasks []Task
}

type TaskStats struct {
	Comment     string
	Ticks       uint64
	Overruns    uint64
	Panics      uint64
	MaxDuration time.Duration
}

type taskStats struct {
	ticks       atomic.Uint64
	overruns    atomic.Uint64
	panics      atomic.Uint64
	maxDuration atomic.Int64
	overrunning atomic.Bool
}

type Instance struct {
	g     *Graph
	order []int
	stats []taskStats

	started bool
	next    []time.Time

	traceLock   sync.Mutex
	traceOutput io.Writer
}

func NewInstance(g *Graph) *Instance {
	order := make([]int, len(g.Tasks))
	for j := range order {
		order[j] = j
	}
	slices.SortStableFunc(order, func(a, b int) bool {
		return g.Tasks[a].Priority > g.Tasks[b].Priority
	})
	return &Instance{
		g:     g,
		order: order,
		stats: make([]taskStats, len(g.Tasks)),
	}
}

func (i *Instance) Check() error {
	seen := map[string]bool{}
	for j, task := range i.g.Tasks {
		if task.Comment == "" {
			return fmt.Errorf("task %d: no comment: %w", j, ErrInvalidTask)
		}
		if seen[task.Comment] {
			return fmt.Errorf("task %d %s: duplicate comment: %w", j, task.Comment, ErrInvalidTask)
		}
		seen[task.Comment] = true
		if task.Period <= 0 {
			return fmt.Errorf("task %d %s: period %s: %w", j, task.Comment, task.Period, ErrInvalidTask)
		}
		if task.Deadline < 0 || task.Deadline > task.Period {
			return fmt.Errorf("task %d %s: deadline %s exceeds period %s: %w", j, task.Comment, task.Deadline, task.Period, ErrInvalidTask)
		}
		if task.Step == nil {
			return fmt.Errorf("task %d %s: no step: %w", j, task.Comment, ErrInvalidTask)
		}
	}
	return nil
}

// Run runs every task on its own ticker until ctx is done.
// Ticks that arrive while a step is still running are dropped, not queued.
func (i *Instance) Run(ctx context.Context) error {
	err := i.Check()
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, j := range i.order {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			i.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	return ctx.Err()
}

func (i *Instance) loop(ctx context.Context, j int) {
	ticker := time.NewTicker(i.g.Tasks[j].Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			i.tick(j, now)
		}
	}
}

// StepUntil runs, in simulated time, every tick due up to and including until.
// Ticks due at the same instant run in descending priority.
// The first call starts every task at until.
func (i *Instance) StepUntil(until time.Time) {
	if !i.started {
		i.started = true
		i.next = make([]time.Time, len(i.g.Tasks))
		for j := range i.next {
			i.next[j] = until
		}
	}
	for {
		var due time.Time
		for j, next := range i.next {
			if j == 0 || next.Before(due) {
				due = next
			}
		}
		if len(i.next) == 0 || due.After(until) {
			return
		}
		for _, j := range i.order {
			if i.next[j].Equal(due) {
				i.tick(j, due)
				i.next[j] = due.Add(i.g.Tasks[j].Period)
			}
		}
	}
}

func (i *Instance) tick(j int, now time.Time) {
	start := time.Now()
	i.call(j, now)
	i.account(j, now, time.Since(start))
}

func (i *Instance) call(j int, now time.Time) {
	task := i.g.Tasks[j]
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		n := i.stats[j].panics.Add(1)
		zap.S().Errorw("task panicked", "task", task.Comment, "panic", r, "count", n, "stack", string(debug.Stack()))
		i.record(traceEvent{Time: now, Task: task.Comment, Kind: "panic", Detail: serialize(r)})
	}()
	task.Step(now)
}

func (i *Instance) account(j int, now time.Time, d time.Duration) {
	task := i.g.Tasks[j]
	st := &i.stats[j]
	st.ticks.Add(1)
	for {
		max := st.maxDuration.Load()
		if int64(d) <= max || st.maxDuration.CompareAndSwap(max, int64(d)) {
			break
		}
	}
	if d > task.deadline() {
		st.overruns.Add(1)
		if !st.overrunning.Swap(true) {
			zap.S().Warnw("task overran deadline", "task", task.Comment, "took", d, "deadline", task.deadline())
		}
		i.record(traceEvent{Time: now, Task: task.Comment, Kind: "overrun", Duration: d})
	} else if st.overrunning.Swap(false) {
		zap.S().Infow("task back within deadline", "task", task.Comment, "took", d)
	}
}

func (i *Instance) Stats() []TaskStats {
	res := make([]TaskStats, len(i.g.Tasks))
	for j, task := range i.g.Tasks {
		st := &i.stats[j]
		res[j] = TaskStats{
			Comment:     task.Comment,
			Ticks:       st.ticks.Load(),
			Overruns:    st.overruns.Load(),
			Panics:      st.panics.Load(),
			MaxDuration: time.Duration(st.maxDuration.Load()),
		}
	}
	return res
}
