package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Unix(1700000000, 0)

func TestCheck(t *testing.T) {
	step := func(time.Time) {}
	cases := []struct {
		name  string
		tasks []Task
		ok    bool
	}{
		{"ok", []Task{{Comment: "a", Period: time.Millisecond, Step: step}}, true},
		{"no comment", []Task{{Period: time.Millisecond, Step: step}}, false},
		{"duplicate", []Task{{Comment: "a", Period: time.Millisecond, Step: step}, {Comment: "a", Period: time.Millisecond, Step: step}}, false},
		{"zero period", []Task{{Comment: "a", Step: step}}, false},
		{"long deadline", []Task{{Comment: "a", Period: time.Millisecond, Deadline: 2 * time.Millisecond, Step: step}}, false},
		{"no step", []Task{{Comment: "a", Period: time.Millisecond}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := NewInstance(&Graph{Tasks: c.tasks}).Check()
			if c.ok && err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if !c.ok && !errors.Is(err, ErrInvalidTask) {
				t.Fatalf("expected ErrInvalidTask, got %v", err)
			}
		})
	}
}

func TestStepUntilOrder(t *testing.T) {
	var log []string
	rec := func(name string) func(time.Time) {
		return func(now time.Time) {
			log = append(log, fmt.Sprintf("%s@%d", name, now.Sub(t0).Milliseconds()))
		}
	}
	g := &Graph{Tasks: []Task{
		{Comment: "slow", Period: 20 * time.Millisecond, Priority: 1, Step: rec("slow")},
		{Comment: "fast", Period: 10 * time.Millisecond, Priority: 10, Step: rec("fast")},
	}}
	i := NewInstance(g)
	if err := i.Check(); err != nil {
		t.Fatal(err)
	}
	i.StepUntil(t0)
	i.StepUntil(t0.Add(25 * time.Millisecond))
	want := []string{"fast@0", "slow@0", "fast@10", "fast@20", "slow@20"}
	if !cmp.Equal(log, want) {
		t.Fatal(cmp.Diff(log, want))
	}
}

func TestPanicRecovered(t *testing.T) {
	n := 0
	g := &Graph{Tasks: []Task{{Comment: "boom", Period: time.Millisecond, Step: func(time.Time) {
		n++
		if n == 2 {
			panic("boom")
		}
	}}}}
	i := NewInstance(g)
	buf := new(bytes.Buffer)
	i.SetTrace(buf)
	i.StepUntil(t0)
	i.StepUntil(t0.Add(4 * time.Millisecond))
	if n != 5 {
		t.Fatalf("task ran %d times, want 5", n)
	}
	st := i.Stats()[0]
	if st.Panics != 1 || st.Ticks != 5 {
		t.Fatalf("stats %#v", st)
	}
	var ev traceEvent
	if err := json.NewDecoder(buf).Decode(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != "panic" || ev.Task != "boom" {
		t.Fatalf("trace %#v", ev)
	}
}

func TestRun(t *testing.T) {
	var n atomic.Int64
	g := &Graph{Tasks: []Task{{Comment: "count", Period: time.Millisecond, Step: func(time.Time) { n.Add(1) }}}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewInstance(g).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err %v", err)
	}
	if n.Load() == 0 {
		t.Fatal("task never ran")
	}
}
