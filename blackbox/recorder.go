// Package blackbox is the flight log: a JSON-lines file holding the boot log
// followed by every value published on the recorded topics.
package blackbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/bus"
)

// BootTopic names the records copied from the boot log.
const BootTopic = "boot"

// Record is one line of the flight log.
type Record struct {
	Session uuid.UUID       `json:"session"`
	Topic   string          `json:"topic"`
	Seq     uint64          `json:"seq"`
	Time    time.Time       `json:"time"`
	Value   json.RawMessage `json:"value"`
}

type source func(ctx context.Context, out chan<- Record)

type Recorder struct {
	Session uuid.UUID

	w       *bufio.Writer
	boot    *BootLog
	log     *zap.SugaredLogger
	sources []source
	written uint64
	buffer  int
	lost    atomic.Uint64
}

// NewRecorder writes to w. boot may be nil.
func NewRecorder(w io.Writer, boot *BootLog) *Recorder {
	id := uuid.New()
	return &Recorder{
		Session: id,
		w:       bufio.NewWriter(w),
		boot:    boot,
		log:     zap.S().With("task", "blackbox", "session", id),
		buffer:  256,
	}
}

// Lost is the number of published values the recorder could not keep up with.
// It is final once Run has returned.
func (r *Recorder) Lost() uint64 { return r.lost.Load() }

// Watch records every value published on t from now on. Call it before Run.
func Watch[T Value](r *Recorder, t *bus.Topic[T]) {
	c := make(chan bus.Message[T], r.buffer)
	t.Subscribe("blackbox", c)
	r.sources = append(r.sources, func(ctx context.Context, out chan<- Record) {
		defer func() {
			// The drop count goes with the subscription.
			n := t.Dropped(c)
			t.Unsubscribe(c)
			if n > 0 {
				r.lost.Add(n)
				r.log.Warnw("values lost", "topic", t.Name(), "dropped", n)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-c:
				rec, err := r.record(m.Topic, m.Stamp.Seq, m.Stamp.Time, m.Value)
				if err != nil {
					r.log.Errorw("marshal", "topic", m.Topic, "err", err)
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	})
}

func (r *Recorder) record(topic string, seq uint64, t time.Time, v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{Session: r.Session, Topic: topic, Seq: seq, Time: t, Value: data}, nil
}

func (r *Recorder) write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = r.w.Write(data)
	if err != nil {
		return err
	}
	r.written++
	return nil
}

// Run seals the boot log, writes it, then records until ctx is done.
// It returns nil when ctx ends the recording.
func (r *Recorder) Run(ctx context.Context) error {
	if r.boot != nil {
		r.boot.Seal()
		entries, dropped := r.boot.Entries()
		if dropped > 0 {
			r.log.Warnw("boot log truncated", "dropped", dropped)
		}
		for _, e := range entries {
			rec, err := r.record(BootTopic, 0, e.Time, e)
			if err != nil {
				return fmt.Errorf("boot log: %w", err)
			}
			err = r.write(rec)
			if err != nil {
				return fmt.Errorf("boot log: %w", err)
			}
		}
	}

	if len(r.sources) == 0 {
		<-ctx.Done()
		return r.w.Flush()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := make(chan Record, 256)
	var wg sync.WaitGroup
	for _, s := range r.sources {
		wg.Add(1)
		go func(s source) {
			defer wg.Done()
			s(ctx, out)
		}(s)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var werr error
	for rec := range out {
		if werr != nil {
			continue
		}
		werr = r.write(rec)
		if werr == nil && len(out) == 0 {
			werr = r.w.Flush()
		}
		if werr != nil {
			r.log.Errorw("write failed, stopping", "err", werr)
			cancel()
		}
	}
	if werr != nil {
		return werr
	}
	err := r.w.Flush()
	if err != nil {
		return err
	}
	r.log.Infow("closed", "records", r.written)
	return nil
}
