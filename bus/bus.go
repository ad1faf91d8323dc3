// Package bus is the last-value publish/subscribe substrate between tasks.
//
// Each topic keeps only its latest value plus a short history, which lets a
// task take a snapshot of many topics as of one logical instant without
// locking out producers.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/notify"
)

// historyDepth is how many values a topic keeps for snapshots in progress.
const historyDepth = 4

const maxSnapshotRetries = 16

// Stamp records when a value was published. Seq is the bus-wide logical time.
type Stamp struct {
	Seq  uint64
	Time time.Time
}

type entry struct {
	value any
	seq   uint64
	time  time.Time
	first bool
	prev  atomic.Pointer[entry]
}

func (e *entry) stamp() Stamp { return Stamp{Seq: e.seq, Time: e.time} }

type topicBase struct {
	name string
	idx  int
	cur  atomic.Pointer[entry]
}

// at returns the newest entry published no later than seq.
// ok is false when the history needed has already been trimmed.
func (tb *topicBase) at(seq uint64) (e *entry, ok bool) {
	e = tb.cur.Load()
	for e != nil && e.seq > seq {
		if e.first {
			return nil, true
		}
		e = e.prev.Load()
		if e == nil {
			return nil, false
		}
	}
	return e, true
}

type Bus struct {
	seq       atomic.Uint64
	retries   atomic.Uint64
	topicLock sync.Mutex
	topics    atomic.Pointer[[]*topicBase]
}

func New() *Bus {
	return new(Bus)
}

func (b *Bus) load() []*topicBase {
	ts := b.topics.Load()
	if ts == nil {
		return nil
	}
	return *ts
}

func (b *Bus) register(name string) *topicBase {
	b.topicLock.Lock()
	defer b.topicLock.Unlock()
	old := b.load()
	for _, tb := range old {
		if tb.name == name {
			panic("bus: duplicate topic " + name)
		}
	}
	tb := &topicBase{name: name, idx: len(old)}
	ts := append(append([]*topicBase(nil), old...), tb)
	b.topics.Store(&ts)
	return tb
}

// Seq returns the latest logical time handed out.
func (b *Bus) Seq() uint64 { return b.seq.Load() }

// Names lists the registered topics in registration order.
func (b *Bus) Names() []string {
	ts := b.load()
	names := make([]string, len(ts))
	for i, tb := range ts {
		names[i] = tb.name
	}
	return names
}

// Snapshot is a consistent view of every topic as of logical time Seq.
type Snapshot struct {
	Seq     uint64
	entries []*entry
}

// Snapshot captures every topic as of the current logical time. It never
// blocks publishers. When publishers outrun the kept history it retries with a
// newer logical time.
func (b *Bus) Snapshot() Snapshot {
	ts := b.load()
	entries := make([]*entry, len(ts))
	for try := 0; ; try++ {
		seq := b.seq.Load()
		complete := true
		for i, tb := range ts {
			e, ok := tb.at(seq)
			if !ok {
				complete = false
				break
			}
			entries[i] = e
		}
		if complete {
			return Snapshot{Seq: seq, entries: entries}
		}
		b.retries.Add(1)
		if try == maxSnapshotRetries {
			zap.S().Warnw("bus: snapshot retries exhausted", "seq", seq)
			for i, tb := range ts {
				entries[i] = tb.cur.Load()
			}
			return Snapshot{Seq: b.seq.Load(), entries: entries}
		}
	}
}

// Each calls f with the latest value of every topic that has one.
func (b *Bus) Each(f func(name string, v Value, st Stamp)) {
	for _, tb := range b.load() {
		e := tb.cur.Load()
		if e == nil {
			continue
		}
		f(tb.name, e.value.(Value), e.stamp())
	}
}

// Message is a published value as seen by push subscribers.
type Message[T Value] struct {
	Topic string
	Value T
	Stamp Stamp
}

// Topic is a named last-value stream of T.
type Topic[T Value] struct {
	b   *Bus
	tb  *topicBase
	mux *notify.Multiplexer[Message[T]]
}

// NewTopic registers a topic on b. Topic names are unique per bus.
func NewTopic[T Value](b *Bus, name string) *Topic[T] {
	return &Topic[T]{
		b:   b,
		tb:  b.register(name),
		mux: notify.NewMultiplexer[Message[T]](name),
	}
}

func (t *Topic[T]) Name() string { return t.tb.name }

// Publish replaces the topic's latest value. It never blocks.
func (t *Topic[T]) Publish(v T, at time.Time) Stamp {
	e := &entry{value: v, time: at}
	for {
		old := t.tb.cur.Load()
		e.prev.Store(old)
		e.first = old == nil
		e.seq = t.b.seq.Add(1)
		if t.tb.cur.CompareAndSwap(old, e) {
			break
		}
	}
	p := e
	for i := 0; i < historyDepth-1 && p != nil; i++ {
		p = p.prev.Load()
	}
	if p != nil {
		p.prev.Store(nil)
	}
	st := e.stamp()
	t.mux.Send(Message[T]{Topic: t.tb.name, Value: v, Stamp: st})
	return st
}

// Latest returns the most recent value. ok is false if nothing was published yet.
func (t *Topic[T]) Latest() (v T, st Stamp, ok bool) {
	e := t.tb.cur.Load()
	if e == nil {
		return v, st, false
	}
	return e.value.(T), e.stamp(), true
}

// From returns the topic's value as captured in s.
func (t *Topic[T]) From(s Snapshot) (v T, st Stamp, ok bool) {
	if t.tb.idx >= len(s.entries) {
		return v, st, false
	}
	e := s.entries[t.tb.idx]
	if e == nil {
		return v, st, false
	}
	return e.value.(T), e.stamp(), true
}

// FreshFrom is From, treating values published more than maxAge before now as absent.
func (t *Topic[T]) FreshFrom(s Snapshot, now time.Time, maxAge time.Duration) (v T, ok bool) {
	v, st, ok := t.From(s)
	if !ok || now.Sub(st.Time) > maxAge {
		var zero T
		return zero, false
	}
	return v, true
}

// Subscribe pushes every published value to c. Values are dropped when c is full.
func (t *Topic[T]) Subscribe(comment string, c chan Message[T]) {
	t.mux.Subscribe(comment, c)
}

func (t *Topic[T]) Unsubscribe(c chan Message[T]) {
	t.mux.Unsubscribe(c)
}

// Dropped returns how many pushed values the subscriber on c missed.
func (t *Topic[T]) Dropped(c chan Message[T]) uint64 {
	return t.mux.Dropped(c)
}
