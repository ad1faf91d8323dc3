package notify

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type subscriber[E any] struct {
	ch      chan E
	comment string
	dropped *atomic.Uint64
}

// Multiplexer fans values out to subscribed channels.
// Send never blocks: a subscriber whose channel is full misses that value.
type Multiplexer[E any] struct {
	comment         string
	subscribersLock sync.Mutex
	// subscribers is replaced, never mutated, so Send can read it without the lock.
	subscribers atomic.Pointer[[]subscriber[E]]
}

func NewMultiplexer[E any](comment string) *Multiplexer[E] {
	return &Multiplexer[E]{comment: comment}
}

func (m *Multiplexer[E]) load() []subscriber[E] {
	subs := m.subscribers.Load()
	if subs == nil {
		return nil
	}
	return *subs
}

func (m *Multiplexer[E]) Subscribe(comment string, c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	subs := slices.Clone(m.load())
	subs = append(subs, subscriber[E]{
		ch:      c,
		comment: comment,
		dropped: new(atomic.Uint64),
	})
	m.subscribers.Store(&subs)
}

func (m *Multiplexer[E]) Unsubscribe(c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	subs := m.load()
	i := slices.IndexFunc(subs, func(sub subscriber[E]) bool { return sub.ch == c })
	if i == -1 {
		panic("already unsubscribed")
	}
	subs = slices.Delete(slices.Clone(subs), i, i+1)
	m.subscribers.Store(&subs)
}

// Send offers e to every subscriber without waiting.
func (m *Multiplexer[E]) Send(e E) {
	for _, sub := range m.load() {
		select {
		case sub.ch <- e:
		default:
			m.drop(sub)
		}
	}
}

func (m *Multiplexer[E]) drop(sub subscriber[E]) {
	n := sub.dropped.Add(1)
	// powers of two so a stuck subscriber does not flood the log
	if n&(n-1) == 0 {
		zap.S().Warnw("multiplexer: subscriber lagging", "multiplexer", m.comment, "subscriber", sub.comment, "dropped", n)
	}
}

// Dropped returns how many values the subscriber on c has missed.
func (m *Multiplexer[E]) Dropped(c chan E) uint64 {
	for _, sub := range m.load() {
		if sub.ch == c {
			return sub.dropped.Load()
		}
	}
	return 0
}

func (m *Multiplexer[E]) Len() int { return len(m.load()) }
