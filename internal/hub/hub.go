// Package hub distributes readings to independently paced consumers: a
// polling query surface, push subscriptions with bounded drop-oldest
// queues, and a durable log path that never discards.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"hrlink/internal/hrm"
	"hrlink/internal/ringchan"
)

// DefaultQueueCapacity bounds each subscription's delivery queue. A
// consumer stalled for longer than this many publishes loses its oldest
// pending readings, never the newest.
const DefaultQueueCapacity = 16

// Sink receives every published reading on the durable log path. Writes
// happen on the forwarder goroutine, never on the publish path.
type Sink interface {
	Write(hrm.Reading) error
}

// Subscription is one push consumer's delivery channel. It stays valid
// until Unsubscribe; readings arrive in publication order, with the oldest
// dropped first on overflow.
type Subscription struct {
	id    uint64
	queue *ringchan.RingChannel[hrm.Reading]
}

// C returns the delivery channel. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan hrm.Reading {
	return s.queue.C()
}

// Overflowed returns how many readings this subscription has lost to
// queue overflow.
func (s *Subscription) Overflowed() int64 {
	return s.queue.GetMetrics().Overwritten
}

// Hub owns the current-reading snapshot and the subscription set.
// Publish is called by exactly one producer; Query, Subscribe and
// Unsubscribe are safe from any goroutine.
type Hub struct {
	logger   *logrus.Logger
	queueCap int
	sink     Sink

	mu       sync.RWMutex
	snapshot hrm.Reading
	subs     *hashmap.Map[uint64, *Subscription]
	nextID   atomic.Uint64

	logMu    sync.Mutex
	logCond  *sync.Cond
	logQueue []hrm.Reading
	logStop  bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueCapacity overrides the per-subscription queue capacity.
func WithQueueCapacity(n int) Option {
	return func(h *Hub) { h.queueCap = n }
}

// WithSink attaches the durable log collaborator. Every published reading
// is queued for it; queueing is unbounded because the log path must
// attempt every record.
func WithSink(s Sink) Option {
	return func(h *Hub) { h.sink = s }
}

// New creates a hub whose snapshot starts as a disconnected reading, so
// Query is meaningful before the first publish.
func New(logger *logrus.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Hub{
		logger:   logger,
		queueCap: DefaultQueueCapacity,
		snapshot: hrm.Disconnected(),
		subs:     hashmap.New[uint64, *Subscription](),
	}
	h.logCond = sync.NewCond(&h.logMu)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish overwrites the snapshot, delivers the reading to every
// subscription and queues it for the log sink. It never blocks on a slow
// consumer and never returns an error to its caller.
func (h *Hub) Publish(r hrm.Reading) {
	h.mu.Lock()
	h.snapshot = r
	h.subs.Range(func(id uint64, sub *Subscription) bool {
		if sub.queue.Send(r) {
			h.logger.WithFields(logrus.Fields{
				"subscription": id,
				"overflowed":   sub.Overflowed(),
			}).Warn("Slow consumer, dropped oldest queued reading")
		}
		return true
	})
	h.mu.Unlock()

	if h.sink != nil {
		h.enqueueLog(r)
	}
}

// Query returns the most recently published reading. It always succeeds
// and never blocks on publishers for longer than the snapshot swap.
func (h *Hub) Query() hrm.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}

// Subscribe registers a push consumer and returns its subscription
// together with the current snapshot, so a late joiner is immediately
// consistent: the snapshot reflects every reading published before the
// subscription, and the queue every one after.
func (h *Hub) Subscribe() (*Subscription, hrm.Reading) {
	sub := &Subscription{
		id:    h.nextID.Add(1),
		queue: ringchan.New[hrm.Reading](h.queueCap),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs.Set(sub.id, sub)
	return sub, h.snapshot
}

// Unsubscribe removes a subscription and closes its channel. Calling it
// for an already removed subscription is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs.Del(sub.id) {
		sub.queue.Close()
	}
}

// Subscribers returns the current number of push consumers.
func (h *Hub) Subscribers() int {
	return h.subs.Len()
}

func (h *Hub) enqueueLog(r hrm.Reading) {
	h.logMu.Lock()
	h.logQueue = append(h.logQueue, r)
	h.logMu.Unlock()
	h.logCond.Signal()
}

// RunLogForwarder drains the log queue into the sink until ctx is
// cancelled, then attempts the remaining queued readings once and
// returns. Sink failures are reported and skipped; they never affect
// publishing or other consumers.
func (h *Hub) RunLogForwarder(ctx context.Context) {
	if h.sink == nil {
		return
	}

	stop := context.AfterFunc(ctx, func() {
		h.logMu.Lock()
		h.logStop = true
		h.logMu.Unlock()
		h.logCond.Broadcast()
	})
	defer stop()

	for {
		h.logMu.Lock()
		for len(h.logQueue) == 0 && !h.logStop {
			h.logCond.Wait()
		}
		if len(h.logQueue) == 0 && h.logStop {
			h.logMu.Unlock()
			return
		}
		r := h.logQueue[0]
		h.logQueue = h.logQueue[1:]
		h.logMu.Unlock()

		if err := h.sink.Write(r); err != nil {
			h.logger.WithError(err).Error("Log sink write failed")
		}
	}
}
