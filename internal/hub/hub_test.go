package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrlink/internal/hrm"
)

func connectedReading(bpm uint16) hrm.Reading {
	return hrm.Connected(hrm.Sample{BPM: bpm})
}

func TestQueryBeforeFirstPublish(t *testing.T) {
	h := New(nil)

	r := h.Query()
	assert.False(t, r.Connected(), "initial snapshot must be a disconnected reading")
	assert.False(t, r.Timestamp.IsZero())
}

func TestPublishOverwritesSnapshot(t *testing.T) {
	h := New(nil)

	h.Publish(connectedReading(60))
	h.Publish(connectedReading(61))

	got := h.Query()
	require.True(t, got.Connected())
	assert.Equal(t, uint16(61), got.Sample.BPM)
}

func TestSubscriberObservesPublicationOrder(t *testing.T) {
	h := New(nil)
	sub, _ := h.Subscribe()
	defer h.Unsubscribe(sub)

	for bpm := uint16(70); bpm < 75; bpm++ {
		h.Publish(connectedReading(bpm))
	}

	for want := uint16(70); want < 75; want++ {
		r := <-sub.C()
		require.True(t, r.Connected())
		assert.Equal(t, want, r.Sample.BPM)
	}
}

func TestLateSubscriberGetsCurrentSnapshot(t *testing.T) {
	h := New(nil)

	for bpm := uint16(80); bpm < 90; bpm++ {
		h.Publish(connectedReading(bpm))
	}

	sub, snapshot := h.Subscribe()
	defer h.Unsubscribe(sub)

	require.True(t, snapshot.Connected())
	assert.Equal(t, uint16(89), snapshot.Sample.BPM, "initial snapshot must reflect the latest publish")
	assert.Empty(t, sub.C(), "nothing published since subscribing")

	h.Publish(connectedReading(90))
	r := <-sub.C()
	assert.Equal(t, uint16(90), r.Sample.BPM)
}

func TestSlowSubscriberLosesOldestOnly(t *testing.T) {
	h := New(nil, WithQueueCapacity(4))
	sub, _ := h.Subscribe()
	defer h.Unsubscribe(sub)

	// Publish well past capacity without consuming.
	for bpm := uint16(100); bpm < 120; bpm++ {
		h.Publish(connectedReading(bpm))
	}

	assert.Equal(t, int64(16), sub.Overflowed())

	// The survivor window is the newest K readings, still in order.
	for want := uint16(116); want < 120; want++ {
		r := <-sub.C()
		assert.Equal(t, want, r.Sample.BPM)
	}

	// Once the consumer resumes it sees new readings again.
	h.Publish(connectedReading(130))
	r := <-sub.C()
	assert.Equal(t, uint16(130), r.Sample.BPM)
}

func TestOverflowDoesNotAffectOtherSubscribers(t *testing.T) {
	h := New(nil, WithQueueCapacity(2))
	slow, _ := h.Subscribe()
	fast, _ := h.Subscribe()
	defer h.Unsubscribe(slow)
	defer h.Unsubscribe(fast)

	// The fast consumer keeps up, the slow one never reads.
	var got []uint16
	for bpm := uint16(50); bpm < 60; bpm++ {
		h.Publish(connectedReading(bpm))
		r := <-fast.C()
		got = append(got, r.Sample.BPM)
	}

	assert.Equal(t, []uint16{50, 51, 52, 53, 54, 55, 56, 57, 58, 59}, got)
	assert.Zero(t, fast.Overflowed())
	assert.Positive(t, slow.Overflowed())
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	h := New(nil)
	sub, _ := h.Subscribe()

	h.Unsubscribe(sub)
	_, open := <-sub.C()
	assert.False(t, open)

	assert.NotPanics(t, func() {
		h.Unsubscribe(sub)
		h.Unsubscribe(nil)
	})
	assert.Zero(t, h.Subscribers())

	// Publishing after the consumer has gone away must not panic.
	assert.NotPanics(t, func() { h.Publish(connectedReading(64)) })
}

// recordingSink captures writes and can be told to fail.
type recordingSink struct {
	mu       sync.Mutex
	readings []hrm.Reading
	fail     error
}

func (s *recordingSink) Write(r hrm.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.readings = append(s.readings, r)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func TestLogForwarderAttemptsEveryReading(t *testing.T) {
	sink := &recordingSink{}
	h := New(nil, WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.RunLogForwarder(ctx)
		close(done)
	}()

	const n = 100
	for bpm := uint16(0); bpm < n; bpm++ {
		h.Publish(connectedReading(60 + bpm))
	}

	assert.Eventually(t, func() bool { return sink.count() == n },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop after cancellation")
	}
}

func TestLogSinkFailureDoesNotAffectPublish(t *testing.T) {
	sink := &recordingSink{fail: errors.New("disk full")}
	h := New(nil, WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.RunLogForwarder(ctx)

	sub, _ := h.Subscribe()
	defer h.Unsubscribe(sub)

	assert.NotPanics(t, func() { h.Publish(connectedReading(72)) })
	r := <-sub.C()
	assert.Equal(t, uint16(72), r.Sample.BPM, "push delivery must be isolated from sink failures")
}
