package lease

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quietTimers keeps both timers out of the way for tests that only exercise
// channel handling.
var quietTimers = Options{
	FlushStart:     time.Hour,
	FlushInterval:  time.Hour,
	ExtendStart:    time.Hour,
	ExtendInterval: time.Hour,
}

func closeLoop(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Close(ctx))
}

func TestLoopFlushCycles(t *testing.T) {
	leaser := &fakeLeaser{}
	l := NewLoop(leaser, Options{
		FlushStart:     50 * time.Millisecond,
		FlushInterval:  50 * time.Millisecond,
		ExtendStart:    time.Hour,
		ExtendInterval: time.Hour,
	})

	for _, id := range seq(0, 30) {
		l.Add(id)
	}
	for _, id := range seq(0, 10) {
		l.Ack(id)
	}
	calls := leaser.waitForCalls(t, 1)
	assert.Equal(t, leaserCall{method: "ack", ids: seq(0, 10)}, calls[0])

	for _, id := range seq(10, 20) {
		l.Nack(id)
	}
	calls = leaser.waitForCalls(t, 2)
	assert.Equal(t, leaserCall{method: "nack", ids: seq(10, 20)}, calls[1])

	for _, id := range seq(20, 25) {
		l.Ack(id)
	}
	for _, id := range seq(25, 30) {
		l.Nack(id)
	}
	calls = leaser.waitForCalls(t, 4)
	assert.Equal(t, leaserCall{method: "ack", ids: seq(20, 25)}, calls[2])
	assert.Equal(t, leaserCall{method: "nack", ids: seq(25, 30)}, calls[3])

	closeLoop(t, l)
}

func TestLoopExtendCycles(t *testing.T) {
	leaser := &fakeLeaser{}
	l := NewLoop(leaser, Options{
		FlushStart:     time.Hour,
		FlushInterval:  time.Hour,
		ExtendStart:    50 * time.Millisecond,
		ExtendInterval: 100 * time.Millisecond,
	})

	for _, id := range seq(0, 30) {
		l.Add(id)
	}
	calls := leaser.waitForCalls(t, 1)
	assert.Equal(t, leaserCall{method: "extend", ids: seq(0, 30)}, calls[0])

	// An ack takes effect on the lease set immediately, so the next renewal
	// covers only what is still checked out.
	for _, id := range seq(0, 10) {
		l.Ack(id)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		calls = leaser.recorded()
		if n := len(calls); n >= 2 && calls[n-1].method == "extend" &&
			assert.ObjectsAreEqual(seq(10, 30), calls[n-1].ids) {
			break
		}
		require.True(t, time.Now().Before(deadline), "never saw a renewal for the remaining lease set, calls: %v", calls)
		time.Sleep(5 * time.Millisecond)
	}

	l.Abandon()
	<-l.Done()
}

// A message registration and the matching ack issued back-to-back must be
// applied in that order, however the loop's wakeups interleave. If the ack
// were applied first, the late add would put the id back under lease and the
// renewal timer would keep extending a message the application already
// finished.
func TestLoopAddAckRace(t *testing.T) {
	trials := 1000
	if testing.Short() {
		trials = 150
	}

	for i := 0; i < trials; i++ {
		leaser := &fakeLeaser{}
		l := NewLoop(leaser, Options{
			FlushStart:     time.Millisecond,
			FlushInterval:  time.Millisecond,
			ExtendStart:    2 * time.Millisecond,
			ExtendInterval: 2 * time.Millisecond,
		})
		id := fmt.Sprintf("%03d", i%1000)

		l.Add(id)
		l.Ack(id)

		acked := false
		deadline := time.Now().Add(2 * time.Second)
		for !acked && time.Now().Before(deadline) {
			for _, c := range leaser.recorded() {
				if c.method == "ack" {
					acked = true
				}
			}
			if !acked {
				time.Sleep(time.Millisecond)
			}
		}
		require.True(t, acked, "trial %d: ack was never flushed", i)

		// Let a few renewal periods pass; none may cover the acked id.
		time.Sleep(6 * time.Millisecond)
		for _, c := range leaser.recorded() {
			if c.method == "extend" {
				assert.NotContains(t, c.ids, id, "trial %d: renewed a message after its ack", i)
			}
		}
		l.Abandon()
		<-l.Done()
	}
}

func TestLoopCloseWaitsForFinalFlush(t *testing.T) {
	leaser := &fakeLeaser{ackDelay: 100 * time.Millisecond}
	l := NewLoop(leaser, quietTimers)

	for _, id := range seq(0, 30) {
		l.Add(id)
	}
	for _, id := range seq(0, 10) {
		l.Ack(id)
	}

	start := time.Now()
	closeLoop(t, l)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "close returned before the final ack call finished")
	assert.Less(t, elapsed, 2*time.Second)

	calls := leaser.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, leaserCall{method: "ack", ids: seq(0, 10)}, calls[0])
	assert.Equal(t, leaserCall{method: "nack", ids: seq(10, 30)}, calls[1])
}

func TestLoopAbandonNeverBlocks(t *testing.T) {
	leaser := &fakeLeaser{ackDelay: 100 * time.Millisecond}
	l := NewLoop(leaser, quietTimers)

	for _, id := range seq(0, 30) {
		l.Add(id)
	}
	for _, id := range seq(0, 10) {
		l.Ack(id)
	}

	start := time.Now()
	l.Abandon()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after abandonment")
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "abandonment waited on pending work")
	assert.Empty(t, leaser.recorded(), "abandonment must not flush")
}

func TestLoopCloseIsIdempotent(t *testing.T) {
	l := NewLoop(&fakeLeaser{}, quietTimers)
	closeLoop(t, l)
	closeLoop(t, l)
}

func TestIngressOrderAndClose(t *testing.T) {
	q := newIngress[int]()
	for i := 0; i < 100; i++ {
		q.send(i)
	}
	q.close()
	q.send(100) // dropped

	for i := 0; i < 100; i++ {
		v, ok, done := q.tryRecv()
		require.True(t, ok)
		require.False(t, done)
		assert.Equal(t, i, v)
	}
	_, ok, done := q.tryRecv()
	assert.False(t, ok)
	assert.True(t, done)
}

func TestIngressReadySignal(t *testing.T) {
	q := newIngress[string]()
	select {
	case <-q.ready():
		t.Fatal("ready before any send")
	default:
	}

	q.send("a")
	select {
	case <-q.ready():
	case <-time.After(time.Second):
		t.Fatal("no readiness signal after send")
	}
}
