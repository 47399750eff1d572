package main

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_EvictsUnresponsiveExactlyOnce(t *testing.T) {
	var pings atomic.Int32
	dead := make(chan struct{}, 4)

	hb := startHeartbeat(20*time.Millisecond, 10*time.Millisecond,
		func() error { pings.Add(1); return nil },
		func() { dead <- struct{}{} })
	defer hb.stop()

	select {
	case <-dead:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("unresponsive connection was not evicted")
	}

	require.GreaterOrEqual(t, pings.Load(), int32(1))

	// No second eviction, and no pings after death.
	sent := pings.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, dead)
	assert.Equal(t, sent, pings.Load())
}

func TestHeartbeat_PongCancelsDeadline(t *testing.T) {
	pinged := make(chan struct{}, 16)
	died := make(chan struct{}, 1)

	hb := startHeartbeat(30*time.Millisecond, 150*time.Millisecond,
		func() error { pinged <- struct{}{}; return nil },
		func() { died <- struct{}{} })
	defer hb.stop()

	// Answer several full cycles promptly; none may evict.
	for i := 0; i < 4; i++ {
		select {
		case <-pinged:
			hb.pong()
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected a ping")
		}
	}

	select {
	case <-died:
		t.Fatal("connection evicted despite prompt pongs")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHeartbeat_PongWhileAliveIsNoOp(t *testing.T) {
	died := make(chan struct{}, 1)
	hb := startHeartbeat(time.Hour, time.Hour,
		func() error { return nil },
		func() { died <- struct{}{} })
	defer hb.stop()

	hb.pong()
	hb.pong()

	assert.Equal(t, stateAlive, hb.currentState())
	assert.Empty(t, died)
}

func TestHeartbeat_StopCancelsTimers(t *testing.T) {
	died := make(chan struct{}, 1)
	hb := startHeartbeat(10*time.Millisecond, 5*time.Millisecond,
		func() error { return nil },
		func() { died <- struct{}{} })

	hb.stop()
	hb.stop()

	select {
	case <-died:
		t.Fatal("stopped heartbeat still evicted")
	case <-time.After(60 * time.Millisecond):
	}
}
