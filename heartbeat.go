package main

import (
	"sync"
	"time"
)

// heartbeat drives the liveness state machine for one connection:
// a ping every pingInterval, a pong deadline of pongTimeout, and eviction
// when the deadline fires first. The mutex makes a pong and the deadline
// mutually exclusive outcomes for a cycle: whichever takes the lock in
// the awaitingPong state wins, the other becomes a no-op.
type heartbeat struct {
	sendPing     func() error
	onDead       func()
	pingInterval time.Duration
	pongTimeout  time.Duration

	mu        sync.Mutex
	state     aliveState
	pingTimer *time.Timer
	deadline  *time.Timer
}

// startHeartbeat begins the ping cycle. sendPing is called on every
// interval tick; onDead exactly once if the connection stops answering.
func startHeartbeat(pingInterval, pongTimeout time.Duration, sendPing func() error, onDead func()) *heartbeat {
	hb := &heartbeat{
		sendPing:     sendPing,
		onDead:       onDead,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		state:        stateAlive,
	}
	hb.pingTimer = time.AfterFunc(pingInterval, hb.ping)
	return hb
}

func (hb *heartbeat) ping() {
	hb.mu.Lock()
	if hb.state != stateAlive {
		// Dead, or the previous cycle is still waiting on its pong.
		hb.mu.Unlock()
		return
	}
	hb.state = stateAwaitingPong
	hb.deadline = time.AfterFunc(hb.pongTimeout, hb.expire)
	hb.pingTimer.Reset(hb.pingInterval)
	hb.mu.Unlock()

	// A failed write is not handled here: the deadline will fire and
	// evict the connection through the usual path.
	_ = hb.sendPing()
}

// pong records a pong from the peer. A pong while already alive is a
// no-op, not an error.
func (hb *heartbeat) pong() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.state != stateAwaitingPong {
		return
	}
	hb.deadline.Stop()
	hb.deadline = nil
	hb.state = stateAlive
}

func (hb *heartbeat) expire() {
	hb.mu.Lock()
	if hb.state != stateAwaitingPong {
		hb.mu.Unlock()
		return
	}
	hb.state = stateDead
	hb.pingTimer.Stop()
	hb.mu.Unlock()

	hb.onDead()
}

func (hb *heartbeat) currentState() aliveState {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.state
}

// stop cancels both timers and freezes the machine. Safe to call from
// any teardown path, any number of times.
func (hb *heartbeat) stop() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.state == stateDead {
		return
	}
	hb.state = stateDead
	hb.pingTimer.Stop()
	if hb.deadline != nil {
		hb.deadline.Stop()
	}
}
