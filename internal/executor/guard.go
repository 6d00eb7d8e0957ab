package executor

import (
	"sync"
	"time"

	"github.com/jkaninda/amri/internal/signals"
)

// KillRequest is emitted by a Guard when its deadline passes. It is tagged
// with the process ID that was current when the guard was armed, so a
// consumer can detect and ignore expiry events that outlived the process
// they were armed for.
type KillRequest struct {
	PID    int
	Signal signals.Signal
}

// Guard is a single-shot deadline attached to one invocation. It emits at
// most one KillRequest per arming, and Disarm guarantees that no event is
// observable after it returns, even when the timer fired concurrently.
type Guard struct {
	mu       sync.Mutex
	timer    *time.Timer
	expired  chan KillRequest
	disarmed bool
	gen      uint64 // bumped by Rearm/Disarm so a late fire from a superseded arming is inert
	pid      int
	sig      signals.Signal
}

// ArmGuard starts a guard that emits a KillRequest for pid once d elapses.
func ArmGuard(d time.Duration, pid int, sig signals.Signal) *Guard {
	g := &Guard{
		expired: make(chan KillRequest, 1),
		pid:     pid,
		sig:     sig,
	}
	g.timer = g.schedule(d)
	return g
}

// schedule starts a timer whose fire is bound to the current generation.
// Callers hold g.mu, except ArmGuard before the guard is published.
func (g *Guard) schedule(d time.Duration) *time.Timer {
	gen := g.gen
	return time.AfterFunc(d, func() { g.fire(gen) })
}

func (g *Guard) fire(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disarmed || gen != g.gen {
		return
	}
	select {
	case g.expired <- KillRequest{PID: g.pid, Signal: g.sig}:
	default:
	}
}

// Expired yields the guard's expiry event, if any. The channel never closes;
// consumers select on it alongside the other invocation events.
func (g *Guard) Expired() <-chan KillRequest {
	return g.expired
}

// Rearm pushes the deadline d into the future, measured from now, and
// discards any expiry belonging to the previous arming — whether it is
// already queued or its fire is still in flight behind the mutex. A
// disarmed guard stays inert.
func (g *Guard) Rearm(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disarmed {
		return
	}
	g.gen++
	g.timer.Stop()
	select {
	case <-g.expired:
	default:
	}
	g.timer = g.schedule(d)
}

// Disarm cancels the guard and drains any event that raced the
// cancellation. After Disarm returns, Expired never yields.
func (g *Guard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disarmed {
		return
	}
	g.disarmed = true
	g.gen++
	g.timer.Stop()
	select {
	case <-g.expired:
	default:
	}
}
