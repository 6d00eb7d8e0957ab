// Package executor runs shell command text in child shell processes: a
// disposable shell per request (isolated) or one persistent shell reused
// across requests (interactive). It owns the per-request event loop over
// child output, timeout expiry, and external cancellation, and the
// timeout/teardown signal delivery to the child's process group.
package executor

import "github.com/jkaninda/amri/internal/signals"

// KillPolicy selects the signals forced on a child's process group. A nil
// signal means the corresponding event is observed but never enforced,
// leaving natural process exit as the only termination path.
type KillPolicy struct {
	// OnTimeout is delivered when a per-invocation deadline expires.
	OnTimeout *signals.Signal
	// OnExit is delivered when the owning context is torn down (external
	// cancellation or session shutdown) while the child is still running.
	OnExit *signals.Signal
}

// KillObserver is notified after a kill signal has been delivered to a
// child's process group, for instrumentation.
type KillObserver func(sig signals.Signal)

func (fn KillObserver) observe(sig signals.Signal) {
	if fn != nil {
		fn(sig)
	}
}

// policySignal unwraps an optional signal, zero when unset.
func policySignal(s *signals.Signal) signals.Signal {
	if s == nil {
		return 0
	}
	return *s
}
