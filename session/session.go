// Package session defines the narrow interface the will watchdog uses
// to observe and terminate the session it is bound to. The session's
// own packet FSM, transport, and wire codec are external collaborators
// and out of scope here (spec.md §1).
package session

// Session is the watchdog's view of the external session it monitors.
type Session interface {
	// Done is closed when the session terminates unexpectedly (crash).
	// This is the watchdog's liveness monitor.
	Done() <-chan struct{}

	// Terminate asks the session to shut down. It is best-effort: the
	// watchdog never waits for it and never retries it; a returned
	// error is logged and swallowed.
	Terminate() error

	// Handle returns an opaque, loggable identity for this session.
	Handle() any
}
