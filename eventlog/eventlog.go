// Package eventlog defines the event vocabulary shared by the router
// and watchdog actors. It mirrors a broker's callback-hook approach to
// logging (backend.Logger = func(event broker.LogEvent, ...)) rather
// than reaching for a structured-logging library.
package eventlog

// Event identifies what happened inside a router or watchdog actor.
type Event int

const (
	// Router events.

	// NewSubscription fires when Subscribe creates a destination that
	// did not previously exist for the owner/filter pair.
	NewSubscription Event = iota
	// Resubscribed fires when Subscribe replaces an existing
	// destination for the same owner/filter pair.
	Resubscribed
	// Unsubscribed fires on a successful Unsubscribe.
	Unsubscribed
	// OwnerDied fires when an owner's liveness context is done and its
	// destinations are garbage-collected.
	OwnerDied
	// Dispatched fires once per destination a publish was delivered to.
	Dispatched
	// DispatchFailed fires when delivery to a destination's callback
	// returned an error; the error is logged and swallowed.
	DispatchFailed
	// RetainStoreFailed fires when the retain store returns an error
	// from Store or Search; the error is logged and swallowed.
	RetainStoreFailed

	// Watchdog events.

	// ConnectExpiryArmed fires when a new watchdog arms its initial
	// 20-second connect-expiry timer.
	ConnectExpiryArmed
	// ExpiryTimerArmed fires whenever a disconnect (re)arms the expiry
	// timer with a newly minted generation.
	ExpiryTimerArmed
	// ExpiryTimerCancelled fires when connected/reconnected cancels an
	// armed timer.
	ExpiryTimerCancelled
	// ExpiryTimerStale fires when a timer fires with a generation that
	// no longer matches the watchdog's current one.
	ExpiryTimerStale
	// WillPublished fires when the watchdog successfully hands a will
	// off to the router.
	WillPublished
	// WillSkipped fires when a trigger that could have published a will
	// did not, because is_stopping was set or the will was empty.
	WillSkipped
	// SessionTerminateFailed fires when the best-effort session
	// termination call returns an error.
	SessionTerminateFailed
)

// Logger receives events as they occur. pool and detail are free-form
// and safe to ignore; err is non-nil only for failure events.
type Logger func(event Event, pool string, detail string, err error)

// Discard is a Logger that does nothing, used as the default when a
// caller does not supply one.
func Discard(Event, string, string, error) {}
