// Package will implements the per-session will watchdog of spec.md
// §4.1: it monitors a session's liveness, runs the connect-expiry and
// disconnect-expiry timers, and publishes the session's
// last-will-and-testament exactly when MQTT-5 requires it.
package will

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/qingcloudhx/mqttcore/eventlog"
	"github.com/qingcloudhx/mqttcore/router"
	"github.com/qingcloudhx/mqttcore/session"
)

// ConnectExpiry is the hard-coded grace period a fresh watchdog gives
// the CONNECT handshake before killing the session (spec.md §4.1, §6).
const ConnectExpiry = 20 * time.Second

// Publisher is the narrow view of router.Router the watchdog needs: a
// place to hand off the will. *router.Router satisfies it directly.
type Publisher interface {
	Publish(pool string, msg router.Message, publisherOwner context.Context, publisherContext any) int
}

type connectedCmd struct {
	will          *Will
	sessionExpiry time.Duration
	userContext   any
}

type reconnectedCmd struct{}

type disconnectedCmd struct {
	isWill bool
	delay  *time.Duration
}

type setUserContextCmd struct {
	userContext any
}

type stopCmd struct {
	reply chan struct{}
}

type timerFireCmd struct {
	generation uint64
}

// Watchdog is one per-session actor. All of its state is owned by its
// single control-loop goroutine; the exported methods only ever send
// commands into that loop.
type Watchdog struct {
	pool      string
	sess      session.Session
	publisher Publisher
	logger    eventlog.Logger

	cmds chan any
	t    tomb.Tomb

	will             *Will
	userContext      any
	sessionExpiry    time.Duration
	expiryGeneration uint64
	timer            *time.Timer
	isStopping       bool
}

// Start constructs a Watchdog bound to sess, begins monitoring its
// liveness, and arms the initial connect-expiry timer.
func Start(pool string, sess session.Session, publisher Publisher, logger eventlog.Logger) *Watchdog {
	if logger == nil {
		logger = eventlog.Discard
	}

	w := &Watchdog{
		pool:      pool,
		sess:      sess,
		publisher: publisher,
		logger:    logger,
		cmds:      make(chan any, 16),
	}
	w.t.Go(w.loop)
	return w
}

func (w *Watchdog) send(cmd any) {
	select {
	case w.cmds <- cmd:
	case <-w.t.Dying():
	}
}

// Connected replaces will, session_expiry_interval and user_context,
// and cancels any armed timer. A nil will means "no will".
func (w *Watchdog) Connected(will *Will, sessionExpiry time.Duration, userContext any) {
	w.send(connectedCmd{will: will, sessionExpiry: sessionExpiry, userContext: userContext})
}

// Reconnected cancels any armed timer, leaving will, expiry and
// context untouched.
func (w *Watchdog) Reconnected() {
	w.send(reconnectedCmd{})
}

// Disconnected arms an expiry timer per the disconnect-timer policy
// (spec.md §4.1). delay of nil stands for "undefined".
func (w *Watchdog) Disconnected(isWill bool, delay *time.Duration) {
	w.send(disconnectedCmd{isWill: isWill, delay: delay})
}

// DisconnectedDefault is shorthand for Disconnected(true, nil).
func (w *Watchdog) DisconnectedDefault() {
	w.Disconnected(true, nil)
}

// SetUserContext replaces user_context only, used after re-authentication.
func (w *Watchdog) SetUserContext(userContext any) {
	w.send(setUserContextCmd{userContext: userContext})
}

// Stop is synchronous: it cancels any armed timer, sets is_stopping,
// and blocks until the watchdog has acknowledged. No will is published
// after Stop returns.
func (w *Watchdog) Stop() {
	reply := make(chan struct{})

	select {
	case w.cmds <- stopCmd{reply: reply}:
	case <-w.t.Dead():
		return
	}

	select {
	case <-reply:
	case <-w.t.Dead():
	}
}

func (w *Watchdog) loop() error {
	w.armTimerSilent(ConnectExpiry)
	w.logger(eventlog.ConnectExpiryArmed, w.pool, "", nil)

	for {
		select {
		case <-w.t.Dying():
			return nil

		case <-w.sess.Done():
			w.onSessionDown()
			return nil

		case raw := <-w.cmds:
			switch cmd := raw.(type) {
			case connectedCmd:
				w.onConnected(cmd)
			case reconnectedCmd:
				w.onReconnected()
			case disconnectedCmd:
				w.onDisconnected(cmd)
			case setUserContextCmd:
				w.userContext = cmd.userContext
			case stopCmd:
				w.onStop(cmd)
				return nil
			case timerFireCmd:
				if w.onTimerFire(cmd.generation) {
					return nil
				}
			default:
				w.publishWill()
				return fmt.Errorf("will: unknown message %T", raw)
			}
		}
	}
}

func (w *Watchdog) onConnected(cmd connectedCmd) {
	w.cancelTimer()
	w.will = cmd.will
	w.sessionExpiry = cmd.sessionExpiry
	w.userContext = cmd.userContext
}

func (w *Watchdog) onReconnected() {
	w.cancelTimer()
}

func (w *Watchdog) onDisconnected(cmd disconnectedCmd) {
	newWill, delay := disconnectPolicy(w.will, cmd.isWill, cmd.delay)
	w.will = newWill
	w.armTimer(delay)
}

func (w *Watchdog) onStop(cmd stopCmd) {
	w.cancelTimer()
	w.isStopping = true
	close(cmd.reply)
}

// onTimerFire reports whether the watchdog should terminate as a
// result of this firing.
func (w *Watchdog) onTimerFire(generation uint64) bool {
	if generation != w.expiryGeneration {
		w.logger(eventlog.ExpiryTimerStale, w.pool, "", nil)
		return false
	}

	if err := w.sess.Terminate(); err != nil {
		w.logger(eventlog.SessionTerminateFailed, w.pool, "", err)
	}
	w.publishWill()
	return true
}

func (w *Watchdog) onSessionDown() {
	if w.isStopping {
		return
	}
	w.publishWill()
}

func (w *Watchdog) publishWill() {
	if w.isStopping || !w.will.hasContent() {
		w.logger(eventlog.WillSkipped, w.pool, "", nil)
		return
	}

	properties := w.will.Properties
	if properties == nil {
		properties = map[string]any{}
	}

	msg := router.Message{
		Topic:      w.will.Topic,
		Payload:    w.will.Payload,
		QoS:        w.will.QoS,
		Retain:     w.will.Retain,
		Properties: properties,
	}

	w.publisher.Publish(w.pool, msg, nil, w.userContext)
	w.logger(eventlog.WillPublished, w.pool, "", nil)
}

func (w *Watchdog) armTimer(d time.Duration) {
	w.armTimerSilent(d)
	w.logger(eventlog.ExpiryTimerArmed, w.pool, "", nil)
}

func (w *Watchdog) armTimerSilent(d time.Duration) {
	w.cancelTimer()

	gen := w.expiryGeneration
	w.timer = time.AfterFunc(d, func() {
		w.send(timerFireCmd{generation: gen})
	})
}

func (w *Watchdog) cancelTimer() {
	// Bump the generation even if timer.Stop() loses the race with the
	// timer's own goroutine: the timerFireCmd already in flight carries
	// the old generation and onTimerFire will see it as stale.
	w.expiryGeneration++

	if w.timer == nil {
		return
	}
	w.timer.Stop()
	w.timer = nil
	w.logger(eventlog.ExpiryTimerCancelled, w.pool, "", nil)
}
