package will_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qingcloudhx/mqttcore/router"
	"github.com/qingcloudhx/mqttcore/will"
)

type fakeSession struct {
	done chan struct{}

	mu         sync.Mutex
	terminated bool
}

func newFakeSession() *fakeSession { return &fakeSession{done: make(chan struct{})} }

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	return nil
}

func (f *fakeSession) Handle() any { return "fake-session" }

func (f *fakeSession) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

func (f *fakeSession) crash() { close(f.done) }

type recordingPublisher struct {
	mu    sync.Mutex
	calls []router.Message
}

func (p *recordingPublisher) Publish(pool string, msg router.Message, owner context.Context, publisherContext any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, msg)
	return 1
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *recordingPublisher) last() router.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// S1 — graceful disconnect with no will never publishes.
func TestWatchdogGracefulDisconnectNoWillNoPublish(t *testing.T) {
	sess := newFakeSession()
	pub := &recordingPublisher{}
	w := will.Start("p1", sess, pub, nil)
	defer w.Stop()

	w.Connected(nil, 60*time.Second, "ctx")
	w.DisconnectedDefault()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
}

// S2 — an unexpected crash publishes the current will.
func TestWatchdogCrashPublishesWill(t *testing.T) {
	sess := newFakeSession()
	pub := &recordingPublisher{}
	w := will.Start("p1", sess, pub, nil)
	defer w.Stop()

	w.Connected(&will.Will{Topic: []string{"a", "b"}, Payload: []byte("bye"), QoS: 1}, 300*time.Second, "ctx")

	sess.crash()

	waitFor(t, func() bool { return pub.count() == 1 })
	msg := pub.last()
	assert.Equal(t, []string{"a", "b"}, msg.Topic)
	assert.Equal(t, []byte("bye"), msg.Payload)
	assert.Equal(t, byte(1), msg.QoS)
	assert.False(t, msg.Retain)
}

// S3 — will-delay fires before session-expiry matters to this layer:
// disconnect with is_will=true, delay=undefined arms at the will's own
// delay_interval; once it fires the will is published and the session
// killed.
func TestWatchdogWillDelayFiresAndKillsSession(t *testing.T) {
	sess := newFakeSession()
	pub := &recordingPublisher{}
	w := will.Start("p1", sess, pub, nil)
	defer w.Stop()

	w.Connected(&will.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 30 * time.Millisecond}, 300*time.Second, "ctx")
	w.Disconnected(true, nil)

	waitFor(t, func() bool { return pub.count() == 1 })
	assert.True(t, sess.wasTerminated())
}

// S4 — reconnecting before the delay elapses cancels the timer; no
// publish occurs and the watchdog stays alive.
func TestWatchdogReconnectCancelsWill(t *testing.T) {
	sess := newFakeSession()
	pub := &recordingPublisher{}
	w := will.Start("p1", sess, pub, nil)
	defer w.Stop()

	w.Connected(&will.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 40 * time.Millisecond}, 300*time.Second, "ctx")
	w.Disconnected(true, nil)

	time.Sleep(10 * time.Millisecond)
	w.Reconnected()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
}

// Invariant 6 — Stop prevents any will from being published afterward.
func TestWatchdogStopPreventsPublish(t *testing.T) {
	sess := newFakeSession()
	pub := &recordingPublisher{}
	w := will.Start("p1", sess, pub, nil)

	w.Connected(&will.Will{Topic: []string{"t"}, Payload: []byte("x")}, 60*time.Second, "ctx")
	w.Stop()

	sess.crash()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, pub.count())
}
