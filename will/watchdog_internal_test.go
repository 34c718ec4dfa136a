package will

import (
	"context"
	"sync"

	"github.com/qingcloudhx/mqttcore/router"
)

type fakeSession struct {
	done             chan struct{}
	mu               sync.Mutex
	terminateCalled  bool
	terminateErr     error
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateCalled = true
	return f.terminateErr
}

func (f *fakeSession) Handle() any { return "fake-session" }

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
