package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qingcloudhx/mqttcore/acl"
	"github.com/qingcloudhx/mqttcore/retain"
	"github.com/qingcloudhx/mqttcore/router"
)

func mustSubscribe(t *testing.T, r *router.Router, ctx context.Context, pool string, filter []string, owner context.Context, ch chan router.Envelope, opts router.SubscriberOptions) bool {
	t.Helper()
	isNew, err := r.Subscribe(ctx, pool, filter, owner, router.MailboxCallback(ch), opts)
	require.NoError(t, err)
	return isNew
}

func recv(t *testing.T, ch chan router.Envelope) router.Envelope {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return router.Envelope{}
	}
}

func assertNone(t *testing.T, ch chan router.Envelope) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected envelope: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

// S5 — single-level wildcard binding.
func TestRouterPlusWildcardBinding(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	owner, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan router.Envelope, 1)
	mustSubscribe(t, r, ctx, "p1", []string{"sensors", "+", "temp"}, owner, ch, router.SubscriberOptions{})

	r.Publish("p1", router.Message{Topic: []string{"sensors", "42", "temp"}}, nil, nil)

	env := recv(t, ch)
	require.Len(t, env.TopicBindings, 1)
	assert.Equal(t, "42", env.TopicBindings[0].Segment)
}

// S6 — multi-level wildcard binding.
func TestRouterHashWildcardBinding(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	owner, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan router.Envelope, 1)
	mustSubscribe(t, r, ctx, "p1", []string{"a", "#"}, owner, ch, router.SubscriberOptions{})

	r.Publish("p1", router.Message{Topic: []string{"a", "b", "c"}}, nil, nil)

	env := recv(t, ch)
	require.Len(t, env.TopicBindings, 1)
	assert.Equal(t, []string{"b", "c"}, env.TopicBindings[0].Suffix)
}

// S7 — retained replay gating by retain_handling and resubscription state.
func TestRouterRetainedReplayGating(t *testing.T) {
	store := retain.NewMemoryStore()
	r := router.New(router.Options{Retain: store})
	ctx := context.Background()

	r.Publish("p1", router.Message{Topic: []string{"r"}, Payload: []byte("x"), Retain: true}, nil, nil)

	owner, cancel := context.WithCancel(ctx)
	ch := make(chan router.Envelope, 1)

	isNew := mustSubscribe(t, r, ctx, "p1", []string{"r"}, owner, ch, router.SubscriberOptions{RetainHandling: 1})
	assert.True(t, isNew)
	recv(t, ch)

	require.NoError(t, r.Unsubscribe(ctx, "p1", []string{"r"}, owner))
	isNew = mustSubscribe(t, r, ctx, "p1", []string{"r"}, owner, ch, router.SubscriberOptions{RetainHandling: 1})
	assert.True(t, isNew, "resubscribing after unsubscribe is a new subscription")
	recv(t, ch)

	isNew = mustSubscribe(t, r, ctx, "p1", []string{"r"}, owner, ch, router.SubscriberOptions{RetainHandling: 1})
	assert.False(t, isNew, "same owner, same filter, no unsubscribe is not new")
	assertNone(t, ch)

	cancel()
}

// Invariant 2 / S10 — owner death cleans every filter in one pass.
func TestRouterOwnerDeathRemovesAllFilters(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	owner, cancel := context.WithCancel(ctx)

	ch := make(chan router.Envelope, 4)
	mustSubscribe(t, r, ctx, "p1", []string{"a"}, owner, ch, router.SubscriberOptions{})
	mustSubscribe(t, r, ctx, "p1", []string{"b"}, owner, ch, router.SubscriberOptions{})
	mustSubscribe(t, r, ctx, "p1", []string{"c"}, owner, ch, router.SubscriberOptions{})

	cancel()
	time.Sleep(50 * time.Millisecond)

	r.Publish("p1", router.Message{Topic: []string{"a"}}, nil, nil)
	r.Publish("p1", router.Message{Topic: []string{"b"}}, nil, nil)
	r.Publish("p1", router.Message{Topic: []string{"c"}}, nil, nil)

	assertNone(t, ch)
}

// Invariant 3 — resubscribing the same owner/filter replaces rather
// than duplicates the destination.
func TestRouterResubscribeReplacesDestination(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	owner, cancel := context.WithCancel(ctx)
	defer cancel()

	chA := make(chan router.Envelope, 1)
	chB := make(chan router.Envelope, 1)

	mustSubscribe(t, r, ctx, "p1", []string{"x"}, owner, chA, router.SubscriberOptions{})
	isNew := mustSubscribe(t, r, ctx, "p1", []string{"x"}, owner, chB, router.SubscriberOptions{})
	assert.False(t, isNew)

	r.Publish("p1", router.Message{Topic: []string{"x"}}, nil, nil)

	assertNone(t, chA)
	recv(t, chB)
}

// Invariant 4 — no_local skips the publisher's own owner.
func TestRouterNoLocalSkipsPublisher(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	owner, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan router.Envelope, 1)
	mustSubscribe(t, r, ctx, "p1", []string{"x"}, owner, ch, router.SubscriberOptions{NoLocal: true})

	r.Publish("p1", router.Message{Topic: []string{"x"}}, owner, nil)
	assertNone(t, ch)

	other, cancel2 := context.WithCancel(ctx)
	defer cancel2()
	r.Publish("p1", router.Message{Topic: []string{"x"}}, other, nil)
	recv(t, ch)
}

// Invariant 5 — retain masking per destination's retain_as_published.
func TestRouterRetainMasking(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	owner, cancel := context.WithCancel(ctx)
	defer cancel()

	chMasked := make(chan router.Envelope, 1)
	chAsPublished := make(chan router.Envelope, 1)

	mustSubscribe(t, r, ctx, "p1", []string{"x"}, owner, chMasked, router.SubscriberOptions{RetainAsPublished: false})

	owner2, cancel2 := context.WithCancel(ctx)
	defer cancel2()
	mustSubscribe(t, r, ctx, "p1", []string{"x"}, owner2, chAsPublished, router.SubscriberOptions{RetainAsPublished: true})

	r.Publish("p1", router.Message{Topic: []string{"x"}, Retain: true}, nil, nil)

	assert.False(t, recv(t, chMasked).Message.Retain)
	assert.True(t, recv(t, chAsPublished).Message.Retain)
}

// S8 — empty-payload retain deletes the entry.
func TestRouterRetainDeletionOnEmptyPayload(t *testing.T) {
	store := retain.NewMemoryStore()
	r := router.New(router.Options{Retain: store})
	ctx := context.Background()

	r.Publish("p1", router.Message{Topic: []string{"r"}, Payload: []byte("x"), Retain: true}, nil, nil)
	r.Publish("p1", router.Message{Topic: []string{"r"}, Payload: nil, Retain: true}, nil, nil)

	owner, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := make(chan router.Envelope, 1)
	mustSubscribe(t, r, ctx, "p1", []string{"r"}, owner, ch, router.SubscriberOptions{RetainHandling: 0})

	assertNone(t, ch)
}

// ACL gates retained replay.
func TestRouterRetainedReplayDeniedByACL(t *testing.T) {
	store := retain.NewMemoryStore()
	denyAll := &acl.MemoryACL{Rules: []acl.Rule{{Prefix: []string{"r"}, Allow: false}}}
	r := router.New(router.Options{Retain: store, ACL: denyAll})
	ctx := context.Background()

	r.Publish("p1", router.Message{Topic: []string{"r"}, Payload: []byte("x"), Retain: true}, nil, nil)

	owner, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := make(chan router.Envelope, 1)
	mustSubscribe(t, r, ctx, "p1", []string{"r"}, owner, ch, router.SubscriberOptions{RetainHandling: 0})

	assertNone(t, ch)
}

func TestRouterInvalidSubscriberRejected(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	_, err := r.Subscribe(ctx, "p1", []string{"x"}, nil, nil, router.SubscriberOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, router.ErrInvalidSubscriber)
}

func TestRouterUnsubscribeNotFound(t *testing.T) {
	r := router.New(router.Options{})
	ctx := context.Background()
	owner, cancel := context.WithCancel(ctx)
	defer cancel()

	err := r.Unsubscribe(ctx, "p1", []string{"never-subscribed"}, owner)
	require.Error(t, err)
	assert.ErrorIs(t, err, router.ErrNotFound)
}
