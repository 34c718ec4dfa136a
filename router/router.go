// Package router implements the per-pool topic-matching and dispatch
// core described in spec.md §4.2: a registry mapping topic filters to
// destinations, dispatching each publish to every matching destination
// and replaying retained messages on subscribe.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"gopkg.in/tomb.v2"

	"github.com/qingcloudhx/mqttcore/acl"
	"github.com/qingcloudhx/mqttcore/eventlog"
	"github.com/qingcloudhx/mqttcore/retain"
	"github.com/qingcloudhx/mqttcore/topic"
)

// Options configures a Router.
type Options struct {
	// ACL authorizes retained-message replay. Nil skips the check
	// (replay proceeds unconditionally).
	ACL acl.ACL

	// Retain stores and looks up retained messages. Nil disables both
	// storing retained publishes and replaying them on subscribe.
	Retain retain.Store

	// Logger receives lifecycle events. Nil discards them.
	Logger eventlog.Logger

	// ControlRatePerSecond, if non-zero, caps subscribe/unsubscribe
	// churn per pool. It never gates Publish.
	ControlRatePerSecond float64
}

// Router is a process-wide registry of per-pool topic subscriptions.
// Pools are provisioned lazily and independently on first use.
type Router struct {
	opts  Options
	pools sync.Map // string -> *poolState
}

// New returns a Router ready to serve any number of pools.
func New(opts Options) *Router {
	return &Router{opts: opts}
}

type poolState struct {
	name    string
	router  *Router
	tree    *topic.Tree
	metrics *metrics
	limiter controlLimiter

	// owners and ownerSeq are touched only by loop(), the pool's single
	// control-plane goroutine; no lock is needed beyond that ownership
	// discipline.
	owners   map[context.Context]*ownerState
	ownerSeq int

	cmds chan any
	t    tomb.Tomb
}

type ownerState struct {
	id      string
	filters map[string][]topic.Segment
}

type subscribeCmd struct {
	owner context.Context
	segs  []topic.Segment
	key   string
	dest  Destination
	reply chan subscribeResult
}

type subscribeResult struct {
	isNew bool
}

type unsubscribeCmd struct {
	owner context.Context
	key   string
	reply chan error
}

type ownerDiedCmd struct {
	owner context.Context
}

func (r *Router) pool(name string) *poolState {
	if v, ok := r.pools.Load(name); ok {
		return v.(*poolState)
	}

	p := &poolState{
		name:    name,
		router:  r,
		tree:    topic.NewTree(),
		metrics: newMetrics(),
		owners:  make(map[context.Context]*ownerState),
		cmds:    make(chan any),
	}
	if r.opts.ControlRatePerSecond > 0 {
		p.limiter = controlLimiter{bucket: ratelimit.NewBucketWithRate(r.opts.ControlRatePerSecond, int64(r.opts.ControlRatePerSecond)+1)}
	}

	v, loaded := r.pools.LoadOrStore(name, p)
	if loaded {
		return v.(*poolState)
	}

	p.t.Go(p.loop)
	return v.(*poolState)
}

func (p *poolState) loop() error {
	for {
		select {
		case <-p.t.Dying():
			return nil
		case raw := <-p.cmds:
			switch cmd := raw.(type) {
			case subscribeCmd:
				cmd.reply <- p.handleSubscribe(cmd)
			case unsubscribeCmd:
				cmd.reply <- p.handleUnsubscribe(cmd)
			case ownerDiedCmd:
				p.handleOwnerDied(cmd.owner)
			}
		}
	}
}

func (p *poolState) handleSubscribe(cmd subscribeCmd) subscribeResult {
	os, existed := p.owners[cmd.owner]
	if !existed {
		p.ownerSeq++
		os = &ownerState{
			id:      fmt.Sprintf("owner-%d", p.ownerSeq),
			filters: make(map[string][]topic.Segment),
		}
		p.owners[cmd.owner] = os
	}

	_, hadFilter := os.filters[cmd.key]
	if hadFilter {
		p.tree.Delete(cmd.segs, os.id)
	}
	os.filters[cmd.key] = cmd.segs
	p.tree.Insert(cmd.segs, os.id, cmd.dest)

	if !existed {
		go p.watchOwner(cmd.owner)
	}

	return subscribeResult{isNew: !hadFilter}
}

func (p *poolState) handleUnsubscribe(cmd unsubscribeCmd) error {
	os, ok := p.owners[cmd.owner]
	if !ok {
		return ErrNotFound
	}

	segs, ok := os.filters[cmd.key]
	if !ok {
		return ErrNotFound
	}

	p.tree.Delete(segs, os.id)
	delete(os.filters, cmd.key)

	return nil
}

func (p *poolState) handleOwnerDied(owner context.Context) {
	os, ok := p.owners[owner]
	if !ok {
		return
	}
	delete(p.owners, owner)

	for _, segs := range os.filters {
		p.tree.Delete(segs, os.id)
	}

	if p.router.opts.Logger != nil {
		p.router.opts.Logger(eventlog.OwnerDied, p.name, "", nil)
	}
}

// watchOwner waits for an owner's liveness to end and reports it to the
// pool's control loop, the only path by which stale subscriptions are
// garbage-collected when Unsubscribe is never called (spec.md §4.2).
func (p *poolState) watchOwner(owner context.Context) {
	select {
	case <-owner.Done():
	case <-p.t.Dying():
		return
	}

	select {
	case p.cmds <- ownerDiedCmd{owner: owner}:
	case <-p.t.Dying():
	}
}

// Subscribe registers callback as a destination for filter, owned by
// owner, replacing any prior destination the same owner held under the
// same filter. It blocks until the pool's control loop has applied the
// change, then replays retained messages per options.RetainHandling.
// It reports whether this was a new subscription (false on replace).
func (r *Router) Subscribe(ctx context.Context, pool string, filter []string, owner context.Context, callback Callback, options SubscriberOptions) (bool, error) {
	if callback == nil || owner == nil {
		return false, &Error{Code: SubscribeError, Pool: pool, Err: ErrInvalidSubscriber}
	}

	p := r.pool(pool)
	if err := p.limiter.wait(ctx); err != nil {
		return false, &Error{Code: SubscribeError, Pool: pool, Err: err}
	}

	segs := topic.Normalize(filter)
	key := topic.Key(segs)
	dest := Destination{Callback: callback, Owner: owner, Options: options}
	reply := make(chan subscribeResult, 1)

	select {
	case p.cmds <- subscribeCmd{owner: owner, segs: segs, key: key, dest: dest, reply: reply}:
	case <-p.t.Dying():
		return false, &Error{Code: SubscribeError, Pool: pool, Err: ErrClosed}
	case <-ctx.Done():
		return false, &Error{Code: SubscribeError, Pool: pool, Err: ctx.Err()}
	}

	var result subscribeResult
	select {
	case result = <-reply:
	case <-p.t.Dying():
		return false, &Error{Code: SubscribeError, Pool: pool, Err: ErrClosed}
	}

	if r.opts.Logger != nil {
		if result.isNew {
			r.opts.Logger(eventlog.NewSubscription, pool, topic.Join(filter), nil)
		} else {
			r.opts.Logger(eventlog.Resubscribed, pool, topic.Join(filter), nil)
		}
	}

	r.replayRetained(p, pool, filter, segs, dest, result.isNew)

	return result.isNew, nil
}

// Unsubscribe removes owner's destination under filter.
func (r *Router) Unsubscribe(ctx context.Context, pool string, filter []string, owner context.Context) error {
	p := r.pool(pool)
	if err := p.limiter.wait(ctx); err != nil {
		return &Error{Code: UnsubscribeError, Pool: pool, Err: err}
	}

	key := topic.Key(topic.Normalize(filter))
	reply := make(chan error, 1)

	select {
	case p.cmds <- unsubscribeCmd{owner: owner, key: key, reply: reply}:
	case <-p.t.Dying():
		return &Error{Code: UnsubscribeError, Pool: pool, Err: ErrClosed}
	case <-ctx.Done():
		return &Error{Code: UnsubscribeError, Pool: pool, Err: ctx.Err()}
	}

	var err error
	select {
	case err = <-reply:
	case <-p.t.Dying():
		return &Error{Code: UnsubscribeError, Pool: pool, Err: ErrClosed}
	}

	if err != nil {
		return &Error{Code: UnsubscribeError, Pool: pool, Err: err}
	}

	if r.opts.Logger != nil {
		r.opts.Logger(eventlog.Unsubscribed, pool, topic.Join(filter), nil)
	}
	return nil
}

// Publish matches msg.Topic against every subscription in pool and
// dispatches to each match on the caller's own goroutine: matching and
// dispatch never touch the control loop, so Publish never blocks on a
// concurrent Subscribe/Unsubscribe (spec.md §5). publisherOwner is
// compared against each destination's owner for no_local skipping;
// publisherContext is opaque data carried into each envelope.
func (r *Router) Publish(pool string, msg Message, publisherOwner context.Context, publisherContext any) int {
	p := r.pool(pool)

	start := time.Now()
	matches := p.tree.MatchTopic(msg.Topic)

	delivered := 0
	for _, m := range matches {
		dest := m.Value.(Destination)

		if dest.Options.NoLocal && publisherOwner != nil && dest.Owner == publisherOwner {
			continue
		}

		env := buildEnvelope(pool, msg.Topic, m.Bindings, msg, publisherContext, dest)
		if err := dest.Callback.Deliver(env); err != nil {
			if r.opts.Logger != nil {
				r.opts.Logger(eventlog.DispatchFailed, pool, topic.Join(msg.Topic), err)
			}
			continue
		}
		delivered++
		if r.opts.Logger != nil {
			r.opts.Logger(eventlog.Dispatched, pool, topic.Join(msg.Topic), nil)
		}
	}
	p.metrics.observe(time.Since(start), delivered)

	if msg.Retain && r.opts.Retain != nil {
		err := r.opts.Retain.Store(pool, retain.Entry{
			Topic:      msg.Topic,
			Payload:    msg.Payload,
			QoS:        msg.QoS,
			Properties: msg.Properties,
		})
		if err != nil && r.opts.Logger != nil {
			r.opts.Logger(eventlog.RetainStoreFailed, pool, topic.Join(msg.Topic), err)
		}
	}

	return delivered
}

// replayRetained implements spec.md §4.2 step 7: retained replay gated
// by RetainHandling, filtered through the ACL, dispatched as a
// single-destination publish.
func (r *Router) replayRetained(p *poolState, pool string, filter []string, segs []topic.Segment, dest Destination, isNew bool) {
	switch dest.Options.RetainHandling {
	case 2:
		return
	case 1:
		if !isNew {
			return
		}
	}

	if r.opts.Retain == nil {
		return
	}

	entries, err := r.opts.Retain.Search(pool, filter)
	if err != nil {
		if r.opts.Logger != nil {
			r.opts.Logger(eventlog.RetainStoreFailed, pool, topic.Join(filter), err)
		}
		return
	}

	for _, entry := range entries {
		if r.opts.ACL != nil {
			allowed := r.opts.ACL.IsAllowed(acl.OpSubscribe, entry.Topic, acl.Message{
				Topic:      entry.Topic,
				Payload:    entry.Payload,
				QoS:        entry.QoS,
				Retain:     true,
				Properties: entry.Properties,
			}, dest.Options.SubscriberContext)
			if !allowed {
				continue
			}
		}

		bindings, ok := topic.Match(segs, entry.Topic)
		if !ok {
			continue
		}

		msg := Message{Topic: entry.Topic, Payload: entry.Payload, QoS: entry.QoS, Retain: true, Properties: entry.Properties}
		env := buildEnvelope(pool, entry.Topic, bindings, msg, nil, dest)

		start := time.Now()
		if err := dest.Callback.Deliver(env); err != nil && r.opts.Logger != nil {
			r.opts.Logger(eventlog.DispatchFailed, pool, topic.Join(filter), err)
		}
		p.metrics.observe(time.Since(start), 1)
	}
}

func buildEnvelope(pool string, topicPath []string, bindings []topic.Binding, msg Message, publisherContext any, dest Destination) Envelope {
	outMsg := msg
	outMsg.Retain = msg.Retain && dest.Options.RetainAsPublished

	return Envelope{
		Pool:              pool,
		Topic:             topicPath,
		TopicBindings:     bindings,
		Message:           outMsg,
		PublisherContext:  publisherContext,
		SubscriberContext: dest.Options.SubscriberContext,
		QoS:               dest.Options.QoS,
		NoLocal:           dest.Options.NoLocal,
		RetainAsPublished: dest.Options.RetainAsPublished,
		RetainHandling:    dest.Options.RetainHandling,
	}
}

// Stats returns a snapshot of pool's dispatch metrics.
func (r *Router) Stats(pool string) Stats {
	return r.pool(pool).metrics.stats()
}

// Close stops every pool's control loop and waits for it to exit.
func (r *Router) Close() error {
	var first error
	r.pools.Range(func(_, v any) bool {
		p := v.(*poolState)
		p.t.Kill(nil)
		if err := p.t.Wait(); err != nil && first == nil {
			first = err
		}
		return true
	})
	return first
}
