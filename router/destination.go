package router

import "context"

// Callback is the sealed variant of spec.md §3's destination callback:
// either mailbox delivery to a subscriber's channel, or invocation of a
// bound function. Do not add further implementations outside this
// package — spec.md §9 is explicit that this must stay a closed set,
// not open inheritance.
type Callback interface {
	Deliver(Envelope) error
	sealed()
}

// MailboxCallback delivers envelopes by non-blocking send into a
// subscriber's own channel, standing in for the source's "process
// handle that receives dispatched messages by mailbox delivery".
type MailboxCallback chan<- Envelope

func (c MailboxCallback) Deliver(e Envelope) error {
	select {
	case c <- e:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (MailboxCallback) sealed() {}

// FuncCallback invokes a bound function, standing in for the source's
// "named procedure invocation (module, function, prefix-args)". A Go
// closure already captures any prefix arguments at creation time, so no
// separate args list is modelled.
type FuncCallback func(Envelope) error

func (f FuncCallback) Deliver(e Envelope) error {
	return f(e)
}

func (FuncCallback) sealed() {}

// Destination is the triple (callback, owner, options) of spec.md §3.
type Destination struct {
	Callback Callback
	Owner    context.Context
	Options  SubscriberOptions
}
