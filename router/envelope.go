package router

import "github.com/qingcloudhx/mqttcore/topic"

// Message is the payload-bearing part of a publish, independent of any
// particular destination's subscriber options.
type Message struct {
	Topic      []string
	Payload    []byte
	QoS        byte
	Retain     bool
	Properties map[string]any
}

// SubscriberOptions are the per-destination options recorded at
// subscribe time (spec.md §3).
type SubscriberOptions struct {
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	// RetainHandling is 0 (always replay), 1 (replay only on new
	// subscriptions) or 2 (never replay).
	RetainHandling byte
	// SubscriberContext is opaque data handed back to the subscriber's
	// ACL/application layer in every envelope dispatched to it.
	SubscriberContext any
}

// Envelope is what a destination's Callback receives for one matched
// publish (spec.md §6).
type Envelope struct {
	Pool              string
	Topic             []string
	TopicBindings     []topic.Binding
	Message           Message
	PublisherContext  any
	SubscriberContext any
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}
