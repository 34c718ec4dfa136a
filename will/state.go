package will

import "time"

// Will is the last-will-and-testament mapping of spec.md §3. A nil
// *Will (or one with an empty Topic/Payload) means there is nothing to
// publish.
type Will struct {
	Topic         []string
	Payload       []byte
	QoS           byte
	Retain        bool
	Properties    map[string]any
	DelayInterval time.Duration
}

// hasContent reports whether w carries enough to actually be
// published: both a topic and a payload (spec.md §4.1's publish-will
// rule).
func (w *Will) hasContent() bool {
	return w != nil && len(w.Topic) > 0 && len(w.Payload) > 0
}

func (w *Will) delay() time.Duration {
	if w == nil {
		return 0
	}
	return w.DelayInterval
}

// disconnectPolicy implements the disconnect-timer policy table from
// spec.md §4.1. current is the will in effect before this disconnect;
// it returns the will to keep in effect afterward and the delay to arm
// the expiry timer with.
//
//	(is_will=false, delay=undefined): clear will, arm w (the pre-clear delay)
//	(is_will=false, delay=D):         clear will, arm D
//	(is_will=true,  delay=undefined): keep will,  arm w
//	(is_will=true,  delay=D):         keep will,  arm min(D, w)
func disconnectPolicy(current *Will, isWill bool, delay *time.Duration) (*Will, time.Duration) {
	w := current.delay()

	if !isWill {
		if delay == nil {
			return nil, w
		}
		return nil, *delay
	}

	if delay == nil {
		return current, w
	}

	d := *delay
	if w < d {
		d = w
	}
	return current, d
}
