// Command mqttcore-bench drives a will.Watchdog through repeated
// disconnect/reconnect cycles with growing backoff, starting a fresh
// watchdog after each cycle whose will fires, measuring publish
// latency with the same quantile.Stream idiom gomqtt-speedtest uses
// for round-trip latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/beorn7/perks/quantile"
	"github.com/jpillora/backoff"

	"github.com/qingcloudhx/mqttcore/router"
	"github.com/qingcloudhx/mqttcore/will"
)

var (
	iterations  = flag.Int("n", 200, "number of disconnect cycles to run")
	reconnectPr = flag.Float64("reconnect-prob", 0.5, "ignored: a cycle reconnects whenever its backoff duration is shorter than the will delay")
	delayMillis = flag.Int("delay-ms", 20, "will delay_interval in milliseconds")
)

type demoSession struct {
	mu   sync.Mutex
	done chan struct{}
}

func newDemoSession() *demoSession { return &demoSession{done: make(chan struct{})} }

func (s *demoSession) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *demoSession) Terminate() error { return nil }

func (s *demoSession) Handle() any { return "bench-session" }

type benchPublisher struct {
	mu        sync.Mutex
	published chan time.Time
}

func (p *benchPublisher) Publish(pool string, msg router.Message, owner context.Context, publisherContext any) int {
	p.published <- time.Now()
	return 1
}

func main() {
	flag.Parse()

	sess := newDemoSession()
	pub := &benchPublisher{published: make(chan time.Time, 1)}
	w := will.Start("bench", sess, pub, nil)
	defer func() { w.Stop() }()

	b := &backoff.Backoff{Min: time.Millisecond, Max: 200 * time.Millisecond, Factor: 1.5}
	q := quantile.NewTargeted(map[float64]float64{0.50: 0.005, 0.90: 0.001, 0.99: 0.0001})

	delay := time.Duration(*delayMillis) * time.Millisecond
	fired, reconnected := 0, 0

	for i := 0; i < *iterations; i++ {
		w.Connected(&will.Will{Topic: []string{"bench"}, Payload: []byte("gone"), DelayInterval: delay}, 300*time.Second, nil)

		start := time.Now()
		w.Disconnected(true, nil)

		reconnectAt := b.Duration()
		willReconnect := reconnectAt < delay

		if willReconnect {
			time.Sleep(reconnectAt)
			w.Reconnected()
			reconnected++
			continue
		}

		select {
		case t := <-pub.published:
			q.Insert(float64(t.Sub(start)) / float64(time.Millisecond))
			fired++
			// A watchdog ends once its expiry timer fires.
			w = will.Start("bench", sess, pub, nil)
		case <-time.After(2 * delay):
		}
	}

	fmt.Printf("cycles=%d reconnected=%d fired=%d\n", *iterations, reconnected, fired)
	fmt.Printf("publish latency p50/p90/p99 ms: %.3f/%.3f/%.3f\n", q.Query(0.50), q.Query(0.90), q.Query(0.99))
}
