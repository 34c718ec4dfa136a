package router

import (
	"sync"
	"time"

	"github.com/beorn7/perks/quantile"
)

// metrics tracks dispatch latency and fan-out size per pool, the same
// quantile.NewTargeted idiom used client-side in
// cmd/gomqtt-speedtest/main.go, applied here to the router's own
// match-and-dispatch loop instead.
type metrics struct {
	mu       sync.Mutex
	latency  *quantile.Stream
	fanout   *quantile.Stream
	observed int64
}

func newMetrics() *metrics {
	targets := map[float64]float64{
		0.50: 0.005,
		0.90: 0.001,
		0.99: 0.0001,
	}
	return &metrics{
		latency: quantile.NewTargeted(targets),
		fanout:  quantile.NewTargeted(targets),
	}
}

func (m *metrics) observe(elapsed time.Duration, destinations int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latency.Insert(float64(elapsed) / float64(time.Millisecond))
	m.fanout.Insert(float64(destinations))
	m.observed++
}

// Stats is a snapshot of a pool's dispatch metrics.
type Stats struct {
	Publishes          int64
	LatencyP50Millis   float64
	LatencyP90Millis   float64
	LatencyP99Millis   float64
	FanOutP50          float64
	FanOutP90          float64
	FanOutP99          float64
}

func (m *metrics) stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Publishes:        m.observed,
		LatencyP50Millis: m.latency.Query(0.50),
		LatencyP90Millis: m.latency.Query(0.90),
		LatencyP99Millis: m.latency.Query(0.99),
		FanOutP50:        m.fanout.Query(0.50),
		FanOutP90:        m.fanout.Query(0.90),
		FanOutP99:        m.fanout.Query(0.99),
	}
}
