// Command mqttcore-membus wires an in-process router, retain store and
// ACL together behind a tiny HTTP control surface, for exercising the
// core without a full MQTT transport in front of it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/qingcloudhx/mqttcore/acl"
	"github.com/qingcloudhx/mqttcore/eventlog"
	"github.com/qingcloudhx/mqttcore/observer"
	"github.com/qingcloudhx/mqttcore/retain"
	"github.com/qingcloudhx/mqttcore/router"
	"github.com/qingcloudhx/mqttcore/topic"
	"github.com/qingcloudhx/mqttcore/will"
)

// publishRequest is the body of a POST /publish call, the only way to
// inject a message into the bus absent a real MQTT transport in front
// of it.
type publishRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
}

// connectRequest is the body of a POST /sessions/connect?id= call.
type connectRequest struct {
	WillTopic   string `json:"will_topic"`
	WillPayload []byte `json:"will_payload"`
	DelayMillis int    `json:"will_delay_ms"`
}

// demoSession is a Session stand-in driven entirely by HTTP calls,
// letting this binary exercise the watchdog end to end without a real
// MQTT transport.
type demoSession struct {
	mu   sync.Mutex
	done chan struct{}
}

func newDemoSession() *demoSession { return &demoSession{done: make(chan struct{})} }

func (s *demoSession) Done() <-chan struct{} { return s.done }

func (s *demoSession) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func (s *demoSession) Handle() any { return "demo-session" }

// sessionRegistry tracks one watchdog per demo client id.
type sessionRegistry struct {
	mu   sync.Mutex
	byID map[string]*will.Watchdog
	pool string
	pub  *router.Router
	log  eventlog.Logger
}

func newSessionRegistry(pool string, r *router.Router, logger eventlog.Logger) *sessionRegistry {
	return &sessionRegistry{byID: make(map[string]*will.Watchdog), pool: pool, pub: r, log: logger}
}

func (s *sessionRegistry) connect(id string, req connectRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.byID[id]; ok {
		w.Stop()
	}

	sess := newDemoSession()
	w := will.Start(s.pool, sess, s.pub, s.log)

	var willMsg *will.Will
	if req.WillTopic != "" {
		willMsg = &will.Will{
			Topic:         topic.Split(req.WillTopic),
			Payload:       req.WillPayload,
			DelayInterval: time.Duration(req.DelayMillis) * time.Millisecond,
		}
	}
	w.Connected(willMsg, 0, id)

	s.byID[id] = w
}

func (s *sessionRegistry) disconnect(id string) {
	s.mu.Lock()
	w, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	w.DisconnectedDefault()
}

var (
	addr = flag.String("addr", "localhost:6060", "pprof and tail address")
	pool = flag.String("pool", "default", "pool identifier")
	rate = flag.Float64("control-rate", 0, "subscribe/unsubscribe ops per second, 0 disables limiting")
)

func main() {
	flag.Parse()

	go func() {
		panic(http.ListenAndServe(*addr, nil))
	}()

	var published int32
	var delivered int32

	logger := eventlog.Logger(func(event eventlog.Event, p string, detail string, err error) {
		switch event {
		case eventlog.DispatchFailed, eventlog.RetainStoreFailed:
			fmt.Printf("error: pool=%s detail=%s err=%v\n", p, detail, err)
		}
	})

	r := router.New(router.Options{
		ACL:                  acl.NewMemoryACL(),
		Retain:               retain.NewMemoryStore(),
		Logger:               logger,
		ControlRatePerSecond: *rate,
	})
	defer r.Close()

	hub := observer.NewHub()
	http.Handle("/tail", hub)

	sessions := newSessionRegistry(*pool, r, logger)

	http.HandleFunc("/sessions/connect", func(w http.ResponseWriter, req *http.Request) {
		id := req.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}

		var body connectRequest
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		sessions.connect(id, body)
	})

	http.HandleFunc("/sessions/disconnect", func(w http.ResponseWriter, req *http.Request) {
		id := req.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		sessions.disconnect(id)
	})

	http.HandleFunc("/publish", func(w http.ResponseWriter, req *http.Request) {
		var body publishRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Publish(*pool, router.Message{
			Topic:   topic.Split(body.Topic),
			Payload: body.Payload,
			QoS:     body.QoS,
			Retain:  body.Retain,
		}, nil, nil)
		atomic.AddInt32(&published, 1)
	})

	owner, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := r.Subscribe(context.Background(), *pool, []string{"#"}, owner, router.FuncCallback(func(env router.Envelope) error {
		atomic.AddInt32(&delivered, 1)
		return hub.Callback(env)
	}), router.SubscriberOptions{QoS: 0})
	if err != nil {
		panic(err)
	}

	go func() {
		for range time.Tick(time.Second) {
			pub := atomic.SwapInt32(&published, 0)
			del := atomic.SwapInt32(&delivered, 0)
			fmt.Printf("publish rate: %d msg/s, dispatch rate: %d msg/s\n", pub, del)
		}
	}()

	fmt.Printf("mqttcore-membus listening on %s (pool=%q, tail=/tail)\n", *addr, *pool)

	finish := make(chan os.Signal, 1)
	signal.Notify(finish, syscall.SIGINT, syscall.SIGTERM)
	<-finish

	fmt.Println("shutting down")
}
