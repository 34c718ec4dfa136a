// Command mqttcore-shell is an interactive console for driving a
// Router directly, the in-process analogue of an interactive MQTT
// client.
package main

import (
	"context"
	"flag"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/qingcloudhx/mqttcore/acl"
	"github.com/qingcloudhx/mqttcore/retain"
	"github.com/qingcloudhx/mqttcore/router"
	"github.com/qingcloudhx/mqttcore/topic"
)

var poolFlag = flag.String("pool", "default", "pool identifier")

func main() {
	flag.Parse()

	shell := ishell.New()
	shell.Println("mqttcore interactive console")

	r := router.New(router.Options{ACL: acl.NewMemoryACL(), Retain: retain.NewMemoryStore()})
	defer r.Close()

	owner, cancel := context.WithCancel(context.Background())
	defer cancel()

	shell.AddCmd(&ishell.Cmd{
		Name:     "subscribe",
		Aliases:  []string{"s"},
		Help:     "subscribe a filter",
		LongHelp: `subscribe FILTER QOS RETAIN_HANDLING`,
		Func: func(ctx *ishell.Context) {
			if len(ctx.Args) == 0 {
				shell.Println("failed: missing arguments")
				return
			}

			filter := ctx.Args[0]

			qos := 0
			if len(ctx.Args) >= 2 {
				qos, _ = strconv.Atoi(ctx.Args[1])
			}

			retainHandling := 0
			if len(ctx.Args) >= 3 {
				retainHandling, _ = strconv.Atoi(ctx.Args[2])
			}

			isNew, err := r.Subscribe(context.Background(), *poolFlag, topic.Split(filter), owner, router.FuncCallback(func(env router.Envelope) error {
				shell.Printf("< topic: %s\n", topic.Join(env.Topic))
				shell.Printf("< payload: %s\n", string(env.Message.Payload))
				shell.Printf("< retain: %t\n", env.Message.Retain)
				return nil
			}), router.SubscriberOptions{QoS: byte(qos), RetainHandling: byte(retainHandling)})
			if err != nil {
				shell.Printf("Failed: %s\n", err.Error())
				return
			}

			shell.Printf("Subscribed! (new=%t)\n", isNew)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:     "publish",
		Aliases:  []string{"p"},
		Help:     "publish a message",
		LongHelp: `publish TOPIC PAYLOAD QOS RETAIN`,
		Func: func(ctx *ishell.Context) {
			if len(ctx.Args) == 0 {
				shell.Println("failed: missing arguments")
				return
			}

			top := ctx.Args[0]

			var payload []byte
			if len(ctx.Args) >= 2 {
				payload = []byte(ctx.Args[1])
			}

			qos := 0
			if len(ctx.Args) >= 3 {
				qos, _ = strconv.Atoi(ctx.Args[2])
			}

			retained := false
			if len(ctx.Args) >= 4 {
				retained = ctx.Args[3] == "true"
			}

			delivered := r.Publish(*poolFlag, router.Message{
				Topic:   topic.Split(top),
				Payload: payload,
				QoS:     byte(qos),
				Retain:  retained,
			}, owner, nil)

			shell.Printf("Published! (delivered to %d destinations)\n", delivered)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:     "unsubscribe",
		Aliases:  []string{"u"},
		Help:     "unsubscribe a filter",
		LongHelp: `unsubscribe FILTER`,
		Func: func(ctx *ishell.Context) {
			if len(ctx.Args) == 0 {
				shell.Println("failed: missing arguments")
				return
			}

			if err := r.Unsubscribe(context.Background(), *poolFlag, topic.Split(ctx.Args[0]), owner); err != nil {
				shell.Printf("Failed: %s\n", err.Error())
				return
			}

			shell.Println("Unsubscribed!")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:     "stats",
		Help:     "show pool dispatch stats",
		LongHelp: `stats`,
		Func: func(ctx *ishell.Context) {
			s := r.Stats(*poolFlag)
			shell.Printf("Publishes: %d\n", s.Publishes)
			shell.Printf("Latency p50/p90/p99 ms: %.3f/%.3f/%.3f\n", s.LatencyP50Millis, s.LatencyP90Millis, s.LatencyP99Millis)
			shell.Printf("Fan-out p50/p90/p99: %.1f/%.1f/%.1f\n", s.FanOutP50, s.FanOutP90, s.FanOutP99)
		},
	})

	shell.Run()
}
