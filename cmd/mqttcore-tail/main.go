// Command mqttcore-tail connects to a running mqttcore-membus's /tail
// endpoint and prints a running message-rate report, the WebSocket
// analogue of gomqtt-stat's throughput monitor.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

var url = flag.String("url", "ws://localhost:6060/tail", "tail endpoint url")

type envelope struct {
	Pool   string `json:"pool"`
	Topic  string `json:"topic"`
	QoS    byte   `json:"qos"`
	Retain bool   `json:"retain"`
}

func main() {
	flag.Parse()

	fmt.Printf("Tailing %s...\n", *url)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	go func() {
		finish := make(chan os.Signal, 1)
		signal.Notify(finish, syscall.SIGINT, syscall.SIGTERM)
		<-finish
		fmt.Println("Closing...")
		os.Exit(0)
	}()

	var received int32

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Printf("Connection lost: %s\n", err.Error())
				os.Exit(1)
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}

			atomic.AddInt32(&received, 1)
		}
	}()

	var iterations int32
	var total int32

	for {
		time.Sleep(time.Second)

		cur := atomic.SwapInt32(&received, 0)
		total += cur
		iterations++

		fmt.Printf("Received: %d msgs ", cur)
		fmt.Printf("(Average Throughput: %d msg/s)\n", total/iterations)
	}
}
