package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tickwire/tickwire/pkg/client"
	"github.com/tickwire/tickwire/pkg/connection"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/transport"
)

var (
	serverAddr = flag.String("server", "127.0.0.1:9000", "Server address")
	configPath = flag.String("config", "", "Path to YAML config file (optional)")
	message    = flag.String("message", "hello over tickwire", "Message to send")
	interval   = flag.Duration("interval", time.Second, "Send interval")
	channelID  = flag.Uint("channel", 0, "Channel to send on")
)

func main() {
	flag.Parse()

	cfg := connection.DefaultConfig()
	if *configPath != "" {
		loaded, err := connection.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	tr, err := transport.ListenUDP(":0")
	if err != nil {
		log.Fatalf("Failed to open UDP socket: %v", err)
	}

	cl, err := client.Connect(cfg, tr, *serverAddr, metrics.Discard(), time.Now())
	if err != nil {
		log.Fatalf("Failed to start connection: %v", err)
	}
	log.Printf("Connecting to %s...", *serverAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pollTicker := time.NewTicker(5 * time.Millisecond)
	defer pollTicker.Stop()
	sendTicker := time.NewTicker(*interval)
	defer sendTicker.Stop()

	seq := 0
	for {
		select {
		case <-sigCh:
			log.Println("Disconnecting...")
			cl.Disconnect(time.Now())
		case <-sendTicker.C:
			if cl.State() != connection.StateConnected {
				continue
			}
			seq++
			payload := []byte(fmt.Sprintf("%s #%d", *message, seq))
			if err := cl.EnqueueSend(protocol.ChannelID(*channelID), payload); err != nil {
				log.Printf("send failed: %v", err)
			}
		case now := <-pollTicker.C:
			for _, ev := range cl.PollOnce(now) {
				switch ev.Type {
				case connection.EventMessage:
					log.Printf("echo (ch %d, tick %d, rtt %s): %q",
						ev.Channel, cl.CurrentTick(), cl.RTT().Round(time.Millisecond), ev.Payload)
				case connection.EventStateChange:
					log.Printf("state: %s", ev.State)
					if ev.State == connection.StateConnected {
						log.Printf("✓ Connected as user %d", cl.UserKey())
					}
					if ev.State == connection.StateClosed {
						log.Printf("closed: %s", cl.Reason())
						tr.Close()
						return
					}
				}
			}
		}
	}
}
