package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tickwire/tickwire/pkg/connection"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/server"
	"github.com/tickwire/tickwire/pkg/transport"
)

const (
	defaultPort       = 9000
	defaultMaxClients = 64
)

var (
	port        = flag.Int("port", defaultPort, "UDP port to listen on")
	maxClients  = flag.Int("max-clients", defaultMaxClients, "Maximum concurrent clients")
	configPath  = flag.String("config", "", "Path to YAML config file (optional)")
	metricsAddr = flag.String("metrics", "", "Address for Prometheus metrics endpoint (e.g. :9090)")
)

func main() {
	flag.Parse()

	printBanner()

	cfg := connection.DefaultConfig()
	if *configPath != "" {
		loaded, err := connection.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		log.Printf("✓ Config loaded from %s", *configPath)
	}

	tr, err := transport.ListenUDP(fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatalf("Failed to bind UDP port %d: %v", *port, err)
	}
	log.Printf("✓ Listening on %s", tr.LocalAddr())

	reg := prometheus.NewRegistry()
	counters := metrics.NewCounters(reg)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	srv := server.New(cfg, tr, *maxClients, counters)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	log.Printf("Echo server running (max %d clients), Ctrl+C to stop", *maxClients)

	for {
		select {
		case <-sigCh:
			log.Println("Shutting down...")
			srv.Shutdown(time.Now())
			tr.Close()
			return
		case now := <-ticker.C:
			for _, ev := range srv.PollOnce(now) {
				handleEvent(srv, ev)
			}
		}
	}
}

func handleEvent(srv *server.Server, ev server.Event) {
	switch ev.Event.Type {
	case connection.EventMessage:
		log.Printf("user %d ch %d: %d bytes, echoing", ev.UserKey, ev.Event.Channel, len(ev.Event.Payload))
		if err := srv.EnqueueSend(ev.Addr, ev.Event.Channel, ev.Event.Payload); err != nil {
			log.Printf("echo to %s failed: %v", ev.Addr, err)
		}
	case connection.EventStateChange:
		log.Printf("user %d (%s): %s", ev.UserKey, ev.Addr, ev.Event.State)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("✓ Metrics endpoint on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

func printBanner() {
	fmt.Println(`
╔════════════════════════════════╗
║      Tickwire Echo Server      ║
╚════════════════════════════════╝`)
}
