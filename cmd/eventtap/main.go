// Command eventtap subscribes to a running substrate's embedded event bus
// and logs every event it sees, adapted from the teacher's cmd/nats-bridge
// (which forwarded subjects between two NATS fleets) down to a single
// connection that just observes internal/eventbus's substrate.* subjects —
// there is only one embedded broker in this domain, not two fleets to
// bridge between.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
)

func main() {
	natsURL := flag.String("url", "nats://127.0.0.1:4222", "Embedded event bus URL")
	subject := flag.String("subject", "substrate.>", "Subject pattern to subscribe to")
	pretty := flag.Bool("pretty", false, "Pretty-print JSON payloads")
	flag.Parse()

	log.Printf("[TAP] connecting to %s", *natsURL)
	conn, err := nats.Connect(*natsURL, nats.Name("eventtap"))
	if err != nil {
		log.Fatalf("Failed to connect to event bus: %v", err)
	}
	defer conn.Close()

	_, err = conn.Subscribe(*subject, func(msg *nats.Msg) {
		if !*pretty {
			log.Printf("[%s] %s", msg.Subject, string(msg.Data))
			return
		}
		var v interface{}
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Printf("[%s] %s (unparsable: %v)", msg.Subject, string(msg.Data), err)
			return
		}
		indented, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			log.Printf("[%s] %s", msg.Subject, string(msg.Data))
			return
		}
		log.Printf("[%s]\n%s", msg.Subject, indented)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to %s: %v", *subject, err)
	}

	log.Printf("[TAP] listening on %q, Ctrl+C to stop", *subject)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[TAP] shutting down")
}
