// Command emitevent publishes a single synthetic lifecycle event to a
// running substrate's embedded event bus, adapted from the teacher's
// cmd/captain-register (a one-shot connect-marshal-publish-exit CLI) aimed
// at internal/eventbus's substrate.health / substrate.hygiene subjects
// instead of captain.status.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

type healthEvent struct {
	Agent     string    `json:"agent"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type hygieneEvent struct {
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Section   string    `json:"section,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func main() {
	natsURL := flag.String("url", "nats://127.0.0.1:4222", "Embedded event bus URL")
	subject := flag.String("subject", "substrate.health", "Subject to publish on (substrate.health, substrate.hygiene)")
	agent := flag.String("agent", "", "Agent id")
	status := flag.String("status", "ok", "Health status (for substrate.health)")
	action := flag.String("action", "archive", "Hygiene action (for substrate.hygiene)")
	detail := flag.String("detail", "", "Free-form detail string")
	flag.Parse()

	if *agent == "" {
		log.Fatal("emitevent: -agent is required")
	}

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("Failed to connect to event bus: %v", err)
	}
	defer nc.Close()

	var data []byte
	switch *subject {
	case "substrate.hygiene":
		data, err = json.Marshal(hygieneEvent{
			Agent: *agent, Action: *action, Section: *detail, Timestamp: time.Now(),
		})
	default:
		data, err = json.Marshal(healthEvent{
			Agent: *agent, Status: *status, Detail: *detail, Timestamp: time.Now(),
		})
	}
	if err != nil {
		log.Fatalf("Failed to marshal event: %v", err)
	}

	if err := nc.Publish(*subject, data); err != nil {
		log.Fatalf("Failed to publish: %v", err)
	}
	nc.Flush()
	fmt.Printf("Published to %s: %s\n", *subject, string(data))
}
