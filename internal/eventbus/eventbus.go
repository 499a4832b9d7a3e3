// Package eventbus is the substrate's ambient Event Bus (spec C10): an
// embedded NATS broker publishing health and hygiene lifecycle events for
// external observers. Publishing is always non-blocking and best-effort —
// never on the critical path of a memory write. Grounded on the teacher's
// internal/nats/client.go connection wrapper, adapted to embed the broker
// in-process (nats-io/nats-server/v2) rather than requiring an externally
// managed NATS deployment, since the substrate has no existing operational
// NATS fleet to dial into.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
)

// Subjects published by the substrate.
const (
	SubjectHealth  = "substrate.health"
	SubjectHygiene = "substrate.hygiene"
)

// Bus wraps an embedded NATS server and a client connection to it.
type Bus struct {
	server *natsserver.Server
	conn   *nc.Conn
	ok     bool
}

// Start launches an embedded NATS server on 127.0.0.1:port (0 picks a free
// port) and connects a client to it. If embedding or connecting fails, Start returns a
// Bus with ok=false: every Publish call on it becomes a silent no-op so
// startup never fails merely because the event bus couldn't come up.
func Start(port int) (*Bus, error) {
	if port == 0 {
		port = natsserver.RANDOM_PORT
	}
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: false,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		log.Printf("[EVENTBUS] failed to create embedded server: %v", err)
		return &Bus{ok: false}, fmt.Errorf("eventbus: new server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		log.Printf("[EVENTBUS] embedded server not ready in time")
		return &Bus{ok: false}, fmt.Errorf("eventbus: server not ready")
	}

	conn, err := nc.Connect(srv.ClientURL())
	if err != nil {
		log.Printf("[EVENTBUS] failed to connect to embedded server: %v", err)
		return &Bus{server: srv, ok: false}, fmt.Errorf("eventbus: connect: %w", err)
	}

	log.Printf("[EVENTBUS] embedded broker listening at %s", srv.ClientURL())
	return &Bus{server: srv, conn: conn, ok: true}, nil
}

// Stop closes the client connection and shuts down the embedded server.
func (b *Bus) Stop() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}

// Publish best-effort publishes v as JSON to subject. Any failure (bus
// disabled, connection down, marshal error) is logged and dropped — it
// never propagates to the caller, since observability must never block a
// memory write.
func (b *Bus) Publish(subject string, v interface{}) {
	if b == nil || !b.ok {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[EVENTBUS] marshal failed for %s: %v", subject, err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("[EVENTBUS] publish failed for %s: %v", subject, err)
	}
}

// Subscribe registers handler for subject. Intended for in-process
// observers (e.g. the External Surface's websocket hub) relaying bus events
// onward.
func (b *Bus) Subscribe(subject string, handler func(data []byte)) error {
	if b == nil || !b.ok {
		return fmt.Errorf("eventbus: bus not available")
	}
	_, err := b.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Data)
	})
	return err
}
