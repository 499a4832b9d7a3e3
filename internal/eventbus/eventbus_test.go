package eventbus

import (
	"testing"
	"time"
)

func TestStartPublishSubscribeRoundTrip(t *testing.T) {
	bus, err := Start(0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bus.Stop()

	received := make(chan []byte, 1)
	if err := bus.Subscribe(SubjectHealth, func(data []byte) {
		received <- data
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish(SubjectHealth, map[string]string{"status": "healthy"})

	select {
	case data := <-received:
		if len(data) == 0 {
			t.Error("expected non-empty message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestPublishOnNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(SubjectHealth, map[string]string{"status": "healthy"})
}

func TestPublishOnUnavailableBusIsNoop(t *testing.T) {
	bus := &Bus{ok: false}
	bus.Publish(SubjectHealth, map[string]string{"status": "healthy"})
}
