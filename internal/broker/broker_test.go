package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/smi-gateway/smi/internal/protocol"
)

func msgFor(id string) protocol.BrokerMessage {
	return protocol.BrokerMessage{
		Headers: protocol.BrokerHeaders{JobID: id},
		Body:    json.RawMessage(`{}`),
	}
}

func TestMemoryBrokerPriorityOvertake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker()
	if err := b.Declare(ctx, "LLM_GENERATION"); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}

	// Queue Low, Low, High in that order to an idle consumer.
	if err := b.Publish(ctx, "LLM_GENERATION", msgFor("low-1"), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "LLM_GENERATION", msgFor("low-2"), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "LLM_GENERATION", msgFor("high-1"), 10); err != nil {
		t.Fatal(err)
	}

	deliveries, err := b.Consume(ctx, "LLM_GENERATION")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	first := recvWithTimeout(t, deliveries)
	if first.Message.Headers.JobID != "high-1" {
		t.Fatalf("expected high-1 to overtake, got %s", first.Message.Headers.JobID)
	}
	_ = first.Ack(ctx)

	second := recvWithTimeout(t, deliveries)
	if second.Message.Headers.JobID != "low-1" {
		t.Fatalf("expected low-1 (FIFO within priority), got %s", second.Message.Headers.JobID)
	}
	_ = second.Ack(ctx)

	third := recvWithTimeout(t, deliveries)
	if third.Message.Headers.JobID != "low-2" {
		t.Fatalf("expected low-2, got %s", third.Message.Headers.JobID)
	}
	_ = third.Ack(ctx)
}

func recvWithTimeout(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}
