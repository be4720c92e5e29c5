package jobmanager

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/smi-gateway/smi/internal/broker"
	"github.com/smi-gateway/smi/internal/config"
	"github.com/smi-gateway/smi/internal/dispatcher"
	"github.com/smi-gateway/smi/internal/job"
	"github.com/smi-gateway/smi/internal/jobstore"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/protocol"
	"github.com/smi-gateway/smi/internal/rpcwire"
	"github.com/smi-gateway/smi/internal/service"
	"github.com/smi-gateway/smi/internal/worker"
)

// failingBroker always fails Publish, for exercising Submit's
// publish-failure path.
type failingBroker struct{}

func (failingBroker) Declare(ctx context.Context, routingKey string) error { return nil }
func (failingBroker) Publish(ctx context.Context, routingKey string, msg protocol.BrokerMessage, priority int) error {
	return errors.New("broker unavailable")
}
func (failingBroker) Consume(ctx context.Context, routingKey string) (<-chan broker.Delivery, error) {
	ch := make(chan broker.Delivery)
	close(ch)
	return ch, nil
}
func (failingBroker) Close() error { return nil }

func startTestServiceAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	entries := []config.WorkerConfig{{WorkerID: "chat-a", Model: "model-a", WorkerClass: "chat", Type: "LLM_GENERATION"}}
	svc := service.New(jobtype.LLMGen, worker.DefaultRegistry(), config.NewCatalogForTest(entries), nil)

	srv := rpc.NewServer()
	if err := srv.RegisterName("Gateway", service.NewGateway(svc)); err != nil {
		t.Fatal(err)
	}
	go rpcwire.Serve(ln, srv)
	return ln.Addr().String()
}

func TestManagerSubmitAndProcessToCompletion(t *testing.T) {
	addr := startTestServiceAddr(t)
	d := dispatcher.New(map[jobtype.Type]string{jobtype.LLMGen: addr})
	defer d.Close()

	b := broker.NewMemoryBroker()
	store := jobstore.NewMemoryStore()

	m := New(jobtype.LLMGen, b, store, d, nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	payload, _ := json.Marshal(map[string]any{"messages": []string{"hi"}})
	j := job.New(jobtype.LLMGen, "chat-a", payload, jobtype.Local, 5, job.Envelope{})

	ctx := context.Background()
	if err := m.Submit(ctx, j, jobtype.Normal); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, found, err := m.GetStatus(ctx, j.ID())
		if err != nil {
			t.Fatalf("GetStatus failed: %v", err)
		}
		if found && rec.Status.IsTerminal() {
			if rec.Status != jobtype.Completed {
				t.Fatalf("expected Completed, got %s (%s)", rec.Status, rec.Message)
			}
			result, ok, err := m.GetResult(ctx, j.ID())
			if err != nil {
				t.Fatalf("GetResult failed: %v", err)
			}
			if !ok {
				t.Fatal("expected result to be present for a Completed job")
			}
			if len(result) == 0 {
				t.Fatal("expected non-empty result payload")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
}

func TestManagerSubmitWritesFailedStatusOnPublishError(t *testing.T) {
	addr := startTestServiceAddr(t)
	d := dispatcher.New(map[jobtype.Type]string{jobtype.LLMGen: addr})
	defer d.Close()

	store := jobstore.NewMemoryStore()
	m := New(jobtype.LLMGen, failingBroker{}, store, d, nil)

	j := job.New(jobtype.LLMGen, "chat-a", json.RawMessage(`{}`), jobtype.Local, 5, job.Envelope{})
	ctx := context.Background()

	err := m.Submit(ctx, j, jobtype.Normal)
	if err == nil {
		t.Fatal("expected Submit to return the publish error")
	}

	if j.Status() != jobtype.Failed {
		t.Fatalf("expected job to transition to Failed, got %s", j.Status())
	}

	rec, found, serr := m.GetStatus(ctx, j.ID())
	if serr != nil {
		t.Fatalf("GetStatus failed: %v", serr)
	}
	if !found {
		t.Fatal("expected a status record to exist after publish failure")
	}
	if rec.Status != jobtype.Failed {
		t.Fatalf("expected stored status Failed, got %s", rec.Status)
	}
	if rec.Message == "" {
		t.Fatal("expected the publish error message to be recorded")
	}
}

func TestManagerSubmitUnknownWorkerFails(t *testing.T) {
	addr := startTestServiceAddr(t)
	d := dispatcher.New(map[jobtype.Type]string{jobtype.LLMGen: addr})
	defer d.Close()

	b := broker.NewMemoryBroker()
	store := jobstore.NewMemoryStore()
	m := New(jobtype.LLMGen, b, store, d, nil)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	j := job.New(jobtype.LLMGen, "does-not-exist", json.RawMessage(`{}`), jobtype.Local, 5, job.Envelope{})
	ctx := context.Background()
	if err := m.Submit(ctx, j, jobtype.Low); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, found, err := m.GetStatus(ctx, j.ID())
		if err != nil {
			t.Fatal(err)
		}
		if found && rec.Status == jobtype.Failed {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected job to reach Failed status")
}
