package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/smi-gateway/smi/internal/config"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/protocol"
	"github.com/smi-gateway/smi/internal/worker"
)

func testCatalog() *config.Catalog {
	data := []byte(`[{"worker_id":"chat-a","model":"model-a","worker_class":"chat","type":"LLM_GENERATION"}]`)
	var entries []config.WorkerConfig
	if err := json.Unmarshal(data, &entries); err != nil {
		panic(err)
	}
	return config.NewCatalogForTest(entries)
}

func TestServiceCallWorkerMethodInstantiatesLazily(t *testing.T) {
	svc := New(jobtype.LLMGen, worker.DefaultRegistry(), testCatalog(), nil)

	req := protocol.RPCRequest{
		WorkerID:  "chat-a",
		Payload:   json.RawMessage(`{"messages":["hi"]}`),
		KeepAlive: 5,
	}
	resp := svc.Process(context.Background(), req)
	if resp.IsError() {
		t.Fatalf("unexpected error response: %s", resp.Payload)
	}
}

func TestServiceCallWorkerMethodUnknownID(t *testing.T) {
	svc := New(jobtype.LLMGen, worker.DefaultRegistry(), testCatalog(), nil)
	resp := svc.Process(context.Background(), protocol.RPCRequest{WorkerID: "nope"})
	if !resp.IsError() {
		t.Fatal("expected error response for unknown worker_id")
	}
}

func TestServiceCallFunctionGPUInfo(t *testing.T) {
	svc := New(jobtype.LLMGen, worker.DefaultRegistry(), testCatalog(), nil)
	resp := svc.Process(context.Background(), protocol.RPCRequest{RemoteFunction: "gpu_info"})
	if resp.IsError() {
		t.Fatalf("unexpected error: %s", resp.Payload)
	}
}

func TestServiceReapEvictsExpiredIdleWorker(t *testing.T) {
	svc := New(jobtype.LLMGen, worker.DefaultRegistry(), testCatalog(), nil)
	req := protocol.RPCRequest{WorkerID: "chat-a", Payload: json.RawMessage(`{}`), KeepAlive: 2}
	if resp := svc.Process(context.Background(), req); resp.IsError() {
		t.Fatalf("unexpected error: %s", resp.Payload)
	}

	svc.reapIdleWorkers()
	svc.mu.Lock()
	_, stillPresent := svc.workers["chat-a"]
	svc.mu.Unlock()
	if !stillPresent {
		t.Fatal("expected worker to survive first reap (keep_alive=2 decremented to 1, not yet zero)")
	}

	svc.reapIdleWorkers()
	svc.mu.Lock()
	_, stillPresent = svc.workers["chat-a"]
	svc.mu.Unlock()
	if stillPresent {
		t.Fatal("expected worker evicted after keep-alive reaches zero")
	}
}

// fakeBusyWorker simulates a worker stuck Working/Streaming past its
// keep-alive budget, for exercising the reaper's forced-stop path
// without needing a real long-running call.
type fakeBusyWorker struct {
	status    jobtype.ServiceStatus
	duration  time.Duration
	cleanedUp bool
}

func (f *fakeBusyWorker) Work(ctx context.Context, req []byte) ([]byte, error) { return nil, nil }
func (f *fakeBusyWorker) StreamStart(ctx context.Context, in <-chan worker.Frame, out chan<- worker.Frame, timeout time.Duration) error {
	return nil
}
func (f *fakeBusyWorker) Stream(ctx context.Context, frame worker.Frame) (worker.Frame, error) {
	return worker.Frame{}, nil
}
func (f *fakeBusyWorker) Cleanup() error             { f.cleanedUp = true; return nil }
func (f *fakeBusyWorker) Status() jobtype.ServiceStatus { return f.status }
func (f *fakeBusyWorker) Duration() time.Duration       { return f.duration }

func TestServiceReapForciblyStopsWorkerPastDurationBudget(t *testing.T) {
	svc := New(jobtype.LLMGen, worker.DefaultRegistry(), testCatalog(), nil)

	fw := &fakeBusyWorker{status: jobtype.Working, duration: 10 * time.Minute}
	svc.mu.Lock()
	svc.workers["chat-a"] = &pooledWorker{id: "chat-a", w: fw, keepAliveRemaining: 5}
	svc.mu.Unlock()

	svc.reapIdleWorkers()

	if !fw.cleanedUp {
		t.Fatal("expected a worker exceeding its duration budget to be forcibly cleaned up")
	}
	svc.mu.Lock()
	_, stillPresent := svc.workers["chat-a"]
	svc.mu.Unlock()
	if stillPresent {
		t.Fatal("expected worker evicted after exceeding its run duration budget")
	}
}

func TestServiceReapLeavesWorkerWithinDurationBudget(t *testing.T) {
	svc := New(jobtype.LLMGen, worker.DefaultRegistry(), testCatalog(), nil)

	fw := &fakeBusyWorker{status: jobtype.Streaming, duration: 30 * time.Second}
	svc.mu.Lock()
	svc.workers["chat-a"] = &pooledWorker{id: "chat-a", w: fw, keepAliveRemaining: 5}
	svc.mu.Unlock()

	svc.reapIdleWorkers()

	svc.mu.Lock()
	_, stillPresent := svc.workers["chat-a"]
	svc.mu.Unlock()
	if !stillPresent {
		t.Fatal("expected worker still within its duration budget to survive reap")
	}
	if fw.cleanedUp {
		t.Fatal("did not expect Cleanup to be called while within budget")
	}
}

func TestServiceStopCleansUpWorkers(t *testing.T) {
	svc := New(jobtype.LLMGen, worker.DefaultRegistry(), testCatalog(), nil)
	svc.Start()
	req := protocol.RPCRequest{WorkerID: "chat-a", Payload: json.RawMessage(`{}`), KeepAlive: 5}
	svc.Process(context.Background(), req)

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.workers) != 0 {
		t.Errorf("expected empty pool after Stop, got %d", len(svc.workers))
	}
}
