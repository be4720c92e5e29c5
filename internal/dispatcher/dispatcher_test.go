package dispatcher

import (
	"context"
	"encoding/json"
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/smi-gateway/smi/internal/config"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/protocol"
	"github.com/smi-gateway/smi/internal/rpcwire"
	"github.com/smi-gateway/smi/internal/service"
	"github.com/smi-gateway/smi/internal/worker"
)

func startTestService(t *testing.T) string {
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

func TestDispatcherExecuteJobSuccess(t *testing.T) {
	addr := startTestService(t)
	d := New(map[jobtype.Type]string{jobtype.LLMGen: addr})
	defer d.Close()

	req := protocol.RPCRequest{
		WorkerID:  "chat-a",
		Payload:   json.RawMessage(`{"messages":["hi"]}`),
		KeepAlive: 5,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := d.ExecuteJob(ctx, jobtype.LLMGen, req)
	if err != nil {
		t.Fatalf("ExecuteJob failed: %v", err)
	}
	if resp.IsError() {
		t.Fatalf("unexpected error envelope: %s", resp.Payload)
	}
}

func TestDispatcherExecuteJobUnknownWorker(t *testing.T) {
	addr := startTestService(t)
	d := New(map[jobtype.Type]string{jobtype.LLMGen: addr})
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := d.ExecuteJob(ctx, jobtype.LLMGen, protocol.RPCRequest{WorkerID: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown worker_id")
	}
}

func TestDispatcherNoAddressConfigured(t *testing.T) {
	d := New(map[jobtype.Type]string{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := d.ExecuteJob(ctx, jobtype.ImageGen, protocol.RPCRequest{})
	if err == nil {
		t.Fatal("expected error when no service address is configured")
	}
}
