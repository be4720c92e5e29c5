// Package dispatcher implements the Dispatcher: the RPC client side
// that turns a Job into a call against the right Service and turns
// that Service's RPCResponse back into either a result or a failed
// Job transition. Routing is strictly on job.type; a job is marked
// Completed or Failed depending on whether the remote call errored.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/rpc"
	"sync"

	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/protocol"
	"github.com/smi-gateway/smi/internal/rpcwire"
)

func decodeMethodCallError(payload []byte, out *protocol.MethodCallError) error {
	return json.Unmarshal(payload, out)
}

// Dispatcher holds one lazily-connected RPC client per job type's
// Service address.
type Dispatcher struct {
	addrs map[jobtype.Type]string

	mu      sync.Mutex
	clients map[jobtype.Type]*rpc.Client
}

// New creates a Dispatcher from a job-type -> "host:port" address map,
// typically config.Config.ServiceAddr translated to jobtype.Type keys.
func New(addrs map[jobtype.Type]string) *Dispatcher {
	return &Dispatcher{addrs: addrs, clients: make(map[jobtype.Type]*rpc.Client)}
}

func (d *Dispatcher) clientFor(t jobtype.Type) (*rpc.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[t]; ok {
		return c, nil
	}
	addr, ok := d.addrs[t]
	if !ok {
		return nil, fmt.Errorf("dispatcher: no service address configured for %s", t)
	}
	c, err := rpcwire.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dial %s at %s: %w", t, addr, err)
	}
	d.clients[t] = c
	return c, nil
}

// Close closes every open RPC client.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for t, c := range d.clients {
		_ = c.Close()
		delete(d.clients, t)
	}
}

// FunctionCallError wraps a remote function call failure distinctly
// from a job dispatch failure, since a function call has no Job to
// transition to Failed.
type FunctionCallError struct {
	Function string
	Err      error
}

func (e *FunctionCallError) Error() string {
	return fmt.Sprintf("dispatcher: remote function %q failed: %v", e.Function, e.Err)
}

func (e *FunctionCallError) Unwrap() error { return e.Err }

// CallFunction issues a direct remote-function RPC (e.g. gpu_info)
// against the Service for jobType, bypassing the broker and any Job.
func (d *Dispatcher) CallFunction(ctx context.Context, jobType jobtype.Type, req protocol.RPCRequest) (protocol.RPCResponse, error) {
	client, err := d.clientFor(jobType)
	if err != nil {
		return protocol.RPCResponse{}, err
	}

	var resp protocol.RPCResponse
	call := client.Go(rpcwire.ServiceMethod, req, &resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return protocol.RPCResponse{}, ctx.Err()
	case res := <-call.Done:
		if res.Error != nil {
			return protocol.RPCResponse{}, &FunctionCallError{Function: req.RemoteFunction, Err: res.Error}
		}
	}
	if resp.IsError() {
		return resp, fmt.Errorf("dispatcher: remote function %q returned an error envelope", req.RemoteFunction)
	}
	return resp, nil
}

// ExecuteJob dispatches req (built from a Job's envelope and payload)
// to the Service for jobType and reports whether the call succeeded.
// On success the caller transitions the Job to Completed and stores
// resp.Payload; on failure, to Failed with the error message.
func (d *Dispatcher) ExecuteJob(ctx context.Context, jobType jobtype.Type, req protocol.RPCRequest) (protocol.RPCResponse, error) {
	client, err := d.clientFor(jobType)
	if err != nil {
		return protocol.RPCResponse{}, err
	}

	var resp protocol.RPCResponse
	call := client.Go(rpcwire.ServiceMethod, req, &resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return protocol.RPCResponse{}, ctx.Err()
	case res := <-call.Done:
		if res.Error != nil {
			return protocol.RPCResponse{}, res.Error
		}
	}
	if resp.IsError() {
		var methodErr protocol.MethodCallError
		if decodeErr := decodeMethodCallError(resp.Payload, &methodErr); decodeErr == nil && methodErr.Message != "" {
			return resp, fmt.Errorf("dispatcher: job execution failed: %s", methodErr.Message)
		}
		return resp, fmt.Errorf("dispatcher: job execution failed")
	}
	return resp, nil
}
