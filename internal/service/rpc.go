package service

import (
	"context"

	"github.com/smi-gateway/smi/internal/protocol"
)

// Gateway is the net/rpc-exposed type a Service registers under the
// name "Gateway", matching rpcwire.ServiceMethod ("Gateway.Call").
// net/rpc requires exported methods with exactly this signature, so
// this thin wrapper is what bridges the RPC transport to Service's own
// context-aware Process method.
type Gateway struct {
	svc *Service
}

// NewGateway wraps svc for RPC registration.
func NewGateway(svc *Service) *Gateway {
	return &Gateway{svc: svc}
}

// Call is the single RPC method the Dispatcher invokes.
func (g *Gateway) Call(req protocol.RPCRequest, resp *protocol.RPCResponse) error {
	*resp = g.svc.Process(context.Background(), req)
	return nil
}
