// Package service implements the Service: the per-job-type process
// that owns a pool of Worker instances and answers RPC calls from a
// Dispatcher. Pool bookkeeping (registration, lookup, idle reaping) is
// a lazily-populated worker pool guarded by a single mutex.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smi-gateway/smi/internal/config"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/protocol"
	"github.com/smi-gateway/smi/internal/worker"
)

// reapInterval is how often the idle-keep-alive sweep runs.
const reapInterval = 60 * time.Second

// pooledWorker wraps a live Worker with the keep-alive bookkeeping the
// reaper needs. keepAliveRemaining only decrements while the worker is
// Idle at reap time: a worker mid-Work/Stream is governed by its own
// run duration, not the keep-alive counter.
type pooledWorker struct {
	id                 string
	w                  worker.Worker
	keepAliveRemaining int
}

// Service owns every loaded worker for one job type and exposes the
// operations a Dispatcher calls over RPC.
type Service struct {
	jobType  jobtype.Type
	registry *worker.Registry
	catalog  *config.Catalog
	log      *slog.Logger

	mu      sync.Mutex
	workers map[string]*pooledWorker

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Service for jobType, resolving worker implementations
// through registry and descriptions through catalog.
func New(jobType jobtype.Type, registry *worker.Registry, catalog *config.Catalog, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		jobType:  jobType,
		registry: registry,
		catalog:  catalog,
		log:      log,
		workers:  make(map[string]*pooledWorker),
		stop:     make(chan struct{}),
	}
}

// Start launches the background idle-keep-alive reaper.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.reapLoop()
}

// Stop halts the reaper and runs Cleanup on every pooled worker.
func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pw := range s.workers {
		if err := pw.w.Cleanup(); err != nil {
			s.log.Warn("cleanup failed", "worker_id", id, "error", err)
		}
	}
	s.workers = make(map[string]*pooledWorker)
}

func (s *Service) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reapIdleWorkers()
		}
	}
}

// reapIdleWorkers decrements the keep-alive counter of every worker
// currently Idle and evicts any whose counter reaches zero. A worker
// that is Working or Streaming is governed instead by its own run
// duration: once it has run longer than its keep-alive budget, it is
// forcibly stopped and evicted rather than left running indefinitely.
func (s *Service) reapIdleWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, pw := range s.workers {
		if pw.w.Status() != jobtype.Idle {
			limit := time.Duration(pw.keepAliveRemaining) * time.Minute
			if limit > 0 && pw.w.Duration() > limit {
				if err := pw.w.Cleanup(); err != nil {
					s.log.Warn("forced eviction cleanup failed", "worker_id", id, "error", err)
				}
				delete(s.workers, id)
				s.log.Warn("worker forcibly stopped and evicted after exceeding its run duration budget", "worker_id", id, "duration", pw.w.Duration())
			}
			continue
		}
		pw.keepAliveRemaining--
		if pw.keepAliveRemaining <= 0 {
			if err := pw.w.Cleanup(); err != nil {
				s.log.Warn("evict cleanup failed", "worker_id", id, "error", err)
			}
			delete(s.workers, id)
			s.log.Info("worker evicted after keep-alive expiry", "worker_id", id)
		}
	}
}

// getOrCreateWorker returns the pooled worker for workerID, building
// it from the catalog + registry on first use.
func (s *Service) getOrCreateWorker(workerID string, keepAliveMinutes int) (*pooledWorker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pw, ok := s.workers[workerID]; ok {
		pw.keepAliveRemaining = keepAliveMinutes
		return pw, nil
	}

	desc, ok := s.catalog.Get(workerID)
	if !ok {
		return nil, fmt.Errorf("service: unknown worker_id %q", workerID)
	}
	w, err := s.registry.New(desc.WorkerClass, desc.Model)
	if err != nil {
		return nil, fmt.Errorf("service: build worker %q: %w", workerID, err)
	}
	pw := &pooledWorker{id: workerID, w: w, keepAliveRemaining: keepAliveMinutes}
	s.workers[workerID] = pw
	s.log.Info("worker instantiated", "worker_id", workerID, "worker_class", desc.WorkerClass, "model", desc.Model)
	return pw, nil
}

// GetWorker returns the live Worker for workerID, instantiating it on
// first use. Used by the Streaming Bridge, which needs direct access
// to a Worker's StreamStart rather than the one-shot Work call Process
// exposes over RPC.
func (s *Service) GetWorker(workerID string, keepAliveMinutes int) (worker.Worker, error) {
	pw, err := s.getOrCreateWorker(workerID, keepAliveMinutes)
	if err != nil {
		return nil, err
	}
	return pw.w, nil
}

// Process answers one RPC call: either a direct remote function (no
// worker involved, e.g. GPU info) or a worker method dispatched to the
// named worker_id, lazily instantiating it if needed.
func (s *Service) Process(ctx context.Context, req protocol.RPCRequest) protocol.RPCResponse {
	if req.RemoteFunction != "" {
		return s.callFunction(ctx, req)
	}
	return s.callWorkerMethod(ctx, req)
}

func (s *Service) callFunction(ctx context.Context, req protocol.RPCRequest) protocol.RPCResponse {
	switch req.RemoteFunction {
	case "gpu_info":
		return protocol.RPCResponse{
			ResponseModelClass: req.ResponseModelClass,
			Payload:            []byte(`{"gpus":[]}`),
		}
	default:
		return errorResponse(fmt.Sprintf("unknown remote function %q", req.RemoteFunction))
	}
}

func (s *Service) callWorkerMethod(ctx context.Context, req protocol.RPCRequest) protocol.RPCResponse {
	keepAlive := req.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 5
	}
	pw, err := s.getOrCreateWorker(req.WorkerID, keepAlive)
	if err != nil {
		return errorResponse(err.Error())
	}

	payload, err := pw.w.Work(ctx, req.Payload)
	if err != nil {
		return errorResponse(err.Error())
	}
	return protocol.RPCResponse{ResponseModelClass: req.ResponseModelClass, Payload: payload}
}

func errorResponse(msg string) protocol.RPCResponse {
	body, _ := json.Marshal(protocol.MethodCallError{Message: msg, Status: jobtype.Failed})
	return protocol.RPCResponse{ResponseModelClass: protocol.ResponseModelError, Payload: body}
}
