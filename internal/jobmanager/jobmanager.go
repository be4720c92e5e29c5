// Package jobmanager implements the per-job-type Job Manager: the
// broker producer/consumer pair that accepts a Job, publishes it,
// consumes it back off the queue, dispatches it to a Service, and
// records status/result in the Job Store. A supervisor goroutine polls
// consumer liveness on a ticker and restarts a stalled consumer,
// mirroring a dispatchLoop/timeoutLoop structure.
package jobmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smi-gateway/smi/internal/broker"
	"github.com/smi-gateway/smi/internal/dispatcher"
	"github.com/smi-gateway/smi/internal/job"
	"github.com/smi-gateway/smi/internal/jobstore"
	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/protocol"
)

// supervisorInterval is how often the liveness check restarts a dead
// consumer loop.
const supervisorInterval = 10 * time.Second

// consumerStaleAfter is how long a consumer loop can go without
// reporting a heartbeat before the supervisor considers it dead.
const consumerStaleAfter = 30 * time.Second

// Manager is the Job Manager for one job type.
type Manager struct {
	jobType jobtype.Type
	broker  broker.Broker
	store   jobstore.Store
	dispatch *dispatcher.Dispatcher
	log     *slog.Logger

	lastHeartbeat atomic.Int64 // unix nanos, set by the consumer loop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager for jobType.
func New(jobType jobtype.Type, b broker.Broker, store jobstore.Store, d *dispatcher.Dispatcher, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{jobType: jobType, broker: b, store: store, dispatch: d, log: log, ctx: ctx, cancel: cancel}
}

// Start declares the queue and launches the consumer and supervisor
// loops.
func (m *Manager) Start() error {
	if err := m.broker.Declare(m.ctx, m.jobType.RoutingKey()); err != nil {
		return fmt.Errorf("jobmanager: declare queue: %w", err)
	}
	m.lastHeartbeat.Store(time.Now().UnixNano())

	m.wg.Add(1)
	go m.runConsumer()

	m.wg.Add(1)
	go m.supervisorLoop()

	return nil
}

// Stop cancels both loops and waits for them to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Submit records j's Pending status, attempts to publish it to the
// broker at the given priority, then marks it Queued
// on success or Failed (with the publish error as its message) on
// failure — mirroring the broker as the point of no return for a job.
func (m *Manager) Submit(ctx context.Context, j *job.Job, priority jobtype.Priority) error {
	if err := m.store.SetStatus(ctx, j.ID(), protocol.StatusRecord{Status: j.Status(), Type: j.Type()}); err != nil {
		return fmt.Errorf("jobmanager: write pending status: %w", err)
	}

	msg := protocol.BrokerMessage{
		Headers: headersFromJob(j),
		Body:    json.RawMessage(j.Payload()),
	}
	if err := m.broker.Publish(ctx, m.jobType.RoutingKey(), msg, priority.BrokerPriority()); err != nil {
		if ferr := j.TransitionTo(jobtype.Failed, err.Error()); ferr != nil {
			m.log.Error("jobmanager: invalid transition to Failed after publish error", "job_id", j.ID(), "error", ferr)
		}
		if serr := m.store.SetStatus(ctx, j.ID(), protocol.StatusRecord{Status: jobtype.Failed, Message: err.Error(), Type: j.Type()}); serr != nil {
			m.log.Error("jobmanager: write failed status after publish error", "job_id", j.ID(), "error", serr)
		}
		return fmt.Errorf("jobmanager: publish: %w", err)
	}

	if err := j.TransitionTo(jobtype.Queued, ""); err != nil {
		return fmt.Errorf("jobmanager: %w", err)
	}
	if err := m.store.SetStatus(ctx, j.ID(), protocol.StatusRecord{Status: j.Status(), Type: j.Type()}); err != nil {
		return fmt.Errorf("jobmanager: write queued status: %w", err)
	}
	return nil
}

// GetStatus reads the job's status record. The bool reports whether a
// record exists for id.
func (m *Manager) GetStatus(ctx context.Context, id string) (protocol.StatusRecord, bool, error) {
	return m.store.GetStatus(ctx, id)
}

// GetResult reads and deletes the job's result record. The bool
// reports whether a result existed to read.
func (m *Manager) GetResult(ctx context.Context, id string) ([]byte, bool, error) {
	return m.store.GetResult(ctx, id)
}

func headersFromJob(j *job.Job) protocol.BrokerHeaders {
	env := j.Envelope()
	return protocol.BrokerHeaders{
		JobID:                j.ID(),
		JobType:              string(j.Type()),
		JobModelID:           j.WorkerID(),
		JobRemoteClass:       env.RemoteClass,
		JobRemoteMethod:      env.RemoteMethod,
		JobRequestModelClass: env.RequestModelClass,
		JobResponseModelClass: env.ResponseModelClass,
		JobStorage:           string(j.Storage()),
		JobKeepAlive:         j.KeepAlive(),
	}
}

// runConsumer pulls deliveries off the broker and dispatches each to
// the Service, retrying forever (modulo ctx cancellation) since a
// broker disconnect is recoverable rather than fatal.
func (m *Manager) runConsumer() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		deliveries, err := m.broker.Consume(m.ctx, m.jobType.RoutingKey())
		if err != nil {
			m.log.Error("jobmanager: consume failed, retrying", "job_type", m.jobType, "error", err)
			time.Sleep(time.Second)
			continue
		}

		m.drain(deliveries)

		select {
		case <-m.ctx.Done():
			return
		default:
		}
	}
}

// drain processes deliveries until the channel closes or ctx is
// cancelled, updating the heartbeat on every iteration so the
// supervisor can tell this loop is alive even between deliveries.
func (m *Manager) drain(deliveries <-chan broker.Delivery) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.lastHeartbeat.Store(time.Now().UnixNano())
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			m.lastHeartbeat.Store(time.Now().UnixNano())
			m.handleDelivery(d)
		}
	}
}

func (m *Manager) handleDelivery(d broker.Delivery) {
	ctx := m.ctx
	headers := d.Message.Headers
	id := headers.JobID

	if err := m.store.SetStatus(ctx, id, protocol.StatusRecord{Status: jobtype.InProgress, Type: m.jobType}); err != nil {
		m.log.Error("jobmanager: write in-progress status failed", "job_id", id, "error", err)
	}

	req := protocol.RPCRequest{
		Payload:            json.RawMessage(d.Message.Body),
		RemoteClass:        headers.JobRemoteClass,
		RemoteMethod:       headers.JobRemoteMethod,
		RequestModelClass:  headers.JobRequestModelClass,
		ResponseModelClass: headers.JobResponseModelClass,
		WorkerID:           headers.JobModelID,
		Storage:            headers.JobStorage,
		KeepAlive:          headers.JobKeepAlive,
	}

	resp, err := m.dispatch.ExecuteJob(ctx, m.jobType, req)
	if err != nil {
		m.log.Warn("jobmanager: job execution failed", "job_id", id, "error", err)
		_ = m.store.SetStatus(ctx, id, protocol.StatusRecord{Status: jobtype.Failed, Message: err.Error(), Type: m.jobType})
		_ = d.Ack(ctx)
		return
	}

	if err := m.store.SetResult(ctx, id, resp.Payload); err != nil {
		m.log.Error("jobmanager: write result failed", "job_id", id, "error", err)
	}
	if err := m.store.SetStatus(ctx, id, protocol.StatusRecord{Status: jobtype.Completed, Type: m.jobType}); err != nil {
		m.log.Error("jobmanager: write completed status failed", "job_id", id, "error", err)
	}
	_ = d.Ack(ctx)
}

// supervisorLoop restarts the consumer if its heartbeat goes stale.
func (m *Manager) supervisorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(supervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, m.lastHeartbeat.Load())
			if time.Since(last) > consumerStaleAfter {
				m.log.Warn("jobmanager: consumer appears stuck, restarting", "job_type", m.jobType, "last_heartbeat", last)
				m.lastHeartbeat.Store(time.Now().UnixNano())
				m.wg.Add(1)
				go m.runConsumer()
			}
		}
	}
}
