// Package job defines the Job aggregate: the unit of work that flows
// from the API Gateway through the broker to a Service and back.
// Status transitions are enforced as a monotonic state machine.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smi-gateway/smi/internal/jobtype"
)

// ErrInvalidTransition is returned when a status transition would move
// a job backward or out of the declared state machine.
var ErrInvalidTransition = errors.New("job: invalid status transition")

// validTransitions enumerates the allowed forward moves. Completed and
// Failed are terminal: both map to an empty slice.
var validTransitions = map[jobtype.Status][]jobtype.Status{
	jobtype.Pending:    {jobtype.Queued, jobtype.Failed},
	jobtype.Queued:     {jobtype.InProgress, jobtype.Failed},
	jobtype.InProgress: {jobtype.Completed, jobtype.Failed},
	jobtype.Completed:  {},
	jobtype.Failed:     {},
}

func canTransition(from, to jobtype.Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Envelope carries the typed request/response descriptors used to
// re-validate a payload after it has crossed the broker or RPC wire.
type Envelope struct {
	RemoteClass         string
	RemoteMethod        string
	RemoteModule        string
	RemoteFunction      string
	RequestModelClass   string
	ResponseModelClass  string
}

// Job is the unit of work submitted by the API Gateway. Fields are
// guarded by mu; use the accessor/mutator methods rather than touching
// fields directly from outside the package.
type Job struct {
	mu sync.RWMutex

	id         string
	jobType    jobtype.Type
	workerID   string
	payload    []byte
	status     jobtype.Status
	message    string
	storage    jobtype.Storage
	keepAlive  int
	envelope   Envelope
	createdAt  time.Time
	updatedAt  time.Time
}

// New creates a Pending job with a generated id.
func New(t jobtype.Type, workerID string, payload []byte, storage jobtype.Storage, keepAlive int, env Envelope) *Job {
	now := time.Now()
	return &Job{
		id:        uuid.NewString(),
		jobType:   t,
		workerID:  workerID,
		payload:   payload,
		status:    jobtype.Pending,
		storage:   storage,
		keepAlive: keepAlive,
		envelope:  env,
		createdAt: now,
		updatedAt: now,
	}
}

// NewWithID is New but with an externally supplied id, used when
// reconstructing a Job from broker headers on the consumer side.
func NewWithID(id string, t jobtype.Type, workerID string, payload []byte, storage jobtype.Storage, keepAlive int, env Envelope) *Job {
	j := New(t, workerID, payload, storage, keepAlive, env)
	j.id = id
	return j
}

func (j *Job) ID() string               { return j.id }
func (j *Job) Type() jobtype.Type        { return j.jobType }
func (j *Job) WorkerID() string          { return j.workerID }
func (j *Job) Payload() []byte           { return j.payload }
func (j *Job) Storage() jobtype.Storage  { return j.storage }
func (j *Job) KeepAlive() int            { return j.keepAlive }
func (j *Job) Envelope() Envelope        { return j.envelope }

// Status returns the current status (thread-safe).
func (j *Job) Status() jobtype.Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Message returns the current human-readable status message.
func (j *Job) Message() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.message
}

// TransitionTo attempts to move the job to the given status, attaching
// message. Returns ErrInvalidTransition if the move is not allowed by
// the state machine declared in validTransitions.
func (j *Job) TransitionTo(status jobtype.Status, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.status, status) {
		return ErrInvalidTransition
	}
	j.status = status
	j.message = message
	j.updatedAt = time.Now()
	return nil
}

// IsTerminal reports whether the job has reached Completed or Failed.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.IsTerminal()
}
