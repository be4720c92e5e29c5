// Package jobtype defines the small value types shared across every
// component of the gateway: job type, status, priority, storage mode,
// and the two response-status enums workers use to classify results.
package jobtype

import "strings"

// Type identifies the modality a job targets.
type Type string

const (
	ImageGen Type = "IMAGE_GENERATION"
	LLMGen   Type = "LLM_GENERATION"
	AudioGen Type = "AUDIO_GENERATION"
	VideoGen Type = "VIDEO_GENERATION"
	Unknown  Type = "UNKNOWN"
)

// IsValid returns true for the four routable job types.
func (t Type) IsValid() bool {
	switch t {
	case ImageGen, LLMGen, AudioGen, VideoGen:
		return true
	default:
		return false
	}
}

// RoutingKey is the broker routing key for this type (identical to the
// string value today, but kept as its own accessor so the mapping has
// one place to change).
func (t Type) RoutingKey() string {
	return string(t)
}

// BucketForJobType is the single canonical type→bucket mapping used by
// both the object store's write path and the pruner's sweep path.
// Resolves the base spec's open question about the pruner receiving an
// enum where a bucket string was expected.
func BucketForJobType(t Type) string {
	return strings.ToLower(string(t))
}

// Status is a job's lifecycle state. Transitions are monotonic: see
// the job package for the enforced state machine.
type Status string

const (
	Pending    Status = "PENDING"
	Queued     Status = "QUEUED"
	InProgress Status = "IN_PROGRESS"
	Completed  Status = "COMPLETED"
	Failed     Status = "FAILED"
	StatusUnknown Status = "UNKNOWN"
)

// IsTerminal reports whether status will never change again.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// Priority is the client-facing routing hint. Low/Normal route through
// the broker; High bypasses it for a direct Dispatcher call.
type Priority string

const (
	Low    Priority = "LOW"
	Normal Priority = "NORMAL"
	High   Priority = "HIGH"
)

// IsValid reports whether the priority string is one of the three
// recognized values.
func (p Priority) IsValid() bool {
	switch p {
	case Low, Normal, High:
		return true
	default:
		return false
	}
}

// BrokerPriority maps the client-facing priority onto the broker's
// numeric priority scale (matches the wire contract: Low=1, Normal=5,
// High=10).
func (p Priority) BrokerPriority() int {
	switch p {
	case Low:
		return 1
	case Normal:
		return 5
	case High:
		return 10
	default:
		return 1
	}
}

// Storage selects where a job's result artifact lives.
type Storage string

const (
	Local Storage = "LOCAL"
	S3    Storage = "S3"
)

// IsValid reports whether the storage string is recognized.
func (s Storage) IsValid() bool {
	return s == Local || s == S3
}

// ResponseStatus is carried on typed worker responses that may be
// rejected by upstream moderation independently of transport failure.
type ResponseStatus string

const (
	Success         ResponseStatus = "SUCCESS"
	Error           ResponseStatus = "ERROR"
	ContentFiltered ResponseStatus = "CONTENT_FILTERED"
)

// ServiceStatus is the live status of a worker instance as surfaced by
// a Service, independent of the Job's own lifecycle status.
type ServiceStatus string

const (
	Idle      ServiceStatus = "IDLE"
	Working   ServiceStatus = "WORKING"
	Streaming ServiceStatus = "STREAMING"
)

// FrameType is the wire typing of a single streaming frame.
type FrameType string

const (
	FrameText  FrameType = "TEXT"
	FrameBytes FrameType = "BYTES"
	FrameJSON  FrameType = "JSON"
)

// IsValid reports whether the frame type is recognized.
func (f FrameType) IsValid() bool {
	switch f {
	case FrameText, FrameBytes, FrameJSON:
		return true
	default:
		return false
	}
}
