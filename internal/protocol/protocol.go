// Package protocol defines the wire envelopes shared by the broker,
// the RPC transport, and the Job Store: broker headers, the RPC
// request/response frame, and the status/result records written to
// the Job Store. One typed struct per message; the broker message
// also has small Encode/Decode helpers.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/smi-gateway/smi/internal/jobtype"
)

// ResponseModelError is the sentinel response_model value the RPC
// reply carries when the Service caught an internal error. The
// Dispatcher checks this field rather than probing the payload for a
// "status" key (see design note on response envelope tagging).
const ResponseModelError = "MethodCallError"

// BrokerHeaders are the typed headers carried alongside a broker
// message body. Field names mirror the wire contract in the external
// interfaces section verbatim so Encode/Decode round-trip losslessly.
type BrokerHeaders struct {
	JobID                string `json:"job_id"`
	JobType              string `json:"job_type"`
	JobModelID           string `json:"job_model_id"`
	JobRemoteClass       string `json:"job_remote_class"`
	JobRemoteMethod      string `json:"job_remote_method"`
	JobRequestModelClass string `json:"job_request_model_class"`
	JobResponseModelClass string `json:"job_response_model_class"`
	JobStorage           string `json:"job_storage"`
	JobKeepAlive         int    `json:"job_keep_alive"`
}

// BrokerMessage is the full unit published to and consumed from the
// priority broker: headers plus an opaque JSON payload body.
type BrokerMessage struct {
	Headers BrokerHeaders   `json:"headers"`
	Body    json.RawMessage `json:"body"`
}

// EncodeBrokerMessage serializes a broker message for the wire.
func EncodeBrokerMessage(m BrokerMessage) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode broker message: %w", err)
	}
	return b, nil
}

// DecodeBrokerMessage parses a broker message off the wire.
func DecodeBrokerMessage(data []byte) (BrokerMessage, error) {
	var m BrokerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return BrokerMessage{}, fmt.Errorf("decode broker message: %w", err)
	}
	return m, nil
}

// RPCRequest is the frame the Dispatcher sends to a Service. A
// non-empty RemoteFunction selects function-call dispatch; otherwise
// the request is a method call on the worker named by WorkerID.
type RPCRequest struct {
	Payload             json.RawMessage `json:"payload"`
	RemoteClass         string          `json:"remote_class,omitempty"`
	RemoteMethod        string          `json:"remote_method,omitempty"`
	RequestModelClass   string          `json:"request_model_class,omitempty"`
	ResponseModelClass  string          `json:"response_model_class,omitempty"`
	RemoteFunction      string          `json:"remote_function,omitempty"`
	RemoteModule        string          `json:"remote_module,omitempty"`
	WorkerID            string          `json:"worker_id"`
	Storage             string          `json:"storage"`
	KeepAlive           int             `json:"keep_alive"`
}

// RPCResponse is the frame a Service returns to the Dispatcher.
// ResponseModelClass equal to ResponseModelError marks an error
// envelope; any other value is the caller-declared response schema
// name the payload should validate against.
type RPCResponse struct {
	Payload            json.RawMessage `json:"payload"`
	ResponseModelClass string          `json:"response_model_class"`
}

// IsError reports whether this response is a MethodCallError envelope.
func (r RPCResponse) IsError() bool {
	return r.ResponseModelClass == ResponseModelError
}

// MethodCallError is the typed error payload a Service wraps any
// internal exception in before returning it as an ordinary RPCResponse
// whose ResponseModelClass is ResponseModelError.
type MethodCallError struct {
	Message    string        `json:"message"`
	Status     jobtype.Status `json:"status"`
	ErrorTrace string        `json:"error_trace,omitempty"`
}

// StatusRecord is the Job Store's `{id}:status` value.
type StatusRecord struct {
	Status  jobtype.Status `json:"status"`
	Message string         `json:"message"`
	Type    jobtype.Type   `json:"type"`
}

// JobResponse is the API-facing status/result envelope returned from
// submit, polling, and GET-by-id endpoints.
type JobResponse struct {
	ID      string         `json:"id"`
	Type    jobtype.Type   `json:"type"`
	Status  jobtype.Status `json:"status"`
	Message string         `json:"message"`
}

// UnknownResponse builds the canonical "not found" JobResponse used
// both when a job id has never existed and when its records have
// already been consumed.
func UnknownResponse(id string) JobResponse {
	return JobResponse{ID: id, Type: jobtype.Unknown, Status: jobtype.StatusUnknown, Message: "Job not found"}
}
