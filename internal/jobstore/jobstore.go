// Package jobstore implements the Job Store: a key/value cache holding
// one status record and one result record per job, addressed by
// "{id}:status" and "{id}:result" exactly as in the base contract.
// Deletion is explicit on first successful result read; there is no
// TTL.
package jobstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/smi-gateway/smi/internal/protocol"
)

// Store is the Job Store contract. Implementations must make get/set/
// delete atomic per key and reconnect transparently on connection
// loss before the next operation.
type Store interface {
	SetStatus(ctx context.Context, id string, rec protocol.StatusRecord) error
	GetStatus(ctx context.Context, id string) (protocol.StatusRecord, bool, error)
	SetResult(ctx context.Context, id string, payload []byte) error
	// GetResult returns the result payload and deletes both the status
	// and result records on success, per the "delete after first
	// successful read" contract.
	GetResult(ctx context.Context, id string) ([]byte, bool, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

func statusKey(id string) string { return id + ":status" }
func resultKey(id string) string { return id + ":result" }

// encodeResult wraps a JSON document in a 4-byte big-endian
// length-prefix, the compact binary wrapper the base contract calls
// for (see DESIGN.md).
func encodeResult(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func decodeResult(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("jobstore: result record too short (%d bytes)", len(data))
	}
	n := binary.BigEndian.Uint32(data)
	if int(n) > len(data)-4 {
		return nil, fmt.Errorf("jobstore: result record length mismatch")
	}
	return data[4 : 4+n], nil
}

func encodeStatus(rec protocol.StatusRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("jobstore: encode status: %w", err)
	}
	return b, nil
}

func decodeStatus(data []byte) (protocol.StatusRecord, error) {
	var rec protocol.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return protocol.StatusRecord{}, fmt.Errorf("jobstore: decode status: %w", err)
	}
	return rec, nil
}
