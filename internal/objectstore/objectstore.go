// Package objectstore provides the optional large-artifact sink named
// in the base contract: writes go to a bucket named after the job
// type (via jobtype.BucketForJobType) and reads come back as
// time-bounded signed URLs. An R2/S3-compatible backend and a
// filesystem backend cover bucket/file writes; SignedURL additionally
// builds on aws-sdk-go-v2/service/s3's presign client.
package objectstore

import (
	"context"
	"time"
)

// Store is the Object Store contract.
type Store interface {
	// Put writes data to bucket/key and returns a URL usable
	// immediately (a signed URL for the S3 backend, a baseURL-prefixed
	// path for the filesystem backend).
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)

	// SignedURL returns a time-bounded URL for an existing object.
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	// Get fetches the raw bytes of an object. The API Gateway does not
	// call it: S3-backed results are not fetched back from the store
	// when reformatting for an Accept header.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Delete removes a single object.
	Delete(ctx context.Context, bucket, key string) error

	// Prune removes objects in bucket older than olderThan, used by
	// the scheduled pruner (§4.8); must not hold Job Store or broker
	// resources while running.
	Prune(ctx context.Context, bucket string, olderThan time.Duration) error

	Close() error
}
