package worker

import (
	"errors"
	"fmt"
)

// errStreamIdleTimeout is returned by StreamStart when no frame
// arrives within the configured inactivity timeout.
var errStreamIdleTimeout = errors.New("worker: stream idle timeout")

func errUnsupportedStream(jobType string) error {
	return fmt.Errorf("worker: %s does not support streaming", jobType)
}
