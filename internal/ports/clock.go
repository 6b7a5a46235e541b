package ports

import (
	"context"
	"time"
)

// Clock abstracts time for components that wait between retries, so tests can
// drive poll cycles without real delays.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Sleep blocks for d or until ctx is canceled, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}
