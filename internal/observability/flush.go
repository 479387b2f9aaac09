package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Flusher holds buffered state that must be persisted before exit, such as
// the on-disk weather cache.
type Flusher interface {
	Flush() error
}

// FlushTelemetry persists each flusher in order and then syncs the logger.
// Call during graceful shutdown after in-flight requests have drained. Flushers
// not yet started when ctx ends are skipped; the logger is always synced.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, flushers ...Flusher) error {
	var errs []error
	for _, f := range flushers {
		if f == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("flush skipped: %w", err))
			break
		}
		if err := f.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
