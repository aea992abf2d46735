package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry runs closers (cache connections, schedulers) and then flushes
// the logger. Call during graceful shutdown after in-flight requests have drained.
// Prometheus is pull-based, so there is nothing to push.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers ...func() error) error {
	var errs []error
	for _, closeFn := range closers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := closeFn(); err != nil {
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
