package app

import (
	"context"

	"github.com/openctemio/invitations/pkg/logger"
)

// bestEffort runs a side effect whose failure must not affect the caller.
// Errors are logged and dropped.
func bestEffort(ctx context.Context, log *logger.Logger, op string, fn func() error) {
	if err := fn(); err != nil {
		log.WithContext(ctx).Error("best-effort operation failed", "op", op, "error", err)
	}
}
