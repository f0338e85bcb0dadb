package controller

import (
	"context"
	"time"

	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/logger"
)

// OverdueExpirer expires pending invitations whose expiry has passed.
// *app.InvitationService implements it.
type OverdueExpirer interface {
	ExpireOverdue(ctx context.Context, batchSize int) (int, error)
}

// InvitationExpiryControllerConfig configures the InvitationExpiryController.
type InvitationExpiryControllerConfig struct {
	// Interval between sweeps. Default: 5 minutes.
	Interval time.Duration

	// BatchSize caps how many invitations one sweep expires. Default: 500.
	BatchSize int

	// MaxBatches caps how many full batches one reconcile drains before
	// yielding to the next tick. Default: 10.
	MaxBatches int

	Logger *logger.Logger
}

// InvitationExpiryController moves pending invitations past their expiry
// to the expired state, so stale invitations stop showing as pending even
// when nobody ever opens the link.
type InvitationExpiryController struct {
	expirer OverdueExpirer
	config  InvitationExpiryControllerConfig
	logger  *logger.Logger
}

// NewInvitationExpiryController creates a new InvitationExpiryController.
func NewInvitationExpiryController(expirer OverdueExpirer, cfg InvitationExpiryControllerConfig) *InvitationExpiryController {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	return &InvitationExpiryController{
		expirer: expirer,
		config:  cfg,
		logger:  cfg.Logger.With("controller", "invitation-expiry"),
	}
}

// Name returns the controller name.
func (c *InvitationExpiryController) Name() string {
	return "invitation-expiry"
}

// Interval returns the sweep interval.
func (c *InvitationExpiryController) Interval() time.Duration {
	return c.config.Interval
}

// Reconcile expires overdue invitations batch by batch until a short batch
// comes back or MaxBatches is reached.
func (c *InvitationExpiryController) Reconcile(ctx context.Context) (int, error) {
	total := 0
	for i := 0; i < c.config.MaxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := c.expirer.ExpireOverdue(ctx, c.config.BatchSize)
		total += n
		metrics.ExpiredBySweep.Add(float64(n))
		if err != nil {
			return total, err
		}
		if n < c.config.BatchSize {
			break
		}
	}

	if total > 0 {
		c.logger.Info("expired overdue invitations", "count", total)
	}
	return total, nil
}
