package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openctemio/invitations/internal/config"
	"github.com/openctemio/invitations/internal/infra/controller"
	"github.com/openctemio/invitations/internal/infra/jobs"
	"github.com/openctemio/invitations/internal/infra/scheduler"
	"github.com/openctemio/invitations/pkg/logger"
)

// retentionJob is the scheduler entry name of the nightly cleanup.
const retentionJob = "invitation-retention"

// Workers holds all background worker instances.
type Workers struct {
	JobWorker         *jobs.Worker
	ControllerManager *controller.Manager
	Scheduler         *scheduler.Scheduler
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Services *Services
}

// NewWorkers initializes all background workers.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log
	svc := deps.Services

	w := &Workers{}

	if cfg.Worker.Enabled {
		var err error
		w.JobWorker, err = jobs.NewWorker(jobs.WorkerConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Concurrency:   cfg.Worker.Concurrency,
			RetryBase:     cfg.Worker.RetryBase,
			RetryMax:      cfg.Worker.RetryMax,
		}, svc.Email, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create job worker: %w", err)
		}
	} else {
		log.Warn("job worker disabled, queued emails will wait for another instance")
	}

	w.ControllerManager = controller.NewManager(controller.ManagerConfig{
		Metrics: controller.NewPrometheusMetrics(prometheus.DefaultRegisterer),
		Logger:  log,
	})
	expiry := controller.NewInvitationExpiryController(svc.Invitation, controller.InvitationExpiryControllerConfig{
		Interval:  cfg.Invitation.SweepInterval,
		BatchSize: cfg.Invitation.SweepBatchSize,
		Logger:    log,
	})
	if err := w.ControllerManager.Register(expiry); err != nil {
		return nil, fmt.Errorf("failed to register expiry controller: %w", err)
	}

	w.Scheduler = scheduler.New(log)
	if err := w.Scheduler.Add(retentionJob, cfg.Invitation.RetentionCron, func(ctx context.Context) error {
		_, err := svc.Retention.Cleanup(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule retention: %w", err)
	}

	return w, nil
}

// Start starts all workers.
func (w *Workers) Start(ctx context.Context, log *logger.Logger) error {
	if w.JobWorker != nil {
		if err := w.JobWorker.Start(); err != nil {
			return fmt.Errorf("failed to start job worker: %w", err)
		}
		log.Info("job worker started")
	}

	if err := w.ControllerManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controllers: %w", err)
	}

	w.Scheduler.Start()
	if next, ok := w.Scheduler.Next(retentionJob); ok {
		log.Info("retention scheduled", "next_run", next)
	}
	return nil
}

// Stop stops all workers. Running jobs get until ctx is done.
func (w *Workers) Stop(ctx context.Context, log *logger.Logger) {
	if err := w.Scheduler.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler did not stop cleanly", "error", err)
	}
	w.ControllerManager.Stop()
	if w.JobWorker != nil {
		w.JobWorker.Stop()
	}
}
