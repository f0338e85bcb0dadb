// Package controller runs periodic reconciliation loops for background
// maintenance of invitation state.
//
// Each controller runs in its own goroutine on a fixed interval:
//   - InvitationExpiryController: moves overdue pending invitations to expired
//
// A failing controller is logged and retried on its next tick; it never
// stops the others. Reconcile must be idempotent.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openctemio/invitations/pkg/logger"
)

// ErrManagerRunning is returned when the manager is modified or started twice.
var ErrManagerRunning = errors.New("controller manager already running")

// Controller is a single reconciliation loop.
type Controller interface {
	// Name returns the unique name of this controller.
	Name() string

	// Interval returns how often this controller should run.
	Interval() time.Duration

	// Reconcile brings one slice of state in line and returns the number
	// of items it touched.
	Reconcile(ctx context.Context) (int, error)
}

// Metrics collects controller run statistics.
type Metrics interface {
	RecordReconcile(controller string, itemsProcessed int, duration time.Duration, err error)
	SetControllerRunning(controller string, running bool)
	SetLastReconcileTime(controller string, t time.Time)
}

// Manager runs registered controllers in parallel goroutines.
type Manager struct {
	controllers []Controller
	metrics     Metrics
	logger      *logger.Logger
	timeout     time.Duration
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

// ManagerConfig configures the controller manager.
type ManagerConfig struct {
	// Metrics collector (optional)
	Metrics Metrics

	// ReconcileTimeout bounds a single Reconcile call. Zero uses the
	// controller's interval.
	ReconcileTimeout time.Duration

	Logger *logger.Logger
}

// NewManager creates a new controller manager.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	mtr := cfg.Metrics
	if mtr == nil {
		mtr = NoopMetrics{}
	}
	return &Manager{
		metrics: mtr,
		logger:  log.With("component", "controller_manager"),
		timeout: cfg.ReconcileTimeout,
		stopCh:  make(chan struct{}),
	}
}

// Register adds a controller. Controllers cannot be added once started.
func (m *Manager) Register(c Controller) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrManagerRunning
	}
	for _, existing := range m.controllers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("controller %q already registered", c.Name())
		}
	}

	m.controllers = append(m.controllers, c)
	m.logger.Info("controller registered",
		"name", c.Name(),
		"interval", c.Interval().String(),
	)
	return nil
}

// Start launches every registered controller and returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	controllers := append([]Controller(nil), m.controllers...)
	m.mu.Unlock()

	m.logger.Info("starting controller manager", "controller_count", len(controllers))

	for _, c := range controllers {
		m.wg.Add(1)
		go m.runController(ctx, c)
	}
	return nil
}

// Stop signals all controllers and waits for in-flight reconciles to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.logger.Info("stopping controller manager")
	m.wg.Wait()
	m.logger.Info("controller manager stopped")
}

// RunOnce runs a single reconcile of the named controller synchronously.
func (m *Manager) RunOnce(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	var target Controller
	for _, c := range m.controllers {
		if c.Name() == name {
			target = c
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		return 0, fmt.Errorf("controller %q not registered", name)
	}
	return m.reconcileOnce(ctx, target)
}

func (m *Manager) runController(ctx context.Context, c Controller) {
	defer m.wg.Done()

	name := c.Name()
	m.logger.Info("starting controller", "name", name, "interval", c.Interval())
	m.metrics.SetControllerRunning(name, true)
	defer m.metrics.SetControllerRunning(name, false)

	_, _ = m.reconcileOnce(ctx, c)

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("controller stopping (context canceled)", "name", name)
			return
		case <-m.stopCh:
			m.logger.Info("controller stopping (manager stopped)", "name", name)
			return
		case <-ticker.C:
			_, _ = m.reconcileOnce(ctx, c)
		}
	}
}

func (m *Manager) reconcileOnce(ctx context.Context, c Controller) (int, error) {
	name := c.Name()
	timeout := m.timeout
	if timeout <= 0 {
		timeout = c.Interval()
	}

	reconcileCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	count, err := c.Reconcile(reconcileCtx)
	duration := time.Since(start)

	m.metrics.RecordReconcile(name, count, duration, err)
	m.metrics.SetLastReconcileTime(name, time.Now())

	switch {
	case err != nil:
		m.logger.Error("controller reconcile failed",
			"name", name,
			"items_processed", count,
			"duration", duration,
			"error", err,
		)
	case count > 0:
		m.logger.Info("controller reconcile completed",
			"name", name,
			"items_processed", count,
			"duration", duration,
		)
	default:
		m.logger.Debug("controller reconcile completed (no items)",
			"name", name,
			"duration", duration,
		)
	}
	return count, err
}

// IsRunning reports whether the manager has been started.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ControllerNames returns the names of all registered controllers.
func (m *Manager) ControllerNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.controllers))
	for i, c := range m.controllers {
		names[i] = c.Name()
	}
	return names
}
