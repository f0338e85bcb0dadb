package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SamplingConfig configures log sampling.
type SamplingConfig struct {
	Enabled bool

	// Tick is the window after which counters reset.
	Tick time.Duration

	// Threshold is how many identical records pass per tick before sampling.
	Threshold uint64

	// Every is the keep ratio after the threshold: 1 in Every records pass.
	Every uint64

	// NeverSample lists message prefixes that always pass.
	NeverSample []string
}

// DefaultSamplingConfig returns the production sampling settings.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Enabled:     true,
		Tick:        time.Second,
		Threshold:   50,
		Every:       10,
		NeverSample: []string{"audit:", "security:"},
	}
}

// LogsDropped counts records dropped by sampling, labelled by level.
var LogsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "invitations",
		Subsystem: "logger",
		Name:      "logs_dropped_total",
		Help:      "Total number of log records dropped by sampling",
	},
	[]string{"level"},
)

type samplingState struct {
	mu        sync.Mutex
	counts    map[string]uint64
	lastReset atomic.Int64
}

type samplingHandler struct {
	handler slog.Handler
	config  SamplingConfig
	state   *samplingState
}

// NewSamplingHandler wraps h so that records with the same level and message
// are thinned out once they exceed the per-tick threshold. Errors always pass.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Every == 0 {
		cfg.Every = 1
	}
	st := &samplingState{counts: make(map[string]uint64)}
	st.lastReset.Store(time.Now().UnixNano())
	return &samplingHandler{handler: h, config: cfg, state: st}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError || h.neverSample(r.Message) {
		return h.handler.Handle(ctx, r)
	}

	count := h.state.increment(r.Level.String()+":"+r.Message, h.config.Tick)
	if count <= h.config.Threshold || (count-h.config.Threshold)%h.config.Every == 0 {
		return h.handler.Handle(ctx, r)
	}

	LogsDropped.WithLabelValues(strings.ToLower(r.Level.String())).Inc()
	return nil
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{handler: h.handler.WithAttrs(attrs), config: h.config, state: h.state}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{handler: h.handler.WithGroup(name), config: h.config, state: h.state}
}

func (h *samplingHandler) neverSample(msg string) bool {
	for _, prefix := range h.config.NeverSample {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func (s *samplingState) increment(key string, tick time.Duration) uint64 {
	now := time.Now().UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now-s.lastReset.Load() >= tick.Nanoseconds() {
		clear(s.counts)
		s.lastReset.Store(now)
	}
	s.counts[key]++
	return s.counts[key]
}
