package memory

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/ragkb/internal/logger"
	"github.com/dshills/ragkb/pkg/types"
)

// Level is the pressure state derived from the usage ratio.
type Level int

const (
	Normal Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// Probe reports current heap usage and the ceiling it is measured against.
type Probe func() (used, limit uint64)

// defaultHeapCeiling applies when neither a max heap nor a Go memory limit
// is configured.
const defaultHeapCeiling = 1 << 30

// RuntimeProbe measures the live heap against maxHeap. When maxHeap is zero
// the Go soft memory limit is used, if one is set.
func RuntimeProbe(maxHeap uint64) Probe {
	return func() (uint64, uint64) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		limit := maxHeap
		if limit == 0 {
			if soft := debug.SetMemoryLimit(-1); soft > 0 && soft < math.MaxInt64 {
				limit = uint64(soft)
			} else {
				limit = defaultHeapCeiling
			}
		}
		return ms.HeapAlloc, limit
	}
}

// Config holds governor thresholds and timings.
type Config struct {
	WarningThreshold  float64       // usage ratio at which reclamation is requested
	CriticalThreshold float64       // usage ratio at which work blocks
	MaxHeapBytes      uint64        // 0 = Go memory limit or 1 GiB
	BudgetBytes       int64         // in-flight chunk buffer budget, 0 = unlimited
	MaxWait           time.Duration // how long Checkpoint waits under critical pressure
	PollInterval      time.Duration
}

// DefaultConfig returns the default thresholds: warning at 75%, critical
// at 90%, waiting up to 30s.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:  0.75,
		CriticalThreshold: 0.90,
		BudgetBytes:       64 << 20,
		MaxWait:           30 * time.Second,
		PollInterval:      500 * time.Millisecond,
	}
}

// Governor classifies memory pressure and gates work at checkpoints. It is
// safe for concurrent use.
type Governor struct {
	cfg     Config
	probe   Probe
	reclaim func()
	budget  *semaphore.Weighted
	log     logger.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithProbe replaces the runtime probe.
func WithProbe(p Probe) Option {
	return func(g *Governor) { g.probe = p }
}

// WithReclaim replaces the reclamation routine.
func WithReclaim(fn func()) Option {
	return func(g *Governor) { g.reclaim = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Governor) { g.log = l }
}

// New creates a Governor.
func New(cfg Config, opts ...Option) *Governor {
	def := DefaultConfig()
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = def.WarningThreshold
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = def.CriticalThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	g := &Governor{
		cfg:     cfg,
		probe:   RuntimeProbe(cfg.MaxHeapBytes),
		reclaim: debug.FreeOSMemory,
		log:     logger.Discard(),
	}
	if cfg.BudgetBytes > 0 {
		g.budget = semaphore.NewWeighted(cfg.BudgetBytes)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// UsageRatio returns used/limit.
func (g *Governor) UsageRatio() float64 {
	used, limit := g.probe()
	if limit == 0 {
		return 0
	}
	return float64(used) / float64(limit)
}

// Level classifies the current usage ratio.
func (g *Governor) Level() Level {
	ratio := g.UsageRatio()
	switch {
	case ratio >= g.cfg.CriticalThreshold:
		return Critical
	case ratio >= g.cfg.WarningThreshold:
		return Warning
	default:
		return Normal
	}
}

// IsUnderPressure reports whether the usage ratio is at or above threshold.
func (g *Governor) IsUnderPressure(threshold float64) bool {
	return g.UsageRatio() >= threshold
}

// TryReclaim asks the runtime to return freed memory.
func (g *Governor) TryReclaim() {
	g.reclaim()
}

// WaitForRelease polls until usage drops below threshold. It returns false
// if maxWait elapses or ctx is cancelled first.
func (g *Governor) WaitForRelease(ctx context.Context, threshold float64, maxWait, pollInterval time.Duration) bool {
	if !g.IsUnderPressure(threshold) {
		return true
	}
	if pollInterval <= 0 {
		pollInterval = g.cfg.PollInterval
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !g.IsUnderPressure(threshold)
		case <-ticker.C:
			g.TryReclaim()
			if !g.IsUnderPressure(threshold) {
				return true
			}
		}
	}
}

// Checkpoint gates work before a file or a batch. Warning pressure
// triggers reclamation; critical pressure blocks for up to MaxWait and
// fails with ErrMemoryPressure if usage never drops below critical.
func (g *Governor) Checkpoint(ctx context.Context) error {
	switch level := g.Level(); level {
	case Normal:
		return nil
	case Warning:
		g.log.Debug("memory warning, reclaiming", "ratio", g.UsageRatio())
		g.TryReclaim()
		return nil
	default:
		g.log.Warn("memory critical, waiting for release", "ratio", g.UsageRatio(), "max_wait", g.cfg.MaxWait)
		g.TryReclaim()
		if g.WaitForRelease(ctx, g.cfg.CriticalThreshold, g.cfg.MaxWait, g.cfg.PollInterval) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("usage %.2f above critical %.2f after %s: %w",
			g.UsageRatio(), g.cfg.CriticalThreshold, g.cfg.MaxWait, types.ErrMemoryPressure)
	}
}

// Reserve accounts n bytes of in-flight buffers against the budget,
// blocking until enough is released. The returned func releases the
// reservation and is safe to call more than once. A request larger than
// the whole budget can never succeed and fails with ErrOutOfMemory.
func (g *Governor) Reserve(ctx context.Context, n int64) (func(), error) {
	if g.budget == nil || n <= 0 {
		return func() {}, nil
	}
	if n > g.cfg.BudgetBytes {
		return nil, fmt.Errorf("reservation of %d bytes exceeds budget of %d bytes: %w",
			n, g.cfg.BudgetBytes, types.ErrOutOfMemory)
	}
	if err := g.budget.Acquire(ctx, n); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.budget.Release(n) })
	}, nil
}
