// Package engine owns the periodic loops: habit mining, routine edge
// evaluation, and meta-routine discovery. One engine instance runs per
// process; the stores are its only shared resource.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/discovery"
	"github.com/gridhabit/gridhabit/pkg/executor"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/metrics"
	"github.com/gridhabit/gridhabit/pkg/miner"
	"github.com/gridhabit/gridhabit/pkg/routine"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

const (
	defaultMineInterval     = time.Minute
	defaultRunInterval      = 30 * time.Second
	defaultDiscoverInterval = 6 * time.Hour
	defaultLearnInterval    = 24 * time.Hour
)

// Engine wires the miner's trigger stream into the executor and drives all
// periodic work.
type Engine struct {
	miner     *miner.Miner
	runner    *routine.Runner
	discovery *discovery.Discovery
	learner   *routine.Learner
	executor  *executor.Executor

	MineInterval     time.Duration
	RunInterval      time.Duration
	DiscoverInterval time.Duration
	LearnInterval    time.Duration
}

// New assembles the engine from its stores and device interfaces.
func New(db storage.Database, tel storage.Telemetry, commander device.Commander, meta device.Metadata) *Engine {
	exec := executor.New(db, commander, meta)
	m := miner.New(db, tel)
	m.OnTrigger = func(ctx context.Context, userID string, tr types.Transition) {
		metrics.TriggersObserved.Inc()
		exec.HandleTrigger(ctx, userID, tr)
	}
	eval := routine.NewEvaluator(tel)
	return &Engine{
		miner:            m,
		runner:           routine.NewRunner(db, tel, meta, exec),
		discovery:        discovery.New(db, tel, meta, eval),
		learner:          routine.NewLearner(db, eval, nil),
		executor:         exec,
		MineInterval:     defaultMineInterval,
		RunInterval:      defaultRunInterval,
		DiscoverInterval: defaultDiscoverInterval,
		LearnInterval:    defaultLearnInterval,
	}
}

// Executor exposes the shared executor for the HTTP layer (manual tests and
// manual routine runs go through the same guard).
func (e *Engine) Executor() *executor.Executor {
	return e.executor
}

// SetAssistant configures the natural-language command path.
func (e *Engine) SetAssistant(a device.Assistant) {
	e.executor.SetAssistant(a)
}

// Run drives all loops until the context is canceled, then cancels any
// pending delayed actions.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		tick     func(context.Context) error
	}{
		{"miner", e.MineInterval, e.miner.Tick},
		{"runner", e.RunInterval, e.runner.Tick},
		{"discovery", e.DiscoverInterval, e.discovery.Tick},
		{"learner", e.LearnInterval, e.learner.Tick},
	}
	for _, l := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.loop(ctx, l.name, l.interval, l.tick)
		}()
	}
	wg.Wait()
	e.executor.Stop()
	return nil
}

// loop ticks immediately on start and then on every interval. A panicking
// tick is logged and counted, never fatal.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	ctx = log.Component(ctx, name)
	e.tickOnce(ctx, name, tick)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickOnce(ctx, name, tick)
		}
	}
}

func (e *Engine) tickOnce(ctx context.Context, name string, tick func(context.Context) error) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			metrics.TickFailures.WithLabelValues(name).Inc()
			log.Ctx(ctx).ErrorContext(ctx, "engine tick panicked",
				slog.String("loop", name), slog.Any("panic", r))
		}
	}()
	if err := tick(ctx); err != nil {
		metrics.TickFailures.WithLabelValues(name).Inc()
		log.Ctx(ctx).ErrorContext(ctx, "engine tick failed",
			slog.String("loop", name), slog.Any("error", err))
	}
}

// TickAll runs one synchronous round of every loop. Used by tests and the
// seed tool to process data without waiting on timers.
func (e *Engine) TickAll(ctx context.Context) error {
	if err := e.miner.Tick(ctx); err != nil {
		return fmt.Errorf("miner tick: %w", err)
	}
	if err := e.runner.Tick(ctx); err != nil {
		return fmt.Errorf("runner tick: %w", err)
	}
	if err := e.discovery.Tick(ctx); err != nil {
		return fmt.Errorf("discovery tick: %w", err)
	}
	if err := e.learner.Tick(ctx); err != nil {
		return fmt.Errorf("learner tick: %w", err)
	}
	return nil
}
