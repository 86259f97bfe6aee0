// Package engine runs the timestep loop: fetch market data, let strategies
// decide, execute, and publish results. It owns run lifecycle and the final
// summary; all heavy lifting is delegated to the wired components.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/loopbot/internal/cascade"
	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/executor"
	"github.com/alanyoungcy/loopbot/internal/resultq"
	"github.com/alanyoungcy/loopbot/internal/strategy"
)

// TimestepResult is the queue payload published after each timestep.
type TimestepResult struct {
	Timestamp      time.Time
	Orders         int
	StepsApplied   int
	StepsSkipped   int
	StepsRolled    int
	TotalValuation float64
	RiskLevel      domain.RiskLevel
	PnLCumulative  float64
	Degraded       bool
}

// FinalSummary is the queue payload published once when the run ends.
type FinalSummary struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Timesteps      int
	OrdersExecuted int
	FinalValuation float64
	PnLCumulative  float64
	FinalRiskLevel domain.RiskLevel
}

// Engine drives one run. Construct with New, then call RunBacktest or
// RunLive exactly once.
type Engine struct {
	runID       string
	provider    domain.MarketDataProvider
	strategies  []strategy.Strategy
	coordinator *executor.Coordinator
	cascade     *cascade.Controller
	queue       *resultq.Queue
	logger      *slog.Logger

	timesteps int
	executed  int
	startedAt time.Time
	lastCas   *domain.CascadeResult
}

func New(
	runID string,
	provider domain.MarketDataProvider,
	strategies []strategy.Strategy,
	coordinator *executor.Coordinator,
	casc *cascade.Controller,
	queue *resultq.Queue,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		runID:       runID,
		provider:    provider,
		strategies:  strategies,
		coordinator: coordinator,
		cascade:     casc,
		queue:       queue,
		logger:      logger.With(slog.String("component", "engine"), slog.String("run_id", runID)),
	}
}

// RunBacktest iterates the given timestamps in order. Cancellation is
// cooperative: it is checked once per timestep, so the timestep in flight
// always completes and the final summary is still published.
func (e *Engine) RunBacktest(ctx context.Context, timestamps []time.Time) error {
	e.startedAt = time.Now().UTC()
	if err := e.initStrategies(ctx); err != nil {
		return err
	}
	defer e.closeStrategies()

	for _, ts := range timestamps {
		if ctx.Err() != nil {
			e.logger.Info("backtest canceled", slog.Int("completed_timesteps", e.timesteps))
			break
		}
		if err := e.step(ctx, ts); err != nil {
			e.finish(ts)
			return err
		}
	}

	last := e.startedAt
	if n := len(timestamps); n > 0 {
		last = timestamps[n-1]
	}
	e.finish(last)
	return nil
}

// RunLive steps on a wall-clock ticker until the context is canceled.
func (e *Engine) RunLive(ctx context.Context, interval time.Duration) error {
	e.startedAt = time.Now().UTC()
	if err := e.initStrategies(ctx); err != nil {
		return err
	}
	defer e.closeStrategies()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("live run stopping", slog.Int("completed_timesteps", e.timesteps))
			e.finish(time.Now().UTC())
			return nil
		case now := <-ticker.C:
			if err := e.step(ctx, now.UTC().Truncate(time.Second)); err != nil {
				e.finish(now.UTC())
				return err
			}
		}
	}
}

// step runs one full timestep. A timestamp with no aligned market data is
// skipped with a warning; any other error is fatal to the run.
func (e *Engine) step(ctx context.Context, ts time.Time) error {
	md, err := e.provider.Snapshot(ctx, ts)
	if err != nil {
		if errors.Is(err, domain.ErrNoMarketData) {
			e.logger.Warn("no market data, skipping timestep", slog.Time("ts", ts))
			return nil
		}
		return fmt.Errorf("engine: market data at %s: %w", ts.Format(time.RFC3339), err)
	}

	exp := e.cascade.LastExposure()
	rsk := e.cascade.LastRisk()

	var orders []domain.Order
	for _, s := range e.strategies {
		generated, err := s.GenerateOrders(ctx, ts, exp, rsk, md)
		if err != nil {
			return fmt.Errorf("engine: strategy %s: %w", s.Name(), err)
		}
		orders = append(orders, generated...)
	}

	result := TimestepResult{Timestamp: ts, Orders: len(orders)}
	if len(orders) > 0 {
		report, err := e.coordinator.Execute(ctx, orders, md, ts)
		if err != nil {
			return fmt.Errorf("engine: execute at %s: %w", ts.Format(time.RFC3339), err)
		}
		for _, step := range report.Steps {
			switch step.State {
			case executor.StepApplied:
				result.StepsApplied++
			case executor.StepSkipped:
				result.StepsSkipped++
			case executor.StepRolledBack:
				result.StepsRolled++
			}
		}
		e.executed += result.StepsApplied
		if n := len(report.Cascades); n > 0 {
			last := report.Cascades[n-1]
			e.lastCas = &last
		}
	}

	if e.lastCas != nil {
		result.TotalValuation = e.lastCas.Exposure.TotalValuation
		result.RiskLevel = e.lastCas.Risk.Level
		result.PnLCumulative = e.lastCas.PnL.BalanceBased.PnLCumulative
		result.Degraded = e.lastCas.RiskErr != "" || e.lastCas.PnLErr != ""
	}

	e.timesteps++
	if _, err := e.queue.Enqueue(domain.ResultTimestep, result); err != nil {
		e.logger.Warn("timestep result dropped", slog.String("error", err.Error()))
	}
	return nil
}

// finish publishes the final summary. The queue stays open; the caller
// closes it once the summary is enqueued so the consumer can drain.
func (e *Engine) finish(lastTS time.Time) {
	summary := FinalSummary{
		RunID:          e.runID,
		StartedAt:      e.startedAt,
		FinishedAt:     time.Now().UTC(),
		Timesteps:      e.timesteps,
		OrdersExecuted: e.executed,
	}
	if e.lastCas != nil {
		summary.FinalValuation = e.lastCas.Exposure.TotalValuation
		summary.PnLCumulative = e.lastCas.PnL.BalanceBased.PnLCumulative
		summary.FinalRiskLevel = e.lastCas.Risk.Level
	}
	if _, err := e.queue.Enqueue(domain.ResultFinal, summary); err != nil {
		e.logger.Error("final summary dropped", slog.String("error", err.Error()))
	}
	e.logger.Info("run finished",
		slog.Time("last_timestep", lastTS),
		slog.Int("timesteps", summary.Timesteps),
		slog.Int("orders_executed", summary.OrdersExecuted),
		slog.Float64("pnl_cumulative", summary.PnLCumulative),
	)
}

func (e *Engine) initStrategies(ctx context.Context) error {
	for _, s := range e.strategies {
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("engine: init strategy %s: %w", s.Name(), err)
		}
	}
	return nil
}

func (e *Engine) closeStrategies() {
	for _, s := range e.strategies {
		if err := s.Close(); err != nil {
			e.logger.Warn("strategy close failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}
