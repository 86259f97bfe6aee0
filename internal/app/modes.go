package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/loopbot/internal/cascade"
	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/engine"
	"github.com/alanyoungcy/loopbot/internal/executor"
	"github.com/alanyoungcy/loopbot/internal/exposure"
	"github.com/alanyoungcy/loopbot/internal/ledger"
	"github.com/alanyoungcy/loopbot/internal/marketdata"
	"github.com/alanyoungcy/loopbot/internal/pnl"
	"github.com/alanyoungcy/loopbot/internal/resultq"
	"github.com/alanyoungcy/loopbot/internal/risk"
	"github.com/alanyoungcy/loopbot/internal/strategy"
	"github.com/alanyoungcy/loopbot/internal/venue"
)

// runLockTTL bounds how long a crashed live instance keeps other instances
// out.
const runLockTTL = 5 * time.Minute

// core bundles the decision-and-execution components shared by both modes.
type core struct {
	runID  string
	led    *ledger.Ledger
	sims   map[string]*venue.Simulator
	source *venue.Group
	casc   *cascade.Controller
	coord  *executor.Coordinator
	strats []strategy.Strategy
	queue  *resultq.Queue
	eng    *engine.Engine
}

// BacktestMode replays the configured market data series against simulated
// venues and writes results to the local JSONL file (plus S3 when enabled).
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode",
		slog.String("data_path", a.cfg.Engine.DataPath),
	)

	series, err := marketdata.LoadSeries(a.cfg.Engine.DataPath)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}
	provider := marketdata.NewStaticProvider(series)

	fileSink, err := resultq.NewFileSink(a.cfg.Engine.ResultsPath)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}
	defer fileSink.Close()

	sink := resultq.MultiSink{fileSink}
	if deps.Archiver != nil {
		sink = append(sink, resultq.NewArchiveSink(deps.Archiver, a.logger))
	}

	c, err := a.buildCore(provider, sink, nil, false)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The consumer stops only when the engine closes the queue, so the
		// final summary enqueued after cancellation is still delivered.
		c.queue.Run()
		return nil
	})
	g.Go(func() error {
		defer c.queue.Close()
		return c.eng.RunBacktest(gctx, provider.Timestamps())
	})
	return g.Wait()
}

// LiveMode runs the wall-clock timestep loop against the shared cache and
// durable stores. The distributed lock guarantees a single instance.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.Duration("interval", a.cfg.Engine.Interval.Duration),
	)

	unlock, err := deps.LockManager.Acquire(ctx, "engine", runLockTTL)
	if err != nil {
		return fmt.Errorf("live mode: acquire run lock: %w", err)
	}
	defer unlock()

	var provider domain.MarketDataProvider
	if a.cfg.Engine.DataPath != "" {
		series, err := marketdata.LoadSeries(a.cfg.Engine.DataPath)
		if err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
		provider = marketdata.NewCachedProvider(marketdata.NewStaticProvider(series), deps.MarketCache)
	} else {
		provider = marketdata.NewCacheOnlyProvider(deps.MarketCache)
	}

	sink := resultq.MultiSink{
		resultq.NewStoreSink(deps.ResultStore),
		newEventStoreSink(deps.EventStore),
	}
	if deps.Archiver != nil {
		sink = append(sink, resultq.NewArchiveSink(deps.Archiver, a.logger))
	}

	c, err := a.buildCore(provider, sink, deps.HandshakeStore, true)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.queue.Run()
		return nil
	})

	// Independent drift sweeps against the venues' own accounting.
	if a.cfg.Engine.ReconcileInterval.Duration > 0 {
		venues := []string{domain.WalletVenue}
		for name := range a.cfg.Venues {
			venues = append(venues, name)
		}
		rec := ledger.NewReconciler(c.led, c.source, venues, a.logger)
		g.Go(func() error {
			err := rec.Run(gctx, a.cfg.Engine.ReconcileInterval.Duration)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		defer c.queue.Close()
		return c.eng.RunLive(gctx, a.cfg.Engine.Interval.Duration)
	})
	return g.Wait()
}

// buildCore assembles the ledger, venues, cascade, coordinator, strategies,
// queue, and engine from configuration.
func (a *App) buildCore(provider domain.MarketDataProvider, sink resultq.Sink, handshakes domain.HandshakeStore, live bool) (*core, error) {
	runID := a.cfg.Engine.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	seed := decimal.NewFromFloat(a.cfg.Engine.InitialCapital)
	led := ledger.New(seed, a.cfg.Engine.SeedToken, a.logger)

	sims := make(map[string]*venue.Simulator, len(a.cfg.Venues))
	venues := make(map[string]domain.ExecutionInterface, len(a.cfg.Venues))
	simList := make([]*venue.Simulator, 0, len(a.cfg.Venues))
	for name, vc := range a.cfg.Venues {
		var sim *venue.Simulator
		switch vc.Family {
		case "lending":
			sim = venue.NewLending(name, vc.FeeRate, vc.FeeCurrency)
		case "staking":
			sim = venue.NewStaking(name, vc.FeeRate, vc.FeeCurrency)
		case "perp":
			sim = venue.NewPerp(name, vc.FeeRate, vc.FeeCurrency)
		case "transfer":
			sim = venue.NewTransfer(name, vc.FeeRate, vc.FeeCurrency)
		default:
			return nil, fmt.Errorf("build core: venue %s: unknown family %q", name, vc.Family)
		}
		sims[name] = sim
		venues[name] = sim
		simList = append(simList, sim)
	}
	source := venue.NewGroup(simList...).SeedWallet(a.cfg.Engine.SeedToken, seed)

	maxLeverage := make(map[string]float64, len(a.cfg.Venues))
	liqThresholds := make(map[string]float64, len(a.cfg.Venues))
	for name, vc := range a.cfg.Venues {
		maxLeverage[name] = vc.MaxLeverage
		if vc.LiquidationThreshold > 0 {
			liqThresholds[name] = vc.LiquidationThreshold
		}
	}
	multipliers := make(map[domain.Category]float64, len(a.cfg.Risk.CategoryMultipliers))
	for cat, m := range a.cfg.Risk.CategoryMultipliers {
		multipliers[domain.Category(cat)] = m
	}
	assessor, err := risk.New(risk.Params{
		TargetLTV:             a.cfg.Risk.TargetLTV,
		MaxDrawdown:           a.cfg.Risk.MaxDrawdown,
		VenueMaxLeverage:      maxLeverage,
		LiquidationThresholds: liqThresholds,
		CategoryMultipliers:   multipliers,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build core: %w", err)
	}

	queue := resultq.New(runID, sink, a.logger)
	events := &queueEvents{queue: queue, logger: a.logger}

	valuator := exposure.NewValuator(a.cfg.Engine.ValuationCurrency)
	pnlEngine := pnl.NewEngine(a.cfg.Engine.InitialCapital, a.cfg.Engine.ValuationCurrency, a.logger)
	casc := cascade.New(led, valuator, assessor, pnlEngine, events, a.logger)

	var updater ledger.Updater
	if live {
		updater = ledger.NewLiveUpdater(source, led.Snapshot())
	} else {
		updater = ledger.NewSimulatedUpdater()
	}
	coord := executor.New(runID, led, updater, venues, casc, events, handshakes, a.logger)

	strats, err := a.buildStrategies()
	if err != nil {
		return nil, err
	}

	eng := engine.New(runID, provider, strats, coord, casc, queue, a.logger)
	return &core{
		runID:  runID,
		led:    led,
		sims:   sims,
		source: source,
		casc:   casc,
		coord:  coord,
		strats: strats,
		queue:  queue,
		eng:    eng,
	}, nil
}

// buildStrategies instantiates the configured strategies through the
// registry so unknown names fail loudly at startup.
func (a *App) buildStrategies() ([]strategy.Strategy, error) {
	cfg := strategy.Config{
		Capital:       a.cfg.Engine.InitialCapital,
		TargetLTV:     a.cfg.Strategy.TargetLTV,
		MaxIterations: a.cfg.Strategy.MaxIterations,
		RebalanceBand: a.cfg.Strategy.RebalanceBand,
		DustThreshold: a.cfg.Strategy.DustThreshold,
		LendingVenue:  a.cfg.Strategy.LendingVenue,
		StakingVenue:  a.cfg.Strategy.StakingVenue,
		PerpVenue:     a.cfg.Strategy.PerpVenue,
		BaseToken:     a.cfg.Strategy.BaseToken,
		StakedToken:   a.cfg.Strategy.StakedToken,
		Params:        a.cfg.Strategy.Params,
	}

	reg := strategy.NewRegistry()
	loopCfg := cfg
	loopCfg.Name = "leverage_loop"
	reg.Register("leverage_loop", strategy.NewLeverageLoop(loopCfg, a.logger))
	rebCfg := cfg
	rebCfg.Name = "rebalance"
	reg.Register("rebalance", strategy.NewRebalance(rebCfg, a.logger))

	a.logger.Info("strategies registered",
		slog.Any("available", reg.List()),
		slog.Any("active", a.cfg.Strategy.Active),
	)

	var strats []strategy.Strategy
	for _, name := range a.cfg.Strategy.Active {
		s, err := reg.Get(name)
		if err != nil {
			return nil, fmt.Errorf("build strategies: %w", err)
		}
		strats = append(strats, s)
	}
	if len(strats) == 0 {
		return nil, fmt.Errorf("build strategies: no active strategies configured")
	}
	return strats, nil
}

// queueEvents publishes events onto the result queue, keeping the hot path
// free of I/O.
type queueEvents struct {
	queue  *resultq.Queue
	logger *slog.Logger
}

func (e *queueEvents) Log(_ context.Context, ev domain.Event) {
	if _, err := e.queue.Enqueue(domain.ResultEventLog, ev); err != nil {
		e.logger.Warn("event dropped", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}

// eventStoreSink routes event_log records from the queue into the durable
// event store; other kinds pass through.
type eventStoreSink struct {
	events domain.EventStore
}

func newEventStoreSink(events domain.EventStore) *eventStoreSink {
	return &eventStoreSink{events: events}
}

func (s *eventStoreSink) Handle(ctx context.Context, rec domain.ResultRecord) error {
	if rec.Kind != domain.ResultEventLog {
		return nil
	}
	ev, ok := rec.Payload.(domain.Event)
	if !ok {
		return fmt.Errorf("app: event_log payload has unexpected type %T", rec.Payload)
	}
	return s.events.Append(ctx, rec.RunID, ev)
}
