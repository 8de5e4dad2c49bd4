// Package app wires the engine together: chain clients, finality tracking,
// block monitors, the quality pipeline, windowing, aggregation, sinks, and
// the ops server.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/aggregate"
	"github.com/stablewatch/stablewatch/internal/chainrpc"
	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/emit"
	"github.com/stablewatch/stablewatch/internal/finality"
	"github.com/stablewatch/stablewatch/internal/httpapi"
	"github.com/stablewatch/stablewatch/internal/monitor"
	"github.com/stablewatch/stablewatch/internal/quality"
	"github.com/stablewatch/stablewatch/internal/registry"
	"github.com/stablewatch/stablewatch/internal/reorg"
	"github.com/stablewatch/stablewatch/internal/schema"
	"github.com/stablewatch/stablewatch/internal/sources"
	"github.com/stablewatch/stablewatch/internal/tcs"
	"github.com/stablewatch/stablewatch/internal/window"
)

// Options narrows the configured universe and selects the run mode.
type Options struct {
	Coins    []string
	Chains   []string
	Duration time.Duration
	Simulate bool
	Out      string
}

// App is the assembled engine.
type App struct {
	cfg  *config.Config
	opts Options

	clients   map[string]chainrpc.Client
	sims      map[string]*chainrpc.SimClient
	finality  *finality.Registry
	monitors  map[string]*monitor.Monitor
	reorgs    *reorg.Handler
	reorgLog  *reorg.Log
	pipeline  *quality.Pipeline
	executor  *quality.Executor
	calc      *tcs.Calculator
	windows   *window.Manager
	coins     *registry.Registry
	sinks     *emit.Multi
	server    *httpapi.Server
	pollers   []*sources.Poller
}

// New assembles the engine from configuration. The returned app owns every
// component and closes them on shutdown.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		cfg:      cfg,
		opts:     opts,
		clients:  make(map[string]chainrpc.Client),
		sims:     make(map[string]*chainrpc.SimClient),
		monitors: make(map[string]*monitor.Monitor),
	}

	chains, err := a.selectChains()
	if err != nil {
		return nil, err
	}
	coins, err := a.selectCoins()
	if err != nil {
		return nil, err
	}

	reorgLog, err := reorg.NewLog(cfg.Emit.ReorgLogDir)
	if err != nil {
		return nil, err
	}
	a.reorgLog = reorgLog
	a.reorgs = reorg.NewHandler(reorgLog)

	a.finality = finality.NewRegistry()
	for _, name := range chains {
		profile := cfg.Chains[name]
		client, err := a.buildClient(profile)
		if err != nil {
			return nil, err
		}
		a.clients[name] = client
		a.finality.Register(name, finality.NewTracker(profile, client))
		a.monitors[name] = monitor.New(profile, client, a.reorgs, nil)
	}

	a.pipeline = quality.NewPipeline(cfg.Quality)
	a.executor = quality.NewExecutor(cfg.Quality)
	a.calc = tcs.NewCalculator(cfg.TCS)
	a.coins = registry.New(cfg.Coins)

	a.sinks = emit.NewMulti()
	out := cfg.Emit.SnapshotPath
	if opts.Out != "" {
		out = opts.Out
	}
	fileSink, err := emit.NewFileSink(out)
	if err != nil {
		return nil, err
	}
	a.sinks.Add(fileSink)
	if cfg.Emit.RedisAddr != "" {
		redisSink := emit.NewRedisSink(cfg.Emit.RedisAddr, cfg.Emit.RedisStream)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisSink.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn().Str("addr", cfg.Emit.RedisAddr).Err(err).
				Msg("redis unreachable, stream sink disabled")
		} else {
			a.sinks.Add(redisSink)
		}
	}
	a.sinks.Add(emit.FuncSink(a.coins.Observe))

	aggregator := aggregate.New(cfg, a.calc)
	a.windows = window.NewManager(cfg.Window, a.finality, aggregator, a.onSnapshot)
	a.windows.OnEvict(a.releaseEvicted)
	for _, m := range a.monitors {
		m.OnCorrections(a.routeCorrections)
	}

	a.server = httpapi.NewServer(cfg.HTTPListenAddr, a.monitors, a.reorgs, a.windows, a.coins)
	a.sinks.Add(emit.FuncSink(a.server.Broadcast))

	a.buildPollers(coins, chains)

	log.Info().Strs("coins", coins).Strs("chains", chains).
		Bool("simulate", opts.Simulate).Msg("engine assembled")
	return a, nil
}

func (a *App) selectChains() ([]string, error) {
	if len(a.opts.Chains) == 0 {
		out := make([]string, 0, len(a.cfg.Chains))
		for name := range a.cfg.Chains {
			out = append(out, name)
		}
		return out, nil
	}
	for _, name := range a.opts.Chains {
		if a.cfg.Chain(name) == nil {
			return nil, fmt.Errorf("unknown chain %q", name)
		}
	}
	return a.opts.Chains, nil
}

func (a *App) selectCoins() ([]string, error) {
	if len(a.opts.Coins) == 0 {
		out := make([]string, 0, len(a.cfg.Coins))
		for symbol := range a.cfg.Coins {
			out = append(out, symbol)
		}
		return out, nil
	}
	for _, symbol := range a.opts.Coins {
		if a.cfg.Coin(symbol) == nil {
			return nil, fmt.Errorf("unknown coin %q", symbol)
		}
	}
	return a.opts.Coins, nil
}

func (a *App) buildClient(profile *config.ChainProfile) (chainrpc.Client, error) {
	if a.opts.Simulate {
		sim := chainrpc.NewSimClient(profile.Name, 1_000_000)
		a.sims[profile.Name] = sim
		return sim, nil
	}
	return chainrpc.NewFromProfile(profile, time.Duration(a.cfg.RPCTimeoutSec)*time.Second)
}

// buildPollers creates the five source pollers over the coin/chain targets.
// Price, liquidity and supply anchor to the chain head; volatility and
// sentiment are off-chain.
func (a *App) buildPollers(coins, chains []string) {
	for _, chain := range chains {
		client := a.clients[chain]

		var targets []sources.Target
		for _, coin := range coins {
			profile := a.cfg.Coin(coin)
			if profile == nil || !contains(profile.Chains, chain) {
				continue
			}
			targets = append(targets, sources.Target{Coin: coin, Chain: chain})
		}
		if len(targets) == 0 {
			continue
		}

		seed := time.Now().UnixNano()
		chainSources := []sources.Source{
			sources.NewPriceSource("oracle_"+chain, client, seed),
			sources.NewLiquiditySource("dex_"+chain, client, seed+1),
			sources.NewSupplySource("scan_"+chain, client, seed+2),
			sources.NewVolatilitySource("market_"+chain, seed+3),
			sources.NewSentimentSource("social_"+chain, seed+4),
		}
		for _, src := range chainSources {
			a.pollers = append(a.pollers,
				sources.NewPoller(src, targets, a.cfg.Sources, a.executor, a.ingest))
		}
	}
}

// ingest is the hot path from sources into the engine: quality screening,
// per-event confidence, window routing, monitor registration.
func (a *App) ingest(batch []*schema.RiskEvent) {
	for _, event := range a.pipeline.Process(batch) {
		a.calc.Update(event)
		if !a.windows.Add(event) {
			continue
		}
		if m, ok := a.monitors[event.Chain]; ok {
			m.Register(event)
		}
	}
}

// routeCorrections feeds reorg corrections back into the live pipeline:
// confidence scoring, window routing, monitor re-registration. Corrections
// are already normalized, so the quality stages are skipped.
func (a *App) routeCorrections(corrections []*schema.RiskEvent) {
	for _, event := range corrections {
		a.calc.Update(event)
		if !a.windows.Add(event) {
			continue
		}
		if m, ok := a.monitors[event.Chain]; ok {
			m.Register(event)
		}
	}
}

// releaseEvicted drops janitor-evicted events from the monitors so the
// registered set does not outlive its windows.
func (a *App) releaseEvicted(events []*schema.RiskEvent) {
	for _, event := range events {
		if m, ok := a.monitors[event.Chain]; ok {
			m.Unregister(event.EventID)
		}
	}
}

func (a *App) onSnapshot(snapshot *schema.AggregatedRiskSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sinks.Emit(ctx, snapshot); err != nil {
		log.Error().Err(err).Msg("snapshot emission failed")
	}
	log.Info().Str("coin", snapshot.Coin).Str("window_id", snapshot.WindowID).
		Float64("tcs", snapshot.TemporalConfidence).
		Bool("depegged", snapshot.IsDepegged).Msg("snapshot emitted")
}

// Run starts every loop and blocks until shutdown: context cancellation or
// the configured duration, whichever first.
func (a *App) Run(ctx context.Context) error {
	if a.opts.Duration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, a.opts.Duration)
		defer timeoutCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	for _, m := range a.monitors {
		wg.Add(1)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			m.Run(ctx)
		}(m)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.windows.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sources.RunAll(ctx, a.pollers)
	}()

	if a.opts.Simulate {
		for name, sim := range a.sims {
			wg.Add(1)
			go func(name string, sim *chainrpc.SimClient) {
				defer wg.Done()
				a.driveSimChain(ctx, name, sim)
			}(name, sim)
		}
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = <-serverErr
	case runErr = <-serverErr:
		cancel()
	}

	wg.Wait()
	if closeErr := a.Close(); runErr == nil {
		runErr = closeErr
	}
	return runErr
}

// MonitorStats returns the per-chain monitor counters, keyed by chain.
func (a *App) MonitorStats() map[string]monitor.Stats {
	out := make(map[string]monitor.Stats, len(a.monitors))
	for chain, m := range a.monitors {
		out[chain] = m.Stats()
	}
	return out
}

// RunMonitorsOnly runs the block monitors without the aggregation
// pipeline, for endpoint and reorg-detection verification.
func (a *App) RunMonitorsOnly(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, m := range a.monitors {
		wg.Add(1)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			m.Run(ctx)
		}(m)
	}
	if a.opts.Simulate {
		for name, sim := range a.sims {
			wg.Add(1)
			go func(name string, sim *chainrpc.SimClient) {
				defer wg.Done()
				a.driveSimChain(ctx, name, sim)
			}(name, sim)
		}
	}
	wg.Wait()
	return a.Close()
}

// driveSimChain advances a simulated chain at its block cadence and injects
// reorgs per the profile's reorg probability.
func (a *App) driveSimChain(ctx context.Context, name string, sim *chainrpc.SimClient) {
	profile := a.cfg.Chain(name)
	interval := time.Duration(profile.BlockTimeMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sim.Advance(1)
			if rng.Float64() < profile.ReorgProbability {
				head, _ := sim.Height(ctx)
				depth := uint64(rng.Intn(3) + 1)
				if head > depth {
					sim.Reorg(head - depth)
					log.Info().Str("chain", name).Uint64("from", head-depth).
						Msg("simulated reorg injected")
				}
			}
		}
	}
}

// Close releases sinks and logs.
func (a *App) Close() error {
	var firstErr error
	if err := a.sinks.Close(); err != nil {
		firstErr = err
	}
	if err := a.reorgLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
