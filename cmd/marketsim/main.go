package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ndrandal/harvest-exchange/internal/api"
	"github.com/ndrandal/harvest-exchange/internal/archive"
	"github.com/ndrandal/harvest-exchange/internal/config"
	"github.com/ndrandal/harvest-exchange/internal/engine"
	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/metrics"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/persist"
	"github.com/ndrandal/harvest-exchange/internal/position"
	"github.com/ndrandal/harvest-exchange/internal/publish"
	"github.com/ndrandal/harvest-exchange/internal/session"
	"github.com/ndrandal/harvest-exchange/internal/wire"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("harvest exchange starting")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := engine.NewRNG(seed)
	logger.Info("prng seeded", "seed", seed)

	mcfg := cfg.MarketConfig()
	commodities := cfg.CommodityConfigs()
	m := market.New(mcfg, commodities, cfg.NewsLibrary(), rng, logger)
	ledger := position.NewLedger(decimal.NewFromFloat(cfg.Simulation.StartingCash))
	logger.Info("market configured", "commodities", len(commodities), "ticks_per_day", mcfg.TicksPerDay)

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("storage unavailable", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	var snapshotter *persist.Snapshotter
	restored := false
	if store != nil {
		defer store.Close(context.Background())
		snapshotter = persist.NewSnapshotter(store, m, ledger, logger)
		restored, err = snapshotter.Load(ctx)
		if err != nil {
			logger.Warn("failed to load state, starting fresh", "error", err)
		}
	}

	clock := market.NewSimClock(mcfg.TicksPerDay, cfg.Simulation.StartDay)
	if restored {
		clock = market.ResumeClock(mcfg.TicksPerDay, m.Time())
	}

	mgr := session.NewManager(m, cfg.Server.SendBufferSize, logger)
	metrics.ObserveSessions(mgr.ClientCount, mgr.Dropped)

	var pub *publish.RedisPublisher
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		pub = publish.NewRedisPublisher(redis.NewClient(opts), cfg.Storage.QuoteTTL, logger)
		defer pub.Close()
		logger.Info("redis quote publisher enabled", "addr", opts.Addr)
	}

	// Fill persistence worker
	var (
		fillCh chan fillBatch
		wg     sync.WaitGroup
	)
	if snapshotter != nil {
		fillCh = make(chan fillBatch, 1024)
		go fillWriter(ctx, snapshotter, fillCh, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshotter.Run(ctx, cfg.Simulation.SnapshotInterval)
		}()
		go persist.RunRetention(ctx, store, cfg.Storage.RetentionDays, time.Hour, logger)
		logger.Info("started persistence", "backend", cfg.Storage.Backend,
			"snapshot_interval", cfg.Simulation.SnapshotInterval)
	}

	// Fill archiver (opt-in, mongo only)
	if ms, ok := store.(*persist.MongoStore); ok && cfg.Storage.Archive.Dir != "" {
		go archive.New(ms.DB(), cfg.Storage.Archive.Archiver(), logger).Run(ctx)
	}

	loop := &tickLoop{
		clock:  clock,
		market: m,
		ledger: ledger,
		mgr:    mgr,
		pub:    pub,
		fills:  fillCh,
		logger: logger,
	}
	go loop.run(ctx, cfg.Simulation.TickInterval)

	opts := api.Options{
		Ledger:    ledger,
		Broadcast: func(rep market.TickReport) { loop.fanOut(ctx, rep) },
		Clients:   mgr.ClientCount,
		RateRPS:   cfg.Simulation.OrderRate,
		RateBurst: cfg.Simulation.OrderBurst,
		Logger:    logger,
	}
	if store != nil {
		opts.Fills = store
		opts.Sink = snapshotter
	}
	apiServer := api.NewServer(m, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", session.Handler(mgr))
	mux.Handle("/", apiServer.Routes())

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "feed", "ws://"+addr+"/feed", "api", "http://"+addr+"/api")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		cancel()
	}

	wg.Wait()
	logger.Info("harvest exchange stopped")
}

// openStore connects the configured backend. Returns nil for "none".
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (persist.Store, error) {
	var (
		store persist.Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendNone:
		logger.Warn("persistence disabled; state is lost on restart")
		return nil, nil
	case config.BackendMongo:
		store, err = persist.NewMongoStore(ctx, cfg.MongoURI, logger)
	default:
		store, err = persist.OpenSQLite(cfg.SQLitePath, logger)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close(context.Background())
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// fillBatch is one tick's fills sent through the persistence channel.
type fillBatch struct {
	day   int
	fills []orderbook.Fill
}

// fillWriter drains the fill channel and writes to the store.
func fillWriter(ctx context.Context, snap *persist.Snapshotter, ch <-chan fillBatch, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-ch:
			if err := snap.RecordFills(context.Background(), b.day, b.fills); err != nil {
				metrics.StoreErrors.WithLabelValues("save_fills").Inc()
				logger.Error("record fills", "day", b.day, "fills", len(b.fills), "error", err)
			}
		}
	}
}

// tickLoop advances the clock at a fixed wall interval and fans each tick
// report out to the ledger, storage, websocket clients and Redis.
type tickLoop struct {
	clock  *market.SimClock
	market *market.Market
	ledger *position.Ledger
	mgr    *session.Manager
	pub    *publish.RedisPublisher
	fills  chan<- fillBatch
	logger *slog.Logger
}

func (l *tickLoop) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	l.logger.Info("tick loop started", "interval", interval, "at", l.clock.Now().String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.step(ctx)
		}
	}
}

func (l *tickLoop) step(ctx context.Context) {
	start := time.Now()
	rep := l.market.Step(l.clock.Advance())
	if rep.Paused {
		return
	}
	day := rep.Time.AbsoluteDay()

	l.ledger.Apply(rep.Fills)
	for _, d := range rep.Deliveries {
		settled := l.ledger.Settle(d.Symbol, d.Price)
		l.logger.Info("contract delivered", "symbol", d.Symbol, "price", d.Price,
			"positions", len(settled), "cancelled_orders", len(d.Cancelled))
	}

	if l.fills != nil && len(rep.Fills) > 0 {
		// drop rather than block the ticker when storage falls behind
		select {
		case l.fills <- fillBatch{day: day, fills: rep.Fills}:
		default:
			metrics.StoreErrors.WithLabelValues("fills_dropped").Inc()
			l.logger.Warn("fill buffer full, dropping", "fills", len(rep.Fills))
		}
	}

	l.fanOut(ctx, rep)
	metrics.ObserveTick(rep, time.Since(start))
}

// fanOut streams a report to websocket clients and Redis. API order fills
// come through here too, between ticks.
func (l *tickLoop) fanOut(ctx context.Context, rep market.TickReport) {
	l.mgr.Publish(wire.FromReport(rep))

	if l.pub != nil {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := l.pub.Publish(pctx, rep); err != nil {
			metrics.StoreErrors.WithLabelValues("redis_publish").Inc()
			l.logger.Debug("redis publish", "error", err)
		}
	}
}
