package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/internal/api"
	"github.com/iBuild-ts/Binance-trading-bot/internal/engine"
	"github.com/iBuild-ts/Binance-trading-bot/internal/events"
	"github.com/iBuild-ts/Binance-trading-bot/internal/ledger"
	"github.com/iBuild-ts/Binance-trading-bot/internal/monitor"
	"github.com/iBuild-ts/Binance-trading-bot/internal/profit"
	"github.com/iBuild-ts/Binance-trading-bot/internal/reconciliation"
	"github.com/iBuild-ts/Binance-trading-bot/internal/risk"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/config"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/db"
	marketbinance "github.com/iBuild-ts/Binance-trading-bot/pkg/market/binance"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}
	log.Printf("starting position engine on :%s (testnet=%v, instruments=%v)",
		cfg.Port, cfg.BinanceTestnet, cfg.Instruments)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}
	journal := ledger.New(database)

	gateway, err := binance.NewClient(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	if err != nil {
		log.Fatalf("venue client init failed: %v", err)
	}
	gateway.StartTimeSync(ctx)

	metrics := monitor.NewMetrics()

	caller := venue.NewCaller(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)
	caller.OnCall = metrics.IncrementVenueCalls
	caller.OnError = metrics.IncrementVenueErrors

	balance := func(ctx context.Context) (float64, error) {
		bal, err := gateway.GetAccountBalance(ctx)
		if err != nil {
			return 0, err
		}
		return bal.Wallet, nil
	}
	breaker := risk.NewBreaker(risk.Limits{
		MaxTradesPerDay:      cfg.MaxTradesPerDay,
		DailyProfitTargetPct: cfg.DailyProfitTargetPct,
		DailyLossLimitPct:    cfg.DailyLossLimitPct,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		LossCooldown:         cfg.LossCooldown,
	}, database, balance, bus)
	if err := breaker.Load(ctx); err != nil {
		log.Fatalf("risk state load failed: %v", err)
	}

	feed := marketbinance.NewFeed(cfg.Instruments, cfg.BinanceTestnet)
	go feed.Run(ctx)

	book := engine.NewBook()
	eng := engine.New(engine.Options{
		Leverage:          cfg.Leverage,
		MarginPerTradeUSD: cfg.MarginPerTradeUSD,
		QtyPrecision:      cfg.QtyPrecision,
		PricePrecision:    cfg.PricePrecision,
		StopLossPct:       cfg.StopLossPct,
		TakeProfitPct:     cfg.TakeProfitPct,
		MinSignalStrength: cfg.MinSignalStrength,
		DriftThresholdPct: cfg.DriftThresholdPct,
		DriftInterval:     cfg.DriftInterval,
	}, gateway, caller, book, breaker, journal, feed, metrics, bus)

	recon := reconciliation.New(cfg.ReconcileInterval, cfg.MaxProtectionPasses,
		gateway, caller, eng, metrics, bus)
	taker := profit.New(profit.Policy{
		Interval:             cfg.ProfitInterval,
		PartialExitThreshold: cfg.PartialExitThreshold,
		FullExitThreshold:    cfg.FullExitThreshold,
		PartialFraction:      cfg.PartialFraction,
		BreakevenBufferPct:   cfg.BreakevenBufferPct,
		CloseLimitOffsetPct:  cfg.CloseLimitOffsetPct,
	}, gateway, caller, eng, metrics)

	auditor := risk.NewAuditor(cfg.AuditInterval, 0.01, cfg.Instruments,
		gateway, caller, breaker, journal, bus)

	go eng.RunDriftWatch(ctx)
	go recon.Run(ctx)
	go taker.Run(ctx)
	go auditor.Run(ctx)

	mon := &monitor.Monitor{Bus: bus}
	mon.Start(ctx)

	// Signal intake: webhook publishes to the bus, this loop applies the
	// acceptance gates in order.
	signals, unsubSignals := bus.Subscribe(events.EventSignalReceived, 100)
	defer unsubSignals()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case note, ok := <-signals:
				if !ok {
					return
				}
				sig, ok := note.Data.(engine.Signal)
				if !ok {
					continue
				}
				if err := eng.HandleSignal(ctx, sig); err != nil {
					log.Printf("signal %s %s dropped: %v", sig.Instrument, sig.Direction, err)
				}
			}
		}
	}()

	server := api.NewServer(book, breaker, journal, metrics, bus, api.SystemMeta{
		Venue:       "binance-usdm",
		Testnet:     cfg.BinanceTestnet,
		Instruments: cfg.Instruments,
		Version:     buildVersion(),
		StartedAt:   time.Now(),
	}, cfg.JWTSecret, cfg.OperatorPassword)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
}

func buildVersion() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "v1.0-dev"
}
