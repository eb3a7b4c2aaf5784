package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"execplane/internal/coordinator"
	"execplane/internal/events"
	"execplane/internal/oms"
	"execplane/internal/risk"
	"execplane/internal/sizing"
	"execplane/internal/strategy"
	"execplane/internal/symbolinfo"
	"execplane/internal/tradingengine"
	"execplane/internal/uom"
	"execplane/internal/venue"
	"execplane/internal/venue/binance"
	"execplane/pkg/backoff"
	"execplane/pkg/config"
	"execplane/pkg/metrics"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("logger init: %v", err))
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Load(os.Getenv("EXECPLANE_CONFIG_FILE"))
	if err != nil {
		log.Fatalw("config load failed", "err", err)
	}

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	symbolCache := symbolinfo.New(cfg.SymbolInfoTTL, log, metricsRegistry)

	binanceGW := binance.New("binance", binance.Config{
		APIKey:    os.Getenv("EXECPLANE_BINANCE_API_KEY"),
		APISecret: os.Getenv("EXECPLANE_BINANCE_API_SECRET"),
		Testnet:   os.Getenv("EXECPLANE_BINANCE_TESTNET") == "true",
		Retry: backoff.Schedule{
			Initial:    time.Duration(cfg.VenueRetry.InitialMs) * time.Millisecond,
			Factor:     cfg.VenueRetry.Factor,
			Max:        time.Duration(cfg.VenueRetry.MaxMs) * time.Millisecond,
			MaxRetries: cfg.VenueRetry.Max,
		},
	}, log, metricsRegistry)

	sizer := sizing.New(symbolCache, binanceGW, nil, log)

	binanceOMS := oms.New("binance", binanceGW, log)
	go binanceOMS.Run(ctx)

	unified := uom.New(uom.AllocationConfig{
		Strategy:     uom.Strategy(cfg.Allocation.Strategy),
		Weights:      cfg.Allocation.Weights,
		CustomRatios: cfg.Allocation.CustomRatios,
	}, log)
	unified.AddExchange("binance", binanceGW, binanceOMS, 1)

	bus := events.NewBus()

	capital := coordinator.CapitalSplit(cfg.InitialCapital, cfg.Symbols, coordinator.CapitalEqual, nil)

	coord := coordinator.New(coordinator.Config{
		TotalCapital:       cfg.InitialCapital,
		CapitalStrategy:    coordinator.CapitalEqual,
		PortfolioRiskLimit: cfg.Risk.PortfolioRiskLimit,
		CorrelationWindow:  20,
		StressScenarios: []risk.StressScenario{
			{Name: "broad_selloff_20pct", Shocks: allShock(cfg.Symbols, -0.20)},
		},
	}, log)

	for _, symbol := range cfg.Symbols {
		strat := strategy.NewMACrossStrategy(symbol+"-ma-cross", symbol, 10, 30, baseOrderSize(symbol))
		eng := tradingengine.New(tradingengine.Config{
			Symbol:           symbol,
			Strategy:         strat,
			InitialCash:      capital[symbol],
			PerSymbolRiskCap: cfg.Risk.MaxRiskPerTrade * 10,
			Sizer:            sizer,
			RiskPercentage:   cfg.Risk.MaxRiskPerTrade,
			AtrPercentage:    cfg.Risk.DefaultAtrPercentage,
		}, unified, bus, log)
		coord.AddEngine(symbol, eng)
	}
	coord.Initialize()

	go runPollLoop(ctx, cfg, binanceGW, coord, log)
	go runReconciliationLoop(ctx, unified, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server error", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// runPollLoop periodically fetches the latest candle for every symbol
// and dispatches the bundle to the coordinator. Market-data websocket
// handling is out of scope; this periodic-fetch interface is the only
// ingestion path.
func runPollLoop(ctx context.Context, cfg *config.Config, gw venue.Gateway, coord *coordinator.Coordinator, log *zap.SugaredLogger) {
	interval := time.Duration(cfg.TimeframeHours * float64(time.Hour))
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bundle := make(map[string]venue.Candle, len(cfg.Symbols))
			for _, symbol := range cfg.Symbols {
				candles, err := gw.FetchCandles(ctx, symbol, "1h", 1)
				if err != nil || len(candles) == 0 {
					log.Warnw("candle fetch failed, skipping symbol this tick", "symbol", symbol, "err", err)
					continue
				}
				bundle[symbol] = candles[len(candles)-1]
			}
			if err := coord.Update(ctx, bundle); err != nil {
				log.Warnw("coordinator update failed", "err", err)
			}
		}
	}
}

// runReconciliationLoop periodically syncs every active venue's OMS against
// live order state, catching fills the poll loop's own calls missed.
func runReconciliationLoop(ctx context.Context, unified *uom.Manager, log *zap.SugaredLogger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			unified.SyncAllOrders(ctx)
		}
	}
}

func baseOrderSize(symbol string) float64 {
	return 0.01
}

func allShock(symbols []string, shock float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = shock
	}
	return out
}
