package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"ibkrTax/config"
	"ibkrTax/internal/adapters/logger"
	"ibkrTax/internal/adapters/rateapi"
	"ibkrTax/internal/adapters/ratestore"
	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
	"ibkrTax/internal/rates"
)

// Warms the exchange rate cache for a whole year, day by day, and stores the
// monthly averages. Run it once before a multi-year report so the report run
// itself does almost no rate lookups.
func main() {
	yearFlag := flag.Int("year", 0, "year to backfill (default: current year)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize the rate store and providers (backfilling is pointless
	// without dynamic rates, so the USE_DYNAMIC_EXCHANGE_RATES switch is
	// ignored here)
	var store ports.RateStore
	switch cfg.RateCacheBackend {
	case "sqlite":
		store, err = ratestore.NewSQLite(ratestore.SQLiteConfig{DBPath: cfg.RateCacheDBPath, Logger: appLogger})
	default:
		store, err = ratestore.NewFile(ratestore.FileConfig{Path: cfg.RateCachePath, Logger: appLogger})
	}
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize rate store")
		log.Fatalf("FATAL: Failed to initialize rate store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing rate store")
		}
	}()

	snapshot, err := rateapi.NewExchangeRateAPI(rateapi.ExchangeRateAPIConfig{Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize exchangerate-api provider")
		log.Fatalf("FATAL: Failed to initialize exchangerate-api provider: %v", err)
	}
	historical, err := rateapi.NewFrankfurter(rateapi.FrankfurterConfig{Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize frankfurter provider")
		log.Fatalf("FATAL: Failed to initialize frankfurter provider: %v", err)
	}

	resolver, err := rates.New(rates.Config{
		Logger: appLogger,
		Store:  store,
		// Historical provider first: backfilled days must carry the rate of
		// their own day, not today's snapshot.
		Providers:    []ports.RateProvider{historical, snapshot},
		Dynamic:      true,
		FallbackRate: decimal.NewFromFloat(cfg.DefaultUSDCNYRate),
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize rate resolver")
		log.Fatalf("FATAL: Failed to initialize rate resolver: %v", err)
	}

	today := domain.DateOf(time.Now())
	year := *yearFlag
	if year == 0 {
		year = today.Year()
	}
	if year > today.Year() {
		log.Fatalf("Cannot backfill future year %d", year)
	}

	fmt.Printf("Backfilling USD/CNY rates for %d...\n", year)
	ctx := context.Background()
	days := 0
	for d := domain.NewDate(year, time.January, 1); d.Year() == year && !d.After(today); d = d.AddDays(1) {
		if _, err := resolver.Rate(ctx, d); err != nil {
			appLogger.Error(ctx, err, "Backfill aborted", map[string]interface{}{"day": d.String()})
			log.Fatalf("Backfill aborted at %s: %v", d, err)
		}
		days++
		if days%30 == 0 {
			fmt.Printf("  %d days done (through %s)\n", days, d)
		}
	}

	for m := time.January; m <= time.December; m++ {
		if domain.NewDate(year, m, 1).After(today) {
			break
		}
		avg, err := resolver.MonthlyAverage(ctx, year, m)
		if err != nil {
			appLogger.Warn(ctx, "No monthly average", map[string]interface{}{"year": year, "month": m.String(), "reason": err.Error()})
			continue
		}
		fmt.Printf("  %d-%02d average: %s\n", year, int(m), avg)
	}

	if n := resolver.FallbackResolutions(); n > 0 {
		fmt.Printf("WARNING: fallback rate %.4f was applied on %d day(s)\n", cfg.DefaultUSDCNYRate, n)
	}
	fmt.Printf("Backfilled %d day(s) for %d\n", days, year)
}
