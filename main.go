package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ibkrTax/config"
	"ibkrTax/internal/adapters/flexclient"
	"ibkrTax/internal/adapters/logger"
	"ibkrTax/internal/adapters/notify"
	"ibkrTax/internal/adapters/rateapi"
	"ibkrTax/internal/adapters/ratestore"
	"ibkrTax/internal/app"
	"ibkrTax/internal/domain"
	"ibkrTax/internal/export"
	"ibkrTax/internal/flexreport"
	"ibkrTax/internal/ports"
	"ibkrTax/internal/rates"
	"ibkrTax/internal/tax"
)

func main() {
	yearFlag := flag.Int("year", 0, "single tax year to fetch (Jan 1 to Dec 31)")
	fromYearFlag := flag.Int("from-year", 0, "fetch every year from this one through today")
	allFlag := flag.Bool("all", false, "fetch every year from FIRST_TRADE_YEAR through today")
	outFlag := flag.String("out", "", "output directory (overrides OUTPUT_DIR)")
	flag.Parse()

	modes := 0
	for _, on := range []bool{*yearFlag != 0, *fromYearFlag != 0, *allFlag} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		fmt.Fprintln(os.Stderr, "Error: -year, -from-year and -all are mutually exclusive")
		flag.Usage()
		os.Exit(2)
	}

	printBanner()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *outFlag != "" {
		cfg.OutputDir = *outFlag
	}

	// 2. Initialize Logger
	appLogger := newLogger(cfg)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Resolve the fetch window
	today := domain.DateOf(time.Now())
	periods, err := fetchPeriods(*yearFlag, *fromYearFlag, *allFlag, cfg.FirstTradeYear, today)
	if err != nil {
		appLogger.Error(ctx, err, "Invalid fetch window")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	appLogger.Info(ctx, "Fetch window resolved", map[string]interface{}{
		"years": len(periods),
		"from":  periods[0].From.String(),
		"to":    periods[len(periods)-1].To.String(),
	})

	// 4. Initialize the exchange rate resolver (store + providers)
	var store ports.RateStore
	var providers []ports.RateProvider
	if cfg.UseDynamicRates {
		switch cfg.RateCacheBackend {
		case "sqlite":
			sqliteStore, err := ratestore.NewSQLite(ratestore.SQLiteConfig{
				DBPath: cfg.RateCacheDBPath,
				Logger: appLogger,
			})
			if err != nil {
				appLogger.Error(ctx, err, "FATAL: Failed to initialize sqlite rate store")
				log.Fatalf("FATAL: Failed to initialize sqlite rate store: %v", err)
			}
			store = sqliteStore
		default:
			fileStore, err := ratestore.NewFile(ratestore.FileConfig{
				Path:   cfg.RateCachePath,
				Logger: appLogger,
			})
			if err != nil {
				appLogger.Error(ctx, err, "FATAL: Failed to initialize file rate store")
				log.Fatalf("FATAL: Failed to initialize file rate store: %v", err)
			}
			store = fileStore
		}
		defer func() {
			if err := store.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing rate store")
			}
		}()

		primary, err := rateapi.NewExchangeRateAPI(rateapi.ExchangeRateAPIConfig{Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize exchangerate-api provider")
			log.Fatalf("FATAL: Failed to initialize exchangerate-api provider: %v", err)
		}
		secondary, err := rateapi.NewFrankfurter(rateapi.FrankfurterConfig{Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize frankfurter provider")
			log.Fatalf("FATAL: Failed to initialize frankfurter provider: %v", err)
		}
		providers = []ports.RateProvider{primary, secondary}
	}

	resolver, err := rates.New(rates.Config{
		Logger:       appLogger,
		Store:        store,
		Providers:    providers,
		Dynamic:      cfg.UseDynamicRates,
		FallbackRate: decimal.NewFromFloat(cfg.DefaultUSDCNYRate),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize rate resolver")
		log.Fatalf("FATAL: Failed to initialize rate resolver: %v", err)
	}
	appLogger.Info(ctx, "Rate resolver initialized", map[string]interface{}{
		"dynamic":  cfg.UseDynamicRates,
		"fallback": cfg.DefaultUSDCNYRate,
	})

	// 5. Initialize the Flex Query client
	flexClient, err := flexclient.New(flexclient.Config{
		BaseURL:         cfg.FlexBaseURL,
		Token:           cfg.FlexToken,
		QueryID:         cfg.QueryID,
		Logger:          appLogger,
		HTTPTimeout:     cfg.HTTPTimeout,
		GenerationDelay: cfg.GenerationDelay,
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Flex client")
		log.Fatalf("FATAL: Failed to initialize Flex client: %v", err)
	}
	appLogger.Info(ctx, "Flex client initialized")

	// 6. Initialize the statement parser and the raw statement archiver
	parser, err := flexreport.New(flexreport.Config{Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize statement parser")
		log.Fatalf("FATAL: Failed to initialize statement parser: %v", err)
	}

	runStart := time.Now()
	archiver, err := export.NewRawDump(export.RawDumpConfig{
		Dir:    cfg.OutputDir,
		Tag:    export.RunTag(runStart, ""),
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to prepare output directory")
		log.Fatalf("FATAL: Failed to prepare output directory: %v", err)
	}

	// 7. Initialize Application Service
	service, err := app.NewService(cfg, appLogger, flexClient, parser, archiver)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize fetch service")
		log.Fatalf("FATAL: Failed to initialize fetch service: %v", err)
	}
	appLogger.Info(ctx, "Fetch service initialized")

	// 8. Fetch every requested year
	dataset, err := service.Run(ctx, periods)
	if err != nil {
		appLogger.Error(ctx, err, "Run failed")
		if errors.Is(err, ports.ErrAuthenticationFailed) {
			fmt.Fprintln(os.Stderr, "\nError: the Flex service rejected the token or query id.")
			fmt.Fprintln(os.Stderr, "Please check IBKR_FLEX_TOKEN and IBKR_QUERY_ID.")
		} else {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}
		os.Exit(1)
	}
	if len(dataset.Years) == 0 {
		appLogger.Error(ctx, nil, "No year could be fetched", map[string]interface{}{
			"requested": len(periods),
			"failed":    len(dataset.FailedYears),
		})
		printFailedYears(dataset.FailedYears)
		os.Exit(1)
	}

	// 9. Compute the tax summary
	calculator, err := tax.New(tax.Config{
		Logger:          appLogger,
		Rates:           resolver,
		TaxRate:         decimal.NewFromFloat(cfg.TaxRate),
		ClampNegative:   cfg.ClampNegativeTax,
		TaxableCurrency: cfg.TaxableCurrency,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize tax calculator")
		log.Fatalf("FATAL: Failed to initialize tax calculator: %v", err)
	}
	summary, err := calculator.Compute(ctx, dataset)
	if err != nil {
		appLogger.Error(ctx, err, "Tax calculation failed")
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		os.Exit(1)
	}
	if n := resolver.FallbackResolutions(); n > 0 {
		appLogger.Warn(ctx, "Fallback rate was applied; figures on those days are approximate", map[string]interface{}{
			"days": n,
			"rate": cfg.DefaultUSDCNYRate,
		})
	}

	// 10. Export reports
	tag := export.RunTag(runStart, dataset.RunID)
	excelPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("ibkr_report_%s.xlsx", tag))
	if err := export.WriteExcel(dataset, summary, excelPath); err != nil {
		appLogger.Error(ctx, err, "Failed to export Excel report")
	} else {
		appLogger.Info(ctx, "Excel report saved", map[string]interface{}{"path": excelPath})
	}
	summaryPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("summary_%s.json", tag))
	if err := export.WriteSummaryJSON(summary, summaryPath); err != nil {
		appLogger.Error(ctx, err, "Failed to save summary JSON")
	} else {
		appLogger.Info(ctx, "Summary JSON saved", map[string]interface{}{"path": summaryPath})
	}

	export.PrintSummary(os.Stdout, summary)
	printFailedYears(dataset.FailedYears)

	// 11. Optional email notification
	if cfg.NotifyEnabled {
		sendNotification(ctx, cfg, appLogger, dataset, summary)
	}

	appLogger.Info(ctx, "Run finished", map[string]interface{}{
		"runID":       dataset.RunID,
		"years":       len(dataset.Years),
		"failedYears": len(dataset.FailedYears),
		"elapsed":     time.Since(runStart).Round(time.Millisecond).String(),
	})
}

func printBanner() {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("IBKR Tax Tool - Trading Data Fetcher")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()
}

// newLogger builds the application logger, teeing to LOG_FILE when set.
func newLogger(cfg *config.Config) *logger.StdLogger {
	if cfg.LogFile == "" {
		return logger.NewStdLogger(cfg.LogLevel)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("WARN: Cannot open log file %s, logging to stderr only: %v", cfg.LogFile, err)
		return logger.NewStdLogger(cfg.LogLevel)
	}
	return logger.NewStdLoggerTo(io.MultiWriter(os.Stderr, f), cfg.LogLevel)
}

// fetchPeriods turns the mode flags into per-calendar-year ranges. The
// current year is always capped at today so no request reaches into the
// future.
func fetchPeriods(year, fromYear int, all bool, firstTradeYear int, today domain.Date) ([]domain.DateRange, error) {
	switch {
	case year != 0:
		if year < 0 || year > today.Year() {
			return nil, fmt.Errorf("year %d is not a fetchable tax year", year)
		}
		to := domain.NewDate(year, time.December, 31)
		if year == today.Year() {
			to = today
		}
		r, err := domain.NewDateRange(domain.NewDate(year, time.January, 1), to)
		if err != nil {
			return nil, err
		}
		return []domain.DateRange{r}, nil
	case fromYear != 0:
		if fromYear < 0 {
			return nil, fmt.Errorf("year %d is not a fetchable tax year", fromYear)
		}
		return domain.SplitYears(fromYear, today)
	case all:
		if firstTradeYear == 0 {
			return nil, errors.New("FIRST_TRADE_YEAR must be set to use -all")
		}
		return domain.SplitYears(firstTradeYear, today)
	default:
		return domain.SplitYears(today.Year(), today)
	}
}

func printFailedYears(failed []domain.YearFailure) {
	if len(failed) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("WARNING: %d year(s) could not be fetched\n", len(failed))
	for _, f := range failed {
		fmt.Printf("  %d: %s\n", f.Year, f.Reason)
	}
	fmt.Println(strings.Repeat("=", 60))
}

func sendNotification(ctx context.Context, cfg *config.Config, appLogger ports.Logger, dataset *domain.MergedDataset, summary *domain.TaxSummary) {
	notifier, err := notify.NewMailgun(notify.MailgunConfig{
		Domain:     cfg.MailgunDomain,
		APIKey:     cfg.MailgunAPIKey,
		Sender:     cfg.SenderEmail,
		Recipients: cfg.NotifyRecipients,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize notifier")
		return
	}

	var body bytes.Buffer
	export.PrintSummary(&body, summary)
	if len(dataset.FailedYears) > 0 {
		fmt.Fprintf(&body, "\nWARNING: %d year(s) could not be fetched:\n", len(dataset.FailedYears))
		for _, f := range dataset.FailedYears {
			fmt.Fprintf(&body, "  %d: %s\n", f.Year, f.Reason)
		}
	}

	subject := "IBKR tax report " + yearsLabel(dataset.Years)
	if err := notifier.Send(ctx, subject, body.String()); err != nil {
		appLogger.Error(ctx, err, "Failed to send notification email")
	}
}

func yearsLabel(years []int) string {
	switch len(years) {
	case 0:
		return ""
	case 1:
		return strconv.Itoa(years[0])
	default:
		return fmt.Sprintf("%d-%d", years[0], years[len(years)-1])
	}
}
