package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"ibkrTax/config"
	"ibkrTax/internal/adapters/flexclient"
	"ibkrTax/internal/adapters/logger"
	"ibkrTax/internal/domain"
	"ibkrTax/internal/export"
)

// Fetches the raw statement of one year and writes it to the output
// directory without parsing it. Useful for inspecting what the Flex service
// actually returns.
func main() {
	yearFlag := flag.Int("year", 0, "tax year to fetch (default: current year)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize the Flex Query client
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
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Flex client")
		log.Fatalf("FATAL: Failed to initialize Flex client: %v", err)
	}
	appLogger.Info(context.Background(), "Flex client initialized")

	today := domain.DateOf(time.Now())
	year := *yearFlag
	if year == 0 {
		year = today.Year()
	}
	to := domain.NewDate(year, time.December, 31)
	if year == today.Year() {
		to = today
	}
	period, err := domain.NewDateRange(domain.NewDate(year, time.January, 1), to)
	if err != nil {
		appLogger.Error(context.Background(), err, "Invalid year")
		log.Fatalf("Invalid year: %v", err)
	}

	fmt.Printf("Fetching statement for %s...\n", period)
	data, err := flexClient.FetchStatement(context.Background(), period)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error fetching statement")
		log.Fatalf("Error fetching statement: %v", err)
	}
	appLogger.Info(context.Background(), "Statement fetched", map[string]interface{}{"bytes": len(data)})

	archiver, err := export.NewRawDump(export.RawDumpConfig{
		Dir:    cfg.OutputDir,
		Tag:    export.RunTag(time.Now(), ""),
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "Error preparing output directory")
		log.Fatalf("Error preparing output directory: %v", err)
	}
	if err := archiver.Archive(context.Background(), year, data); err != nil {
		appLogger.Error(context.Background(), err, "Error writing statement")
		log.Fatalf("Error writing statement: %v", err)
	}
	fmt.Printf("Saved raw statement for %d under %s\n", year, cfg.OutputDir)
}
