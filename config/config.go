package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ibkrTax/internal/adapters/logger" // Import the logger package for LogLevel
)

// DefaultFlexBaseURL is the production Flex Web Service endpoint.
const DefaultFlexBaseURL = "https://gdcdyn.interactivebrokers.com/Universal/servlet"

// Config holds all application configuration.
type Config struct {
	// Flex Query service
	FlexToken       string        // Long-lived access token
	QueryID         string        // Saved query identifier
	FlexBaseURL     string        // Service base URL (overridable for testing)
	HTTPTimeout     time.Duration // Per-request timeout
	GenerationDelay time.Duration // Wait after SendRequest before the first poll
	PollInterval    time.Duration // Base delay between statement polls
	MaxPollAttempts int           // Poll attempts before giving up on a statement

	// Pipeline
	FirstTradeYear   int // First year with activity (0 when unset; required for -all)
	FetchConcurrency int // Years fetched in parallel (1 = sequential)

	// Exchange rates
	DefaultUSDCNYRate float64 // Fallback rate when every provider fails
	UseDynamicRates   bool    // false pins every conversion to the fallback rate
	RateCacheBackend  string  // "file" or "sqlite"
	RateCachePath     string  // JSON cache file location (file backend)
	RateCacheDBPath   string  // SQLite database location (sqlite backend)

	// Tax
	TaxRate          float64 // Applied to taxable income (e.g. 0.20 for 20%)
	ClampNegativeTax bool    // false reports a negative tax due on net losses
	TaxableCurrency  string  // Currency of records entering the tax math

	// Output
	OutputDir string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFile  string          // Optional log file path (stderr when empty)

	// Notifications
	NotifyEnabled    bool     // Send a run summary email when true
	MailgunDomain    string   // Mailgun sending domain
	MailgunAPIKey    string   // Mailgun private API key
	SenderEmail      string   // From address
	NotifyRecipients []string // To addresses
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Flex Query service
	cfg.FlexToken = getEnv("IBKR_FLEX_TOKEN", "")
	cfg.QueryID = getEnv("IBKR_QUERY_ID", "")
	cfg.FlexBaseURL = getEnv("FLEX_BASE_URL", DefaultFlexBaseURL)

	if cfg.FlexToken == "" {
		errs = append(errs, "IBKR_FLEX_TOKEN must be set")
	}
	if cfg.QueryID == "" {
		errs = append(errs, "IBKR_QUERY_ID must be set")
	}
	if cfg.FlexBaseURL == "" {
		errs = append(errs, "FLEX_BASE_URL must be set")
	}

	httpTimeoutSeconds := getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)
	if httpTimeoutSeconds <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPTimeout = time.Duration(httpTimeoutSeconds) * time.Second

	generationDelaySeconds := getEnvAsInt("GENERATION_DELAY_SECONDS", 2)
	if generationDelaySeconds < 0 {
		errs = append(errs, "GENERATION_DELAY_SECONDS cannot be negative")
	}
	cfg.GenerationDelay = time.Duration(generationDelaySeconds) * time.Second

	pollIntervalSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 2)
	if pollIntervalSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollIntervalSeconds) * time.Second

	cfg.MaxPollAttempts = getEnvAsInt("MAX_POLL_ATTEMPTS", 10)
	if cfg.MaxPollAttempts <= 0 {
		errs = append(errs, "MAX_POLL_ATTEMPTS must be positive")
	}

	// Pipeline
	cfg.FirstTradeYear, err = getEnvAsIntRequired("FIRST_TRADE_YEAR", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FIRST_TRADE_YEAR: %v", err))
	} else if cfg.FirstTradeYear < 0 {
		errs = append(errs, "FIRST_TRADE_YEAR cannot be negative")
	}

	cfg.FetchConcurrency = getEnvAsInt("FETCH_CONCURRENCY", 1)
	if cfg.FetchConcurrency < 1 || cfg.FetchConcurrency > 5 {
		errs = append(errs, "FETCH_CONCURRENCY must be between 1 and 5")
	}

	// Exchange rates
	cfg.DefaultUSDCNYRate, err = getEnvAsFloatRequired("USD_CNY_RATE", 7.2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid USD_CNY_RATE: %v", err))
	} else if cfg.DefaultUSDCNYRate <= 0 {
		errs = append(errs, "USD_CNY_RATE must be positive")
	}

	cfg.UseDynamicRates = getEnvAsBool("USE_DYNAMIC_EXCHANGE_RATES", true)

	cfg.RateCacheBackend = strings.ToLower(getEnv("RATE_CACHE_BACKEND", "file"))
	if cfg.RateCacheBackend != "file" && cfg.RateCacheBackend != "sqlite" {
		errs = append(errs, "RATE_CACHE_BACKEND must be 'file' or 'sqlite'")
	}
	cfg.RateCachePath = getEnv("RATE_CACHE_PATH", "./data/cache/exchange_rates_cache.json")
	if cfg.RateCachePath == "" {
		errs = append(errs, "RATE_CACHE_PATH must be set")
	}
	cfg.RateCacheDBPath = getEnv("RATE_CACHE_DB_PATH", "./data/cache/exchange_rates.db")
	if cfg.RateCacheBackend == "sqlite" && cfg.RateCacheDBPath == "" {
		errs = append(errs, "RATE_CACHE_DB_PATH must be set when RATE_CACHE_BACKEND is 'sqlite'")
	}

	// Tax
	cfg.TaxRate, err = getEnvAsFloatRequired("TAX_RATE", 0.20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAX_RATE: %v", err))
	} else if cfg.TaxRate <= 0 || cfg.TaxRate >= 1.0 {
		errs = append(errs, "TAX_RATE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.ClampNegativeTax = getEnvAsBool("TAX_CLAMP_NEGATIVE", true)

	cfg.TaxableCurrency = strings.ToUpper(getEnv("TAXABLE_CURRENCY", "USD"))
	if cfg.TaxableCurrency == "" {
		errs = append(errs, "TAXABLE_CURRENCY must be set")
	}

	// Output
	cfg.OutputDir = getEnv("OUTPUT_DIR", "./data/output")
	if cfg.OutputDir == "" {
		errs = append(errs, "OUTPUT_DIR must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFile = getEnv("LOG_FILE", "")

	// Notifications
	cfg.NotifyEnabled = getEnvAsBool("NOTIFY_EMAIL_ENABLED", false)
	cfg.MailgunDomain = getEnv("MAILGUN_DOMAIN", "")
	cfg.MailgunAPIKey = getEnv("MAILGUN_PRIVATE_API_KEY", "")
	cfg.SenderEmail = getEnv("SENDER_EMAIL", "")
	if recipients := getEnv("NOTIFY_RECIPIENTS", ""); recipients != "" {
		for _, r := range strings.Split(recipients, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.NotifyRecipients = append(cfg.NotifyRecipients, r)
			}
		}
	}
	if cfg.NotifyEnabled {
		if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" {
			errs = append(errs, "MAILGUN_DOMAIN and MAILGUN_PRIVATE_API_KEY must be set when NOTIFY_EMAIL_ENABLED is true")
		}
		if cfg.SenderEmail == "" {
			errs = append(errs, "SENDER_EMAIL must be set when NOTIFY_EMAIL_ENABLED is true")
		}
		if len(cfg.NotifyRecipients) == 0 {
			errs = append(errs, "NOTIFY_RECIPIENTS must be set when NOTIFY_EMAIL_ENABLED is true")
		}
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
