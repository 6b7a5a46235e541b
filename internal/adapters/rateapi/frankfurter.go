package rateapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

const defaultFrankfurterBaseURL = "https://api.frankfurter.app"

// Frankfurter implements the ports.RateProvider interface against
// frankfurter.app, which serves true historical reference rates. The service
// maps weekends and holidays to the closest preceding banking day itself, and
// has no data for the current day until the next publication.
type Frankfurter struct {
	httpClient     *http.Client
	baseURL        string
	baseCurrency   string
	targetCurrency string
	logger         ports.Logger
	limiter        *rate.Limiter
}

// FrankfurterConfig holds configuration for the frankfurter.app provider.
type FrankfurterConfig struct {
	BaseURL        string        // Service base URL (production URL when empty)
	BaseCurrency   string        // Defaults to USD
	TargetCurrency string        // Defaults to CNY
	Logger         ports.Logger
	HTTPClient     *http.Client  // Optional preconfigured client (used by tests)
	HTTPTimeout    time.Duration // Per-request timeout when HTTPClient is nil
}

// frankfurterResponse is the service's historical quote document.
type frankfurterResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

// NewFrankfurter creates a new frankfurter.app provider.
func NewFrankfurter(cfg FrankfurterConfig) (*Frankfurter, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for frankfurter provider")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultFrankfurterBaseURL
	}
	base := cfg.BaseCurrency
	if base == "" {
		base = "USD"
	}
	target := cfg.TargetCurrency
	if target == "" {
		target = "CNY"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Frankfurter{
		httpClient:     httpClient,
		baseURL:        baseURL,
		baseCurrency:   base,
		targetCurrency: target,
		logger:         cfg.Logger,
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}, nil
}

// Name identifies the provider in logs and audit output.
func (p *Frankfurter) Name() string { return "frankfurter.app" }

// Rate returns the historical quote for the given day.
func (p *Frankfurter) Rate(ctx context.Context, day domain.Date) (decimal.Decimal, error) {
	op := "HistoricalRate"

	if err := p.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("%s canceled: %w: %w", op, ports.ErrContextCanceled, err)
	}

	url := fmt.Sprintf("%s/%s?from=%s&to=%s", p.baseURL, day.String(), p.baseCurrency, p.targetCurrency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateProviderUnavailable, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%s failed: %w: no data for %s", op, ports.ErrRateUnavailable, day)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%s failed: %w: unexpected HTTP status %d", op, ports.ErrRateProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateProviderUnavailable, err)
	}

	var quote frankfurterResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: could not parse payload: %w", op, ports.ErrRateProviderUnavailable, err)
	}

	rateFloat, ok := quote.Rates[p.targetCurrency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s failed: %w: payload has no %s rate for %s", op, ports.ErrRateUnavailable, p.targetCurrency, day)
	}
	if rateFloat <= 0 {
		return decimal.Zero, fmt.Errorf("%s failed: %w: non-positive %s rate %f", op, ports.ErrRateUnavailable, p.targetCurrency, rateFloat)
	}

	result := decimal.NewFromFloat(rateFloat)
	p.logger.Debug(ctx, "Fetched historical exchange rate", map[string]interface{}{
		"provider": p.Name(),
		"day":      day.String(),
		"quotedOn": quote.Date,
		"rate":     result.String(),
	})
	return result, nil
}
