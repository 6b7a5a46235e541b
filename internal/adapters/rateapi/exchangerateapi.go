package rateapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

const (
	defaultLatestURL = "https://api.exchangerate-api.com/v4/latest/USD"

	snapshotKey = "latest-USD"
)

// ExchangeRateAPI implements the ports.RateProvider interface against
// exchangerate-api.com. The service only publishes a latest snapshot, so the
// same quote answers any requested day; the snapshot is memoized so a whole
// multi-year run costs one HTTP call.
type ExchangeRateAPI struct {
	httpClient     *http.Client
	url            string
	targetCurrency string
	logger         ports.Logger
	limiter        *rate.Limiter
	memo           *gocache.Cache
}

// ExchangeRateAPIConfig holds configuration for the exchangerate-api provider.
type ExchangeRateAPIConfig struct {
	URL            string        // Latest-snapshot endpoint (production URL when empty)
	TargetCurrency string        // Quote currency to extract, defaults to CNY
	Logger         ports.Logger
	HTTPClient     *http.Client  // Optional preconfigured client (used by tests)
	HTTPTimeout    time.Duration // Per-request timeout when HTTPClient is nil
	SnapshotTTL    time.Duration // How long one snapshot stays valid, defaults to 24h
}

// NewExchangeRateAPI creates a new exchangerate-api provider.
func NewExchangeRateAPI(cfg ExchangeRateAPIConfig) (*ExchangeRateAPI, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for exchangerate-api provider")
	}

	url := cfg.URL
	if url == "" {
		url = defaultLatestURL
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

	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &ExchangeRateAPI{
		httpClient:     httpClient,
		url:            url,
		targetCurrency: target,
		logger:         cfg.Logger,
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		memo:           gocache.New(ttl, ttl),
	}, nil
}

// Name identifies the provider in logs and audit output.
func (p *ExchangeRateAPI) Name() string { return "exchangerate-api.com" }

// Rate returns the latest USD quote for the target currency. The requested
// day only appears in logs; the service has no historical endpoint.
func (p *ExchangeRateAPI) Rate(ctx context.Context, day domain.Date) (decimal.Decimal, error) {
	op := "LatestRate"

	if cached, ok := p.memo.Get(snapshotKey); ok {
		return cached.(decimal.Decimal), nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("%s canceled: %w: %w", op, ports.ErrContextCanceled, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateProviderUnavailable, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%s failed: %w: unexpected HTTP status %d", op, ports.ErrRateProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateProviderUnavailable, err)
	}

	js, err := simplejson.NewJson(body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: could not parse payload: %w", op, ports.ErrRateProviderUnavailable, err)
	}

	quoteFloat, err := js.Get("rates").Get(p.targetCurrency).Float64()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s failed: %w: payload has no %s rate", op, ports.ErrRateUnavailable, p.targetCurrency)
	}
	if quoteFloat <= 0 {
		return decimal.Zero, fmt.Errorf("%s failed: %w: non-positive %s rate %f", op, ports.ErrRateUnavailable, p.targetCurrency, quoteFloat)
	}

	quote := decimal.NewFromFloat(quoteFloat)
	p.memo.Set(snapshotKey, quote, gocache.DefaultExpiration)

	p.logger.Debug(ctx, "Fetched latest exchange rate", map[string]interface{}{
		"provider":     p.Name(),
		"currency":     p.targetCurrency,
		"rate":         quote.String(),
		"requestedDay": day.String(),
	})
	return quote, nil
}
