package rates

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

// Resolver turns civil days into USD conversion rates. In fixed mode it
// returns the configured constant and performs no I/O. In dynamic mode it
// works through a chain: store lookup, then each provider in order, then the
// fallback constant. Provider and store failures are logged and absorbed, so
// a dead rate service can never sink a tax run; the only error Rate returns
// is context cancellation.
type Resolver struct {
	logger    ports.Logger
	store     ports.RateStore
	providers []ports.RateProvider
	dynamic   bool
	fallback  decimal.Decimal
	now       func() time.Time

	fallbackCount atomic.Int64
}

// Config holds configuration for the rate resolver.
type Config struct {
	Logger       ports.Logger
	Store        ports.RateStore      // Required in dynamic mode
	Providers    []ports.RateProvider // Tried in order after the store
	Dynamic      bool                 // False pins every day to FallbackRate
	FallbackRate decimal.Decimal      // Fixed-mode constant and end of the dynamic chain
	Now          func() time.Time     // Defaults to time.Now
}

// New creates a new rate resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for rate resolver")
	}
	if !cfg.FallbackRate.IsPositive() {
		return nil, fmt.Errorf("%w: fallback rate must be positive, got %s", ports.ErrConfigurationError, cfg.FallbackRate)
	}
	if cfg.Dynamic && cfg.Store == nil {
		return nil, fmt.Errorf("%w: dynamic rate resolution requires a rate store", ports.ErrConfigurationError)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Resolver{
		logger:    cfg.Logger,
		store:     cfg.Store,
		providers: cfg.Providers,
		dynamic:   cfg.Dynamic,
		fallback:  cfg.FallbackRate,
		now:       now,
	}, nil
}

// Rate returns the conversion rate for the given day.
func (r *Resolver) Rate(ctx context.Context, day domain.Date) (decimal.Decimal, error) {
	if !r.dynamic {
		return r.fallback, nil
	}

	key := day.String()

	if rate, found := r.lookup(ctx, key); found {
		return rate, nil
	}

	for _, provider := range r.providers {
		rate, err := provider.Rate(ctx, day)
		if err != nil {
			if ctx.Err() != nil {
				return decimal.Zero, fmt.Errorf("rate resolution canceled: %w", ctx.Err())
			}
			r.logger.Warn(ctx, "Rate provider failed, trying next source", map[string]interface{}{
				"provider": provider.Name(),
				"day":      key,
				"error":    err.Error(),
			})
			continue
		}
		r.remember(ctx, key, rate)
		return rate, nil
	}

	r.logger.Warn(ctx, "All rate sources failed, applying fallback rate", map[string]interface{}{
		"day":      key,
		"fallback": r.fallback.String(),
	})
	r.fallbackCount.Add(1)
	r.remember(ctx, key, r.fallback)
	return r.fallback, nil
}

// MonthlyAverage returns the arithmetic mean of the daily rates of the given
// month, cached under a YYYY-MM-AVG pseudo-key. Days after today are excluded
// so the current month averages only published days. The value is for
// reporting; tax math always applies per-day rates.
func (r *Resolver) MonthlyAverage(ctx context.Context, year int, month time.Month) (decimal.Decimal, error) {
	if !r.dynamic {
		return r.fallback, nil
	}

	key := monthlyAverageKey(year, month)
	if rate, found := r.lookup(ctx, key); found {
		return rate, nil
	}

	today := domain.DateOf(r.now())
	sum := decimal.Zero
	days := 0
	for d := domain.NewDate(year, month, 1); d.Month() == month && !d.After(today); d = d.AddDays(1) {
		rate, err := r.Rate(ctx, d)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(rate)
		days++
	}
	if days == 0 {
		return decimal.Zero, fmt.Errorf("%w: no published days to average for %s", ports.ErrRateUnavailable, key)
	}

	avg := sum.Div(decimal.NewFromInt(int64(days))).Round(4)
	r.remember(ctx, key, avg)
	r.logger.Info(ctx, "Monthly average rate computed", map[string]interface{}{"key": key, "days": days, "rate": avg.String()})
	return avg, nil
}

// FallbackResolutions reports how many days resolved to the fallback constant
// because every source failed. Used in the run summary.
func (r *Resolver) FallbackResolutions() int64 { return r.fallbackCount.Load() }

// lookup reads the store, absorbing store errors.
func (r *Resolver) lookup(ctx context.Context, key string) (decimal.Decimal, bool) {
	rate, found, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn(ctx, "Rate store lookup failed", map[string]interface{}{"key": key, "error": err.Error()})
		return decimal.Zero, false
	}
	return rate, found
}

// remember writes through to the store, absorbing store errors.
func (r *Resolver) remember(ctx context.Context, key string, rate decimal.Decimal) {
	if err := r.store.Put(ctx, key, rate); err != nil {
		r.logger.Warn(ctx, "Could not persist rate", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

func monthlyAverageKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d-AVG", year, int(month))
}
