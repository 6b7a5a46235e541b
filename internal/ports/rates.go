package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"ibkrTax/internal/domain"
)

// RateProvider retrieves a USD quote for a single civil day from a remote
// source. Providers are allowed to fail; the resolver decides what happens
// next in the chain.
type RateProvider interface {
	// Name identifies the provider in logs and audit output.
	Name() string
	// Rate returns the conversion rate for the given day.
	Rate(ctx context.Context, day domain.Date) (decimal.Decimal, error)
}

// RateStore persists resolved exchange rates between runs. Keys are ISO day
// strings (YYYY-MM-DD) plus YYYY-MM-AVG pseudo-keys for monthly averages.
// Implementations must be safe for concurrent use.
type RateStore interface {
	// Get returns the stored rate for key, reporting whether it was present.
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	// Put stores the rate under key, replacing any existing value.
	Put(ctx context.Context, key string, rate decimal.Decimal) error
	// Close releases any resources held by the store.
	Close() error
}
