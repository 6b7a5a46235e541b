package ports

import (
	"context"

	"ibkrTax/internal/domain"
)

// ReportClient defines the interface for fetching activity statements from the
// upstream Flex Query service. Implementations own the full request/poll cycle:
// a successful call returns the raw statement document exactly as the service
// delivered it.
type ReportClient interface {
	// FetchStatement requests a statement for the given date range and polls
	// until the service has generated it. The range must not span more than a
	// single calendar year (the service rejects windows over 365 days).
	FetchStatement(ctx context.Context, period domain.DateRange) ([]byte, error)
}

// StatementParser converts a raw statement document into domain records.
// A single document may carry one statement per account.
type StatementParser interface {
	Parse(ctx context.Context, data []byte) ([]*domain.Statement, error)
}

// StatementArchiver keeps raw statement documents for audit. Archiving is
// best-effort; callers log failures and move on.
type StatementArchiver interface {
	Archive(ctx context.Context, year int, data []byte) error
}
