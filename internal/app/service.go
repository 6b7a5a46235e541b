package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ibkrTax/config"
	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

const maxFetchConcurrency = 5 // The statement service throttles tokens well before this

// Service orchestrates multi-year statement retrieval: fetch and parse each
// requested period independently, then merge what succeeded. A failed year
// never aborts its siblings; failures come back in the dataset's failure set
// with enough detail to retry by hand.
type Service struct {
	cfg         *config.Config
	logger      ports.Logger
	client      ports.ReportClient
	parser      ports.StatementParser
	archiver    ports.StatementArchiver
	concurrency int
}

// NewService creates a new application service instance. The archiver may be
// nil when raw statements don't need to be kept.
func NewService(cfg *config.Config, logger ports.Logger, client ports.ReportClient, parser ports.StatementParser, archiver ports.StatementArchiver) (*Service, error) {
	// Validate dependencies
	if cfg == nil || logger == nil || client == nil || parser == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}

	concurrency := cfg.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxFetchConcurrency {
		concurrency = maxFetchConcurrency
	}

	return &Service{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		parser:      parser,
		archiver:    archiver,
		concurrency: concurrency,
	}, nil
}

// Run fetches every period and merges the successes into one dataset. The
// returned error is non-nil only when the run as a whole is compromised: no
// periods were given, the context was canceled, or the service rejected the
// credentials (which would fail every remaining year the same way). Ordinary
// fetch failures land in the dataset's failure set instead.
func (s *Service) Run(ctx context.Context, periods []domain.DateRange) (*domain.MergedDataset, error) {
	op := "Run"

	if len(periods) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no periods to fetch", op, ports.ErrInvalidRequest)
	}

	runID := uuid.NewString()
	s.logger.Info(ctx, op+": Starting statement run", map[string]interface{}{
		"runID":       runID,
		"periods":     len(periods),
		"firstYear":   periods[0].Year(),
		"lastYear":    periods[len(periods)-1].Year(),
		"concurrency": s.concurrency,
	})

	// 1. Fetch all periods through a bounded worker pool.
	jobs := make(chan domain.DateRange)
	results := make(chan domain.YearFetchResult, len(periods))

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for period := range jobs {
				results <- s.fetchYear(ctx, runID, period)
			}
		}()
	}
	for _, period := range periods {
		jobs <- period
	}
	close(jobs)
	wg.Wait()
	close(results)

	// 2. Split outcomes and order them by year.
	var succeeded, failed []domain.YearFetchResult
	var authErr error
	for result := range results {
		if result.Status == domain.FetchSucceeded {
			succeeded = append(succeeded, result)
			continue
		}
		failed = append(failed, result)
		if errors.Is(result.Err, ports.ErrAuthenticationFailed) {
			authErr = result.Err
		}
	}
	sort.Slice(succeeded, func(i, j int) bool { return succeeded[i].Year < succeeded[j].Year })
	sort.Slice(failed, func(i, j int) bool { return failed[i].Year < failed[j].Year })

	// 3. Merge into a single dataset.
	dataset := &domain.MergedDataset{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
	}
	for _, result := range succeeded {
		dataset.Years = append(dataset.Years, result.Year)
		dataset.Statements = append(dataset.Statements, result.Statements...)
	}
	for _, result := range failed {
		dataset.FailedYears = append(dataset.FailedYears, domain.YearFailure{Year: result.Year, Reason: result.Err.Error()})
	}

	s.logger.Info(ctx, op+": Statement run finished", map[string]interface{}{
		"runID":     runID,
		"succeeded": len(succeeded),
		"failed":    len(failed),
		"accounts":  len(dataset.Accounts()),
	})

	if authErr != nil {
		return dataset, fmt.Errorf("%s failed: %w", op, authErr)
	}
	if ctx.Err() != nil {
		return dataset, fmt.Errorf("%s canceled: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
	}
	return dataset, nil
}

// fetchYear runs the fetch and parse pipeline for one period. It never
// returns an error; failures are folded into the result.
func (s *Service) fetchYear(ctx context.Context, runID string, period domain.DateRange) domain.YearFetchResult {
	op := "fetchYear"
	year := period.Year()
	fields := map[string]interface{}{"runID": runID, "year": year, "period": period.String()}

	s.logger.Info(ctx, op+": Fetching year", fields)

	raw, err := s.client.FetchStatement(ctx, period)
	if err != nil {
		s.logger.Error(ctx, err, op+": Year fetch failed", fields)
		return domain.YearFetchResult{Year: year, Period: period, Status: domain.FetchFailed, Err: fmt.Errorf("fetch: %w", err)}
	}

	// Raw statements are kept best-effort; a failed archive never fails the year.
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, year, raw); err != nil {
			s.logger.Warn(ctx, op+": Could not archive raw statement", map[string]interface{}{"runID": runID, "year": year, "error": err.Error()})
		}
	}

	statements, err := s.parser.Parse(ctx, raw)
	if err != nil {
		s.logger.Error(ctx, err, op+": Year parse failed", fields)
		return domain.YearFetchResult{Year: year, Period: period, Status: domain.FetchFailed, Err: fmt.Errorf("parse: %w", err)}
	}

	s.logger.Info(ctx, op+": Year fetched", map[string]interface{}{"runID": runID, "year": year, "statements": len(statements)})
	return domain.YearFetchResult{Year: year, Period: period, Status: domain.FetchSucceeded, Statements: statements}
}
