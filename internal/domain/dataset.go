package domain

import (
	"sort"
	"time"
)

// FetchStatus tags the outcome of one year's statement fetch.
type FetchStatus string

const (
	FetchSucceeded FetchStatus = "success"
	FetchFailed    FetchStatus = "failed"
)

// YearFetchResult records the outcome of fetching a single year. Exactly one
// result exists per requested year; it is created once and never mutated.
type YearFetchResult struct {
	Year       int          // Calendar year the fetch covered
	Period     DateRange    // Exact range requested
	Status     FetchStatus  // Success or Failed
	Statements []*Statement // Parsed statements, one per account (success only)
	Err        error        // Failure cause (failed only)
}

// YearFailure describes one failed year in a merged dataset.
type YearFailure struct {
	Year   int    `json:"year"`
	Reason string `json:"reason"`
}

// MergedDataset is the union of all successfully fetched statements across a
// multi-year run, ordered by year ascending with the provider's ordering
// preserved within each year. Failed years ride alongside as metadata so a
// partial dataset is never mistaken for a complete one.
type MergedDataset struct {
	RunID       string        // Identifier tying logs and output files to one run
	GeneratedAt time.Time     // When the merge completed
	Years       []int         // Successfully fetched years, ascending
	Statements  []*Statement  // Merged statements
	FailedYears []YearFailure // Years that could not be fetched
}

// Empty reports whether the dataset holds no statements at all.
func (m *MergedDataset) Empty() bool { return len(m.Statements) == 0 }

// Trades returns all trades across the dataset in merge order.
func (m *MergedDataset) Trades() []Trade {
	var out []Trade
	for _, st := range m.Statements {
		out = append(out, st.Trades...)
	}
	return out
}

// Dividends returns all dividend transactions across the dataset in merge order.
func (m *MergedDataset) Dividends() []Dividend {
	var out []Dividend
	for _, st := range m.Statements {
		out = append(out, st.Dividends...)
	}
	return out
}

// WithholdingTaxes returns all withholding entries across the dataset in merge order.
func (m *MergedDataset) WithholdingTaxes() []WithholdingTax {
	var out []WithholdingTax
	for _, st := range m.Statements {
		out = append(out, st.WithholdingTaxes...)
	}
	return out
}

// CashMovements returns all deposits and withdrawals across the dataset in merge order.
func (m *MergedDataset) CashMovements() []CashMovement {
	var out []CashMovement
	for _, st := range m.Statements {
		out = append(out, st.CashMovements...)
	}
	return out
}

// Accounts returns the distinct account IDs present in the dataset, sorted.
func (m *MergedDataset) Accounts() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, st := range m.Statements {
		if _, ok := seen[st.AccountID]; ok {
			continue
		}
		seen[st.AccountID] = struct{}{}
		out = append(out, st.AccountID)
	}
	sort.Strings(out)
	return out
}
