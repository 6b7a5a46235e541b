package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeTotals summarizes realized trading activity. USD figures cover only
// trades in the taxable currency; CNY figures are their conversions at the
// per-day rates actually applied.
type TradeTotals struct {
	TotalTrades    int             `json:"total_trades"`
	TaxableTrades  int             `json:"taxable_trades"`
	RealizedPnLUSD decimal.Decimal `json:"realized_pnl_usd"`
	RealizedPnLCNY decimal.Decimal `json:"realized_pnl_cny"`
	CommissionUSD  decimal.Decimal `json:"commission_usd"`
	CommissionCNY  decimal.Decimal `json:"commission_cny"`
	NetPnLUSD      decimal.Decimal `json:"net_pnl_usd"`
	NetPnLCNY      decimal.Decimal `json:"net_pnl_cny"`
	AverageRate    decimal.Decimal `json:"average_exchange_rate"`
}

// DividendTotals summarizes dividend income.
type DividendTotals struct {
	TotalDividends   int             `json:"total_dividends"`
	TaxableDividends int             `json:"taxable_dividends"`
	AmountUSD        decimal.Decimal `json:"total_amount_usd"`
	AmountCNY        decimal.Decimal `json:"total_amount_cny"`
	AverageRate      decimal.Decimal `json:"average_exchange_rate"`
}

// WithholdingTotals summarizes tax withheld at source.
type WithholdingTotals struct {
	TotalEntries int             `json:"total_entries"`
	WithheldUSD  decimal.Decimal `json:"total_withholding_tax_usd"`
	WithheldCNY  decimal.Decimal `json:"total_withholding_tax_cny"`
	AverageRate  decimal.Decimal `json:"average_exchange_rate"`
}

// TaxAssessment holds the resulting liability figures, all in CNY.
type TaxAssessment struct {
	TaxableIncomeCNY    decimal.Decimal `json:"taxable_income_cny"`
	TaxDueCNY           decimal.Decimal `json:"tax_due_cny"`
	ForeignTaxCreditCNY decimal.Decimal `json:"foreign_tax_credit_cny"`
	TaxPayableCNY       decimal.Decimal `json:"tax_payable_cny"`
	TaxRate             decimal.Decimal `json:"tax_rate"`
}

// FundingTotals summarizes external deposits and withdrawals in the account
// base currency. Reporting only.
type FundingTotals struct {
	DepositCount    int             `json:"total_deposits_count"`
	WithdrawalCount int             `json:"total_withdrawals_count"`
	DepositsBase    decimal.Decimal `json:"total_deposits_base_currency"`
	WithdrawalsBase decimal.Decimal `json:"total_withdrawals_base_currency"`
	NetDepositsBase decimal.Decimal `json:"net_deposits_base_currency"`
}

// AccountBreakdown carries the per-account view of the summary figures.
type AccountBreakdown struct {
	AccountID   string            `json:"account_id"`
	Trades      TradeTotals       `json:"trade_summary"`
	Dividends   DividendTotals    `json:"dividend_summary"`
	Withholding WithholdingTotals `json:"withholding_summary"`
	Assessment  TaxAssessment     `json:"tax_assessment"`
}

// TaxSummary is the final output of a run: aggregate figures across all
// accounts plus the per-account breakdown and fetch failure metadata.
type TaxSummary struct {
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Years       []int              `json:"years"`
	FailedYears []YearFailure      `json:"failed_years,omitempty"`
	Trades      TradeTotals        `json:"trade_summary"`
	Dividends   DividendTotals     `json:"dividend_summary"`
	Withholding WithholdingTotals  `json:"withholding_summary"`
	Assessment  TaxAssessment      `json:"tax_assessment"`
	Funding     *FundingTotals     `json:"account_summary,omitempty"`
	ByAccount   []AccountBreakdown `json:"by_account,omitempty"`
}
