package tax

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

// RateSource supplies the conversion rate for a civil day. The rates.Resolver
// satisfies it; tests substitute fixed tables.
type RateSource interface {
	Rate(ctx context.Context, day domain.Date) (decimal.Decimal, error)
}

// Calculator turns a merged activity dataset into a tax summary. Every
// monetary figure is converted at the rate of its own transaction day, per
// account first and aggregated across accounts on top.
type Calculator struct {
	logger          ports.Logger
	rates           RateSource
	taxRate         decimal.Decimal
	clampNegative   bool
	taxableCurrency string
}

// Config holds configuration for the tax calculator.
type Config struct {
	Logger        ports.Logger
	Rates         RateSource
	TaxRate       decimal.Decimal // Flat rate applied to the taxable base, e.g. 0.2
	ClampNegative bool            // Floor the taxable base at zero before applying the rate

	// TaxableCurrency selects which records enter the conversion sums.
	// Records in other currencies are counted but stay out of the tax math.
	// Defaults to USD.
	TaxableCurrency string
}

// New creates a new tax calculator.
func New(cfg Config) (*Calculator, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for tax calculator")
	}
	if cfg.Rates == nil {
		return nil, fmt.Errorf("%w: rate source is required for tax calculator", ports.ErrConfigurationError)
	}
	if !cfg.TaxRate.IsPositive() || cfg.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: tax rate must be between 0 and 1, got %s", ports.ErrConfigurationError, cfg.TaxRate)
	}

	currency := cfg.TaxableCurrency
	if currency == "" {
		currency = "USD"
	}

	return &Calculator{
		logger:          cfg.Logger,
		rates:           cfg.Rates,
		taxRate:         cfg.TaxRate,
		clampNegative:   cfg.ClampNegative,
		taxableCurrency: currency,
	}, nil
}

// Compute produces the tax summary for a merged dataset. The same dataset and
// cache state always yields the same summary; the only error path is context
// cancellation surfacing through the rate source.
func (c *Calculator) Compute(ctx context.Context, dataset *domain.MergedDataset) (*domain.TaxSummary, error) {
	op := "Compute"

	if dataset == nil {
		return nil, fmt.Errorf("%s failed: %w: dataset is nil", op, ports.ErrInvalidRequest)
	}

	summary := &domain.TaxSummary{
		RunID:       dataset.RunID,
		GeneratedAt: time.Now().UTC(),
		Years:       dataset.Years,
		FailedYears: dataset.FailedYears,
	}

	// 1. Aggregate figures across the whole dataset.
	var err error
	if summary.Trades, err = c.tradeTotals(ctx, dataset.Trades()); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if summary.Dividends, err = c.dividendTotals(ctx, dataset.Dividends()); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if summary.Withholding, err = c.withholdingTotals(ctx, dataset.WithholdingTaxes()); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	summary.Assessment = c.assess(summary.Trades, summary.Dividends, summary.Withholding)

	if movements := dataset.CashMovements(); len(movements) > 0 {
		funding := fundingTotals(movements)
		summary.Funding = &funding
	}

	// 2. Per-account breakdown, only worth carrying when accounts can differ.
	accounts := dataset.Accounts()
	if len(accounts) > 1 {
		for _, accountID := range accounts {
			breakdown, err := c.accountBreakdown(ctx, dataset, accountID)
			if err != nil {
				return nil, fmt.Errorf("%s failed for account %s: %w", op, accountID, err)
			}
			summary.ByAccount = append(summary.ByAccount, breakdown)
		}
	}

	c.logger.Info(ctx, op+": Tax summary computed", map[string]interface{}{
		"runID":         dataset.RunID,
		"taxableIncome": summary.Assessment.TaxableIncomeCNY.String(),
		"taxDue":        summary.Assessment.TaxDueCNY.String(),
		"taxCredit":     summary.Assessment.ForeignTaxCreditCNY.String(),
		"taxPayable":    summary.Assessment.TaxPayableCNY.String(),
		"accounts":      len(accounts),
	})
	return summary, nil
}

// tradeTotals converts realized trading activity at per-day rates.
func (c *Calculator) tradeTotals(ctx context.Context, trades []domain.Trade) (domain.TradeTotals, error) {
	var totals domain.TradeTotals
	var rateSum decimal.Decimal

	for _, trade := range trades {
		totals.TotalTrades++
		if trade.Currency != c.taxableCurrency {
			continue
		}
		rate, err := c.rates.Rate(ctx, trade.Date)
		if err != nil {
			return totals, fmt.Errorf("rate for trade on %s: %w", trade.Date, err)
		}
		totals.TaxableTrades++

		commission := trade.Commission.Abs()
		totals.RealizedPnLUSD = totals.RealizedPnLUSD.Add(trade.RealizedPnL)
		totals.RealizedPnLCNY = totals.RealizedPnLCNY.Add(trade.RealizedPnL.Mul(rate))
		totals.CommissionUSD = totals.CommissionUSD.Add(commission)
		totals.CommissionCNY = totals.CommissionCNY.Add(commission.Mul(rate))
		rateSum = rateSum.Add(rate)
	}

	totals.NetPnLUSD = totals.RealizedPnLUSD.Sub(totals.CommissionUSD)
	totals.NetPnLCNY = totals.RealizedPnLCNY.Sub(totals.CommissionCNY)
	if totals.TaxableTrades > 0 {
		totals.AverageRate = rateSum.Div(decimal.NewFromInt(int64(totals.TaxableTrades))).Round(4)
	}
	return totals, nil
}

// dividendTotals converts dividend income at per-day rates.
func (c *Calculator) dividendTotals(ctx context.Context, dividends []domain.Dividend) (domain.DividendTotals, error) {
	var totals domain.DividendTotals
	var rateSum decimal.Decimal

	for _, div := range dividends {
		totals.TotalDividends++
		if div.Currency != c.taxableCurrency {
			continue
		}
		rate, err := c.rates.Rate(ctx, div.Date)
		if err != nil {
			return totals, fmt.Errorf("rate for dividend on %s: %w", div.Date, err)
		}
		totals.TaxableDividends++

		totals.AmountUSD = totals.AmountUSD.Add(div.Amount)
		totals.AmountCNY = totals.AmountCNY.Add(div.Amount.Mul(rate))
		rateSum = rateSum.Add(rate)
	}

	if totals.TaxableDividends > 0 {
		totals.AverageRate = rateSum.Div(decimal.NewFromInt(int64(totals.TaxableDividends))).Round(4)
	}
	return totals, nil
}

// withholdingTotals converts withheld tax at per-day rates. Amounts arrive
// absolute from the parser.
func (c *Calculator) withholdingTotals(ctx context.Context, taxes []domain.WithholdingTax) (domain.WithholdingTotals, error) {
	var totals domain.WithholdingTotals
	var rateSum decimal.Decimal
	converted := 0

	for _, tax := range taxes {
		totals.TotalEntries++
		if tax.Currency != c.taxableCurrency {
			continue
		}
		rate, err := c.rates.Rate(ctx, tax.Date)
		if err != nil {
			return totals, fmt.Errorf("rate for withholding on %s: %w", tax.Date, err)
		}
		converted++

		totals.WithheldUSD = totals.WithheldUSD.Add(tax.Amount)
		totals.WithheldCNY = totals.WithheldCNY.Add(tax.Amount.Mul(rate))
		rateSum = rateSum.Add(rate)
	}

	if converted > 0 {
		totals.AverageRate = rateSum.Div(decimal.NewFromInt(int64(converted))).Round(4)
	}
	return totals, nil
}

// assess applies the liability formula to converted totals. All inputs and
// outputs are CNY.
func (c *Calculator) assess(trades domain.TradeTotals, dividends domain.DividendTotals, withholding domain.WithholdingTotals) domain.TaxAssessment {
	taxable := trades.NetPnLCNY.Add(dividends.AmountCNY)

	base := taxable
	if c.clampNegative && base.IsNegative() {
		base = decimal.Zero
	}
	due := base.Mul(c.taxRate)

	credit := dividends.AmountCNY.Mul(c.taxRate)
	if withholding.WithheldCNY.LessThan(credit) {
		credit = withholding.WithheldCNY
	}
	if credit.IsNegative() {
		credit = decimal.Zero
	}

	return domain.TaxAssessment{
		TaxableIncomeCNY:    taxable.Round(2),
		TaxDueCNY:           due.Round(2),
		ForeignTaxCreditCNY: credit.Round(2),
		TaxPayableCNY:       due.Sub(credit).Round(2),
		TaxRate:             c.taxRate,
	}
}

// accountBreakdown recomputes the totals over a single account's statements.
// Rates come out of the resolver's cache, so the second pass costs no I/O.
func (c *Calculator) accountBreakdown(ctx context.Context, dataset *domain.MergedDataset, accountID string) (domain.AccountBreakdown, error) {
	var trades []domain.Trade
	var dividends []domain.Dividend
	var taxes []domain.WithholdingTax
	for _, st := range dataset.Statements {
		if st.AccountID != accountID {
			continue
		}
		trades = append(trades, st.Trades...)
		dividends = append(dividends, st.Dividends...)
		taxes = append(taxes, st.WithholdingTaxes...)
	}

	breakdown := domain.AccountBreakdown{AccountID: accountID}
	var err error
	if breakdown.Trades, err = c.tradeTotals(ctx, trades); err != nil {
		return breakdown, err
	}
	if breakdown.Dividends, err = c.dividendTotals(ctx, dividends); err != nil {
		return breakdown, err
	}
	if breakdown.Withholding, err = c.withholdingTotals(ctx, taxes); err != nil {
		return breakdown, err
	}
	breakdown.Assessment = c.assess(breakdown.Trades, breakdown.Dividends, breakdown.Withholding)
	return breakdown, nil
}

// fundingTotals sums external transfers in the account base currency.
// Withdrawals are reported as positive magnitudes.
func fundingTotals(movements []domain.CashMovement) domain.FundingTotals {
	var totals domain.FundingTotals
	for _, m := range movements {
		if m.Kind == domain.Deposit {
			totals.DepositCount++
			totals.DepositsBase = totals.DepositsBase.Add(m.AmountBase)
		} else {
			totals.WithdrawalCount++
			totals.WithdrawalsBase = totals.WithdrawalsBase.Add(m.AmountBase.Abs())
		}
	}
	totals.NetDepositsBase = totals.DepositsBase.Sub(totals.WithdrawalsBase)
	return totals
}
