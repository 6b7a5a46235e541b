package tax

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

// --- Test Doubles ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// stubRates answers a constant rate, or a per-day rate when byDay has the key.
type stubRates struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	byDay map[string]decimal.Decimal
	calls int
}

func (s *stubRates) Rate(ctx context.Context, day domain.Date) (decimal.Decimal, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.byDay != nil {
		if r, ok := s.byDay[day.String()]; ok {
			return r, nil
		}
	}
	return s.rate, nil
}

// --- Helpers ---

func newCalculator(t *testing.T, rates RateSource, clamp bool) *Calculator {
	t.Helper()
	calc, err := New(Config{
		Logger:        &mockLogger{},
		Rates:         rates,
		TaxRate:       decimal.RequireFromString("0.2"),
		ClampNegative: clamp,
	})
	require.NoError(t, err)
	return calc
}

func usdTrade(account string, day domain.Date, pnl, commission string) domain.Trade {
	return domain.Trade{
		AccountID:   account,
		Symbol:      "AAPL",
		Date:        day,
		Side:        domain.Sell,
		Currency:    "USD",
		RealizedPnL: decimal.RequireFromString(pnl),
		Commission:  decimal.RequireFromString(commission),
	}
}

func usdDividend(account string, day domain.Date, amount string) domain.Dividend {
	return domain.Dividend{
		AccountID: account,
		Symbol:    "MSFT",
		Date:      day,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
		Type:      "Dividends",
	}
}

func usdWithholding(account string, day domain.Date, amount string) domain.WithholdingTax {
	return domain.WithholdingTax{
		AccountID: account,
		Symbol:    "MSFT",
		Date:      day,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
		Code:      "US TAX",
	}
}

func singleAccountDataset(st domain.Statement) *domain.MergedDataset {
	st.AccountID = "U1234567"
	return &domain.MergedDataset{
		RunID:       "test-run",
		GeneratedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Years:       []int{2024},
		Statements:  []*domain.Statement{&st},
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, label string) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s: got %s, want %s", label, got, want)
}

// --- Tests ---

func TestNew_Validation(t *testing.T) {
	rates := &stubRates{rate: decimal.NewFromInt(7)}

	_, err := New(Config{Rates: rates, TaxRate: decimal.RequireFromString("0.2")})
	assert.Error(t, err, "missing logger must be rejected")

	_, err = New(Config{Logger: &mockLogger{}, TaxRate: decimal.RequireFromString("0.2")})
	assert.ErrorIs(t, err, ports.ErrConfigurationError, "missing rate source must be rejected")

	for _, rate := range []string{"0", "1", "1.5", "-0.2"} {
		_, err = New(Config{Logger: &mockLogger{}, Rates: rates, TaxRate: decimal.RequireFromString(rate)})
		assert.ErrorIs(t, err, ports.ErrConfigurationError, "tax rate %s must be rejected", rate)
	}
}

func TestCalculator_Compute_ProfitableYear(t *testing.T) {
	// At a flat 2.0 rate: P&L 10000 CNY, commission 200 CNY, dividends
	// 3000 CNY, withholding 450 CNY.
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Trades:           []domain.Trade{usdTrade("", day, "5000", "-100")},
		Dividends:        []domain.Dividend{usdDividend("", day, "1500")},
		WithholdingTaxes: []domain.WithholdingTax{usdWithholding("", day, "225")},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	assertDecimal(t, "9800", summary.Trades.NetPnLCNY, "net trading profit")
	assertDecimal(t, "3000", summary.Dividends.AmountCNY, "dividend income")
	assertDecimal(t, "450", summary.Withholding.WithheldCNY, "withheld")

	assertDecimal(t, "12800", summary.Assessment.TaxableIncomeCNY, "taxable income")
	assertDecimal(t, "2560", summary.Assessment.TaxDueCNY, "tax due")
	assertDecimal(t, "450", summary.Assessment.ForeignTaxCreditCNY, "foreign tax credit")
	assertDecimal(t, "2110", summary.Assessment.TaxPayableCNY, "tax payable")
	assertDecimal(t, "0.2", summary.Assessment.TaxRate, "tax rate")
}

func TestCalculator_Compute_LossYearClamped(t *testing.T) {
	// Trading loss 5000 CNY against 3000 CNY of dividends: the base goes
	// negative and the clamp floors the due amount at zero.
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Trades:           []domain.Trade{usdTrade("", day, "-2500", "0")},
		Dividends:        []domain.Dividend{usdDividend("", day, "1500")},
		WithholdingTaxes: []domain.WithholdingTax{usdWithholding("", day, "225")},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	assertDecimal(t, "-2000", summary.Assessment.TaxableIncomeCNY, "taxable income")
	assertDecimal(t, "0", summary.Assessment.TaxDueCNY, "tax due")
	assertDecimal(t, "450", summary.Assessment.ForeignTaxCreditCNY, "foreign tax credit")
	assertDecimal(t, "-450", summary.Assessment.TaxPayableCNY, "tax payable")
}

func TestCalculator_Compute_LossYearUnclamped(t *testing.T) {
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Trades:           []domain.Trade{usdTrade("", day, "-2500", "0")},
		Dividends:        []domain.Dividend{usdDividend("", day, "1500")},
		WithholdingTaxes: []domain.WithholdingTax{usdWithholding("", day, "225")},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, false)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	assertDecimal(t, "-2000", summary.Assessment.TaxableIncomeCNY, "taxable income")
	assertDecimal(t, "-400", summary.Assessment.TaxDueCNY, "tax due reports the raw product")
	assertDecimal(t, "450", summary.Assessment.ForeignTaxCreditCNY, "foreign tax credit")
	assertDecimal(t, "-850", summary.Assessment.TaxPayableCNY, "tax payable")
}

func TestCalculator_Compute_CreditCappedByWithholding(t *testing.T) {
	// Withheld far more than dividends x rate: the credit caps at the
	// dividend-derived ceiling, not the withheld amount.
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Dividends:        []domain.Dividend{usdDividend("", day, "1500")},
		WithholdingTaxes: []domain.WithholdingTax{usdWithholding("", day, "5000")},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	assertDecimal(t, "10000", summary.Withholding.WithheldCNY, "withheld")
	assertDecimal(t, "600", summary.Assessment.ForeignTaxCreditCNY, "credit capped at dividends x rate")
	assertDecimal(t, "0", summary.Assessment.TaxPayableCNY, "payable")
}

func TestCalculator_Compute_FiltersNonTaxableCurrency(t *testing.T) {
	day := domain.NewDate(2024, time.March, 14)
	eurTrade := usdTrade("", day, "1000", "0")
	eurTrade.Currency = "EUR"
	dataset := singleAccountDataset(domain.Statement{
		Trades: []domain.Trade{usdTrade("", day, "5000", "-100"), eurTrade},
	})
	rates := &stubRates{rate: decimal.NewFromInt(2)}
	calc := newCalculator(t, rates, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Trades.TotalTrades)
	assert.Equal(t, 1, summary.Trades.TaxableTrades)
	assertDecimal(t, "9800", summary.Trades.NetPnLCNY, "net excludes foreign-currency trades")
	assert.Equal(t, 1, rates.calls, "no rate is resolved for excluded records")
}

func TestCalculator_Compute_AverageAppliedRate(t *testing.T) {
	dayA := domain.NewDate(2024, time.March, 14)
	dayB := domain.NewDate(2024, time.September, 2)
	dataset := singleAccountDataset(domain.Statement{
		Trades: []domain.Trade{usdTrade("", dayA, "100", "0"), usdTrade("", dayB, "100", "0")},
	})
	rates := &stubRates{byDay: map[string]decimal.Decimal{
		"2024-03-14": decimal.RequireFromString("7.0"),
		"2024-09-02": decimal.RequireFromString("7.2"),
	}}
	calc := newCalculator(t, rates, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	assertDecimal(t, "7.1", summary.Trades.AverageRate, "average applied rate")
}

func TestCalculator_Compute_FundingTotals(t *testing.T) {
	day := domain.NewDate(2024, time.January, 8)
	dataset := singleAccountDataset(domain.Statement{
		CashMovements: []domain.CashMovement{
			{Date: day, AmountBase: decimal.RequireFromString("10000"), Kind: domain.Deposit},
			{Date: day, AmountBase: decimal.RequireFromString("2500"), Kind: domain.Deposit},
			{Date: day, AmountBase: decimal.RequireFromString("-3000"), Kind: domain.Withdrawal},
		},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	require.NotNil(t, summary.Funding)
	assert.Equal(t, 2, summary.Funding.DepositCount)
	assert.Equal(t, 1, summary.Funding.WithdrawalCount)
	assertDecimal(t, "12500", summary.Funding.DepositsBase, "deposits")
	assertDecimal(t, "3000", summary.Funding.WithdrawalsBase, "withdrawals as magnitude")
	assertDecimal(t, "9500", summary.Funding.NetDepositsBase, "net deposits")
}

func TestCalculator_Compute_NoFundingSectionWithoutMovements(t *testing.T) {
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Trades: []domain.Trade{usdTrade("", day, "100", "0")},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)
	assert.Nil(t, summary.Funding)
}

func TestCalculator_Compute_PerAccountBreakdown(t *testing.T) {
	day := domain.NewDate(2024, time.March, 14)
	dataset := &domain.MergedDataset{
		RunID: "test-run",
		Years: []int{2024},
		Statements: []*domain.Statement{
			{AccountID: "U2222222", Trades: []domain.Trade{usdTrade("U2222222", day, "1000", "0")}},
			{AccountID: "U1111111", Dividends: []domain.Dividend{usdDividend("U1111111", day, "500")}},
		},
	}
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	require.Len(t, summary.ByAccount, 2)
	assert.Equal(t, "U1111111", summary.ByAccount[0].AccountID, "breakdowns are sorted by account")
	assert.Equal(t, "U2222222", summary.ByAccount[1].AccountID)

	assertDecimal(t, "1000", summary.ByAccount[0].Dividends.AmountCNY, "first account dividends")
	assertDecimal(t, "2000", summary.ByAccount[1].Trades.NetPnLCNY, "second account trades")

	// Aggregate must equal the sum of the per-account views.
	assertDecimal(t, "3000", summary.Assessment.TaxableIncomeCNY, "aggregate taxable income")
	sum := summary.ByAccount[0].Assessment.TaxableIncomeCNY.Add(summary.ByAccount[1].Assessment.TaxableIncomeCNY)
	assert.True(t, summary.Assessment.TaxableIncomeCNY.Equal(sum))
}

func TestCalculator_Compute_SingleAccountSkipsBreakdown(t *testing.T) {
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Trades: []domain.Trade{usdTrade("", day, "100", "0")},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)
	assert.Empty(t, summary.ByAccount, "a single account is fully described by the aggregate")
}

func TestCalculator_Compute_Idempotent(t *testing.T) {
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Trades:           []domain.Trade{usdTrade("", day, "5000", "-100")},
		Dividends:        []domain.Dividend{usdDividend("", day, "1500")},
		WithholdingTaxes: []domain.WithholdingTax{usdWithholding("", day, "225")},
	})
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	first, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)
	second, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)

	first.GeneratedAt, second.GeneratedAt = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
}

func TestCalculator_Compute_CarriesFailureMetadata(t *testing.T) {
	day := domain.NewDate(2024, time.March, 14)
	dataset := singleAccountDataset(domain.Statement{
		Trades: []domain.Trade{usdTrade("", day, "100", "0")},
	})
	dataset.FailedYears = []domain.YearFailure{{Year: 2023, Reason: "fetch: statement was not ready"}}
	calc := newCalculator(t, &stubRates{rate: decimal.NewFromInt(2)}, true)

	summary, err := calc.Compute(context.Background(), dataset)
	require.NoError(t, err)
	require.Len(t, summary.FailedYears, 1)
	assert.Equal(t, 2023, summary.FailedYears[0].Year)
}
