package flexreport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	return p
}

const fullStatementXML = `<FlexQueryResponse queryName="tax" type="AF">
  <FlexStatements count="1">
    <FlexStatement accountId="U1234567" fromDate="20240101" toDate="20241231">
      <Trades>
        <Lot accountId="U1234567" symbol="AAPL" description="APPLE INC" assetCategory="STK"
             tradeDate="20240315" dateTime="20240315;143005" openDateTime="20240110;101500"
             buySell="SELL" quantity="-10" tradePrice="175.50" proceeds="1755.00" cost="1500.00"
             ibCommission="-1.25" fifoPnlRealized="255.00" currency="USD"/>
        <Lot symbol="MSFT" description="MICROSOFT CORP" assetCategory="STK"
             dateTime="20240620;100000" buySell="SELL" quantity="5" tradePrice="440.00"
             proceeds="2200.00" cost="2000.00" ibCommission="" fifoPnlRealized="200.00" currency="USD"/>
      </Trades>
      <CashTransactions>
        <CashTransaction accountId="U1234567" type="Dividends" symbol="AAPL"
             description="AAPL (US0378331005) CASH DIVIDEND USD 0.25 PER SHARE"
             dateTime="20240510;202000" amount="25.00" currency="USD"/>
        <CashTransaction type="Payment In Lieu Of Dividends" symbol="MSFT"
             description="MSFT PAYMENT IN LIEU OF Dividend" reportDate="20240612"
             amount="7.50" currency="USD"/>
        <CashTransaction type="Withholding Tax" symbol="AAPL"
             description="AAPL US TAX" dateTime="20240510;202000" amount="-2.50" currency="USD"/>
        <CashTransaction type="Deposits/Withdrawals" description="WIRE IN"
             dateTime="20240201;090000" amount="10000" currency="USD" fxRateToBase="1"/>
        <CashTransaction type="Deposits/Withdrawals" description="WIRE OUT"
             dateTime="20241105;160000" amount="-2500" currency="EUR" fxRateToBase="1.08"/>
      </CashTransactions>
      <WithholdingTax>
        <Tax accountId="U1234567" date="20240510" symbol="AAPL" description="AAPL US TAX"
             amount="-2.50" currency="USD" code="US"/>
      </WithholdingTax>
    </FlexStatement>
  </FlexStatements>
</FlexQueryResponse>`

func TestParser_Parse_FullStatement(t *testing.T) {
	p := newTestParser(t)

	statements, err := p.Parse(context.Background(), []byte(fullStatementXML))
	require.NoError(t, err)
	require.Len(t, statements, 1)

	st := statements[0]
	assert.Equal(t, "U1234567", st.AccountID)
	assert.Equal(t, domain.NewDate(2024, time.January, 1), st.FromDate)
	assert.Equal(t, domain.NewDate(2024, time.December, 31), st.ToDate)

	require.Len(t, st.Trades, 2)
	aapl := st.Trades[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, domain.NewDate(2024, time.March, 15), aapl.Date)
	assert.Equal(t, "143005", aapl.Time)
	assert.Equal(t, domain.Sell, aapl.Side)
	assert.True(t, aapl.Quantity.Equal(decimal.NewFromInt(10)), "quantity must be stored absolute")
	assert.True(t, aapl.RealizedPnL.Equal(decimal.RequireFromString("255.00")))
	assert.True(t, aapl.Commission.Equal(decimal.RequireFromString("-1.25")))

	msft := st.Trades[1]
	assert.Equal(t, domain.NewDate(2024, time.June, 20), msft.Date, "date must fall back to the dateTime attribute")
	assert.True(t, msft.Commission.IsZero(), "empty commission must parse as zero")
	assert.Equal(t, "U1234567", msft.AccountID, "account must propagate from the statement")

	require.Len(t, st.Dividends, 2)
	assert.Equal(t, "AAPL", st.Dividends[0].Symbol)
	assert.True(t, st.Dividends[0].Amount.Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, domain.NewDate(2024, time.June, 12), st.Dividends[1].Date, "date must fall back to reportDate")

	require.Len(t, st.WithholdingTaxes, 1, "dedicated withholding section should win over cash rows")
	wt := st.WithholdingTaxes[0]
	assert.Equal(t, "US", wt.Code)
	assert.True(t, wt.Amount.Equal(decimal.RequireFromString("2.50")), "withheld amount must be stored absolute")

	require.Len(t, st.CashMovements, 2)
	deposit, withdrawal := st.CashMovements[0], st.CashMovements[1]
	assert.Equal(t, domain.Deposit, deposit.Kind)
	assert.Equal(t, "09:00:00", deposit.Time)
	assert.Equal(t, domain.Withdrawal, withdrawal.Kind)
	assert.True(t, withdrawal.AmountBase.Equal(decimal.RequireFromString("-2700")), "base amount must apply fxRateToBase")
}

func TestParser_Parse_WithholdingFallbackToCashRows(t *testing.T) {
	const doc = `<FlexQueryResponse><FlexStatements count="1">
      <FlexStatement accountId="U1">
        <CashTransactions>
          <CashTransaction type="Withholding Tax" symbol="KO" description="KO US TAX"
               dateTime="20230403;200000" amount="-1.80" currency="USD"/>
          <CashTransaction type="Dividends" symbol="KO" description="KO CASH Dividend"
               dateTime="20230403;200000" amount="12.00" currency="USD"/>
        </CashTransactions>
      </FlexStatement>
    </FlexStatements></FlexQueryResponse>`

	p := newTestParser(t)
	statements, err := p.Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, statements, 1)

	st := statements[0]
	require.Len(t, st.WithholdingTaxes, 1)
	assert.Equal(t, "Withholding Tax", st.WithholdingTaxes[0].Code)
	assert.True(t, st.WithholdingTaxes[0].Amount.Equal(decimal.RequireFromString("1.80")))
	require.Len(t, st.Dividends, 1, "withholding rows must not be double-counted as dividends")
}

func TestParser_Parse_MultipleAccounts(t *testing.T) {
	const doc = `<FlexQueryResponse><FlexStatements count="2">
      <FlexStatement accountId="U1"><Trades>
        <Lot symbol="A" tradeDate="20240102" buySell="SELL" quantity="1" fifoPnlRealized="5" currency="USD"/>
      </Trades></FlexStatement>
      <FlexStatement accountId="U2"><Trades>
        <Lot symbol="B" tradeDate="20240103" buySell="SELL" quantity="2" fifoPnlRealized="7" currency="USD"/>
      </Trades></FlexStatement>
    </FlexStatements></FlexQueryResponse>`

	p := newTestParser(t)
	statements, err := p.Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, statements, 2)
	assert.Equal(t, "U1", statements[0].AccountID)
	assert.Equal(t, "U1", statements[0].Trades[0].AccountID)
	assert.Equal(t, "U2", statements[1].AccountID)
	assert.Equal(t, "U2", statements[1].Trades[0].AccountID)
}

func TestParser_Parse_EnvelopeRoot(t *testing.T) {
	const doc = `<FlexStatementResponse><Status>Success</Status>
      <FlexStatements count="1">
        <FlexStatement accountId="U9"><Trades>
          <Lot symbol="C" tradeDate="20220504" buySell="SELL" quantity="3" fifoPnlRealized="11" currency="USD"/>
        </Trades></FlexStatement>
      </FlexStatements>
    </FlexStatementResponse>`

	p := newTestParser(t)
	statements, err := p.Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, statements, 1)
	assert.Equal(t, "U9", statements[0].AccountID)
}

func TestParser_Parse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "control response without statements", doc: `<FlexStatementResponse><Status>Fail</Status><ErrorMessage>boom</ErrorMessage></FlexStatementResponse>`},
		{name: "empty statements", doc: `<FlexQueryResponse><FlexStatements count="0"></FlexStatements></FlexQueryResponse>`},
		{name: "not xml", doc: `{"hello":"world"}`},
	}

	p := newTestParser(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(context.Background(), []byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrMalformedStatement), "expected ErrMalformedStatement, got %v", err)
		})
	}
}

func TestParser_Parse_SkipsLotWithoutDate(t *testing.T) {
	const doc = `<FlexQueryResponse><FlexStatements count="1">
      <FlexStatement accountId="U1"><Trades>
        <Lot symbol="BAD" buySell="SELL" quantity="1" fifoPnlRealized="5" currency="USD"/>
        <Lot symbol="GOOD" tradeDate="20240110" buySell="SELL" quantity="1" fifoPnlRealized="5" currency="USD"/>
      </Trades></FlexStatement>
    </FlexStatements></FlexQueryResponse>`

	p := newTestParser(t)
	statements, err := p.Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, statements[0].Trades, 1)
	assert.Equal(t, "GOOD", statements[0].Trades[0].Symbol)
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
