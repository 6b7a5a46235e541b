package domain

import "github.com/shopspring/decimal"

// TradeSide represents the side of an execution (BUY or SELL).
type TradeSide string

const (
	Buy  TradeSide = "BUY"
	Sell TradeSide = "SELL"
)

// CashMovementKind classifies an external cash transfer.
type CashMovementKind string

const (
	Deposit    CashMovementKind = "Deposit"
	Withdrawal CashMovementKind = "Withdrawal"
)

// Trade represents a closed lot with realized profit or loss.
type Trade struct {
	AccountID     string          // Account the lot belongs to
	Symbol        string          // Instrument symbol (e.g. "AAPL")
	Description   string          // Instrument description
	AssetCategory string          // Instrument class (e.g. "STK")
	Date          Date            // Execution day
	Time          string          // Execution time of day as reported (HHMMSS, may be empty)
	OpenDateTime  string          // When the lot was opened, as reported by the service
	Side          TradeSide       // BUY or SELL
	Quantity      decimal.Decimal // Lot size, stored absolute
	Price         decimal.Decimal // Execution price
	Proceeds      decimal.Decimal // Gross proceeds
	CostBasis     decimal.Decimal // Cost basis of the lot
	Commission    decimal.Decimal // Commission charged (zero when the lot carries none)
	RealizedPnL   decimal.Decimal // Realized profit or loss
	Currency      string          // Settlement currency
}

// Dividend represents a dividend cash transaction.
type Dividend struct {
	AccountID   string          // Account the payment belongs to
	Symbol      string          // Paying instrument
	Description string          // Transaction description
	Date        Date            // Pay day
	Amount      decimal.Decimal // Gross amount in Currency
	Currency    string          // Payment currency
	Type        string          // Provider transaction type (e.g. "Dividends")
}

// WithholdingTax represents tax withheld at source.
type WithholdingTax struct {
	AccountID   string          // Account the withholding belongs to
	Symbol      string          // Related instrument (may be empty)
	Description string          // Transaction description
	Date        Date            // Withholding day
	Amount      decimal.Decimal // Amount withheld, stored absolute
	Currency    string          // Withholding currency
	Code        string          // Provider tax code or transaction type
}

// CashMovement represents an external deposit or withdrawal. Movements feed
// the account funding summary only and never enter tax math.
type CashMovement struct {
	AccountID    string           // Account the transfer belongs to
	Date         Date             // Settlement day
	Time         string           // Settlement time of day (HH:MM:SS, may be empty)
	Description  string           // Transfer description
	Amount       decimal.Decimal  // Signed amount in Currency
	Currency     string           // Transfer currency
	FxRateToBase decimal.Decimal  // Conversion rate to the account base currency
	AmountBase   decimal.Decimal  // Signed amount in the base currency
	Kind         CashMovementKind // Deposit or Withdrawal, by sign of AmountBase
}

// Statement holds the parsed records of one account for one reporting period.
type Statement struct {
	AccountID        string           // Account the statement covers
	FromDate         Date             // Period start (zero when the service omits it)
	ToDate           Date             // Period end (zero when the service omits it)
	Trades           []Trade          // Closed lots in statement order
	Dividends        []Dividend       // Dividend transactions in statement order
	WithholdingTaxes []WithholdingTax // Withholding entries in statement order
	CashMovements    []CashMovement   // Deposits and withdrawals in statement order
}
