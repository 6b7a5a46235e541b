package flexreport

import "encoding/xml"

// FlexQueryResponse is the root element of a generated statement document.
type FlexQueryResponse struct {
	XMLName        xml.Name       `xml:"FlexQueryResponse"`
	QueryName      string         `xml:"queryName,attr"`
	Type           string         `xml:"type,attr"`
	FlexStatements FlexStatements `xml:"FlexStatements"`
}

// flexStatementEnvelope covers the alternate delivery form where the service
// wraps the generated statements in a FlexStatementResponse root.
type flexStatementEnvelope struct {
	XMLName        xml.Name       `xml:"FlexStatementResponse"`
	Status         string         `xml:"Status"`
	FlexStatements FlexStatements `xml:"FlexStatements"`
}

// FlexStatements groups one FlexStatement per account covered by the query.
type FlexStatements struct {
	Count      int             `xml:"count,attr"`
	Statements []FlexStatement `xml:"FlexStatement"`
}

// FlexStatement carries one account's activity for the requested period.
type FlexStatement struct {
	AccountID        string                  `xml:"accountId,attr"`
	FromDate         string                  `xml:"fromDate,attr"`
	ToDate           string                  `xml:"toDate,attr"`
	Period           string                  `xml:"period,attr"`
	Trades           TradesSection           `xml:"Trades"`
	CashTransactions CashTransactionsSection `xml:"CashTransactions"`
	WithholdingTax   WithholdingTaxSection   `xml:"WithholdingTax"`
}

// TradesSection holds closed lots. Lot elements carry the realized figures;
// plain Trade elements duplicate executions and are not used here.
type TradesSection struct {
	Lots []Lot `xml:"Lot"`
}

// Lot is one closed lot. Numeric attributes stay strings because the service
// emits empty strings for absent values.
type Lot struct {
	AccountID       string `xml:"accountId,attr"`
	Symbol          string `xml:"symbol,attr"`
	Description     string `xml:"description,attr"`
	AssetCategory   string `xml:"assetCategory,attr"`
	TradeDate       string `xml:"tradeDate,attr"`
	DateTime        string `xml:"dateTime,attr"`
	OpenDateTime    string `xml:"openDateTime,attr"`
	BuySell         string `xml:"buySell,attr"`
	Quantity        string `xml:"quantity,attr"`
	TradePrice      string `xml:"tradePrice,attr"`
	Proceeds        string `xml:"proceeds,attr"`
	Cost            string `xml:"cost,attr"`
	IBCommission    string `xml:"ibCommission,attr"`
	FifoPnlRealized string `xml:"fifoPnlRealized,attr"`
	Currency        string `xml:"currency,attr"`
}

// CashTransactionsSection holds dividend, withholding, and transfer rows.
type CashTransactionsSection struct {
	Transactions []CashTransaction `xml:"CashTransaction"`
}

// CashTransaction is one cash ledger row, classified by its type attribute.
type CashTransaction struct {
	AccountID    string `xml:"accountId,attr"`
	Type         string `xml:"type,attr"`
	Symbol       string `xml:"symbol,attr"`
	Description  string `xml:"description,attr"`
	DateTime     string `xml:"dateTime,attr"`
	ReportDate   string `xml:"reportDate,attr"`
	Amount       string `xml:"amount,attr"`
	Currency     string `xml:"currency,attr"`
	FxRateToBase string `xml:"fxRateToBase,attr"`
}

// WithholdingTaxSection holds dedicated withholding rows when the query
// includes them; older query configurations report withholding through
// CashTransactions instead.
type WithholdingTaxSection struct {
	Taxes []Tax `xml:"Tax"`
}

// Tax is one withholding entry.
type Tax struct {
	AccountID   string `xml:"accountId,attr"`
	Date        string `xml:"date,attr"`
	Symbol      string `xml:"symbol,attr"`
	Description string `xml:"description,attr"`
	Amount      string `xml:"amount,attr"`
	Currency    string `xml:"currency,attr"`
	Code        string `xml:"code,attr"`
}
