package export

import (
	"github.com/shopspring/decimal"

	"ibkrTax/internal/domain"
)

// moneyValue tags an amount with the currency it is denominated in, so each
// renderer can pick its own formatting.
type moneyValue struct {
	amount   decimal.Decimal
	currency string
}

type summaryRow struct {
	Metric string
	Value  interface{} // int, decimal.Decimal, moneyValue or string
}

type summarySection struct {
	Name string
	Rows []summaryRow
}

// summarySections flattens a tax summary into the category/metric table the
// Excel Summary sheet and the console renderer both print. Sections with no
// underlying records are omitted.
func summarySections(s *domain.TaxSummary) []summarySection {
	var sections []summarySection

	if s.Trades.TotalTrades > 0 {
		sections = append(sections, summarySection{
			Name: "Trade_Summary",
			Rows: []summaryRow{
				{"Total Trades", s.Trades.TotalTrades},
				{"Taxable Trades", s.Trades.TaxableTrades},
				{"Realized P&L USD", moneyValue{s.Trades.RealizedPnLUSD, "USD"}},
				{"Realized P&L CNY", moneyValue{s.Trades.RealizedPnLCNY, "CNY"}},
				{"Total Commission USD", moneyValue{s.Trades.CommissionUSD, "USD"}},
				{"Total Commission CNY", moneyValue{s.Trades.CommissionCNY, "CNY"}},
				{"Net P&L USD", moneyValue{s.Trades.NetPnLUSD, "USD"}},
				{"Net P&L CNY", moneyValue{s.Trades.NetPnLCNY, "CNY"}},
				{"Average Exchange Rate", s.Trades.AverageRate},
			},
		})
	}

	if s.Dividends.TotalDividends > 0 {
		sections = append(sections, summarySection{
			Name: "Dividend_Summary",
			Rows: []summaryRow{
				{"Total Dividends", s.Dividends.TotalDividends},
				{"Taxable Dividends", s.Dividends.TaxableDividends},
				{"Total Amount USD", moneyValue{s.Dividends.AmountUSD, "USD"}},
				{"Total Amount CNY", moneyValue{s.Dividends.AmountCNY, "CNY"}},
				{"Average Exchange Rate", s.Dividends.AverageRate},
			},
		})
	}

	if s.Withholding.TotalEntries > 0 {
		sections = append(sections, summarySection{
			Name: "Tax_Summary",
			Rows: []summaryRow{
				{"Total Withholding Tax USD", moneyValue{s.Withholding.WithheldUSD, "USD"}},
				{"Total Withholding Tax CNY", moneyValue{s.Withholding.WithheldCNY, "CNY"}},
				{"Average Exchange Rate", s.Withholding.AverageRate},
			},
		})
	}

	ratePct := s.Assessment.TaxRate.Mul(decimal.NewFromInt(100))
	sections = append(sections, summarySection{
		Name: "China_Tax_Calculation",
		Rows: []summaryRow{
			{"Taxable Income CNY", moneyValue{s.Assessment.TaxableIncomeCNY, "CNY"}},
			{"Tax Rate", ratePct.String() + "%"},
			{"Tax Due CNY", moneyValue{s.Assessment.TaxDueCNY, "CNY"}},
			{"Foreign Tax Credit CNY", moneyValue{s.Assessment.ForeignTaxCreditCNY, "CNY"}},
			{"Tax Payable CNY", moneyValue{s.Assessment.TaxPayableCNY, "CNY"}},
		},
	})

	if s.Funding != nil {
		sections = append(sections, summarySection{
			Name: "Account_Summary",
			Rows: []summaryRow{
				{"Total Deposits Count", s.Funding.DepositCount},
				{"Total Withdrawals Count", s.Funding.WithdrawalCount},
				{"Total Deposits Base Currency", moneyValue{s.Funding.DepositsBase, "USD"}},
				{"Total Withdrawals Base Currency", moneyValue{s.Funding.WithdrawalsBase, "USD"}},
				{"Net Deposits Base Currency", moneyValue{s.Funding.NetDepositsBase, "USD"}},
			},
		})
	}

	return sections
}
