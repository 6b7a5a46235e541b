package export

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"ibkrTax/internal/domain"
)

const (
	sheetTrades        = "Trades"
	sheetDividends     = "Dividends"
	sheetWithholding   = "Withholding_Tax"
	sheetCashMovements = "Cash_Movements"
	sheetSummary       = "Summary"
)

// WriteExcel renders the merged dataset and its tax summary as a workbook
// with one sheet per record category plus a Summary sheet. Categories with
// no records are omitted; the Summary sheet is always written.
func WriteExcel(dataset *domain.MergedDataset, summary *domain.TaxSummary, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if trades := dataset.Trades(); len(trades) > 0 {
		if err := writeTrades(f, trades); err != nil {
			return err
		}
	}
	if dividends := dataset.Dividends(); len(dividends) > 0 {
		if err := writeDividends(f, dividends); err != nil {
			return err
		}
	}
	if taxes := dataset.WithholdingTaxes(); len(taxes) > 0 {
		if err := writeWithholding(f, taxes); err != nil {
			return err
		}
	}
	if movements := dataset.CashMovements(); len(movements) > 0 {
		if err := writeCashMovements(f, movements); err != nil {
			return err
		}
	}
	if err := writeSummarySheet(f, summary); err != nil {
		return err
	}

	// Drop the implicit default sheet so the workbook opens on real data.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}
	return nil
}

func newSheet(f *excelize.File, name string, header []interface{}) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("creating sheet %s: %w", name, err)
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	return nil
}

func setRow(f *excelize.File, name string, rowIdx int, row []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIdx)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(name, cell, &row); err != nil {
		return fmt.Errorf("writing %s row %d: %w", name, rowIdx, err)
	}
	return nil
}

func writeTrades(f *excelize.File, trades []domain.Trade) error {
	err := newSheet(f, sheetTrades, []interface{}{
		"Account", "Date", "Time", "Symbol", "Description", "Quantity", "Price",
		"Amount", "Cost", "Commission", "Realized P&L", "Buy_Sell", "Currency",
		"Asset_Category", "Open_DateTime",
	})
	if err != nil {
		return err
	}
	for i, tr := range trades {
		row := []interface{}{
			tr.AccountID, tr.Date.String(), tr.Time, tr.Symbol, tr.Description,
			tr.Quantity.InexactFloat64(), tr.Price.InexactFloat64(),
			tr.Proceeds.InexactFloat64(), tr.CostBasis.InexactFloat64(),
			tr.Commission.InexactFloat64(), tr.RealizedPnL.InexactFloat64(),
			string(tr.Side), tr.Currency, tr.AssetCategory, tr.OpenDateTime,
		}
		if err := setRow(f, sheetTrades, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeDividends(f *excelize.File, dividends []domain.Dividend) error {
	err := newSheet(f, sheetDividends, []interface{}{
		"Account", "Date", "Symbol", "Description", "Amount", "Currency", "Type",
	})
	if err != nil {
		return err
	}
	for i, d := range dividends {
		row := []interface{}{
			d.AccountID, d.Date.String(), d.Symbol, d.Description,
			d.Amount.InexactFloat64(), d.Currency, d.Type,
		}
		if err := setRow(f, sheetDividends, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeWithholding(f *excelize.File, taxes []domain.WithholdingTax) error {
	err := newSheet(f, sheetWithholding, []interface{}{
		"Account", "Date", "Symbol", "Description", "Amount", "Currency", "Type",
	})
	if err != nil {
		return err
	}
	for i, w := range taxes {
		row := []interface{}{
			w.AccountID, w.Date.String(), w.Symbol, w.Description,
			w.Amount.InexactFloat64(), w.Currency, w.Code,
		}
		if err := setRow(f, sheetWithholding, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeCashMovements(f *excelize.File, movements []domain.CashMovement) error {
	err := newSheet(f, sheetCashMovements, []interface{}{
		"Account", "Date", "Time", "Description", "Amount", "Currency",
		"FX_Rate_To_Base", "Amount_Base_Currency", "Transaction_Type",
	})
	if err != nil {
		return err
	}
	for i, m := range movements {
		row := []interface{}{
			m.AccountID, m.Date.String(), m.Time, m.Description,
			m.Amount.InexactFloat64(), m.Currency, m.FxRateToBase.InexactFloat64(),
			m.AmountBase.InexactFloat64(), string(m.Kind),
		}
		if err := setRow(f, sheetCashMovements, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, summary *domain.TaxSummary) error {
	err := newSheet(f, sheetSummary, []interface{}{"Category", "Metric", "Value"})
	if err != nil {
		return err
	}
	rowIdx := 2
	for _, section := range summarySections(summary) {
		if err := setRow(f, sheetSummary, rowIdx, []interface{}{section.Name, "", ""}); err != nil {
			return err
		}
		rowIdx++
		for _, r := range section.Rows {
			if err := setRow(f, sheetSummary, rowIdx, []interface{}{"", r.Metric, cellValue(r.Value)}); err != nil {
				return err
			}
			rowIdx++
		}
	}
	return nil
}

// cellValue unwraps a summary row value into something excelize stores as a
// native cell type, keeping amounts numeric.
func cellValue(v interface{}) interface{} {
	switch t := v.(type) {
	case moneyValue:
		return t.amount.InexactFloat64()
	case decimal.Decimal:
		return t.InexactFloat64()
	case int:
		return t
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}
