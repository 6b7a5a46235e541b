package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"ibkrTax/internal/domain"
)

// PrintSummary renders the tax summary as a plain-text report, one block per
// category with currency cells formatted in their own currency.
func PrintSummary(w io.Writer, summary *domain.TaxSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 60))

	for _, section := range summarySections(summary) {
		fmt.Fprintf(w, "\n%s:\n", section.Name)
		fmt.Fprintln(w, strings.Repeat("-", 40))
		for _, r := range section.Rows {
			fmt.Fprintf(w, "  %-35s %15s\n", r.Metric, renderValue(r.Value))
		}
	}
}

func renderValue(v interface{}) string {
	switch t := v.(type) {
	case moneyValue:
		return formatMoney(t.amount, t.currency)
	case decimal.Decimal:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}

// formatMoney renders an amount with the grapheme and separators of its
// currency, e.g. "$1,234.50" or "1,234.50 元".
func formatMoney(amount decimal.Decimal, code string) string {
	cur := money.New(0, code).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}
