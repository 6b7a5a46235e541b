package flexreport

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ibkrTax/internal/domain"
	"ibkrTax/internal/ports"
)

// Config holds the dependencies for the statement parser.
type Config struct {
	Logger ports.Logger
}

// Parser converts raw statement documents into domain records. Parsing is
// tolerant: malformed numeric attributes become zero and records without a
// usable date are skipped with a warning, so one bad row never sinks a year.
type Parser struct {
	logger ports.Logger
}

// New creates a statement parser.
func New(cfg Config) (*Parser, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required for parser")
	}
	return &Parser{logger: cfg.Logger}, nil
}

// Parse decodes a statement document into one domain.Statement per account.
func (p *Parser) Parse(ctx context.Context, data []byte) ([]*domain.Statement, error) {
	statements, err := decodeStatements(data)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Statement, 0, len(statements))
	for i := range statements {
		out = append(out, p.convert(ctx, &statements[i]))
	}
	return out, nil
}

// decodeStatements accepts both delivery forms: a FlexQueryResponse root and
// the FlexStatementResponse envelope. A document without statements is
// malformed regardless of root.
func decodeStatements(data []byte) ([]FlexStatement, error) {
	var q FlexQueryResponse
	if err := xml.Unmarshal(data, &q); err == nil {
		if len(q.FlexStatements.Statements) == 0 {
			return nil, fmt.Errorf("%w: document contains no statements", ports.ErrMalformedStatement)
		}
		return q.FlexStatements.Statements, nil
	}

	var env flexStatementEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrMalformedStatement, err)
	}
	if len(env.FlexStatements.Statements) == 0 {
		return nil, fmt.Errorf("%w: document contains no statements", ports.ErrMalformedStatement)
	}
	return env.FlexStatements.Statements, nil
}

func (p *Parser) convert(ctx context.Context, st *FlexStatement) *domain.Statement {
	out := &domain.Statement{AccountID: st.AccountID}
	if d, err := domain.ParseFlexDate(st.FromDate); err == nil {
		out.FromDate = d
	}
	if d, err := domain.ParseFlexDate(st.ToDate); err == nil {
		out.ToDate = d
	}

	out.Trades = p.convertLots(ctx, st)
	out.Dividends = p.convertDividends(ctx, st)
	out.WithholdingTaxes = p.convertWithholding(ctx, st)
	out.CashMovements = p.convertCashMovements(ctx, st)

	p.logger.Debug(ctx, "parsed statement", map[string]interface{}{
		"account":     out.AccountID,
		"trades":      len(out.Trades),
		"dividends":   len(out.Dividends),
		"withholding": len(out.WithholdingTaxes),
		"movements":   len(out.CashMovements),
	})
	return out
}

// convertLots maps closed lots to trades. Lots carry the realized P&L; the
// quantity is stored absolute as the side already encodes direction.
func (p *Parser) convertLots(ctx context.Context, st *FlexStatement) []domain.Trade {
	var trades []domain.Trade
	for _, lot := range st.Trades.Lots {
		dateAttr := lot.TradeDate
		if dateAttr == "" {
			dateAttr = lot.DateTime
		}
		day, err := domain.ParseFlexDate(dateAttr)
		if err != nil {
			p.logger.Warn(ctx, "skipping lot without a usable trade date", map[string]interface{}{
				"account": accountOf(lot.AccountID, st),
				"symbol":  lot.Symbol,
			})
			continue
		}

		trades = append(trades, domain.Trade{
			AccountID:     accountOf(lot.AccountID, st),
			Symbol:        lot.Symbol,
			Description:   lot.Description,
			AssetCategory: lot.AssetCategory,
			Date:          day,
			Time:          timeHalf(lot.DateTime),
			OpenDateTime:  lot.OpenDateTime,
			Side:          domain.TradeSide(lot.BuySell),
			Quantity:      safeDecimal(lot.Quantity).Abs(),
			Price:         safeDecimal(lot.TradePrice),
			Proceeds:      safeDecimal(lot.Proceeds),
			CostBasis:     safeDecimal(lot.Cost),
			Commission:    safeDecimal(lot.IBCommission),
			RealizedPnL:   safeDecimal(lot.FifoPnlRealized),
			Currency:      lot.Currency,
		})
	}
	return trades
}

func (p *Parser) convertDividends(ctx context.Context, st *FlexStatement) []domain.Dividend {
	var dividends []domain.Dividend
	for _, txn := range st.CashTransactions.Transactions {
		if isWithholdingType(txn.Type) {
			continue
		}
		if !strings.Contains(txn.Type, "Dividend") && !strings.Contains(txn.Description, "Dividend") {
			continue
		}
		day, ok := p.cashDay(ctx, &txn, st)
		if !ok {
			continue
		}
		dividends = append(dividends, domain.Dividend{
			AccountID:   accountOf(txn.AccountID, st),
			Symbol:      txn.Symbol,
			Description: txn.Description,
			Date:        day,
			Amount:      safeDecimal(txn.Amount),
			Currency:    txn.Currency,
			Type:        txn.Type,
		})
	}
	return dividends
}

// convertWithholding prefers the dedicated WithholdingTax section and falls
// back to cash transactions for query configurations that lack it. Amounts
// are stored absolute either way.
func (p *Parser) convertWithholding(ctx context.Context, st *FlexStatement) []domain.WithholdingTax {
	if len(st.WithholdingTax.Taxes) > 0 {
		var taxes []domain.WithholdingTax
		for _, tax := range st.WithholdingTax.Taxes {
			day, err := domain.ParseFlexDate(tax.Date)
			if err != nil {
				p.logger.Warn(ctx, "skipping withholding entry without a usable date", map[string]interface{}{
					"account": accountOf(tax.AccountID, st),
					"symbol":  tax.Symbol,
				})
				continue
			}
			taxes = append(taxes, domain.WithholdingTax{
				AccountID:   accountOf(tax.AccountID, st),
				Symbol:      tax.Symbol,
				Description: tax.Description,
				Date:        day,
				Amount:      safeDecimal(tax.Amount).Abs(),
				Currency:    tax.Currency,
				Code:        tax.Code,
			})
		}
		return taxes
	}

	var taxes []domain.WithholdingTax
	for _, txn := range st.CashTransactions.Transactions {
		if !isWithholdingType(txn.Type) {
			continue
		}
		day, ok := p.cashDay(ctx, &txn, st)
		if !ok {
			continue
		}
		taxes = append(taxes, domain.WithholdingTax{
			AccountID:   accountOf(txn.AccountID, st),
			Symbol:      txn.Symbol,
			Description: txn.Description,
			Date:        day,
			Amount:      safeDecimal(txn.Amount).Abs(),
			Currency:    txn.Currency,
			Code:        txn.Type,
		})
	}
	return taxes
}

func (p *Parser) convertCashMovements(ctx context.Context, st *FlexStatement) []domain.CashMovement {
	var movements []domain.CashMovement
	for _, txn := range st.CashTransactions.Transactions {
		if txn.Type != "Deposits/Withdrawals" {
			continue
		}
		day, ok := p.cashDay(ctx, &txn, st)
		if !ok {
			continue
		}

		amount := safeDecimal(txn.Amount)
		fxRate := safeDecimalDefault(txn.FxRateToBase, decimal.NewFromInt(1))
		amountBase := amount.Mul(fxRate)

		kind := domain.Withdrawal
		if amountBase.IsPositive() {
			kind = domain.Deposit
		}

		movements = append(movements, domain.CashMovement{
			AccountID:    accountOf(txn.AccountID, st),
			Date:         day,
			Time:         formatClock(timeHalf(txn.DateTime)),
			Description:  txn.Description,
			Amount:       amount,
			Currency:     txn.Currency,
			FxRateToBase: fxRate,
			AmountBase:   amountBase,
			Kind:         kind,
		})
	}
	return movements
}

// cashDay resolves the day of a cash transaction from dateTime, falling back
// to reportDate.
func (p *Parser) cashDay(ctx context.Context, txn *CashTransaction, st *FlexStatement) (domain.Date, bool) {
	dateAttr := txn.DateTime
	if dateAttr == "" {
		dateAttr = txn.ReportDate
	}
	day, err := domain.ParseFlexDate(dateAttr)
	if err != nil {
		p.logger.Warn(ctx, "skipping cash transaction without a usable date", map[string]interface{}{
			"account": accountOf(txn.AccountID, st),
			"type":    txn.Type,
			"symbol":  txn.Symbol,
		})
		return domain.Date{}, false
	}
	return day, true
}

func isWithholdingType(txnType string) bool {
	return strings.Contains(txnType, "Withholding") || strings.Contains(strings.ToUpper(txnType), "TAX")
}

func accountOf(recordAccount string, st *FlexStatement) string {
	if recordAccount != "" {
		return recordAccount
	}
	return st.AccountID
}

// safeDecimal converts a statement attribute to a decimal, treating empty and
// malformed values as zero.
func safeDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func safeDecimalDefault(s string, def decimal.Decimal) decimal.Decimal {
	if s == "" {
		return def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}

// timeHalf returns the HHMMSS half of a YYYYMMDD;HHMMSS timestamp, or "".
func timeHalf(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// formatClock rewrites HHMMSS as HH:MM:SS, leaving other forms untouched.
func formatClock(s string) string {
	if len(s) != 6 {
		return s
	}
	return s[0:2] + ":" + s[2:4] + ":" + s[4:6]
}
