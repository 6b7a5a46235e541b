package export

import (
	"encoding/json"
	"fmt"
	"os"

	"ibkrTax/internal/domain"
)

// WriteSummaryJSON persists the tax summary as indented JSON.
func WriteSummaryJSON(summary *domain.TaxSummary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing summary %s: %w", path, err)
	}
	return nil
}
