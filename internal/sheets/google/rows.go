package google

import (
	"fmt"
	"strings"

	"finlux/internal/core"
)

func transactionRow(tx core.Transaction) []any {
	date := ""
	if !tx.Date.IsZero() {
		date = tx.Date.UTC().Format("2006-01-02")
	}
	return []any{
		tx.ID,
		date,
		string(tx.Type),
		tx.Description,
		tx.Category,
		tx.AccountID,
		tx.Effect().String(),
	}
}

func rowRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, row, lastColumn, row)
}

// indexOfID scans a single-column value range starting at row 1.
func indexOfID(values [][]any, id string) int {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i + 1
		}
	}
	return 0
}
