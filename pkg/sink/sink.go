// Package sink delivers a finished sync run to its export target.
package sink

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fintab/fintab/pkg/models"
)

// Update is the normalized payload handed to a sink: every fetched account
// with its transactions attached, plus run metadata.
type Update struct {
	RunID     string
	FetchedAt time.Time
	Accounts  []models.Account
}

// FilterFunc lets callers drop transactions before export.
type FilterFunc func(models.Transaction) bool

// Sink writes one update to an export target.
type Sink interface {
	Write(ctx context.Context, u Update) error
}

var header = []string{"Date", "Name", "Amount", "Currency", "Category", "Pending"}

// rows renders an account's transactions as spreadsheet rows, header first.
func rows(a models.Account, filter FilterFunc) [][]string {
	out := [][]string{header}
	for _, t := range a.Transactions {
		if filter != nil && !filter(t) {
			continue
		}
		out = append(out, []string{
			t.Date.Format(time.DateOnly),
			t.Name,
			strconv.FormatFloat(t.Amount, 'f', 2, 64),
			t.Currency,
			t.Category,
			strconv.FormatBool(t.Pending),
		})
	}
	return out
}

// tabName labels an account's export target: institution plus display name,
// spaces collapsed so the result works as a filename and a sheet title.
func tabName(a models.Account) string {
	name := a.Institution + " " + a.Account
	name = strings.TrimSpace(name)
	return strings.Join(strings.Fields(name), "-")
}
