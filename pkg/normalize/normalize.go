// Package normalize maps raw provider records into the canonical shapes the
// rest of the system works with. All functions are pure; normalizing the
// same raw record twice yields structurally equal values.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/fintab/fintab/pkg/models"
	"github.com/fintab/fintab/pkg/plaid"
)

// categorySeparator joins provider category levels into one readable string.
const categorySeparator = " - "

// Account maps a raw account. institution is the caller-chosen label for the
// linked connection (the credential store key's nickname), carried through so
// downstream consumers can tell accounts from different banks apart.
func Account(raw plaid.Account, institution string) models.Account {
	return models.Account{
		Integration: models.IntegrationPlaid,
		AccountID:   raw.AccountID,
		Mask:        deref(raw.Mask),
		Institution: institution,
		Account:     raw.Name,
		Type:        accountType(raw),
		Current:     raw.Balances.Current,
		Available:   raw.Balances.Available,
		Limit:       raw.Balances.Limit,
		Currency:    currency(raw.Balances.ISOCurrencyCode, raw.Balances.UnofficialCurrencyCode),
	}
}

// Accounts maps a batch of raw accounts.
func Accounts(raws []plaid.Account, institution string) []models.Account {
	out := make([]models.Account, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Account(raw, institution))
	}
	return out
}

// Transaction maps a raw transaction. The only failure mode is an
// unparseable date.
func Transaction(raw plaid.Transaction) (models.Transaction, error) {
	date, err := time.Parse(time.DateOnly, raw.Date)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("parsing transaction date %q: %w", raw.Date, err)
	}

	return models.Transaction{
		Integration:   models.IntegrationPlaid,
		Name:          raw.Name,
		Date:          date,
		Amount:        raw.Amount,
		Currency:      currency(raw.ISOCurrencyCode, raw.UnofficialCurrencyCode),
		Type:          deref(raw.TransactionType),
		AccountID:     raw.AccountID,
		TransactionID: raw.TransactionID,
		Category:      strings.Join(raw.Category, categorySeparator),
		Address:       deref(raw.Location.Address),
		City:          deref(raw.Location.City),
		State:         deref(raw.Location.Region),
		PostalCode:    deref(raw.Location.PostalCode),
		Country:       deref(raw.Location.Country),
		Latitude:      raw.Location.Latitude,
		Longitude:     raw.Location.Longitude,
		Pending:       raw.Pending,
	}, nil
}

// Transactions maps a batch of raw transactions, preserving order.
func Transactions(raws []plaid.Transaction) ([]models.Transaction, error) {
	out := make([]models.Transaction, 0, len(raws))
	for _, raw := range raws {
		t, err := Transaction(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// currency prefers the ISO code and falls back to the unofficial code.
// Never both; empty when the provider reports neither.
func currency(iso, unofficial *string) string {
	if iso != nil && *iso != "" {
		return *iso
	}
	return deref(unofficial)
}

// accountType prefers the refined subtype over the coarse type.
func accountType(raw plaid.Account) string {
	if raw.Subtype != nil && *raw.Subtype != "" {
		return *raw.Subtype
	}
	return raw.Type
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
