// Package reconcile merges normalized transactions into their owning
// accounts. It is pure and stateless so the CLI, the scheduled runner and
// tests can all share it.
package reconcile

import "github.com/fintab/fintab/pkg/models"

// Attach returns a copy of accounts with each one's Transactions populated
// from the batch. Ownership is decided by AccountID equality; while walking
// the matches, the owning account's institution and display name are copied
// onto each transaction so consumers that only see transactions can still
// label them.
//
// A transaction whose AccountID matches no account in the batch is dropped
// silently. An account with no matches keeps an empty, non-nil list.
func Attach(accounts []models.Account, transactions []models.Transaction) []models.Account {
	byAccount := make(map[string][]models.Transaction, len(accounts))
	for _, t := range transactions {
		byAccount[t.AccountID] = append(byAccount[t.AccountID], t)
	}

	out := make([]models.Account, len(accounts))
	for i, account := range accounts {
		matches := byAccount[account.AccountID]
		attached := make([]models.Transaction, len(matches))
		for j, t := range matches {
			t.Institution = account.Institution
			t.Account = account.Account
			attached[j] = t
		}
		account.Transactions = attached
		out[i] = account
	}
	return out
}
