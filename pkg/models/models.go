package models

import "time"

// IntegrationPlaid is the integration name stamped on every record that
// originates from the Plaid API.
const IntegrationPlaid = "plaid"

// Account is the canonical shape of one provider account, ready for export.
// Transactions is populated by reconcile.Attach; a freshly normalized
// account carries none.
type Account struct {
	Integration string
	AccountID   string
	Mask        string
	Institution string
	Account     string
	Type        string
	Current     *float64
	Available   *float64
	Limit       *float64
	Currency    string

	Transactions []Transaction
}

// Transaction is the canonical shape of one provider transaction.
//
// AccountID is a back-reference used only for the reconcile join; it does
// not imply the transaction has been attached. Institution and Account are
// empty until reconcile.Attach copies them from the owning account.
type Transaction struct {
	Integration   string
	Name          string
	Date          time.Time
	Amount        float64
	Currency      string
	Type          string
	AccountID     string
	TransactionID string
	Category      string
	Address       string
	City          string
	State         string
	PostalCode    string
	Country       string
	Latitude      *float64
	Longitude     *float64
	Pending       bool

	Institution string
	Account     string
}
