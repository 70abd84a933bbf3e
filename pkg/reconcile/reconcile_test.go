package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintab/fintab/pkg/models"
)

func TestAttachJoinsOnAccountID(t *testing.T) {
	accounts := []models.Account{
		{AccountID: "acc-1", Institution: "chase", Account: "Checking"},
		{AccountID: "acc-2", Institution: "chase", Account: "Savings"},
	}
	transactions := []models.Transaction{
		{TransactionID: "tx-1", AccountID: "acc-1"},
		{TransactionID: "tx-2", AccountID: "acc-2"},
		{TransactionID: "tx-3", AccountID: "acc-1"},
	}

	got := Attach(accounts, transactions)
	require.Len(t, got, 2)

	require.Len(t, got[0].Transactions, 2)
	assert.Equal(t, "tx-1", got[0].Transactions[0].TransactionID)
	assert.Equal(t, "tx-3", got[0].Transactions[1].TransactionID)
	require.Len(t, got[1].Transactions, 1)

	for _, account := range got {
		for _, tx := range account.Transactions {
			assert.Equal(t, account.AccountID, tx.AccountID)
		}
	}
}

func TestAttachDenormalizesAccountFields(t *testing.T) {
	accounts := []models.Account{{AccountID: "acc-1", Institution: "wells-fargo", Account: "Everyday Checking"}}
	transactions := []models.Transaction{{TransactionID: "tx-1", AccountID: "acc-1"}}

	got := Attach(accounts, transactions)
	require.Len(t, got[0].Transactions, 1)
	assert.Equal(t, "wells-fargo", got[0].Transactions[0].Institution)
	assert.Equal(t, "Everyday Checking", got[0].Transactions[0].Account)
}

func TestAttachDropsOrphanTransactions(t *testing.T) {
	accounts := []models.Account{{AccountID: "acc-1"}}
	transactions := []models.Transaction{
		{TransactionID: "tx-1", AccountID: "acc-1"},
		{TransactionID: "orphan", AccountID: "acc-unknown"},
	}

	got := Attach(accounts, transactions)
	require.Len(t, got, 1)
	require.Len(t, got[0].Transactions, 1)
	assert.Equal(t, "tx-1", got[0].Transactions[0].TransactionID)
}

func TestAttachKeepsEmptyAccounts(t *testing.T) {
	accounts := []models.Account{{AccountID: "acc-1"}, {AccountID: "acc-2"}}

	got := Attach(accounts, []models.Transaction{{TransactionID: "tx-1", AccountID: "acc-2"}})
	require.Len(t, got, 2)
	assert.NotNil(t, got[0].Transactions)
	assert.Empty(t, got[0].Transactions)
}

func TestAttachDoesNotMutateInputs(t *testing.T) {
	accounts := []models.Account{{AccountID: "acc-1", Institution: "chase"}}
	transactions := []models.Transaction{{TransactionID: "tx-1", AccountID: "acc-1"}}

	_ = Attach(accounts, transactions)
	assert.Nil(t, accounts[0].Transactions)
	assert.Empty(t, transactions[0].Institution)
}
