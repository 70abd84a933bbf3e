// Package service runs the per-account fetch, normalize and reconcile
// pipeline and the cross-account orchestration around it.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/fintab/fintab/pkg/models"
	"github.com/fintab/fintab/pkg/normalize"
	"github.com/fintab/fintab/pkg/plaid"
	"github.com/fintab/fintab/pkg/reconcile"
	"github.com/fintab/fintab/pkg/store"
)

// transactionWarnThreshold is evaluated over a whole run, across accounts.
// Spreadsheet updates past this size tend to hit API quotas.
const transactionWarnThreshold = 500

// Provider is the slice of the Plaid client the syncer needs. *plaid.Client
// satisfies it; tests substitute a fake.
type Provider interface {
	GetTransactionsPaged(ctx context.Context, accessToken string, start, end time.Time) (*plaid.TransactionsResponse, error)
}

// Result is the outcome of one full sync run.
type Result struct {
	RunID     string
	FetchedAt time.Time
	Accounts  []models.Account
}

// TransactionCount sums transactions across every account in the run.
func (r Result) TransactionCount() int {
	n := 0
	for _, a := range r.Accounts {
		n += len(a.Transactions)
	}
	return n
}

// Syncer drives the fetch pipeline for linked accounts.
type Syncer struct {
	provider Provider
	logger   *log.Logger
}

// New creates a Syncer.
func New(provider Provider, logger *log.Logger) *Syncer {
	return &Syncer{provider: provider, logger: logger}
}

// FetchAccount runs fetch → normalize → reconcile for one linked account.
// Any internal failure is logged and collapsed into an empty slice so one
// broken credential never takes down a whole run.
func (s *Syncer) FetchAccount(ctx context.Context, cfg store.AccountConfig, start, end time.Time) []models.Account {
	accounts, err := s.fetch(ctx, cfg, start, end)
	if err != nil {
		s.logger.Error("account fetch failed", "account", cfg.ID, "error", err)
		return []models.Account{}
	}
	return accounts
}

func (s *Syncer) fetch(ctx context.Context, cfg store.AccountConfig, start, end time.Time) ([]models.Account, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("account %s has no access token", cfg.ID)
	}

	resp, err := s.provider.GetTransactionsPaged(ctx, cfg.Token, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching transactions: %w", err)
	}

	accounts := normalize.Accounts(resp.Accounts, cfg.ID)
	transactions, err := normalize.Transactions(resp.Transactions)
	if err != nil {
		return nil, fmt.Errorf("normalizing transactions: %w", err)
	}

	merged := reconcile.Attach(accounts, transactions)

	s.logger.Info("fetched account",
		"account", cfg.ID,
		"sub_accounts", len(merged),
		"transactions", len(transactions))
	return merged, nil
}

// FetchAll fetches every configured account concurrently and flattens the
// results in configuration order. Per-account failures surface as missing
// entries, never as an error.
func (s *Syncer) FetchAll(ctx context.Context, cfgs []store.AccountConfig, start, end time.Time) Result {
	runID := uuid.NewString()
	logger := s.logger.With("run", runID)
	logger.Info("starting sync run", "accounts", len(cfgs),
		"start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))

	perAccount := make([][]models.Account, len(cfgs))
	var wg sync.WaitGroup
	for i, cfg := range cfgs {
		wg.Add(1)
		go func(i int, cfg store.AccountConfig) {
			defer wg.Done()
			perAccount[i] = s.FetchAccount(ctx, cfg, start, end)
		}(i, cfg)
	}
	wg.Wait()

	result := Result{RunID: runID, FetchedAt: time.Now()}
	for _, accounts := range perAccount {
		result.Accounts = append(result.Accounts, accounts...)
	}

	if n := result.TransactionCount(); n > transactionWarnThreshold {
		logger.Warn("large sync run, spreadsheet update may hit rate limits",
			"transactions", n, "threshold", transactionWarnThreshold)
	}
	return result
}
