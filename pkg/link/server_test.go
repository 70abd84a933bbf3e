package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintab/fintab/pkg/plaid"
	"github.com/fintab/fintab/pkg/store"
)

// fakeExchanger stubs the provider for handshake tests.
type fakeExchanger struct {
	exchangeErr error
	accounts    map[string][]plaid.Account
	accountErrs map[string]error
	publicToken string
}

func (f *fakeExchanger) ExchangePublicToken(_ context.Context, publicToken string) (*plaid.ItemAccess, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &plaid.ItemAccess{AccessToken: "accX", ItemID: "itemX"}, nil
}

func (f *fakeExchanger) CreatePublicToken(_ context.Context, accessToken string) (string, error) {
	if f.publicToken == "" {
		return "", errors.New("no public token configured")
	}
	return f.publicToken, nil
}

func (f *fakeExchanger) GetAccounts(_ context.Context, accessToken string) ([]plaid.Account, error) {
	if err := f.accountErrs[accessToken]; err != nil {
		return nil, err
	}
	return f.accounts[accessToken], nil
}

func startServer(t *testing.T, client Exchanger, st store.Store) *Server {
	t.Helper()
	srv, err := Start(Options{Port: 0, Environment: "sandbox", PublicKey: "pk"}, client, st, log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandshakeSuccessPersistsCredential(t *testing.T) {
	st := store.NewMemory()
	srv := startServer(t, &fakeExchanger{}, st)

	resp := postJSON(t, srv.URL()+"/get_access_token", map[string]string{"public_token": "tok1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := srv.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "itemX", result.ItemID)
	assert.Equal(t, "accX", result.AccessToken)
	assert.Equal(t, StatePersisted, srv.State())

	cfg, ok := st.Get("itemX")
	require.True(t, ok)
	assert.Equal(t, store.AccountConfig{ID: "itemX", Integration: "plaid", Token: "accX"}, cfg)
}

func TestHandshakeExitDoesNotTouchStore(t *testing.T) {
	st := store.NewMemory(store.AccountConfig{ID: "itemX", Integration: "plaid", Token: "accX"})
	srv := startServer(t, &fakeExchanger{}, st)

	postJSON(t, srv.URL()+"/get_access_token", map[string]bool{"exit": true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := srv.Wait(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, srv.State())

	assert.Len(t, st.All(), 1, "cancelled handshake must not alter the store")
}

func TestHandshakeWidgetError(t *testing.T) {
	srv := startServer(t, &fakeExchanger{}, store.NewMemory())

	postJSON(t, srv.URL()+"/get_access_token", map[string]any{
		"error": map[string]string{"error_code": "INSTITUTION_DOWN", "error_message": "try again later"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := srv.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSTITUTION_DOWN")
	assert.Equal(t, StateFailed, srv.State())
}

func TestHandshakeExchangeFailure(t *testing.T) {
	st := store.NewMemory()
	srv := startServer(t, &fakeExchanger{exchangeErr: errors.New("exchange rejected")}, st)

	postJSON(t, srv.URL()+"/get_access_token", map[string]string{"public_token": "tok1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := srv.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, StateFailed, srv.State())
	assert.Empty(t, st.All())
}

func TestAccountListingToleratesPartialFailure(t *testing.T) {
	st := store.NewMemory(
		store.AccountConfig{ID: "item-a", Token: "a"},
		store.AccountConfig{ID: "item-b", Token: "b"},
	)
	client := &fakeExchanger{
		accounts:    map[string][]plaid.Account{"a": {{Name: "Real Name A"}}},
		accountErrs: map[string]error{"b": errors.New("lookup failed")},
	}
	srv := startServer(t, client, st)

	resp := postJSON(t, srv.URL()+"/accounts", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var names []accountName
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	require.Len(t, names, 2)
	assert.Equal(t, accountName{Name: "Real Name A", Token: "a"}, names[0])
	assert.Equal(t, accountName{Name: "Error fetching account name", Token: "b"}, names[1])
}

func TestRefreshTokenEndpoint(t *testing.T) {
	srv := startServer(t, &fakeExchanger{publicToken: "fresh-public"}, store.NewMemory())

	resp := postJSON(t, srv.URL()+"/exchangeAccessToken", map[string]string{"token": "accX"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "fresh-public", body["token"])
}

func TestDoneStopsListener(t *testing.T) {
	srv := startServer(t, &fakeExchanger{}, store.NewMemory())

	resp := postJSON(t, srv.URL()+"/done", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, err := http.Get(srv.URL() + "/")
		return err != nil
	}, 5*time.Second, 10*time.Millisecond, "listener should be released after done")
	assert.Equal(t, StateClosed, srv.State())
}

func TestWaitReturnsNoResultWhenClosedEarly(t *testing.T) {
	srv := startServer(t, &fakeExchanger{}, store.NewMemory())

	postJSON(t, srv.URL()+"/done", map[string]any{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := srv.Wait(ctx)
	require.ErrorIs(t, err, ErrNoResult)
}

func TestStopIsIdempotent(t *testing.T) {
	srv := startServer(t, &fakeExchanger{}, store.NewMemory())
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestIndexServesLinkPage(t *testing.T) {
	srv := startServer(t, &fakeExchanger{}, store.NewMemory())

	resp, err := http.Get(srv.URL() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Plaid.create")
	assert.Contains(t, string(body), "sandbox")
	assert.Equal(t, StateAwaitingClientResult, srv.State())
}
