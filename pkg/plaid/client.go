package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://sandbox.plaid.com"
	defaultTimeout = 60 * time.Second

	exchangeTokenPath = "/item/public_token/exchange"
	createTokenPath   = "/item/public_token/create"
	accountsPath      = "/accounts/get"
	transactionsPath  = "/transactions/get"

	// pageSize is fixed: the paging loop always requests 500 records, so a
	// fetch costs ceil(total/500) sequential round trips.
	pageSize = 500

	// defaultMaxPages bounds the paging loop against a provider that keeps
	// reporting a total it never delivers.
	defaultMaxPages = 40

	dateFormat = "2006-01-02"
)

// ErrMaxPages is returned when the transaction paging loop gives up before
// accumulating the provider-reported total.
var ErrMaxPages = errors.New("transaction paging exceeded max pages")

// Client talks to the Plaid API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	maxPages   int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different environment (or a test server).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxPages overrides the paging guard.
func WithMaxPages(n int) Option {
	return func(c *Client) { c.maxPages = n }
}

// New creates a Plaid API client.
func New(clientID, secret string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		clientID:   clientID,
		secret:     secret,
		maxPages:   defaultMaxPages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnvironmentURL returns the API base URL for a named Plaid environment.
func EnvironmentURL(env string) string {
	switch env {
	case "development":
		return "https://development.plaid.com"
	case "production":
		return "https://production.plaid.com"
	default:
		return defaultBaseURL
	}
}

// ItemAccess is the durable credential produced by a public-token exchange.
type ItemAccess struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

// Balances carries the balance block of an account. Optional amounts stay
// nil when the provider omits them.
type Balances struct {
	Available              *float64 `json:"available"`
	Current                *float64 `json:"current"`
	Limit                  *float64 `json:"limit"`
	ISOCurrencyCode        *string  `json:"iso_currency_code"`
	UnofficialCurrencyCode *string  `json:"unofficial_currency_code"`
}

// Account is a raw account record as returned by the API.
type Account struct {
	AccountID    string   `json:"account_id"`
	Mask         *string  `json:"mask"`
	Name         string   `json:"name"`
	OfficialName *string  `json:"official_name"`
	Type         string   `json:"type"`
	Subtype      *string  `json:"subtype"`
	Balances     Balances `json:"balances"`
}

// Location is the geo block of a raw transaction.
type Location struct {
	Address    *string  `json:"address"`
	City       *string  `json:"city"`
	Region     *string  `json:"region"`
	PostalCode *string  `json:"postal_code"`
	Country    *string  `json:"country"`
	Latitude   *float64 `json:"lat"`
	Longitude  *float64 `json:"lon"`
}

// Transaction is a raw transaction record as returned by the API.
type Transaction struct {
	AccountID              string   `json:"account_id"`
	TransactionID          string   `json:"transaction_id"`
	Name                   string   `json:"name"`
	Amount                 float64  `json:"amount"`
	Date                   string   `json:"date"`
	Pending                bool     `json:"pending"`
	TransactionType        *string  `json:"transaction_type"`
	Category               []string `json:"category"`
	ISOCurrencyCode        *string  `json:"iso_currency_code"`
	UnofficialCurrencyCode *string  `json:"unofficial_currency_code"`
	Location               Location `json:"location"`
}

// TransactionsResponse is the merged result of one paginated transaction
// fetch. TotalTransactions is the total reported by the first page.
type TransactionsResponse struct {
	Accounts          []Account     `json:"accounts"`
	Transactions      []Transaction `json:"transactions"`
	TotalTransactions int           `json:"total_transactions"`
	RequestID         string        `json:"request_id"`
}

type accountsResponse struct {
	Accounts  []Account `json:"accounts"`
	RequestID string    `json:"request_id"`
}

type publicTokenResponse struct {
	PublicToken string `json:"public_token"`
	RequestID   string `json:"request_id"`
}

type pageOptions struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
}

type transactionsRequest struct {
	ClientID    string      `json:"client_id"`
	Secret      string      `json:"secret"`
	AccessToken string      `json:"access_token"`
	StartDate   string      `json:"start_date"`
	EndDate     string      `json:"end_date"`
	Options     pageOptions `json:"options"`
}

type tokenRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// ExchangePublicToken trades a short-lived public token from the Link widget
// for a durable access token plus the provider item id.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ItemAccess, error) {
	var out ItemAccess
	req := tokenRequest{ClientID: c.clientID, Secret: c.secret, PublicToken: publicToken}
	if err := c.post(ctx, exchangeTokenPath, req, &out); err != nil {
		return nil, fmt.Errorf("exchanging public token: %w", err)
	}
	return &out, nil
}

// CreatePublicToken trades a stored access token for a fresh short-lived
// public token, used to re-open the Link widget in update mode.
func (c *Client) CreatePublicToken(ctx context.Context, accessToken string) (string, error) {
	var out publicTokenResponse
	req := tokenRequest{ClientID: c.clientID, Secret: c.secret, AccessToken: accessToken}
	if err := c.post(ctx, createTokenPath, req, &out); err != nil {
		return "", fmt.Errorf("creating public token: %w", err)
	}
	return out.PublicToken, nil
}

// GetAccounts lists the raw accounts reachable with one access token.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	var out accountsResponse
	req := tokenRequest{ClientID: c.clientID, Secret: c.secret, AccessToken: accessToken}
	if err := c.post(ctx, accountsPath, req, &out); err != nil {
		return nil, fmt.Errorf("fetching accounts: %w", err)
	}
	return out.Accounts, nil
}

// GetTransactionsPaged retrieves every transaction in [start, end] for one
// access token, paging sequentially until the accumulated count reaches the
// total reported by the first page. Pages are appended in arrival order and
// never re-sorted. Any page failure fails the whole call; pages already
// fetched are discarded.
func (c *Client) GetTransactionsPaged(ctx context.Context, accessToken string, start, end time.Time) (*TransactionsResponse, error) {
	req := transactionsRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
		StartDate:   start.Format(dateFormat),
		EndDate:     end.Format(dateFormat),
		Options:     pageOptions{Count: pageSize, Offset: 0},
	}

	var result TransactionsResponse
	if err := c.post(ctx, transactionsPath, req, &result); err != nil {
		return nil, fmt.Errorf("fetching transactions page at offset 0: %w", err)
	}

	pages := 1
	for len(result.Transactions) < result.TotalTransactions {
		if pages >= c.maxPages {
			return nil, fmt.Errorf("%w: got %d of %d transactions after %d pages",
				ErrMaxPages, len(result.Transactions), result.TotalTransactions, pages)
		}
		req.Options.Offset += pageSize

		var page TransactionsResponse
		if err := c.post(ctx, transactionsPath, req, &page); err != nil {
			return nil, fmt.Errorf("fetching transactions page at offset %d: %w", req.Options.Offset, err)
		}
		result.Transactions = append(result.Transactions, page.Transactions...)
		pages++
	}

	return &result, nil
}

// post sends a JSON request to the API and decodes the response into out.
// Non-2xx responses are decoded into an *APIError.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
