// Package link runs the transient local HTTP server that completes the
// three-legged credential exchange with the provider's Link widget.
//
// One Server handles exactly one handshake: start it, point a browser at
// URL(), wait for the outcome, and it is done. A second handshake needs a
// fresh Server.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/fintab/fintab/pkg/models"
	"github.com/fintab/fintab/pkg/plaid"
	"github.com/fintab/fintab/pkg/store"
)

// namePlaceholder stands in for an account display name whose lookup failed.
const namePlaceholder = "Error fetching account name"

// ErrCancelled is returned by Wait when the user backed out of the widget.
var ErrCancelled = errors.New("link flow cancelled by user")

// ErrNoResult is returned by Wait when the session closed before the widget
// reported any outcome.
var ErrNoResult = errors.New("link session closed before a result was received")

// State tracks the handshake lifecycle.
type State int

const (
	StateListening State = iota
	StateAwaitingClientResult
	StateExchanging
	StatePersisted
	StateCancelled
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateAwaitingClientResult:
		return "awaiting_client_result"
	case StateExchanging:
		return "exchanging"
	case StatePersisted:
		return "persisted"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Exchanger is the slice of the Plaid client the server needs.
type Exchanger interface {
	ExchangePublicToken(ctx context.Context, publicToken string) (*plaid.ItemAccess, error)
	CreatePublicToken(ctx context.Context, accessToken string) (string, error)
	GetAccounts(ctx context.Context, accessToken string) ([]plaid.Account, error)
}

// Options configures one handshake.
type Options struct {
	// Port to bind on localhost. 0 picks a free port (tests).
	Port int
	// Environment and PublicKey parameterize the widget page.
	Environment string
	PublicKey   string
	// Integration stamped on stored credentials; defaults to plaid.
	Integration string
}

// Result is the durable credential produced by a successful handshake.
type Result struct {
	ItemID      string
	AccessToken string
}

type outcome struct {
	result Result
	err    error
}

// Server is the handle for one running handshake. Stop is safe on every
// exit path and releases the listening socket exactly once.
type Server struct {
	opts   Options
	client Exchanger
	store  store.Store
	logger *log.Logger

	httpServer *http.Server
	listener   net.Listener
	page       *template.Template

	mu    sync.Mutex
	state State

	deliverOnce sync.Once
	outcome     chan outcome

	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error
}

// Start binds the local port and begins serving the widget page. The caller
// must eventually call Stop (Wait does so on context cancellation, and the
// widget's done signal does so remotely).
func Start(opts Options, client Exchanger, st store.Store, logger *log.Logger) (*Server, error) {
	if opts.Integration == "" {
		opts.Integration = models.IntegrationPlaid
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", opts.Port))
	if err != nil {
		return nil, fmt.Errorf("binding link server port: %w", err)
	}

	s := &Server{
		opts:     opts,
		client:   client,
		store:    st,
		logger:   logger,
		listener: listener,
		page:     template.Must(template.New("link").Parse(linkPage)),
		state:    StateListening,
		outcome:  make(chan outcome, 1),
		stopped:  make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.withLogging(s.handleIndex)).Methods(http.MethodGet)
	r.HandleFunc("/get_access_token", s.withLogging(s.handleClientResult)).Methods(http.MethodPost)
	r.HandleFunc("/accounts", s.withLogging(s.handleAccounts)).Methods(http.MethodPost)
	r.HandleFunc("/exchangeAccessToken", s.withLogging(s.handleRefreshToken)).Methods(http.MethodPost)
	r.HandleFunc("/done", s.withLogging(s.handleDone)).Methods(http.MethodPost)

	s.httpServer = &http.Server{Handler: r}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("link server stopped unexpectedly", "error", err)
		}
	}()

	s.logger.Info("link server listening", "url", s.URL())
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL is the page to open in a browser.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// State reports the current handshake state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debug("link state", "from", prev, "to", next)
}

// Wait blocks until the widget reports an outcome, the session is closed,
// or ctx is done. A cancelled widget yields ErrCancelled; a session closed
// without any outcome yields ErrNoResult.
func (s *Server) Wait(ctx context.Context) (Result, error) {
	select {
	case o := <-s.outcome:
		return o.result, o.err
	case <-ctx.Done():
		_ = s.Stop()
		return Result{}, ctx.Err()
	case <-s.stopped:
		// The done signal races a just-delivered outcome; prefer the outcome.
		select {
		case o := <-s.outcome:
			return o.result, o.err
		default:
			return Result{}, ErrNoResult
		}
	}
}

// Stop releases the listening socket. Idempotent; every exit path funnels
// through here.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.setState(StateClosed)
		s.stopErr = s.httpServer.Shutdown(context.Background())
		close(s.stopped)
		s.logger.Info("link server stopped")
	})
	return s.stopErr
}

func (s *Server) deliver(o outcome) {
	s.deliverOnce.Do(func() {
		s.outcome <- o
	})
}

// --- handlers ---

type pageData struct {
	Environment string
	PublicKey   string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, pageData{Environment: s.opts.Environment, PublicKey: s.opts.PublicKey}); err != nil {
		s.logger.Warn("failed to render link page", "error", err)
		return
	}
	s.mu.Lock()
	if s.state == StateListening {
		s.state = StateAwaitingClientResult
	}
	s.mu.Unlock()
}

// clientResult is what the widget posts back: exactly one of the three
// fields is meaningful.
type clientResult struct {
	PublicToken string       `json:"public_token"`
	Exit        bool         `json:"exit"`
	Error       *widgetError `json:"error"`
}

type widgetError struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (s *Server) handleClientResult(w http.ResponseWriter, r *http.Request) {
	var body clientResult
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	switch {
	case body.Error != nil:
		err := fmt.Errorf("link widget error %s: %s", body.Error.ErrorCode, body.Error.ErrorMessage)
		s.logger.Error("link widget reported an error", "code", body.Error.ErrorCode, "message", body.Error.ErrorMessage)
		s.setState(StateFailed)
		s.deliver(outcome{err: err})

	case body.Exit:
		s.logger.Info("link widget exited")
		s.setState(StateCancelled)
		s.deliver(outcome{err: ErrCancelled})

	case body.PublicToken != "":
		s.exchange(r.Context(), body.PublicToken)
	}

	// The widget only cares that the post landed.
	s.writeJSON(w, http.StatusOK, map[string]string{})
}

// exchange trades the short-lived public token for a durable credential and
// persists it keyed by the provider item id.
func (s *Server) exchange(ctx context.Context, publicToken string) {
	s.setState(StateExchanging)

	item, err := s.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		s.logger.Error("public token exchange failed", "error", err)
		s.setState(StateFailed)
		s.deliver(outcome{err: fmt.Errorf("exchanging public token: %w", err)})
		return
	}

	cfg := store.AccountConfig{ID: item.ItemID, Integration: s.opts.Integration, Token: item.AccessToken}
	if err := s.store.Put(cfg); err != nil {
		s.logger.Error("failed to persist access token", "item", item.ItemID, "error", err)
		s.setState(StateFailed)
		s.deliver(outcome{err: fmt.Errorf("persisting access token: %w", err)})
		return
	}

	s.logger.Info("access token persisted", "item", item.ItemID)
	s.setState(StatePersisted)
	s.deliver(outcome{result: Result{ItemID: item.ItemID, AccessToken: item.AccessToken}})
}

type accountName struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// handleAccounts lists every linked account's display name. Lookups run
// concurrently and a failure for one account only degrades that entry to a
// placeholder.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	cfgs := s.store.All()
	names := make([]accountName, len(cfgs))

	var wg sync.WaitGroup
	for i, cfg := range cfgs {
		wg.Add(1)
		go func(i int, cfg store.AccountConfig) {
			defer wg.Done()
			names[i] = accountName{Name: namePlaceholder, Token: cfg.Token}
			accounts, err := s.client.GetAccounts(r.Context(), cfg.Token)
			if err != nil {
				s.logger.Warn("account name lookup failed", "account", cfg.ID, "error", err)
				return
			}
			if len(accounts) > 0 {
				names[i].Name = accounts[0].Name
			}
		}(i, cfg)
	}
	wg.Wait()

	s.writeJSON(w, http.StatusOK, names)
}

// handleRefreshToken exchanges a stored access token for a fresh public
// token, so the widget can re-open in update mode.
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	publicToken, err := s.client.CreatePublicToken(r.Context(), body.Token)
	if err != nil {
		s.respondError(w, r, http.StatusBadGateway, "failed to create public token", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"token": publicToken})
}

// handleDone is the widget's final signal, sent after its UI flow completes
// regardless of outcome. It stops the listener.
func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{})
	// Shutdown waits for in-flight requests, so it cannot run on this one.
	go func() {
		if err := s.Stop(); err != nil {
			s.logger.Warn("error stopping link server", "error", err)
		}
	}()
}

// --- helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write json response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	s.logger.Warn("request error", "status", status, "msg", message, "error", err, "method", r.Method, "path", r.URL.Path)
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next(w, r)
	}
}
