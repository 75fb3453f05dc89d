// Package trade provides the HTTP boundary of the simulator: request
// decoding, authentication, error-kind to status mapping and the
// WebSocket feed.
//
// All monetary values are money.Money and travel as exact JSON numbers.
package trade

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/papertrade/market-sim/internal/auth"
	"github.com/papertrade/market-sim/internal/logging"
	"github.com/papertrade/market-sim/internal/market"
	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/order"
	"github.com/papertrade/market-sim/internal/portfolio"
	"github.com/papertrade/market-sim/internal/store"
)

// Service wires the domain services to HTTP handlers.
type Service struct {
	store     store.Store
	auth      *auth.Service
	orders    *order.Engine
	portfolio *portfolio.Service
	market    *market.Service
	wsHub     *WSHub // optional

	// SnapshotMaxAge bounds how old a cached market snapshot may be.
	SnapshotMaxAge time.Duration
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, a *auth.Service, o *order.Engine, p *portfolio.Service, m *market.Service, hub *WSHub) *Service {
	return &Service{
		store:          st,
		auth:           a,
		orders:         o,
		portfolio:      p,
		market:         m,
		wsHub:          hub,
		SnapshotMaxAge: 5 * time.Minute,
	}
}

// Routes mounts every endpoint under /api on r.
func (s *Service) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.Register)
		r.Post("/login", s.Login)
		r.Get("/market-snapshot", s.MarketSnapshot)
		r.Get("/trending", s.Trending)
		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/logout", s.Logout)
			r.Get("/user", s.GetUser)
			r.Post("/quote", s.Quote)
			r.Post("/buy", s.Buy)
			r.Post("/sell", s.Sell)
			r.Get("/portfolio", s.GetPortfolio)
			r.Get("/history", s.GetHistory)
		})
	})
}

// --- Request/Response types ---

// Quantity accepts a JSON number or string and keeps its text so that
// validation can reject fractional values instead of truncating them.
// Any other JSON value is kept verbatim and fails validation as an
// invalid quantity.
type Quantity string

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*q = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = Quantity(s)
	default:
		*q = Quantity(data)
	}
	return nil
}

// OrderRequest is the JSON body for POST /api/buy and /api/sell.
type OrderRequest struct {
	Symbol   string   `json:"symbol"`
	Quantity Quantity `json:"quantity"`
}

// OrderResponse is returned for a committed order.
type OrderResponse struct {
	Message        string            `json:"message"`
	LedgerEntryID  int64             `json:"ledger_entry_id"`
	NewCashBalance money.Money       `json:"new_cash_balance"`
	Entry          model.LedgerEntry `json:"entry"`
}

// QuoteRequest is the JSON body for POST /api/quote.
type QuoteRequest struct {
	Symbol string `json:"symbol"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        string       `json:"id"`
	Username  string       `json:"username"`
	Email     string       `json:"email"`
	FullNames string       `json:"full_names"`
	Cash      *money.Money `json:"cash,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string     `json:"error"`
	ErrorKind model.Kind `json:"error_kind,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

// --- Auth handlers ---

// Register handles POST /api/register.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.auth.Register(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidRequest):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrDuplicateUser):
		writeError(w, "username or email already exists", http.StatusConflict)
		return
	case err != nil:
		logging.FromContext(r.Context()).WithError(err).Error("register failed")
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"user":    userResponse(u, nil),
	})
}

// Login handles POST /api/login.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, u, err := s.auth.Login(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidRequest):
		writeError(w, "username/email and password required", http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		logging.FromContext(r.Context()).WithError(err).Error("login failed")
		writeError(w, "login failed", http.StatusInternalServerError)
		return
	}

	cash, err := s.portfolio.Cash(r.Context(), u.ID)
	if err != nil {
		writeKindError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Login successful",
		"access_token": token,
		"user":         userResponse(u, &cash),
	})
}

// Logout handles POST /api/logout. Tokens are stateless; the client
// discards its copy.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// GetUser handles GET /api/user.
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	u, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeKindError(w, r, err)
		return
	}
	cash, err := s.portfolio.Cash(r.Context(), userID)
	if err != nil {
		writeKindError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse(u, &cash))
}

// --- Trading handlers ---

// Quote handles POST /api/quote.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	q, err := s.portfolio.Quote(r.Context(), req.Symbol)
	if err != nil {
		writeKindError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Buy handles POST /api/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.Buy, "Purchase successful")
}

// Sell handles POST /api/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.Sell, "Stock sold successfully")
}

func (s *Service) executeOrder(w http.ResponseWriter, r *http.Request, side model.Side, message string) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID, _ := auth.UserID(r.Context())
	res, err := s.orders.Execute(r.Context(), order.Order{
		UserID:   userID,
		Symbol:   req.Symbol,
		Quantity: string(req.Quantity),
		Side:     side,
	})
	if err != nil {
		writeKindError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, OrderResponse{
		Message:        message,
		LedgerEntryID:  res.Entry.ID,
		NewCashBalance: res.Cash,
		Entry:          res.Entry,
	})
}

// --- Query handlers ---

// GetPortfolio handles GET /api/portfolio.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	view, err := s.portfolio.View(r.Context(), userID)
	if err != nil {
		writeKindError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetHistory handles GET /api/history?limit=N.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	userID, _ := auth.UserID(r.Context())
	entries, err := s.portfolio.History(r.Context(), userID)
	if err != nil {
		writeKindError(w, r, err)
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": entries})
}

// MarketSnapshot handles GET /api/market-snapshot.
func (s *Service) MarketSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.market.Latest(r.Context(), s.SnapshotMaxAge))
}

// Trending handles GET /api/trending.
func (s *Service) Trending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"stocks": s.market.Trending(r.Context())})
}

// --- Helpers ---

func userResponse(u *model.User, cash *money.Money) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullNames: u.FullNames,
		Cash:      cash,
	}
}

// kindStatus maps error kinds onto HTTP statuses.
var kindStatus = map[model.Kind]int{
	model.InvalidQuantity:    http.StatusBadRequest,
	model.InvalidSymbol:      http.StatusBadRequest,
	model.QuoteUnavailable:   http.StatusServiceUnavailable,
	model.UserNotFound:       http.StatusNotFound,
	model.InsufficientFunds:  http.StatusUnprocessableEntity,
	model.NoSuchHolding:      http.StatusUnprocessableEntity,
	model.InsufficientShares: http.StatusUnprocessableEntity,
	model.PersistenceError:   http.StatusServiceUnavailable,
}

// kindMessage is the user-facing text per kind. Internal causes are
// logged, never returned.
var kindMessage = map[model.Kind]string{
	model.InvalidQuantity:    "Quantity must be a positive whole number",
	model.InvalidSymbol:      "Invalid symbol",
	model.QuoteUnavailable:   "Quote service unavailable, please try again",
	model.UserNotFound:       "User not found",
	model.InsufficientFunds:  "Insufficient funds",
	model.NoSuchHolding:      "You do not own this stock",
	model.InsufficientShares: "Not enough shares",
	model.PersistenceError:   "Could not complete the request, please try again",
}

func writeKindError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	if kind == model.PersistenceError {
		logging.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, kindStatus[kind], ErrorResponse{
		Error:     kindMessage[kind],
		ErrorKind: kind,
		Retryable: kind.Retryable(),
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
