// Package testserver provides an in-memory double of the withdrawal
// service. It implements the HTTP contract the harness drives (init,
// the five withdrawal variants, balance, health) without any of the
// real server's locking strategies, so the harness can be exercised in
// tests and local runs without Redis.
package testserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
)

// Options control contract-edge behavior of the double.
type Options struct {
	// StrictConflict makes insufficient-funds withdrawals answer 409
	// instead of the real server's 200 with a business-failure body.
	StrictConflict bool

	// FailHealth makes /health answer 503.
	FailHealth bool
}

// Server is an in-memory withdrawal service double.
type Server struct {
	opts Options

	mu       sync.Mutex
	balances map[string]int
	requests map[string]int64
}

// New creates a server double with default options.
func New() *Server {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a server double with the given options.
func NewWithOptions(opts Options) *Server {
	return &Server{
		opts:     opts,
		balances: make(map[string]int),
		requests: make(map[string]int64),
	}
}

// Handler returns the HTTP handler serving the full contract.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/init", s.handleInit)
	for _, path := range []string{
		"/withdraw_watch",
		"/withdraw_lock_lua",
		"/withdraw_custom_token_lock",
		"/withdraw_custom_lock",
		"/withdraw_medallion_distributed_lock",
	} {
		mux.HandleFunc(path, s.handleWithdraw)
	}
	mux.HandleFunc("/balance", s.handleBalance)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// SetBalance sets a user's balance directly, bypassing /init.
func (s *Server) SetBalance(userID string, balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

// Balance returns a user's current balance.
func (s *Server) Balance(userID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[userID]
	return balance, ok
}

// RequestCount returns how many requests hit the given path.
func (s *Server) RequestCount(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func (s *Server) track(r *http.Request) {
	s.mu.Lock()
	s.requests[r.URL.Path]++
	s.mu.Unlock()
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	s.track(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	balance, err := strconv.Atoi(r.URL.Query().Get("balance"))
	if userID == "" || err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and balance required"})
		return
	}

	s.mu.Lock()
	s.balances[userID] = balance
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "balance": balance})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.track(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	amount, err := strconv.Atoi(r.URL.Query().Get("amount"))
	if userID == "" || err != nil || amount < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and amount required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	if balance < amount {
		// The real server reports business failures in the body with
		// HTTP 200; StrictConflict surfaces them as 409 instead.
		if s.opts.StrictConflict {
			writeJSON(w, http.StatusConflict, map[string]interface{}{"status": "insufficient_funds", "balance": balance})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "insufficient_funds", "balance": balance})
		return
	}

	balance -= amount
	s.balances[userID] = balance
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "balance": balance})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	s.track(r)
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")

	s.mu.Lock()
	balance, ok := s.balances[userID]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "balance": balance})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.track(r)
	if s.opts.FailHealth {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
