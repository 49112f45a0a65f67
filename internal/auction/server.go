// Package auction is a small in-memory auction service used as a local
// target for load tests.
package auction

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DefaultStartingPrice is the highest bid of an item nobody has bid on.
const DefaultStartingPrice = 100000

// Config configures a Server.
type Config struct {
	// StartingPrice of every item
	StartingPrice int64

	// RequireAuth rejects bids without a bearer token
	RequireAuth bool

	// MinLatency and MaxLatency add a uniform delay to every bid
	MinLatency time.Duration
	MaxLatency time.Duration

	Logger *zap.Logger
}

type itemKey struct {
	session string
	item    string
}

type item struct {
	highest int64
	bids    int64
}

// Server keeps the highest bid of every item.
type Server struct {
	config Config
	logger *zap.Logger

	mu    sync.Mutex
	items map[itemKey]*item

	rngMu sync.Mutex
	rng   *rand.Rand
}

type bidRequest struct {
	Amount int64 `json:"amount"`
}

type bidResponse struct {
	Message string `json:"message"`
	Amount  int64  `json:"amount,omitempty"`
	Highest int64  `json:"highest"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a server.
func NewServer(config Config) *Server {
	if config.StartingPrice <= 0 {
		config.StartingPrice = DefaultStartingPrice
	}
	if config.MaxLatency < config.MinLatency {
		config.MaxLatency = config.MinLatency
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config: config,
		logger: logger,
		items:  make(map[itemKey]*item),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Route("/auction/sessions/{sessionID}/items/{itemID}", func(r chi.Router) {
		r.Get("/", s.handleItem)
		r.Post("/bid", s.handleBid)
	})
	return r
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	highest, bids := s.Highest(chi.URLParam(r, "sessionID"), chi.URLParam(r, "itemID"))
	writeJSON(w, http.StatusOK, map[string]int64{"highest": highest, "bids": bids})
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	if s.config.RequireAuth && !hasBearer(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid bid"})
		return
	}

	s.delay()

	key := itemKey{session: chi.URLParam(r, "sessionID"), item: chi.URLParam(r, "itemID")}
	status, resp := s.place(key, req.Amount)
	s.logger.Debug("bid",
		zap.String("session", key.session),
		zap.String("item", key.item),
		zap.Int64("amount", req.Amount),
		zap.Int("status", status))
	writeJSON(w, status, resp)
}

func (s *Server) place(key itemKey, amount int64) (int, bidResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.items[key]
	if it == nil {
		it = &item{highest: s.config.StartingPrice}
		s.items[key] = it
	}

	switch {
	case amount == it.highest:
		return http.StatusConflict, bidResponse{Message: "duplicate bid", Highest: it.highest}
	case amount < it.highest:
		return http.StatusConflict, bidResponse{Message: "bid too low", Highest: it.highest}
	}
	it.highest = amount
	it.bids++
	return http.StatusCreated, bidResponse{Message: "bid accepted", Amount: amount, Highest: amount}
}

// Highest returns the highest bid and the number of accepted bids of an item.
func (s *Server) Highest(session, itemID string) (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.items[itemKey{session, itemID}]; it != nil {
		return it.highest, it.bids
	}
	return s.config.StartingPrice, 0
}

func (s *Server) delay() {
	lo, hi := s.config.MinLatency, s.config.MaxLatency
	if hi <= 0 {
		return
	}
	d := lo
	if hi > lo {
		s.rngMu.Lock()
		d += time.Duration(s.rng.Int63n(int64(hi - lo)))
		s.rngMu.Unlock()
	}
	time.Sleep(d)
}

func hasBearer(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimSpace(auth[len("Bearer "):]) != ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
