package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/pkg/scheduler"
	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
	"github.com/uhyunpark/darkpool-oracle/pkg/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// History is the read side of the audit journal.
type History interface {
	RecentSettlements(limit int) ([]settlement.Entry, error)
	RecentCycles(limit int) ([]storage.CycleRecord, error)
}

// Server exposes oracle status over REST and pushes cycle events over
// WebSocket. It is read-only: nothing here influences matching.
type Server struct {
	router   *mux.Router
	hub      *Hub
	history  History
	gatherer prometheus.Gatherer
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	status StatusResponse
}

// NewServer builds the server. history and gatherer may be nil, which
// disables the endpoints that depend on them.
func NewServer(id Identity, history History, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		history:  history,
		gatherer: gatherer,
		logger:   logger,
		status:   StatusResponse{Identity: id, StartedAt: time.Now().UTC()},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/settlements", s.handleSettlements).Methods("GET")
	api.HandleFunc("/cycles", s.handleCycles).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveCycle is a scheduler.OnCycle observer. It updates the status view
// and pushes the cycle and its settlements to subscribers.
func (s *Server) ObserveCycle(sum scheduler.Summary) {
	rec := storage.CycleRecordFrom(sum)

	s.mu.Lock()
	s.status.LastCycle = &rec
	t := &s.status.Totals
	t.Cycles++
	if sum.Err != nil {
		t.FailedCycles++
	}
	t.MatchesFound += uint64(sum.MatchesFound)
	t.MatchesSettled += uint64(sum.MatchesSettled)
	t.MatchesFailed += uint64(sum.MatchesFailed)
	s.mu.Unlock()

	s.hub.BroadcastToChannel(ChannelCycles, WSMessage{Type: "cycle", Data: rec})
	for _, r := range sum.Results {
		s.hub.BroadcastToChannel(ChannelSettlements, WSMessage{Type: "settlement", Data: r.Entry()})
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	respondJSON(w, status)
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "set JOURNAL_PATH to record settlements")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.history.RecentSettlements(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	if entries == nil {
		entries = []settlement.Entry{}
	}
	respondJSON(w, entries)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "set JOURNAL_PATH to record cycles")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	cycles, err := s.history.RecentCycles(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	if cycles == nil {
		cycles = []storage.CycleRecord{}
	}
	respondJSON(w, cycles)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
