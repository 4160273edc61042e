package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/void-labs/void-supply/internal/ratelimit"
	"github.com/void-labs/void-supply/pkg/cache"
	"github.com/void-labs/void-supply/pkg/supply"
	"github.com/void-labs/void-supply/pkg/types"
	"github.com/void-labs/void-supply/schema"
)

const (
	DefaultBurnsLimit = 10
	MaxBurnsLimit     = 50
)

type Config struct {
	Cache      *cache.SnapshotCache
	Schedule   supply.Schedule
	RatePerMin int
	Burst      int
	Version    string
	Logger     *slog.Logger
}

type Server struct {
	cfg     Config
	mux     *http.ServeMux
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		limiter: ratelimit.New(cfg.RatePerMin, cfg.Burst),
		logger:  logger,
		now:     time.Now,
	}
	s.mux.HandleFunc("/healthz", s.healthz)
	s.mux.HandleFunc("/openapi.yaml", s.openapi)
	s.mux.HandleFunc("/supply", s.wrap(s.handleSupply))
	s.mux.HandleFunc("/burns", s.wrap(s.handleBurns))
	s.mux.HandleFunc("/next-burn", s.wrap(s.handleNextBurn))
	return s
}

func (s *Server) Mux() *http.ServeMux { return s.mux }

func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.limiter.Allow(r) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=30")
		next(w, r)
	}
}

// stats serves the cached snapshot while fresh and recomputes it otherwise.
func (s *Server) stats(ctx context.Context) (*types.SupplySnapshot, error) {
	if snap, fresh := s.cfg.Cache.Stats(); snap != nil && fresh {
		return snap, nil
	}
	return s.cfg.Cache.UpdateStats(ctx)
}

// history serves the cached history, running a pass only before the first refresh.
func (s *Server) history(ctx context.Context) ([]types.BurnEvent, time.Time, error) {
	h, at := s.cfg.Cache.History()
	if !at.IsZero() {
		return h, at, nil
	}
	h, err := s.cfg.Cache.UpdateHistory(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	_, at = s.cfg.Cache.History()
	return h, at, nil
}

func (s *Server) unavailable(w http.ResponseWriter, path string, err error) {
	s.logger.Warn("request failed", "path", path, "err", err)
	w.WriteHeader(http.StatusServiceUnavailable)
	writeJSON(w, struct {
		Status string `json:"status"`
	}{"unavailable"})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	if snap, fresh := s.cfg.Cache.Stats(); snap != nil && fresh && r.Header.Get("If-None-Match") == snap.ETag {
		w.Header().Set("ETag", snap.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	snap, err := s.stats(r.Context())
	if err != nil {
		s.unavailable(w, r.URL.Path, err)
		return
	}
	w.Header().Set("ETag", snap.ETag)
	w.Header().Set("X-Updated-At", snap.UpdatedAt.Format(time.RFC3339))
	writeJSON(w, snap)
}

type burnsResponse struct {
	Count     int               `json:"count"`
	UpdatedAt time.Time         `json:"updated_at"`
	Burns     []types.BurnEvent `json:"burns"`
}

func (s *Server) handleBurns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	h, at, err := s.history(r.Context())
	if err != nil {
		s.unavailable(w, r.URL.Path, err)
		return
	}
	if len(h) > limit {
		h = h[:limit]
	}
	if h == nil {
		h = []types.BurnEvent{}
	}
	w.Header().Set("X-Updated-At", at.Format(time.RFC3339))
	writeJSON(w, burnsResponse{Count: len(h), UpdatedAt: at, Burns: h})
}

// parseLimit defaults an empty value and clamps large ones to MaxBurnsLimit.
func parseLimit(v string) (int, bool) {
	if v == "" {
		return DefaultBurnsLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, MaxBurnsLimit), true
}

type nextBurnResponse struct {
	NextBurnAt     time.Time       `json:"next_burn_at"`
	IntervalHours  int             `json:"interval_hours"`
	Basis          supply.Basis    `json:"basis"`
	Countdown      string          `json:"countdown"`
	BurnPercentage decimal.Decimal `json:"burn_percentage"`
}

// handleNextBurn is recomputed per request so the countdown stays current.
func (s *Server) handleNextBurn(w http.ResponseWriter, r *http.Request) {
	snap, err := s.stats(r.Context())
	if err != nil {
		s.unavailable(w, r.URL.Path, err)
		return
	}
	h, _, err := s.history(r.Context())
	if err != nil {
		s.unavailable(w, r.URL.Path, err)
		return
	}
	now := s.now().UTC()
	est := s.cfg.Schedule.NextBurn(h, snap.BurnPercentage, now)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, nextBurnResponse{
		NextBurnAt:     est.At.UTC(),
		IntervalHours:  int(est.Interval / time.Hour),
		Basis:          est.Basis,
		Countdown:      supply.Countdown(est.At, now),
		BurnPercentage: snap.BurnPercentage,
	})
}

func (s *Server) openapi(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(schema.OpenAPI)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(struct {
		Status  string `json:"status"`
		Time    string `json:"time"`
		Version string `json:"version,omitempty"`
	}{"ok", s.now().UTC().Format(time.RFC3339), s.cfg.Version})
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
