package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"stonkbot/internal/config"
	"stonkbot/internal/game"
	"stonkbot/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// Deps are the core components the HTTP surface drives.
type Deps struct {
	Ledger   *game.Ledger
	Market   *game.Market
	Exchange *game.Exchange
	Query    *game.Query
	Metrics  *metrics.Registry
	// Now is the request clock. Defaults to time.Now.
	Now func() time.Time
}

// AdminTokenHeader carries the admin token on operator routes.
const AdminTokenHeader = "X-Admin-Token"

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	deps Deps
	mux  *chi.Mux

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
	sweepAt  int
}

// minLimiterSweep is the limiter count that first triggers pruning.
const minLimiterSweep = 1024

func New(cfg config.APIConfig, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		deps:     deps,
		mux:      chi.NewRouter(),
		limiters: make(map[string]*rate.Limiter),
		sweepAt:  minLimiterSweep,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/accounts/{user_id}", func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Get("/", s.handleAccount)
			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/interest", s.handleInterest)
			r.Post("/work", s.handleWork)
			r.Get("/portfolio", s.handlePortfolio)
			r.Post("/buy", s.handleBuy)
			r.Post("/sell", s.handleSell)
		})

		r.Get("/market", s.handleMarket)
		r.Get("/market/{name}/history", s.handleHistory)
		r.With(s.adminOnly).Post("/market/evolve", s.handleEvolve)
		r.Get("/leaderboard", s.handleLeaderboard)
	})
}

// authMiddleware requires the configured API token. With no token configured
// the surface is open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly guards operator routes with the admin token. Without one
// configured the routes are disabled.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin routes disabled: STONKBOT_ADMIN_TOKEN not set")
			return
		}
		token := strings.TrimSpace(r.Header.Get(AdminTokenHeader))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter(chi.URLParam(r, "user_id")).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(key string) *rate.Limiter {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		burst := s.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		if len(s.limiters) >= s.sweepAt {
			s.pruneLimiters(float64(burst))
		}
		l = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
		s.limiters[key] = l
	}
	return l
}

// pruneLimiters drops limiters whose bucket has refilled. A full bucket
// behaves exactly like a new one, so nothing a caller can observe changes.
// The next sweep waits until the map doubles.
func (s *Server) pruneLimiters(burst float64) {
	now := time.Now()
	for key, l := range s.limiters {
		if l.TokensAt(now) >= burst {
			delete(s.limiters, key)
		}
	}
	s.sweepAt = max(2*len(s.limiters), minLimiterSweep)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Ledger.GetOrCreate(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type amountInput struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var in amountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.deps.Ledger.Deposit(r.Context(), chi.URLParam(r, "user_id"), in.Amount)
	s.deps.Metrics.ObserveOp("deposit", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var in amountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.deps.Ledger.Withdraw(r.Context(), chi.URLParam(r, "user_id"), in.Amount)
	s.deps.Metrics.ObserveOp("withdraw", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInterest(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Ledger.AccrueInterest(r.Context(), chi.URLParam(r, "user_id"), s.deps.Now())
	s.deps.Metrics.ObserveOp("interest", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Ledger.Work(r.Context(), chi.URLParam(r, "user_id"), s.deps.Now())
	s.deps.Metrics.ObserveOp("work", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Exchange.Portfolio(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holdings": out})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(game.SideBuy, w, r)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(game.SideSell, w, r)
}

func (s *Server) handleTrade(side string, w http.ResponseWriter, r *http.Request) {
	var in struct {
		Instrument string `json:"instrument"`
		Quantity   int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := chi.URLParam(r, "user_id")
	var (
		out game.TradeResult
		err error
	)
	if side == game.SideBuy {
		out, err = s.deps.Exchange.Buy(r.Context(), userID, in.Instrument, in.Quantity)
	} else {
		out, err = s.deps.Exchange.Sell(r.Context(), userID, in.Instrument, in.Quantity)
	}
	s.deps.Metrics.ObserveOp(side, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Market.CurrentPrices(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	samples, err := s.deps.Query.TrendOf(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": name,
		"series":     game.HistorySeries(samples),
	})
}

func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Market.Evolve(r.Context(), s.deps.Now())
	s.deps.Metrics.ObserveOp("evolve", err)
	if err != nil {
		s.log.Error("manual evolve failed", "err", err)
	}
	prices, perr := s.deps.Market.CurrentPrices(r.Context())
	if perr != nil {
		writeDomainError(w, perr)
		return
	}
	s.deps.Metrics.SetPrices(prices)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "instruments": prices})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": prices})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := game.DefaultLeaderboardLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	rows, err := s.deps.Query.TopWealth(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":   rows,
		"series": game.WealthSeries(rows),
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var cd *game.CooldownError
	switch {
	case errors.As(err, &cd):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":    err.Error(),
			"retry_at": cd.RetryAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, game.ErrCooldownActive):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInsufficientShares):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInvalidAmount), errors.Is(err, game.ErrInvalidInstrument), errors.Is(err, game.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInstrumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
