package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"protocolreserve/app"
	"protocolreserve/core/token"
	"protocolreserve/observability/logging"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/services/treasuryd/journal"
	"protocolreserve/services/treasuryd/middleware"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	System    *app.System
	Journal   *journal.Journal
	Gatherer  prometheus.Gatherer
	RateLimit middleware.RateLimit
	PageLimit int
	Logger    *slog.Logger
}

// Server exposes read-only treasury state over HTTP.
type Server struct {
	system    *app.System
	journal   *journal.Journal
	gatherer  prometheus.Gatherer
	limiter   *middleware.RateLimiter
	pageLimit int
	logger    *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.System == nil {
		return nil, errors.New("server: treasury system required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	logger := logging.Component(cfg.Logger, "api")
	srv := &Server{
		system:    cfg.System,
		journal:   cfg.Journal,
		gatherer:  cfg.Gatherer,
		limiter:   middleware.NewRateLimiter(cfg.RateLimit, logger),
		pageLimit: cfg.PageLimit,
		logger:    logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Get("/converters", s.listConverters)
		api.Get("/converters/{address}/quote", s.quote)
		api.Get("/reserves/{pool}/{asset}", s.reserves)
		api.Get("/events", s.listEvents)
	})
	return r
}

type converterView struct {
	Address            string `json:"address"`
	Kind               string `json:"kind"`
	BaseAsset          string `json:"baseAsset"`
	Destination        string `json:"destination,omitempty"`
	MinAmountToConvert string `json:"minAmountToConvert"`
	InNetwork          bool   `json:"inNetwork"`
	Paused             bool   `json:"paused"`
}

func (s *Server) listConverters(w http.ResponseWriter, r *http.Request) {
	kinds := make(map[ethcommon.Address]string)
	for _, c := range s.system.Config().Converters {
		if addr, err := parseAddress(c.Address); err == nil {
			kinds[addr] = c.Kind
		}
	}
	var out []converterView
	err := s.system.Executor.View(func() error {
		for _, addr := range s.system.Converters() {
			conv, _ := s.system.Converter(addr)
			view := converterView{
				Address:   addr.Hex(),
				Kind:      kinds[addr],
				BaseAsset: conv.BaseAsset().Hex(),
				InNetwork: s.system.Network.IsTokenConverter(addr),
			}
			dest, err := conv.Destination()
			if err != nil {
				return err
			}
			if d, ok := dest.Get(); ok {
				view.Destination = d.Hex()
			}
			minAmount, err := conv.MinAmountToConvert()
			if err != nil {
				return err
			}
			view.MinAmountToConvert = minAmount.String()
			if view.Paused, err = conv.ConversionPaused(); err != nil {
				return err
			}
			out = append(out, view)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"converters": out})
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	convAddr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, ok := s.system.Converter(convAddr)
	if !ok {
		writeErrorMessage(w, http.StatusNotFound, "converter not found")
		return
	}
	q := r.URL.Query()
	tokenIn, err := parseAddress(q.Get("tokenIn"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "tokenIn: "+err.Error())
		return
	}
	tokenOut, err := parseAddress(q.Get("tokenOut"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "tokenOut: "+err.Error())
		return
	}
	var caller ethcommon.Address
	if raw := q.Get("caller"); raw != "" {
		if caller, err = parseAddress(raw); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "caller: "+err.Error())
			return
		}
	}
	amountIn, err := parseAmount(q.Get("amountIn"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "amountIn: "+err.Error())
		return
	}

	var actualIn, amountOut *big.Int
	err = s.system.Executor.View(func() error {
		var err error
		actualIn, amountOut, err = conv.GetAmountOut(caller, amountIn, tokenIn, tokenOut)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"converter": convAddr.Hex(),
		"tokenIn":   tokenIn.Hex(),
		"tokenOut":  tokenOut.Hex(),
		"amountIn":  actualIn.String(),
		"amountOut": amountOut.String(),
	})
}

func (s *Server) reserves(w http.ResponseWriter, r *http.Request) {
	pool, err := parseAddress(chi.URLParam(r, "pool"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "pool: "+err.Error())
		return
	}
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "asset: "+err.Error())
		return
	}
	resp := map[string]any{"pool": pool.Hex(), "asset": asset.Hex()}
	err = s.system.Executor.View(func() error {
		if s.system.Release != nil {
			held, err := s.system.Release.PoolAssetReserve(pool, asset)
			if err != nil {
				return err
			}
			resp["release"] = held.String()
		}
		if s.system.RiskFund != nil {
			held, err := s.system.RiskFund.PoolReserve(pool, asset)
			if err != nil {
				return err
			}
			resp["riskFund"] = held.String()
		}
		converters := make(map[string]string, len(s.system.RiskFundConverters))
		for addr, conv := range s.system.RiskFundConverters {
			held, err := conv.PoolAssetReserve(pool, asset)
			if err != nil {
				return err
			}
			converters[addr.Hex()] = held.String()
		}
		resp["riskFundConverters"] = converters
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	q := r.URL.Query()
	query := journal.Query{Type: strings.TrimSpace(q.Get("type")), Limit: s.pageLimit}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		query.After = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be positive")
			return
		}
		if limit < query.Limit {
			query.Limit = limit
		}
	}
	entries, err := s.journal.List(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func parseAddress(raw string) (ethcommon.Address, error) {
	raw = strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return ethcommon.HexToAddress(raw), nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

var unprocessable = []error{
	nativecommon.ErrConversionConfigNotEnabled,
	nativecommon.ErrConversionTokensPaused,
	nativecommon.ErrConversionEnabledOnlyForPrivateConversions,
	nativecommon.ErrConversionEnabledOnlyForUsers,
	nativecommon.ErrInsufficientInputAmount,
	nativecommon.ErrInsufficientOutputAmount,
	nativecommon.ErrInsufficientPoolLiquidity,
	nativecommon.ErrInvalidArguments,
	nativecommon.ErrModulePaused,
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, nativecommon.ErrMarketNotExistInPool), errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound
	}
	for _, target := range unprocessable {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", chimw.GetReqID(r.Context()), "error", err)
		writeErrorMessage(w, status, "internal error")
		return
	}
	writeErrorMessage(w, status, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
