// Package api exposes the wallet layer over HTTP: provider listing,
// session control, settlement submission, and a websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mintmesh/wallet_layer/internal/events"
	"github.com/mintmesh/wallet_layer/internal/history"
	"github.com/mintmesh/wallet_layer/internal/httputil"
	"github.com/mintmesh/wallet_layer/internal/metrics"
	"github.com/mintmesh/wallet_layer/internal/middleware"
	"github.com/mintmesh/wallet_layer/internal/session"
	"github.com/mintmesh/wallet_layer/internal/settlement"
	"github.com/mintmesh/wallet_layer/internal/wallet"
	"github.com/mintmesh/wallet_layer/pkg/logger"
)

// Providers is the registry surface the gateway reads.
type Providers interface {
	Descriptors() []wallet.Descriptor
	NotifyActivated(ctx context.Context) []wallet.Descriptor
}

// Sessions is the session manager surface the gateway drives.
type Sessions interface {
	Current() session.Session
	Connect(ctx context.Context, providerID string) (session.Session, error)
	Disconnect(ctx context.Context) error
	Resume(ctx context.Context) (session.Session, error)
}

// Settler runs purchase settlements.
type Settler interface {
	Settle(ctx context.Context, req settlement.PurchaseRequest) settlement.Result
}

// HistoryReader serves the settlement audit trail.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Config wires a Server.
type Config struct {
	Providers Providers
	Sessions  Sessions
	Settler   Settler
	History   HistoryReader    // optional
	Bus       *events.Bus      // optional, backs /v1/events
	Metrics   *metrics.Metrics // optional, per-route request metrics
	Gatherer  prometheus.Gatherer
	Logger    logger.Logger
	// Decimals converts request prices from major-unit strings.
	Decimals int
}

// Server is the HTTP gateway.
type Server struct {
	cfg    Config
	log    logger.Logger
	router *mux.Router
}

// NewServer builds the gateway and its routes.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = settlement.DefaultDecimals
	}

	s := &Server{cfg: cfg, log: cfg.Logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Logging(s.log))
	if s.cfg.Metrics != nil {
		s.router.Use(middleware.Metrics(s.cfg.Metrics))
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	v1.HandleFunc("/session", s.handleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/session/connect", s.handleConnect).Methods(http.MethodPost)
	v1.HandleFunc("/session/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	v1.HandleFunc("/session/resume", s.handleResume).Methods(http.MethodPost)
	v1.HandleFunc("/settlements", s.handleSettle).Methods(http.MethodPost)
	v1.HandleFunc("/settlements/recent", s.handleRecent).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg.Providers.Descriptors())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg.Sessions.Current())
}

type connectRequest struct {
	ProviderID string `json:"provider_id"`
}

// handoffResponse tells a mobile caller where to go while the connect
// waits out of process.
type handoffResponse struct {
	Kind       string `json:"kind"`
	ProviderID string `json:"provider_id"`
	DeepLink   string `json:"deep_link"`
	InstallURL string `json:"install_url"`
	GraceMs    int64  `json:"grace_ms"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderID == "" {
		httputil.BadRequest(w, "provider_id required")
		return
	}

	sess, err := s.cfg.Sessions.Connect(r.Context(), req.ProviderID)
	if err != nil {
		if started := asHandoff(err); started != nil {
			httputil.WriteJSON(w, http.StatusAccepted, handoffResponse{
				Kind:       string(settlement.KindHandoffPending),
				ProviderID: started.ProviderID,
				DeepLink:   started.DeepLink,
				InstallURL: started.InstallURL,
				GraceMs:    started.Grace.Milliseconds(),
			})
			return
		}
		s.writeKinded(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Sessions.Disconnect(r.Context()); err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.cfg.Sessions.Current())
}

// handleResume is the host-activation hook: rescan providers, then let
// the session manager complete any pending handoff.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.cfg.Providers.NotifyActivated(r.Context())

	sess, err := s.cfg.Sessions.Resume(r.Context())
	if err != nil {
		s.writeKinded(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

type settleRequest struct {
	BuyerAccount   string `json:"buyer_account"`
	SellerAccount  string `json:"seller_account"`
	CreatorAccount string `json:"creator_account,omitempty"`
	AssetRef       string `json:"asset_ref"`
	// Price is in major units, e.g. "10.00".
	Price string `json:"price"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	price, err := settlement.ParseAmount(req.Price, s.cfg.Decimals)
	if err != nil {
		httputil.BadRequest(w, "invalid price: "+err.Error())
		return
	}

	res := s.cfg.Settler.Settle(r.Context(), settlement.PurchaseRequest{
		BuyerAccount:   req.BuyerAccount,
		SellerAccount:  req.SellerAccount,
		CreatorAccount: req.CreatorAccount,
		AssetRef:       req.AssetRef,
		Price:          price,
	})

	status := http.StatusOK
	if res.Outcome == settlement.OutcomeFailure {
		status = kindStatus(res.ErrorKind)
	}
	httputil.WriteJSON(w, status, settleResponse(res))
}

// settleResponse flattens the failure detail the Result JSON omits.
type settleResult struct {
	settlement.Result
	Error     string `json:"error,omitempty"`
	Shortfall int64  `json:"shortfall,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

func settleResponse(res settlement.Result) settleResult {
	out := settleResult{Result: res}
	if res.Err != nil {
		out.Error = res.Err.Message
		out.Shortfall = res.Err.Shortfall
		out.Payload = res.Err.Payload
	}
	return out
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		httputil.NotFound(w, "settlement history is not enabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			httputil.BadRequest(w, "limit must be 1-500")
			return
		}
		limit = n
	}

	records, err := s.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("history read failed", "error", err)
		httputil.InternalError(w, "history read failed")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

// writeKinded maps a kinded error onto an HTTP status.
func (s *Server) writeKinded(w http.ResponseWriter, err error) {
	kind := settlement.KindOf(err)
	httputil.WriteError(w, kindStatus(kind), err.Error(), string(kind))
}

func kindStatus(kind settlement.ErrorKind) int {
	switch kind {
	case settlement.KindInvalidRequest:
		return http.StatusBadRequest
	case settlement.KindProviderNotInstalled:
		return http.StatusNotFound
	case settlement.KindConnectionPending, settlement.KindNoActiveSession,
		settlement.KindUserRejected:
		return http.StatusConflict
	case settlement.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case settlement.KindSigningTimeout, settlement.KindConfirmationTimeout:
		return http.StatusGatewayTimeout
	case settlement.KindNetworkUnavailable:
		return http.StatusBadGateway
	case settlement.KindSubmissionRejected, settlement.KindExecutionFailed:
		return http.StatusUnprocessableEntity
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func asHandoff(err error) *session.HandoffStarted {
	var started *session.HandoffStarted
	if errors.As(err, &started) {
		return started
	}
	return nil
}
