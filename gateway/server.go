// Package gateway exposes the co-signing service over HTTP and websocket.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nodegate/chain"
	"nodegate/cosign"
	"nodegate/ledger"
	"nodegate/simcache"
)

// Server wires the co-signing components behind the HTTP surface.
type Server struct {
	auth    *cosign.Authenticator
	builder *cosign.Builder
	caster  *cosign.Broadcaster
	ledger  *ledger.Ledger
	fees    *chain.FeeOracle
	cache   *simcache.Cache
	rpc     chain.RPC
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewServer(
	auth *cosign.Authenticator,
	builder *cosign.Builder,
	caster *cosign.Broadcaster,
	ldg *ledger.Ledger,
	fees *chain.FeeOracle,
	cache *simcache.Cache,
	rpcClient chain.RPC,
	metrics *Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		auth:    auth,
		builder: builder,
		caster:  caster,
		ledger:  ldg,
		fees:    fees,
		cache:   cache,
		rpc:     rpcClient,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tx/cosign", s.handleCoSign)
		r.Post("/tx/{action}", s.handlePrepare)
		r.Post("/auth/message", s.handleIssueMessage)
		r.Get("/simulate/claim-fee", s.handleClaimFee)
		r.Get("/authorizations/{wallet}", s.handleListAuthorizations)
		r.Get("/ws", s.handleWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpStatusFor maps error categories onto HTTP statuses. The machine code in
// the body is the authoritative signal; the status is advisory.
func httpStatusFor(err error) int {
	return httpStatusForCode(cosign.ErrorCode(err))
}
