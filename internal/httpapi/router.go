// Package httpapi is the service's HTTP surface: the connect flows, manual
// sync triggers, the realtime stream, and operational endpoints.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stitchcal/stitch/internal/connect"
	"github.com/stitchcal/stitch/internal/core"
	"github.com/stitchcal/stitch/internal/metrics"
	"github.com/stitchcal/stitch/internal/notify"
	"github.com/stitchcal/stitch/internal/sync"
)

// Server holds the handler dependencies.
type Server struct {
	connect *connect.Service
	queue   *sync.Queue
	broker  *notify.Broker
	store   core.AccountStore
	log     *slog.Logger

	// Where OAuth callbacks send the browser when the handshake fails.
	settingsURL string
}

func NewServer(
	connectSvc *connect.Service,
	queue *sync.Queue,
	broker *notify.Broker,
	store core.AccountStore,
	settingsURL string,
	log *slog.Logger,
) *Server {
	return &Server{
		connect:     connectSvc,
		queue:       queue,
		broker:      broker,
		store:       store,
		settingsURL: settingsURL,
		log:         log,
	}
}

// Router wires all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/connect/{provider}", s.handleBeginConnect)
	r.Get("/connect/{provider}/callback", s.handleCallback)
	r.Post("/connect/icloud", s.handleConnectICloud)

	r.Post("/accounts/{id}/sync", s.handleTriggerSync)
	r.Get("/stream", s.handleStream)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
