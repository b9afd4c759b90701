package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mls_chat/internal/utils/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves /metrics for a registry on its own address.
type Server struct {
	server *http.Server
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	log.Info("metrics server started", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				log.Debug("metrics server shutdown", zap.Error(err))
				return
			}
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}
