package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Status is what the status endpoint reports about the agent.
type Status struct {
	State     string `json:"state"`
	AgentID   string `json:"agent_id"`
	Accepting bool   `json:"accepting"`
}

// StatusFunc supplies the current agent status.
type StatusFunc func() Status

// StatusServer serves Prometheus metrics and the agent status over HTTP.
// External health checks poll /status; anything other than an accepting
// agent answers 503.
type StatusServer struct {
	addr   string
	logger *zap.Logger
	server *http.Server
}

// NewStatusServer creates a status server bound to addr.
func NewStatusServer(addr string, status StatusFunc, logger *zap.Logger) *StatusServer {
	return &StatusServer{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:    addr,
			Handler: newStatusMux(status),
		},
	}
}

func newStatusMux(status StatusFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		s := status()
		w.Header().Set("Content-Type", "application/json")
		if !s.Accepting {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(s)
	})
	return mux
}

// Start begins serving. It returns immediately; serve errors are logged.
func (ss *StatusServer) Start() {
	ss.logger.Info("Starting status server", zap.String("address", ss.addr))

	go func() {
		if err := ss.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ss.logger.Error("Status server error", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (ss *StatusServer) Stop(ctx context.Context) error {
	ss.logger.Info("Stopping status server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ss.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown status server: %w", err)
	}
	return nil
}
