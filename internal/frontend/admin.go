package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// serveAdmin runs a small read-only introspection surface, intended for a
// loopback or otherwise private address: it exposes no control operations,
// only liveness and a snapshot of connected clients and in-flight
// requests, consistent with the protocol's non-goal of a management API.
func (s *Server) serveAdmin(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)

	srv := &http.Server{Addr: s.cfg.AdminAddr, Handler: r}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type clientStatus struct {
	ID            string `json:"id"`
	LastSeenMsAgo int64  `json:"last_seen_ms_ago"`
}

type statusResponse struct {
	Clients         []clientStatus `json:"clients"`
	PendingRequests int            `json:"pending_requests"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.Registry.Snapshot()
	now := time.Now()

	clients := make([]clientStatus, 0, len(snapshot))
	for id, lastSeen := range snapshot {
		clients = append(clients, clientStatus{
			ID:            id,
			LastSeenMsAgo: now.Sub(lastSeen).Milliseconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Clients:         clients,
		PendingRequests: s.Pending.Len(),
	})
}
