package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// HealthFunc reports readiness; a non-nil error makes /healthz return 503.
type HealthFunc func() error

// NewRouter serves /metrics and /healthz.
func NewRouter(health HealthFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := map[string]string{"status": "ok"}
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				status = map[string]string{"status": "unhealthy", "error": err.Error()}
			}
		}
		_ = json.NewEncoder(w).Encode(status)
	}).Methods(http.MethodGet)
	return r
}

// Serve runs the metrics server until ctx is cancelled.
func Serve(ctx context.Context, addr string, health HealthFunc) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
