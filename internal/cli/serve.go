package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/steadycore/health"
	"github.com/jonwraymond/steadycore/observe"
)

const shutdownTimeout = 10 * time.Second

func buildServeCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health checks, readiness and Prometheus metrics",
		Long: `Open the store and the remote client, then serve:
  /healthz       liveness
  /readyz        readiness (503 while any check is unhealthy)
  /health        JSON health report
  /metrics       Prometheus metrics
  /debug/stats   breaker, cache and session pool statistics
Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, release, err := load(ctx)
			if err != nil {
				return err
			}
			defer release()

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = rt.Close(closeCtx)
			}()

			lis, err := net.Listen("tcp", cfg.ServeAddr)
			if err != nil {
				return err
			}
			return rt.serve(ctx, lis)
		},
	}
}

func (rt *runtime) handler() http.Handler {
	mux := http.NewServeMux()
	health.RegisterHandlers(mux, rt.health)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rt.stats())
	})
	return mux
}

// serve runs the HTTP server on lis until ctx is done.
func (rt *runtime) serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           rt.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	rt.log.Info(ctx, "serving", observe.F("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
