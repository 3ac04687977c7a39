package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httptransport "github.com/example/negotiation-scheduler/internal/http"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	port int
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the live event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 8080, "Listen port (SCHEDULER_HTTP_PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd, root)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			rt.logger.Error("failed to close runtime", "error", cerr)
		}
	}()

	port := rt.cfg.HTTPPort
	if cmd.Flags().Changed("port") {
		port = opts.port
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newAPIHandler(rt),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	rt.logger.Info("scheduler API listening", "addr", server.Addr, "storage", rt.cfg.Storage)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	rt.logger.Info("scheduler API stopped")
	return nil
}

// newAPIHandler builds the routed API with request logging and panic recovery.
func newAPIHandler(rt *runtime) http.Handler {
	return httptransport.NewRouter(httptransport.RouterConfig{
		Health:      httptransport.NewHealthHandler(rt.store, rt.logger),
		Negotiation: httptransport.NewNegotiationHandler(rt.coordinator, rt.store, rt.logger),
		Calendar:    httptransport.NewCalendarHandler(rt.store, rt.logger),
		Meetings:    httptransport.NewMeetingHandler(rt.store, rt.logger),
		Stream:      httptransport.NewStreamHandler(rt.broker, rt.logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(rt.logger),
			httptransport.Recoverer(rt.logger),
		},
	})
}
