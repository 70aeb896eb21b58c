package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slush-dev/pushrelay"
	"github.com/slush-dev/pushrelay/live"
	"github.com/slush-dev/pushrelay/natsbus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume push messages from NATS and serve live events over SignalR",
	Long: `Subscribes to the configured NATS subject and runs every message through
the pipeline. Received and opened events are republished on NATS and
broadcast to SignalR clients connected at http.live_path, which may also
invoke "open" with an activation payload. Prometheus metrics are served at
/metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showActivation, _ := cmd.Flags().GetBool("show-activation")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		conn, err := natsbus.Connect(natsCfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		sink := newConsoleSink(os.Stdout, useYAML, showActivation)
		pipeline, release, err := buildPipeline(ctx, cfg, sink, logger)
		if err != nil {
			return err
		}
		defer release()

		hub, err := live.NewServer(ctx, pipeline, live.WithLogger(logger))
		if err != nil {
			return err
		}
		events := natsbus.NewEventPublisher(conn, cfg.NATS.EventPrefix)
		pipeline.Attach(pushrelay.Listeners{events, hub})

		sub := natsbus.NewSubscriber(conn, cfg.NATS.Subject, cfg.NATS.Queue, pipeline.HandleMessage, logger)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		hub.MapHTTP(mux, cfg.HTTP.LivePath)

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("HTTP server listening", "addr", srv.Addr, "live_path", cfg.HTTP.LivePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		}

		fmt.Fprintln(os.Stderr, "\nShutting down ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().Bool("show-activation", false, "Print the activation payload of every notification")
	rootCmd.AddCommand(serveCmd)
}
