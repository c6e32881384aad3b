package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/api"
	"github.com/nidhogg/ticket-miner/internal/gateway"
)

var serveFlags struct {
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline once and serve results over HTTP",
	Long: `Runs the pipeline on the configured input, then serves the results,
the HTML report, ad-hoc matching and Prometheus metrics over HTTP.
POST /api/runs re-runs the pipeline without restarting the server.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serveFlags.port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	feed := gateway.NewFeedAdapter(20, logger)
	a.gw.Register(feed)
	a.enableNotifier()

	handler := api.NewHandler(a.pipeline, cfg.Input.Path, cfg.Report.Options, logger)
	handler.SetGateway(a.gw, feed, a.notifier)
	if a.pg != nil {
		handler.SetHistory(a.pg)
	}
	if a.graph != nil {
		handler.SetPrecedents(a.graph)
	}

	res, err := a.pipeline.RunFile(ctx, cfg.Input.Path)
	if err != nil {
		logger.Warn("initial run failed, serving without results", zap.Error(err))
	} else {
		handler.SetResult(res)
	}

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ticket miner listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down ticket miner...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
