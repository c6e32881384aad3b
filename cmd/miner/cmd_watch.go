package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/events"
)

var watchFlags struct {
	from  string
	count int
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print suggestion events from the Redis stream",
	Long: `Follows the suggestion stream (database.redis.stream) and prints one line
per event. By default only events published after the command starts are
shown; --from 0 replays the whole stream.`,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.from, "from", "$", `Stream ID to read after ("$" for new events, "0" for all)`)
	f.IntVarP(&watchFlags.count, "count", "n", 0, "Stop after this many events (0 follows until interrupted)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Database.Redis.URL == "" {
		return errors.New("watch: database.redis.url is not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := events.NewBus(ctx, cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer bus.Close()

	logger.Info("watching stream", zap.String("stream", bus.Stream()), zap.String("from", watchFlags.from))
	out := cmd.OutOrStdout()
	seen := 0
	for ev := range bus.Subscribe(ctx, watchFlags.from) {
		fmt.Fprintln(out, ev.String())
		seen++
		if watchFlags.count > 0 && seen >= watchFlags.count {
			break
		}
	}
	return nil
}
