package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/ticket-miner/internal/categorizer"
	"github.com/nidhogg/ticket-miner/internal/config"
	"github.com/nidhogg/ticket-miner/internal/corpus"
	"github.com/nidhogg/ticket-miner/internal/events"
	"github.com/nidhogg/ticket-miner/internal/gateway"
	"github.com/nidhogg/ticket-miner/internal/graph"
	"github.com/nidhogg/ticket-miner/internal/matcher"
	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/store"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline

	pg       *store.Store
	graph    *graph.Store
	bus      *events.Bus
	gw       *gateway.Gateway
	notifier *gateway.Notifier
}

// newLogger builds a development logger for "debug" and a production
// logger at the configured level otherwise.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// loadConfig reads .env, the config file and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Config loaded", zap.String("path", rootFlags.configPath))
	return cfg, logger, nil
}

func buildCategorizer(cfg *config.Config, logger *zap.Logger) (*categorizer.Categorizer, error) {
	rules := categorizer.DefaultRules()
	if cfg.Engine.RulesPath != "" {
		loaded, err := categorizer.LoadRules(cfg.Engine.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
		logger.Info("category rules loaded",
			zap.String("path", cfg.Engine.RulesPath),
			zap.Strings("labels", rules.Labels()))
	}
	return categorizer.New(rules), nil
}

// newApp wires the pipeline. When withSinks is set, the optional
// backends are connected; each one that is unavailable is skipped with a
// warning.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, withSinks bool) (*app, error) {
	cat, err := buildCategorizer(cfg, logger)
	if err != nil {
		return nil, err
	}
	splitter := corpus.NewSplitter(cat, cfg.Engine.ResolvedStatuses)
	m := matcher.New(cfg.Engine.Matcher(), logger)
	p := pipeline.New(splitter, cfg.Engine.Vector(), m, logger)

	a := &app{cfg: cfg, logger: logger, pipeline: p}
	if cfg.Report.Path != "" {
		p.AddSink(pipeline.NewReportSink(cfg.Report.Path, cfg.Report.Options, logger))
	}
	if !withSinks {
		return a, nil
	}

	// PostgreSQL run history
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		ps, pgErr := store.New(ctx, dsn, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without run history", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				ps.Close()
				a.Close()
				return nil, fmt.Errorf("migrate: %w", mErr)
			}
			a.pg = ps
			p.AddSink(store.NewSink(ps))
		}
	}

	// Neo4j precedent graph
	if uri := cfg.Database.Neo4j.URI; uri != "" {
		gs, gErr := graph.NewStore(uri, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr == nil {
			gErr = gs.Ping(ctx)
			if gErr == nil {
				gErr = gs.EnsureSchema(ctx)
			}
			if gErr != nil {
				gs.Close(ctx)
			}
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without precedent graph", zap.Error(gErr))
		} else {
			a.graph = gs
			p.AddSink(graph.NewSink(gs))
		}
	}

	// Redis suggestion stream
	if url := cfg.Database.Redis.URL; url != "" {
		bus, busErr := events.NewBus(ctx, url, cfg.Database.Redis.Stream, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(busErr))
		} else {
			a.bus = bus
			p.AddSink(events.NewSink(bus))
		}
	}

	// Chat digests
	a.gw = gateway.NewGateway(logger)
	if sc := cfg.Gateway.Slack; sc.Enabled && sc.BotToken != "" {
		a.gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.ChannelID, logger))
	}
	if dc := cfg.Gateway.Discord; dc.Enabled && dc.BotToken != "" {
		a.gw.Register(gateway.NewDiscordAdapter(dc.BotToken, dc.ChannelID, logger))
	}
	if err := a.gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	a.notifier = gateway.NewNotifier(a.gw, cfg.Report.MaxSuggestions, logger)
	return a, nil
}

// enableNotifier registers the digest notifier once all adapters are in place.
func (a *app) enableNotifier() {
	if a.notifier != nil && len(a.gw.Adapters()) > 0 {
		a.pipeline.AddSink(a.notifier)
	}
}

// Close releases every connected backend.
func (a *app) Close() {
	ctx := context.Background()
	if a.gw != nil {
		a.gw.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.graph != nil {
		a.graph.Close(ctx)
	}
	if a.pg != nil {
		a.pg.Close()
	}
	a.logger.Sync()
}
