package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/nidhogg/ticket-miner/internal/corpus"
	"github.com/nidhogg/ticket-miner/internal/matcher"
	"github.com/nidhogg/ticket-miner/internal/report"
	"github.com/nidhogg/ticket-miner/internal/vector"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Input    InputConfig    `json:"input"`
	Report   ReportConfig   `json:"report"`
	Engine   EngineConfig   `json:"engine"`
	Database DatabaseConfig `json:"database"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type InputConfig struct {
	Path string `json:"path"`
}

type ReportConfig struct {
	Path string `json:"path"`
	report.Options
}

// EngineConfig holds the matching engine's tunable parameters.
type EngineConfig struct {
	Threshold        float64  `json:"threshold"`
	MaxDocFreq       float64  `json:"max_doc_freq"`
	MinDocFreq       int      `json:"min_doc_freq"`
	StopWords        []string `json:"stop_words,omitempty"`
	Workers          int      `json:"workers"`
	ResolvedStatuses []string `json:"resolved_statuses"`
	RulesPath        string   `json:"rules_path"`
}

// Vector returns the vectorizer options.
func (e EngineConfig) Vector() vector.Options {
	return vector.Options{MaxDocFreq: e.MaxDocFreq, MinDocFreq: e.MinDocFreq, StopWords: e.StopWords}
}

// Matcher returns the matcher options.
func (e EngineConfig) Matcher() matcher.Options {
	return matcher.Options{Threshold: e.Threshold, Workers: e.Workers}
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DiscordGatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	vec := vector.DefaultOptions()
	m := matcher.DefaultOptions()
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Input:  InputConfig{Path: "data/dados_jira.json"},
		Report: ReportConfig{Path: "reports/report_analise_jira.html", Options: report.DefaultOptions()},
		Engine: EngineConfig{
			Threshold:        m.Threshold,
			MaxDocFreq:       vec.MaxDocFreq,
			MinDocFreq:       vec.MinDocFreq,
			Workers:          m.Workers,
			ResolvedStatuses: corpus.DefaultResolvedStatuses(),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{Migrations: "migrations"},
			Redis:    RedisConfig{Stream: "miner:suggestions"},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over the defaults and substitutes
// environment variable references. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks engine parameters.
func (c *Config) Validate() error {
	e := c.Engine
	if e.Threshold < 0 || e.Threshold >= 1 {
		return fmt.Errorf("engine.threshold %.3f outside [0, 1)", e.Threshold)
	}
	if e.MaxDocFreq <= 0 || e.MaxDocFreq > 1 {
		return fmt.Errorf("engine.max_doc_freq %.3f outside (0, 1]", e.MaxDocFreq)
	}
	if e.MinDocFreq < 1 {
		return fmt.Errorf("engine.min_doc_freq must be at least 1")
	}
	if len(e.ResolvedStatuses) == 0 {
		return fmt.Errorf("engine.resolved_statuses is empty")
	}
	return nil
}
