// Package config loads process configuration from an optional YAML file and
// environment overrides, a two-layer scheme trimmed to the concerns this
// kernel actually has: no transport, no auth, no tenant wiring — just
// persistence, logging, tracing, and the domain tunables (scoring weights,
// risk budgets, outbox backoff).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig controls the PostgreSQL connection backing the
// availabilities/requirements/matches/event_outbox tables.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Endpoint           string            `json:"endpoint" env:"TRACING_OTLP_ENDPOINT"`
	Insecure           bool              `json:"insecure" env:"TRACING_OTLP_INSECURE"`
	ServiceName        string            `json:"service_name" env:"TRACING_SERVICE_NAME"`
	ResourceAttributes map[string]string `json:"resource_attributes" mapstructure:"resource_attributes"`
	AttributesEnv      string            `json:"-" yaml:"-" env:"TRACING_OTLP_ATTRIBUTES"`
}

// ScoringConfig carries the matcher's default weight vector and thresholds
// (§4.8); per-commodity overrides live in the commodity catalog and are
// merged over these process-wide defaults.
type ScoringConfig struct {
	WeightQuality       float64 `json:"weight_quality" env:"SCORING_WEIGHT_QUALITY"`
	WeightPrice         float64 `json:"weight_price" env:"SCORING_WEIGHT_PRICE"`
	WeightDelivery      float64 `json:"weight_delivery" env:"SCORING_WEIGHT_DELIVERY"`
	WeightRisk          float64 `json:"weight_risk" env:"SCORING_WEIGHT_RISK"`
	MinScoreThreshold   float64 `json:"min_score_threshold" env:"SCORING_MIN_THRESHOLD"`
	RiskWarnPenalty     float64 `json:"risk_warn_penalty" env:"SCORING_RISK_WARN_PENALTY"`
	AIRecommendedBoost  float64 `json:"ai_recommended_boost" env:"SCORING_AI_BOOST"`
	MaxCandidates       int     `json:"max_candidates" env:"SCORING_MAX_CANDIDATES"`
	MaxNotify           int     `json:"max_notify" env:"SCORING_MAX_NOTIFY"`
	MinPartialFraction  float64 `json:"min_partial_fraction" env:"SCORING_MIN_PARTIAL_FRACTION"`
	DuplicateWindowSecs int     `json:"duplicate_window_secs" env:"SCORING_DUPLICATE_WINDOW_SECS"`
}

// RiskConfig carries Tier-1/Tier-2 budgets and the score→status mapping.
type RiskConfig struct {
	Tier1BudgetMillis int     `json:"tier1_budget_ms" env:"RISK_TIER1_BUDGET_MS"`
	Tier2BudgetMillis int     `json:"tier2_budget_ms" env:"RISK_TIER2_BUDGET_MS"`
	PassThreshold     float64 `json:"pass_threshold" env:"RISK_PASS_THRESHOLD"`
	WarnThreshold     float64 `json:"warn_threshold" env:"RISK_WARN_THRESHOLD"`
	RuleWeight        float64 `json:"rule_weight" env:"RISK_RULE_WEIGHT"`
	MLWeight          float64 `json:"ml_weight" env:"RISK_ML_WEIGHT"`
}

// OutboxConfig carries the publisher worker's polling and backoff ladder.
type OutboxConfig struct {
	PollInterval     int `json:"poll_interval_ms" env:"OUTBOX_POLL_INTERVAL_MS"`
	WorkerCount      int `json:"worker_count" env:"OUTBOX_WORKER_COUNT"`
	BatchSize        int `json:"batch_size" env:"OUTBOX_BATCH_SIZE"`
	MaxAttempts      int `json:"max_attempts" env:"OUTBOX_MAX_ATTEMPTS"`
	InitialBackoffMs int `json:"initial_backoff_ms" env:"OUTBOX_INITIAL_BACKOFF_MS"`
	MaxBackoffMs     int `json:"max_backoff_ms" env:"OUTBOX_MAX_BACKOFF_MS"`
}

// Config is the top-level process configuration.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Tracing  TracingConfig  `json:"tracing"`
	Scoring  ScoringConfig  `json:"scoring"`
	Risk     RiskConfig     `json:"risk"`
	Outbox   OutboxConfig   `json:"outbox"`
}

// New returns a Config populated with sane production defaults.
func New() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "tradecore",
		},
		Tracing: TracingConfig{},
		Scoring: ScoringConfig{
			WeightQuality:       0.40,
			WeightPrice:         0.30,
			WeightDelivery:      0.15,
			WeightRisk:          0.15,
			MinScoreThreshold:   0.6,
			RiskWarnPenalty:     0.10,
			AIRecommendedBoost:  0.05,
			MaxCandidates:       500,
			MaxNotify:           5,
			MinPartialFraction:  0.10,
			DuplicateWindowSecs: 300,
		},
		Risk: RiskConfig{
			Tier1BudgetMillis: 200,
			Tier2BudgetMillis: 500,
			PassThreshold:     80,
			WarnThreshold:     60,
			RuleWeight:        0.7,
			MLWeight:          0.3,
		},
		Outbox: OutboxConfig{
			PollInterval:     500,
			WorkerCount:      4,
			BatchSize:        50,
			MaxAttempts:      5,
			InitialBackoffMs: 10_000,
			MaxBackoffMs:     600_000,
		},
	}
}

// ConnectionString builds a libpq connection string.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from an optional YAML file followed by
// environment overrides (DATABASE_URL always wins over a file-based DSN).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged field was present in the
		// environment; treat that as "no overrides" for local runs.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, applying defaults for
// anything the file omits.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (t *TracingConfig) normalize() {
	if t == nil {
		return
	}
	t.MergeAttributes(t.AttributesEnv)
}

// MergeAttributes merges comma-separated key=value pairs into ResourceAttributes.
func (t *TracingConfig) MergeAttributes(raw string) {
	if t == nil {
		return
	}
	pairs := parseAttributePairs(raw)
	if len(pairs) == 0 {
		return
	}
	if t.ResourceAttributes == nil {
		t.ResourceAttributes = make(map[string]string, len(pairs))
	}
	for k, v := range pairs {
		if k == "" {
			continue
		}
		t.ResourceAttributes[k] = v
	}
}

func parseAttributePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		val := ""
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}
		result[key] = val
	}
	return result
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Tracing.normalize()
}
