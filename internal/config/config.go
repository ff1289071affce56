package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"taixiu-backend/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"taixiu.db"`
	PostgresDSN   string `env:"PG_DSN"`

	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisURL     string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass    string `env:"REDIS_PASSWORD"`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`

	BettingWindow  time.Duration `env:"BETTING_WINDOW" envDefault:"40s"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	NextRoundDelay time.Duration `env:"NEXT_ROUND_DELAY" envDefault:"5s"`
	BetRateLimit   int           `env:"BET_RATE_LIMIT" envDefault:"30"`
	AutoOpenScopes []string      `env:"AUTO_OPEN_SCOPES" envSeparator:","`

	RulesFile string `env:"RULES_FILE"`
	Rules     models.Rules
}

// ruleEnv mirrors models.Rules so each constant can be overridden from the
// environment without tagging the domain type. Unset variables stay nil.
type ruleEnv struct {
	MinBet         *int64 `env:"MIN_BET"`
	MaxBet         *int64 `env:"MAX_BET"`
	DefaultBalance *int64 `env:"DEFAULT_BALANCE"`
	ResetBalance   *int64 `env:"RESET_BALANCE"`
	NumDice        *int   `env:"NUM_DICE"`
	DieMin         *int   `env:"DIE_MIN"`
	DieMax         *int   `env:"DIE_MAX"`
	HighMin        *int   `env:"HIGH_MIN"`
	HistorySize    *int   `env:"HISTORY_SIZE"`
}

// Load reads .env (if present), the environment and the optional rules file.
// Precedence: environment over rules file over built-in defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Rules = models.DefaultRules()
	if cfg.RulesFile != "" {
		rules, err := LoadRulesFile(cfg.RulesFile, cfg.Rules)
		if err != nil {
			return nil, err
		}
		cfg.Rules = rules
	}

	var overrides ruleEnv
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyRuleOverrides(&cfg.Rules, overrides)

	for i, scope := range cfg.AutoOpenScopes {
		cfg.AutoOpenScopes[i] = strings.TrimSpace(scope)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadRulesFile overlays the YAML file at path onto base. Keys missing from
// the file keep their base values.
func LoadRulesFile(path string, base models.Rules) (models.Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	rules := base
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return models.Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	return rules, nil
}

func applyRuleOverrides(rules *models.Rules, o ruleEnv) {
	override(&rules.MinBet, o.MinBet)
	override(&rules.MaxBet, o.MaxBet)
	override(&rules.DefaultBalance, o.DefaultBalance)
	override(&rules.ResetBalance, o.ResetBalance)
	override(&rules.NumDice, o.NumDice)
	override(&rules.DieMin, o.DieMin)
	override(&rules.DieMax, o.DieMax)
	override(&rules.HighMin, o.HighMin)
	override(&rules.HistorySize, o.HistorySize)
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("PG_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.BettingWindow <= 0 {
		return fmt.Errorf("BETTING_WINDOW must be positive")
	}
	if c.PollInterval <= 0 || c.PollInterval > c.BettingWindow {
		return fmt.Errorf("POLL_INTERVAL must be positive and no longer than the betting window")
	}
	if c.NextRoundDelay < 0 {
		return fmt.Errorf("NEXT_ROUND_DELAY must not be negative")
	}
	if c.BetRateLimit < 0 {
		return fmt.Errorf("BET_RATE_LIMIT must not be negative")
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
