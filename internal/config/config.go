package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Browser     Browser     `yaml:"browser"`
	Stealth     Stealth     `yaml:"stealth"`
	Acquisition Acquisition `yaml:"acquisition"`
	Throttle    Throttle    `yaml:"throttle"`
	Database    Database    `yaml:"database"`
	Generator   Generator   `yaml:"generator"`
	Logging     Logging     `yaml:"logging"`
}

type Browser struct {
	Headless          bool   `yaml:"headless" env:"FORTIFY_HEADLESS"`
	BinPath           string `yaml:"bin_path" env:"FORTIFY_BROWSER_BIN"`
	Leakless          bool   `yaml:"leakless"`
	UserAgent         string `yaml:"user_agent" env:"FORTIFY_USER_AGENT"`
	AcceptLanguage    string `yaml:"accept_language"`
	ViewportWidthMin  int    `yaml:"viewport_width_min"`
	ViewportWidthMax  int    `yaml:"viewport_width_max"`
	ViewportHeightMin int    `yaml:"viewport_height_min"`
	ViewportHeightMax int    `yaml:"viewport_height_max"`
}

type Stealth struct {
	EnableHumanMouse bool          `yaml:"enable_human_mouse"`
	NavDelayMin      time.Duration `yaml:"nav_delay_min"`
	NavDelayMax      time.Duration `yaml:"nav_delay_max"`
	ScrollDelayMin   time.Duration `yaml:"scroll_delay_min"`
	ScrollDelayMax   time.Duration `yaml:"scroll_delay_max"`
	ScrollSteps      int           `yaml:"scroll_steps"`
}

type Acquisition struct {
	MaxRetries        int           `yaml:"max_retries" env:"FORTIFY_MAX_RETRIES"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" env:"FORTIFY_NAVIGATION_TIMEOUT"`
	FieldTimeout      time.Duration `yaml:"field_timeout"`
}

type Throttle struct {
	MaxConcurrent int           `yaml:"max_concurrent" env:"FORTIFY_MAX_CONCURRENT"`
	MinDelay      time.Duration `yaml:"min_delay" env:"FORTIFY_MIN_DELAY"`
}

type Database struct {
	Driver   string `yaml:"driver" env:"FORTIFY_DB_DRIVER"`
	Path     string `yaml:"path" env:"FORTIFY_DB_PATH"`
	DSN      string `yaml:"dsn" env:"FORTIFY_DB_DSN"`
	MaxConns int    `yaml:"max_conns"`
}

type Generator struct {
	BaseURL         string        `yaml:"base_url" env:"FORTIFY_GENERATOR_BASE_URL"`
	Model           string        `yaml:"model" env:"FORTIFY_GENERATOR_MODEL"`
	APIKey          string        `yaml:"-" env:"NEBIUS_API_KEY"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	RiskTemperature float64       `yaml:"risk_temperature"`
	RiskMaxTokens   int           `yaml:"risk_max_tokens"`
}

type Logging struct {
	Level string `yaml:"level" env:"FORTIFY_LOG_LEVEL"`
}

// Load reads path (missing file is fine), then .env and the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional
	cfg := Default()
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Default() Config {
	var cfg Config
	cfg.Browser.Headless = true
	cfg.Browser.AcceptLanguage = "en-US,en;q=0.9"
	cfg.Browser.ViewportWidthMin = 1280
	cfg.Browser.ViewportWidthMax = 1920
	cfg.Browser.ViewportHeightMin = 720
	cfg.Browser.ViewportHeightMax = 1080
	cfg.Stealth.EnableHumanMouse = true
	cfg.Stealth.NavDelayMin = 2 * time.Second
	cfg.Stealth.NavDelayMax = 4 * time.Second
	cfg.Stealth.ScrollDelayMin = 500 * time.Millisecond
	cfg.Stealth.ScrollDelayMax = 1500 * time.Millisecond
	cfg.Stealth.ScrollSteps = 5
	cfg.Acquisition.MaxRetries = 3
	cfg.Acquisition.BackoffBase = time.Second
	cfg.Acquisition.BackoffMax = 10 * time.Second
	cfg.Acquisition.NavigationTimeout = 45 * time.Second
	cfg.Acquisition.FieldTimeout = 5 * time.Second
	cfg.Throttle.MaxConcurrent = 1
	cfg.Throttle.MinDelay = 2 * time.Second
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "fortify.db"
	cfg.Database.MaxConns = 4
	cfg.Generator.BaseURL = "https://api.studio.nebius.ai/v1/"
	cfg.Generator.Model = "meta-llama/Llama-3.3-70B-Instruct"
	cfg.Generator.Timeout = 60 * time.Second
	cfg.Generator.Temperature = 0.7
	cfg.Generator.MaxTokens = 800
	cfg.Generator.RiskTemperature = 0.3
	cfg.Generator.RiskMaxTokens = 500
	cfg.Logging.Level = "info"
	return cfg
}

func (c *Config) Validate() error {
	if c.Throttle.MaxConcurrent <= 0 {
		return errors.New("throttle.max_concurrent must be > 0")
	}
	if c.Throttle.MinDelay < 0 {
		return errors.New("throttle.min_delay must be >= 0")
	}
	if c.Acquisition.MaxRetries <= 0 {
		return errors.New("acquisition.max_retries must be > 0")
	}
	if c.Acquisition.BackoffBase <= 0 || c.Acquisition.BackoffMax < c.Acquisition.BackoffBase {
		return errors.New("acquisition.backoff_base must be > 0 and <= backoff_max")
	}
	if c.Acquisition.NavigationTimeout <= 0 {
		return errors.New("acquisition.navigation_timeout must be > 0")
	}
	if c.Stealth.NavDelayMax < c.Stealth.NavDelayMin || c.Stealth.ScrollDelayMax < c.Stealth.ScrollDelayMin {
		return errors.New("stealth delay ranges must have max >= min")
	}
	if c.Stealth.ScrollSteps < 0 {
		return errors.New("stealth.scroll_steps must be >= 0")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}
