package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Environment string `yaml:"environment" validate:"oneof=development production test"`
		LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	} `yaml:"app"`
	Server struct {
		Addr string `yaml:"addr" validate:"required"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
		DSN    string `yaml:"dsn" validate:"required"`
	} `yaml:"database"`
	DataSource struct {
		Provider    string        `yaml:"provider" validate:"oneof=alphavantage mock"`
		BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
		APIKey      string        `yaml:"api_key"`
		OutputSize  string        `yaml:"output_size" validate:"oneof=compact full"`
		Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
		MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`
	} `yaml:"data_source"`
	ETL struct {
		Enabled         bool     `yaml:"enabled"`
		IntervalMinutes int      `yaml:"interval_minutes" validate:"gt=0"`
		Tickers         []string `yaml:"tickers" validate:"required,min=1,dive,min=1,max=10"`
		RunOnStart      bool     `yaml:"run_on_start"`
		Timezone        string   `yaml:"timezone" validate:"required"`
	} `yaml:"etl"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	ReportFile string `yaml:"report_file"`
	Proxy      string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.ETL.Enabled = true
	cfg.ETL.RunOnStart = true

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.App.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		cfg.DataSource.APIKey = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_BASE_URL"); v != "" {
		cfg.DataSource.BaseURL = v
	}
	if v := os.Getenv("DEFAULT_TICKERS"); v != "" {
		cfg.ETL.Tickers = ParseTickers(v)
	}
	if v := os.Getenv("ETL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ETL.Enabled = b
		}
	}
	if v := os.Getenv("ETL_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ETL.IntervalMinutes = n
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("REPORT_FILE"); v != "" {
		cfg.ReportFile = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.App.Name == "" {
		cfg.App.Name = "Market Data Pipeline"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "1.0.0"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "data/market_data.db"
	}
	if cfg.DataSource.Provider == "" {
		cfg.DataSource.Provider = "alphavantage"
	}
	if cfg.DataSource.BaseURL == "" {
		cfg.DataSource.BaseURL = "https://www.alphavantage.co/query"
	}
	if cfg.DataSource.APIKey == "" {
		cfg.DataSource.APIKey = "demo"
	}
	if cfg.DataSource.OutputSize == "" {
		cfg.DataSource.OutputSize = "compact"
	}
	if cfg.DataSource.Timeout == 0 {
		cfg.DataSource.Timeout = 30 * time.Second
	}
	if cfg.ETL.IntervalMinutes == 0 {
		cfg.ETL.IntervalMinutes = 5
	}
	if len(cfg.ETL.Tickers) == 0 {
		cfg.ETL.Tickers = ParseTickers("AAPL,GOOGL,MSFT,AMZN,TSLA")
	}
	if cfg.ETL.Timezone == "" {
		cfg.ETL.Timezone = "Local"
	}
	if cfg.ReportFile == "" {
		cfg.ReportFile = "data/last_run.json"
	}

	return cfg, nil
}

// Validate checks that all required fields are set and well-formed.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.ETL.Timezone); err != nil {
		return fmt.Errorf("etl.timezone: %w", err)
	}
	return nil
}

// Location returns the timezone trading days are evaluated in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ETL.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Interval returns the scheduled ETL period.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.ETL.IntervalMinutes) * time.Minute
}

// TelegramEnabled reports whether batch reports should be delivered to a chat.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// ParseTickers splits a comma-separated ticker list, trimming blanks and upper-casing.
func ParseTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
