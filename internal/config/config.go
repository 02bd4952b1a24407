// Package config loads labd settings from defaults, an optional config file,
// a .env file and AGENTLAB_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flitsinc/agentlab/internal/conn"
	"github.com/flitsinc/agentlab/internal/tracing"
)

const EnvPrefix = "AGENTLAB"

type Config struct {
	WSURL          string         `mapstructure:"ws_url"`
	APIURL         string         `mapstructure:"api_url"`
	HTTPAddr       string         `mapstructure:"http_addr"`
	DataDir        string         `mapstructure:"data_dir"`
	JournalPath    string         `mapstructure:"journal_path"`
	JournalEnabled bool           `mapstructure:"journal_enabled"`
	ReconnectDelay time.Duration  `mapstructure:"reconnect_delay"`
	WebDir         string         `mapstructure:"web_dir"`
	LogLevel       string         `mapstructure:"log_level"`
	Trace          tracing.Config `mapstructure:"trace"`
}

func Defaults() Config {
	return Config{
		WSURL:          "ws://localhost:8000/ws",
		APIURL:         "http://localhost:8000",
		HTTPAddr:       ":8080",
		DataDir:        "data",
		JournalEnabled: true,
		ReconnectDelay: conn.DefaultReconnectDelay,
		WebDir:         "web",
		LogLevel:       "info",
		Trace:          tracing.DefaultConfig(),
	}
}

type LoadOptions struct {
	// ConfigFile is read when set; a missing file is an error.
	ConfigFile string
	// EnvFile defaults to ".env"; a missing env file is ignored.
	EnvFile string
}

func Load(opts LoadOptions) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
	}
	if cfg.Trace.Exporter == "file" && cfg.Trace.FilePath == "" {
		cfg.Trace.FilePath = filepath.Join(cfg.DataDir, "traces.jsonl")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("ws_url", d.WSURL)
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("journal_path", d.JournalPath)
	v.SetDefault("journal_enabled", d.JournalEnabled)
	v.SetDefault("reconnect_delay", d.ReconnectDelay)
	v.SetDefault("web_dir", d.WebDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("trace.enabled", d.Trace.Enabled)
	v.SetDefault("trace.exporter", d.Trace.Exporter)
	v.SetDefault("trace.file_path", d.Trace.FilePath)
	v.SetDefault("trace.otlp_endpoint", d.Trace.OTLPEndpoint)
	v.SetDefault("trace.sample_rate", d.Trace.SampleRate)
	v.SetDefault("trace.service_name", d.Trace.ServiceName)
}

// loadDotEnv exports KEY=VALUE pairs from path without overriding variables
// that are already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.WSURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("ws_url must be a ws:// or wss:// URL, got %q", c.WSURL)
	}
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("api_url must be an http:// or https:// URL, got %q", c.APIURL)
		}
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %s", c.ReconnectDelay)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps log_level onto slog; Validate has already rejected bad values.
func (c Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
