package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tinyland-inc/carmine/pkg/bus"
	"github.com/tinyland-inc/carmine/pkg/logger"
)

type Config struct {
	Discord DiscordConfig `koanf:"discord"`
	Slack   SlackConfig   `koanf:"slack"`
	Redis   RedisConfig   `koanf:"redis"`
	Gateway GatewayConfig `koanf:"gateway"`
	Bus     BusConfig     `koanf:"bus"`
	Log     LogConfig     `koanf:"log"`
}

type DiscordConfig struct {
	Token   string `env:"DISCORD_TOKEN"          koanf:"token"`
	GuildID string `env:"DISCORD_GUILD_ID"       koanf:"guild_id"`
	Prefix  string `env:"CARMINE_DISCORD_PREFIX" koanf:"prefix"`
}

type SlackConfig struct {
	BotToken      string `env:"SLACK_BOT_TOKEN"      koanf:"bot_token"`
	TeamID        string `env:"SLACK_TEAM_ID"        koanf:"team_id"`
	SigningSecret string `env:"SLACK_SIGNING_SECRET" koanf:"signing_secret"`

	// OAuth install flow; all four or none.
	ClientID     string `env:"SLACK_CLIENT_ID"     koanf:"client_id"`
	ClientSecret string `env:"SLACK_CLIENT_SECRET" koanf:"client_secret"`
	BotScope     string `env:"SLACK_BOT_SCOPE"     koanf:"bot_scope"`
	RedirectHost string `env:"SLACK_REDIRECT_HOST" koanf:"redirect_host"`
}

// OAuthEnabled reports whether the install flow is configured.
func (s SlackConfig) OAuthEnabled() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.BotScope != "" && s.RedirectHost != ""
}

// Scopes splits BotScope on commas.
func (s SlackConfig) Scopes() []string {
	var scopes []string
	for _, sc := range strings.Split(s.BotScope, ",") {
		if sc = strings.TrimSpace(sc); sc != "" {
			scopes = append(scopes, sc)
		}
	}
	return scopes
}

type RedisConfig struct {
	URL        string        `env:"REDIS_URL"                koanf:"url"`
	KeyPrefix  string        `env:"CARMINE_REDIS_KEY_PREFIX" koanf:"key_prefix"`
	MappingTTL time.Duration `env:"CARMINE_MAPPING_TTL"      koanf:"mapping_ttl"`
}

type GatewayConfig struct {
	Host string `env:"CARMINE_GATEWAY_HOST" koanf:"host"`
	Port int    `env:"CARMINE_GATEWAY_PORT" koanf:"port"`
}

// Addr is the HTTP listen address.
func (g GatewayConfig) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

type BusConfig struct {
	Capacity int    `env:"CARMINE_BUS_CAPACITY" koanf:"capacity"`
	Overflow string `env:"CARMINE_BUS_OVERFLOW" koanf:"overflow"`
}

type LogConfig struct {
	Level  string `env:"CARMINE_LOG_LEVEL"  koanf:"level"`
	Format string `env:"CARMINE_LOG_FORMAT" koanf:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{Prefix: "c?"},
		Gateway: GatewayConfig{Host: "0.0.0.0", Port: 8080},
		Bus: BusConfig{
			Capacity: bus.DefaultCapacity,
			Overflow: string(bus.OverflowBlock),
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// ConfigError lists every problem found by Validate.
type ConfigError struct {
	Missing  []string
	Problems []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Problems...)
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// LoadConfig layers defaults, the YAML file at path (if it exists) and the
// environment, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is LoadConfig without validation, for tools that only need part of
// the configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		path = expandHome(path)
		if _, err := os.Stat(path); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
			if err := k.Unmarshal("", cfg); err != nil {
				return nil, fmt.Errorf("decode config file %s: %w", path, err)
			}
			logger.DebugCF("config", "Loaded config file", map[string]any{"path": path})
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Slack.BotToken == "" {
		cfg.Slack.BotToken = os.Getenv("SLACK_OAUTH_TOKEN")
	}
	return cfg, nil
}

// Validate returns a *ConfigError naming every missing or malformed setting.
func (c *Config) Validate() error {
	e := &ConfigError{}
	required := []struct{ key, val string }{
		{"DISCORD_TOKEN", c.Discord.Token},
		{"DISCORD_GUILD_ID", c.Discord.GuildID},
		{"SLACK_BOT_TOKEN", c.Slack.BotToken},
		{"SLACK_TEAM_ID", c.Slack.TeamID},
		{"SLACK_SIGNING_SECRET", c.Slack.SigningSecret},
		{"REDIS_URL", c.Redis.URL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			e.Missing = append(e.Missing, r.key)
		}
	}

	oauth := []struct{ key, val string }{
		{"SLACK_CLIENT_ID", c.Slack.ClientID},
		{"SLACK_CLIENT_SECRET", c.Slack.ClientSecret},
		{"SLACK_BOT_SCOPE", c.Slack.BotScope},
		{"SLACK_REDIRECT_HOST", c.Slack.RedirectHost},
	}
	var set int
	for _, o := range oauth {
		if o.val != "" {
			set++
		}
	}
	if set > 0 && set < len(oauth) {
		for _, o := range oauth {
			if o.val == "" {
				e.Missing = append(e.Missing, o.key)
			}
		}
	}

	if _, err := bus.ParseOverflowPolicy(c.Bus.Overflow); err != nil {
		e.Problems = append(e.Problems, err.Error())
	}
	if c.Bus.Capacity < 1 {
		e.Problems = append(e.Problems, fmt.Sprintf("bus capacity must be positive, got %d", c.Bus.Capacity))
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		e.Problems = append(e.Problems, fmt.Sprintf("gateway port out of range: %d", c.Gateway.Port))
	}
	if c.Redis.MappingTTL < 0 {
		e.Problems = append(e.Problems, "mapping ttl must not be negative")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		e.Problems = append(e.Problems, err.Error())
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		e.Problems = append(e.Problems, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if len(e.Missing) > 0 || len(e.Problems) > 0 {
		return e
	}
	return nil
}

// DefaultPath is ~/.carmine/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".carmine", "config.yaml")
	}
	return filepath.Join(home, ".carmine", "config.yaml")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
