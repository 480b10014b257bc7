package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requiredEnv = map[string]string{
	"DISCORD_TOKEN":        "discord-token",
	"DISCORD_GUILD_ID":     "42",
	"SLACK_BOT_TOKEN":      "xoxb-test",
	"SLACK_TEAM_ID":        "T1",
	"SLACK_SIGNING_SECRET": "shh",
	"REDIS_URL":            "redis://localhost:6379/0",
}

// clearEnv blanks every variable LoadConfig reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DISCORD_TOKEN", "DISCORD_GUILD_ID", "CARMINE_DISCORD_PREFIX",
		"SLACK_BOT_TOKEN", "SLACK_OAUTH_TOKEN", "SLACK_TEAM_ID", "SLACK_SIGNING_SECRET",
		"SLACK_CLIENT_ID", "SLACK_CLIENT_SECRET", "SLACK_BOT_SCOPE", "SLACK_REDIRECT_HOST",
		"REDIS_URL", "CARMINE_REDIS_KEY_PREFIX", "CARMINE_MAPPING_TTL",
		"CARMINE_GATEWAY_HOST", "CARMINE_GATEWAY_PORT",
		"CARMINE_BUS_CAPACITY", "CARMINE_BUS_OVERFLOW",
		"CARMINE_LOG_LEVEL", "CARMINE_LOG_FORMAT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "discord-token", cfg.Discord.Token)
	assert.Equal(t, "42", cfg.Discord.GuildID)
	assert.Equal(t, "c?", cfg.Discord.Prefix)
	assert.Equal(t, "T1", cfg.Slack.TeamID)
	assert.Equal(t, "0.0.0.0:8080", cfg.Gateway.Addr())
	assert.Equal(t, 1024, cfg.Bus.Capacity)
	assert.Equal(t, "block", cfg.Bus.Overflow)
	assert.False(t, cfg.Slack.OAuthEnabled())
	assert.Zero(t, cfg.Redis.MappingTTL)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "discord-token")

	_, err := LoadConfig("")
	require.Error(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.ElementsMatch(t, []string{
		"DISCORD_GUILD_ID", "SLACK_BOT_TOKEN", "SLACK_TEAM_ID", "SLACK_SIGNING_SECRET", "REDIS_URL",
	}, cerr.Missing)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestLoadConfig_OAuthTokenFallback(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	os.Unsetenv("SLACK_BOT_TOKEN")
	t.Setenv("SLACK_OAUTH_TOKEN", "xoxb-oauth")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-oauth", cfg.Slack.BotToken)
}

func TestLoadConfig_OAuthAllOrNone(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("SLACK_CLIENT_ID", "123.456")

	_, err := LoadConfig("")
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.ElementsMatch(t, []string{"SLACK_CLIENT_SECRET", "SLACK_BOT_SCOPE", "SLACK_REDIRECT_HOST"}, cerr.Missing)

	t.Setenv("SLACK_CLIENT_SECRET", "secret")
	t.Setenv("SLACK_BOT_SCOPE", "chat:write, channels:join,users:read")
	t.Setenv("SLACK_REDIRECT_HOST", "https://bridge.example.com")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.Slack.OAuthEnabled())
	assert.Equal(t, []string{"chat:write", "channels:join", "users:read"}, cfg.Slack.Scopes())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
discord:
  prefix: "!"
redis:
  key_prefix: "carmine:"
  mapping_ttl: 720h
gateway:
  port: 9000
bus:
  capacity: 64
  overflow: drop-oldest
log:
  level: debug
  format: json
`), 0o600))
	t.Setenv("CARMINE_GATEWAY_PORT", "9100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "!", cfg.Discord.Prefix)
	assert.Equal(t, "carmine:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 720*time.Hour, cfg.Redis.MappingTTL)
	assert.Equal(t, 9100, cfg.Gateway.Port, "env overrides file")
	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host, "default kept")
	assert.Equal(t, 64, cfg.Bus.Capacity)
	assert.Equal(t, "drop-oldest", cfg.Bus.Overflow)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_BadFile(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discord: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestValidate_Problems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token, cfg.Discord.GuildID = "t", "1"
	cfg.Slack.BotToken, cfg.Slack.TeamID, cfg.Slack.SigningSecret = "x", "T1", "s"
	cfg.Redis.URL = "redis://localhost"
	require.NoError(t, cfg.Validate())

	cfg.Bus.Overflow = "drop-newest"
	cfg.Gateway.Port = 0
	cfg.Log.Format = "xml"

	var cerr *ConfigError
	require.ErrorAs(t, cfg.Validate(), &cerr)
	assert.Empty(t, cerr.Missing)
	assert.Len(t, cerr.Problems, 3)
}

func TestLoad_SkipsValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/3", cfg.Redis.URL)
	assert.Empty(t, cfg.Discord.Token)
	assert.Error(t, cfg.Validate())
}
