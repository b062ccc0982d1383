package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_guilds can contain both "123" and 123. Numbers are kept as
// written; snowflakes do not fit a float64.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case json.Number:
			result = append(result, val.String())
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Storage StorageConfig `json:"storage"`
	Roles   RolesConfig   `json:"roles"`
	Workers WorkersConfig `json:"workers"`
	Sweeper SweeperConfig `json:"sweeper"`
	Gateway GatewayConfig `json:"gateway"`
}

type DiscordConfig struct {
	Token              string              `env:"REACTROLES_DISCORD_TOKEN"                json:"token"`
	Trigger            string              `env:"REACTROLES_DISCORD_TRIGGER"              json:"trigger"`
	AllowGuilds        FlexibleStringSlice `env:"REACTROLES_DISCORD_ALLOW_GUILDS"         json:"allow_guilds"`
	NotifyFailures     bool                `env:"REACTROLES_DISCORD_NOTIFY_FAILURES"      json:"notify_failures"`
	RequireManageRoles bool                `env:"REACTROLES_DISCORD_REQUIRE_MANAGE_ROLES" json:"require_manage_roles"`
}

type StorageConfig struct {
	Path      string `env:"REACTROLES_STORAGE_PATH"       json:"path"`
	CacheSize int    `env:"REACTROLES_STORAGE_CACHE_SIZE" json:"cache_size"`
}

type RolesConfig struct {
	// MaxPerMessage truncates the palette; 0 keeps all of it.
	MaxPerMessage int `env:"REACTROLES_ROLES_MAX_PER_MESSAGE" json:"max_per_message"`
	MaxAutoRoles  int `env:"REACTROLES_ROLES_MAX_AUTO_ROLES"  json:"max_auto_roles"`
}

type WorkersConfig struct {
	Shards    int `env:"REACTROLES_WORKERS_SHARDS"     json:"shards"`
	QueueSize int `env:"REACTROLES_WORKERS_QUEUE_SIZE" json:"queue_size"`
}

type SweeperConfig struct {
	Enabled     bool   `env:"REACTROLES_SWEEPER_ENABLED"     json:"enabled"`
	Schedule    string `env:"REACTROLES_SWEEPER_SCHEDULE"    json:"schedule"`
	Concurrency int    `env:"REACTROLES_SWEEPER_CONCURRENCY" json:"concurrency"`
}

type GatewayConfig struct {
	Host string `env:"REACTROLES_GATEWAY_HOST" json:"host"`
	Port int    `env:"REACTROLES_GATEWAY_PORT" json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			Trigger:            "@roles",
			AllowGuilds:        FlexibleStringSlice{},
			NotifyFailures:     true,
			RequireManageRoles: true,
		},
		Storage: StorageConfig{
			Path:      "~/.reactroles/bindings.db",
			CacheSize: 4096,
		},
		Roles: RolesConfig{
			MaxPerMessage: 20,
			MaxAutoRoles:  25,
		},
		Workers: WorkersConfig{
			Shards:    8,
			QueueSize: 64,
		},
		Sweeper: SweeperConfig{
			Enabled:     true,
			Schedule:    "0 */6 * * *",
			Concurrency: 4,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects values the gateway cannot run with. The token is checked
// by the gateway command since store commands work without one.
func (c *Config) Validate() error {
	if c.Discord.Trigger == "" {
		return fmt.Errorf("discord.trigger must not be empty")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Roles.MaxPerMessage < 0 {
		return fmt.Errorf("roles.max_per_message must be >= 0, got %d", c.Roles.MaxPerMessage)
	}
	if c.Roles.MaxAutoRoles <= 0 {
		return fmt.Errorf("roles.max_auto_roles must be > 0, got %d", c.Roles.MaxAutoRoles)
	}
	if c.Workers.Shards <= 0 || c.Workers.QueueSize <= 0 {
		return fmt.Errorf("workers.shards and workers.queue_size must be > 0")
	}
	if c.Sweeper.Enabled {
		if !gronx.New().IsValid(c.Sweeper.Schedule) {
			return fmt.Errorf("sweeper.schedule %q is not a valid cron expression", c.Sweeper.Schedule)
		}
		if c.Sweeper.Concurrency <= 0 {
			return fmt.Errorf("sweeper.concurrency must be > 0, got %d", c.Sweeper.Concurrency)
		}
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	return nil
}

// StoragePath returns Storage.Path with a leading ~ expanded.
func (c *Config) StoragePath() string {
	return expandHome(c.Storage.Path)
}

// DefaultPath is where LoadConfig looks when no --config flag is given.
func DefaultPath() string {
	return expandHome("~/.reactroles/config.json")
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
