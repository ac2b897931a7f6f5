package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration.
type Config struct {
	Discord struct {
		Token          string `yaml:"token"`
		BotID          string `yaml:"bot_id"`
		ValueChannelID string `yaml:"value_channel_id"`
		TradeChannelID string `yaml:"trade_channel_id"`
		BaseURL        string `yaml:"base_url"`
	} `yaml:"discord"`
	Database struct {
		LivePath    string `yaml:"live_path"`
		ArchivePath string `yaml:"archive_path"`
		// Trades older than this instant live in the archive shard.
		ShardCutoff time.Time `yaml:"shard_cutoff"`
	} `yaml:"database"`
	Sync struct {
		PageSize    int      `yaml:"page_size"`
		BatchSize   int      `yaml:"batch_size"`
		Throttle    Duration `yaml:"throttle"`
		RetryDelay  Duration `yaml:"retry_delay"`
		MaxAttempts int      `yaml:"max_attempts"`
	} `yaml:"sync"`
	Server struct {
		Addr        string `yaml:"addr"`
		RenderSlots int    `yaml:"render_slots"`
	} `yaml:"server"`
	// NameCorrections maps legacy/renamed item names to their canonical form.
	// Applied after raw extraction, before identity resolution.
	NameCorrections map[string]string `yaml:"name_corrections"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error; env vars and
// defaults still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

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
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("DISCORD_BOT_ID"); v != "" {
		cfg.Discord.BotID = v
	}
	if v := os.Getenv("VALUE_CHANNEL_ID"); v != "" {
		cfg.Discord.ValueChannelID = v
	}
	if v := os.Getenv("TRADE_CHANNEL_ID"); v != "" {
		cfg.Discord.TradeChannelID = v
	}
	if v := os.Getenv("LIVE_DB_PATH"); v != "" {
		cfg.Database.LivePath = v
	}
	if v := os.Getenv("ARCHIVE_DB_PATH"); v != "" {
		cfg.Database.ArchivePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxAttempts = n
		}
	}

	// Defaults
	if cfg.Discord.BaseURL == "" {
		cfg.Discord.BaseURL = "https://discord.com/api/v10"
	}
	if cfg.Database.LivePath == "" {
		cfg.Database.LivePath = "data/dankstats.db"
	}
	if cfg.Database.ArchivePath == "" {
		cfg.Database.ArchivePath = "data/dankstats_archive.db"
	}
	if cfg.Database.ShardCutoff.IsZero() {
		cfg.Database.ShardCutoff = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 100
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Sync.Throttle == 0 {
		cfg.Sync.Throttle = Duration(250 * time.Millisecond)
	}
	if cfg.Sync.RetryDelay == 0 {
		cfg.Sync.RetryDelay = Duration(time.Second)
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:3001"
	}
	if cfg.Server.RenderSlots == 0 {
		cfg.Server.RenderSlots = 4
	}
	if cfg.NameCorrections == nil {
		cfg.NameCorrections = DefaultCorrections()
	}

	return cfg, nil
}

// Validate checks that fields required for syncing are set.
// The API server does not need Discord credentials and skips this.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}
	if c.Discord.BotID == "" {
		return fmt.Errorf("discord.bot_id is required")
	}
	if c.Discord.ValueChannelID == "" && c.Discord.TradeChannelID == "" {
		return fmt.Errorf("at least one of discord.value_channel_id, discord.trade_channel_id is required")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}
	return nil
}

// DefaultCorrections returns the built-in rename table, used when the config
// file does not carry one. Keys are raw extracted names, values canonical.
func DefaultCorrections() map[string]string {
	return map[string]string{
		"jelly fish":            "legacy jelly fish",
		"yeng's paw":            "squishy paw",
		"legendary fish":        "legacy legendary fish",
		"patreon pack":          "membership pack",
		"fishing bait":          "legacy fishing bait",
		"potato ☭":              "potato",
		"common fish":           "legacy common fish",
		"patreon box":           "membership box",
		"kraken":                "legacy kraken",
		"rare fish":             "legacy rare fish",
		"exotic fish":           "legacy rare fish",
		"bunny's apron":         "apron",
		"amathine's butterfly":  "rare butterfly",
		"alexa's megaphone":     "the megaphone",
		"exclusive website box": "exclusive gems box",
		"fishing pole":          "legacy fishing pole",
		"delta  seeds":          "delta 9 seeds",
		"d":                     "d100",
		"sunbear's d":           "sunbear's d20",
		"bean mp player":        "bean mp3 player",
	}
}
