// Command sync pulls value updates and trade offers from the configured
// channels into the store. It runs once by default, or on a cron schedule
// with -schedule. The migrate and purge subcommands maintain the shard
// split.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dankstats/internal/config"
	"dankstats/internal/discord"
	"dankstats/internal/ingest"
	"dankstats/internal/logger"
	"dankstats/internal/parser"
	"dankstats/internal/store"
)

var version = "dev"

const usage = `usage: sync [flags] [command]

commands:
  values    sync value updates only
  trades    sync trade offers only
  all       sync both (default)
  migrate   move trades older than the shard cutoff into the archive
  purge     delete live trades newer than -after (roll back a bad run)

flags:
  -config path      config file (default config.yaml)
  -schedule expr    cron expression; keep running and sync on schedule
  -after time       RFC 3339 cutoff for the purge command
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	schedule := flag.String("schedule", "", "cron expression for repeated runs")
	after := flag.String("after", "", "RFC 3339 cutoff for purge")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "all"
	}

	logger.Banner(version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Config", fmt.Sprintf("Failed to load: %v", err))
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database.LivePath, cfg.Database.ArchivePath)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open store: %v", err))
		os.Exit(1)
	}
	defer st.Close()

	switch command {
	case "migrate":
		runMigrate(cfg, st)
		return
	case "purge":
		runPurge(st, *after)
		return
	case "values", "trades", "all":
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Config", err.Error())
		os.Exit(1)
	}

	client := discord.NewClient(cfg.Discord.BaseURL, cfg.Discord.Token)
	syncer := ingest.New(client, st, parser.New(cfg.NameCorrections), ingest.Options{
		BotID:     cfg.Discord.BotID,
		PageSize:  cfg.Sync.PageSize,
		BatchSize: cfg.Sync.BatchSize,
		Throttle:  cfg.Sync.Throttle.Std(),
		Retry: ingest.RetryPolicy{
			MaxAttempts: cfg.Sync.MaxAttempts,
			Delay:       cfg.Sync.RetryDelay.Std(),
		},
	})

	if *schedule == "" {
		if !runSync(cfg, syncer, command) {
			os.Exit(1)
		}
		return
	}

	// Scheduled mode. Runs are serialized so a slow sync never overlaps
	// the next tick.
	var mu sync.Mutex
	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		mu.Lock()
		defer mu.Unlock()
		runSync(cfg, syncer, command)
	})
	if err != nil {
		logger.Error("Cron", fmt.Sprintf("Bad schedule %q: %v", *schedule, err))
		os.Exit(1)
	}
	logger.Info("Cron", fmt.Sprintf("Running %q on schedule %q", command, *schedule))
	c.Run()
}

func runSync(cfg *config.Config, syncer *ingest.Syncer, command string) bool {
	ctx := context.Background()
	ok := true

	if command == "values" || command == "all" {
		if cfg.Discord.ValueChannelID == "" {
			logger.Warn("Values", "No value channel configured, skipping")
		} else {
			logger.Section("Value sync")
			stats, err := syncer.SyncValues(ctx, cfg.Discord.ValueChannelID)
			ok = reportRun("Values", stats, err) && ok
		}
	}
	if command == "trades" || command == "all" {
		if cfg.Discord.TradeChannelID == "" {
			logger.Warn("Trades", "No trade channel configured, skipping")
		} else {
			logger.Section("Trade sync")
			stats, err := syncer.SyncTrades(ctx, cfg.Discord.TradeChannelID)
			ok = reportRun("Trades", stats, err) && ok
		}
	}
	return ok
}

func reportRun(tag string, stats ingest.Stats, err error) bool {
	logger.Stats("Pages fetched", stats.Pages)
	logger.Stats("Messages processed", stats.Processed)
	logger.Stats("Records inserted", stats.Inserted)
	if err != nil {
		logger.Error(tag, fmt.Sprintf("Sync aborted: %v", err))
		return false
	}
	logger.Success(tag, fmt.Sprintf("Done (%s)", stats.Stop))
	return true
}

func runMigrate(cfg *config.Config, st *store.Store) {
	cutoff := cfg.Database.ShardCutoff.UnixMilli()
	moved, err := st.MigrateBefore(cutoff, 1000)
	if err != nil {
		logger.Error("Migrate", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
	deleted, err := st.DeleteBefore(cutoff)
	if err != nil {
		logger.Error("Migrate", fmt.Sprintf("Archive copy done but live cleanup failed: %v", err))
		os.Exit(1)
	}
	logger.Success("Migrate", fmt.Sprintf("Moved %d trades before %s to archive (%d removed from live)",
		moved, cfg.Database.ShardCutoff.Format(time.DateOnly), deleted))
}

func runPurge(st *store.Store, after string) {
	if after == "" {
		logger.Error("Purge", "The -after flag is required")
		os.Exit(2)
	}
	cutoff, err := time.Parse(time.RFC3339, after)
	if err != nil {
		logger.Error("Purge", fmt.Sprintf("Bad -after value %q: %v", after, err))
		os.Exit(2)
	}
	deleted, err := st.DeleteAfter(cutoff.UnixMilli())
	if err != nil {
		logger.Error("Purge", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
	logger.Success("Purge", fmt.Sprintf("Deleted %d live trades newer than %s",
		deleted, cutoff.Format(time.RFC3339)))
}
