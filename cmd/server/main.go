package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"dankstats/internal/api"
	"dankstats/internal/config"
	"dankstats/internal/logger"
	"dankstats/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

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

	srv := api.NewServer(cfg, st, version)

	listen := cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}
	logger.Server(listen)
	if err := http.ListenAndServe(listen, srv.Handler()); err != nil {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}
