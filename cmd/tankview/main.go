package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"tankview/internal/config"
	"tankview/internal/console"
)

func main() {
	flags := pflag.NewFlagSet("tankview", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", os.Getenv("TANKVIEW_CONFIG"), "path to YAML config file")
	deviceURL := flags.String("device", "", "device base URL, e.g. http://192.168.4.1")
	viewerAddr := flags.String("viewer-addr", "", "listen address of the live viewer")
	probeAddr := flags.String("probe-addr", "", "listen address of the TCP probe endpoint")
	pageFile := flags.String("page", "", "HTML page to render into instead of the built-in one")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	logJSON := flags.Bool("log-json", false, "emit JSON logs")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *deviceURL != "" {
		cfg.DeviceURL = *deviceURL
	}
	if *viewerAddr != "" {
		cfg.ViewerListenAddr = *viewerAddr
	}
	if *probeAddr != "" {
		cfg.ProbeListenAddr = *probeAddr
	}
	if *pageFile != "" {
		cfg.PageFile = *pageFile
	}
	if *logLevel != "" {
		cfg.LogLevel = strings.ToLower(*logLevel)
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = *logJSON
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := console.BuildLogger(cfg)
	c, err := console.New(cfg, logger)
	if err != nil {
		logger.Error("console initialization failed", "error", err)
		os.Exit(1)
	}

	if err := c.Run(context.Background()); err != nil {
		logger.Error("console runtime failed", "error", err)
		os.Exit(1)
	}
}
