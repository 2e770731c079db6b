// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the visionbridge server. The
// server exposes image analysis tools backed by multimodal inference
// models behind a single HTTP API with capability-aware model selection
// and fallback.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/visionbridge/internal/api"
	"github.com/traylinx/visionbridge/internal/bridge"
	"github.com/traylinx/visionbridge/internal/buildinfo"
	"github.com/traylinx/visionbridge/internal/config"
	"github.com/traylinx/visionbridge/internal/imaging"
	"github.com/traylinx/visionbridge/internal/logging"
	"github.com/traylinx/visionbridge/internal/registry"
	"github.com/traylinx/visionbridge/internal/router"
	"github.com/traylinx/visionbridge/internal/transform"
	"github.com/traylinx/visionbridge/internal/upstream"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		log.Infof("visionbridge %s (commit %s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsDir); err != nil {
		log.Fatalf("configuring log output: %v", err)
	}

	reg := registry.NewDefaultRegistry()
	if len(cfg.Models) > 0 {
		reg.Merge(cfg.Models)
	}

	breakers := upstream.NewBreakerGroup(cfg.BreakerPolicy())
	client := upstream.NewClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.APIKey,
		cfg.RetryPolicy(),
		breakers,
		upstream.WithCallTimeout(cfg.CallTimeout()),
	)

	orch := bridge.New(
		imaging.NewNormalizer(&http.Client{}),
		router.NewSelectorWithPriority(reg, cfg.ModelPriority()),
		client,
		transform.NewNormalizer(cfg.MaxResponseChars),
		cfg.ImagingPolicy(),
		bridge.LogSink{},
	)

	server := api.NewServer(orch, reg, breakers, cfg.RequestTimeout(), cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = server.Run(ctx, cfg.Host, cfg.Port); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
	log.Info("visionbridge shut down cleanly")
}
