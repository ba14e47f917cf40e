package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"medalbot/internal/app"
	"medalbot/internal/config"
	"medalbot/pkg/logx"
	"medalbot/pkg/sdnotify"
)

func main() {
	var (
		cfgPath string
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.BoolVar(&once, "once", false, "run a single cycle even if a recurrence schedule is configured")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Bootstrap logger until the configured one takes over.
	boot := logx.NewConsole("info")

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		boot.Error("config load failed", logx.String("path", cfgPath), logx.Err(err))
		os.Exit(1)
	}

	lcfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if !lcfg.Console && !lcfg.File.Enabled {
		lcfg.Console = true
	}
	log, closer, err := logx.New(lcfg)
	if err != nil {
		boot.Error("logger init failed", logx.Err(err))
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	mgr.SetLogger(log)

	sdnotify.Ready()
	go sdnotify.WatchdogLoop(ctx)
	defer sdnotify.Stopping()

	if err := app.New(mgr, log, once).Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("run failed", logx.Err(err))
		os.Exit(1)
	}
}
