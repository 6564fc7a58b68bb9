package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"smartroute/config"
	"smartroute/core"
	"smartroute/pkg/types"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to the file of ENVIRONMENT)")
	flag.Parse()

	// init context for graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load config
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfigFile(*configPath)
	} else {
		cfg, err = config.LoadConfig(config.Env.EnvName)
	}
	if err != nil {
		log.Fatalf("fail to load config: %v", err)
	}
	configureLog(config.Env.EnvName, cfg.Logging)

	// trap signal for graceful shutdown
	setupSignalHandler(cancel)

	// 📊 core: routing universe
	universe, err := core.Bootstrap(rootCtx, *cfg)
	if err != nil {
		log.Panicf("fail to bootstrap app: %v", err)
	}

	// 🌩️ fiber rest API + session websocket
	if err := core.Run(rootCtx, universe, *cfg.Server); err != nil {
		log.Errorf("Runtime error: %v", err)
		os.Exit(1)
	}
}

func configureLog(envName types.EnvName, cfg *config.LoggingConfig) {
	log.SetLevel(log.InfoLevel)
	if envName == types.EnvLocal || envName == types.EnvDev {
		log.SetLevel(log.DebugLevel)
	}
	if cfg == nil {
		cfg = &config.LoggingConfig{}
	}
	if cfg.Level != "" {
		level, err := log.ParseLevel(cfg.Level)
		if err != nil {
			log.Warnf("unknown log level '%s', keeping %s", cfg.Level, log.GetLevel())
		} else {
			log.SetLevel(level)
		}
	}

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if cfg.Output != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename: cfg.Output,
			MaxSize:  100,
			MaxAge:   cfg.MaxAgeDays,
			Compress: true,
		})
	}
	log.SetOutput(out)
}

func setupSignalHandler(cancel context.CancelFunc) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		log.Info("🚩 received shutdown signal")
		cancel()
	}()
}
