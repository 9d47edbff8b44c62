package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/adherence"
	"github.com/mpineda/dosewatch/internal/api"
	"github.com/mpineda/dosewatch/internal/config"
	"github.com/mpineda/dosewatch/internal/dispatch"
	"github.com/mpineda/dosewatch/internal/metrics"
	"github.com/mpineda/dosewatch/internal/scheduler"
	"github.com/mpineda/dosewatch/internal/store"
)

var (
	configPath  = flag.String("config", "", "Path to config file")
	dataDir     = flag.String("data", "", "Path to data directory")
	showVersion = flag.Bool("version", false, "Print version and exit")
	version     = "dev"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("dosewatchd %s\n", version)
		return
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	m := metrics.Default()

	dispatcher := buildDispatcher(cfg, st, logger, m)
	caregivers := buildCaregivers(cfg, logger, m)

	sched := scheduler.New(st, dispatcher, caregivers, cfg.Reminders, logger, m)
	aggregator := adherence.New(st, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// Live-reload reminder tuning on config file edits.
	if *configPath != "" {
		if _, err := config.NewWatcher(*configPath, cfg.Reminders, logger, sched.UpdateSettings); err != nil {
			logger.Warn("Config watch disabled", zap.Error(err))
		}
	}

	server := api.New(cfg, st, sched, aggregator, logger, version)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("API server error", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if err := server.Shutdown(); err != nil {
		logger.Warn("Server shutdown error", zap.Error(err))
	}
}

// buildDispatcher assembles the notification pipeline: a log-backed sink
// behind an in-process timer dispatcher, wrapped in the Badger dedup
// journal so restarts inside a grace window never re-notify.
func buildDispatcher(cfg *config.Config, st *store.Store, logger *zap.Logger, m *metrics.Metrics) dispatch.Dispatcher {
	inner := dispatch.NewInProcess(&dispatch.LogSink{Logger: logger}, 30, logger, m)
	if st.Badger() == nil {
		return inner
	}
	return dispatch.NewJournaled(inner, st.Badger(), logger)
}

func buildCaregivers(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *dispatch.CaregiverNotifier {
	var channels []dispatch.Channel

	if cfg.Channels.Telegram.Enabled {
		ch, err := dispatch.NewTelegramChannel(cfg.Channels.Telegram, logger)
		if err != nil {
			logger.Error("Failed to start Telegram channel", zap.Error(err))
		} else {
			channels = append(channels, ch)
		}
	}

	if cfg.Channels.Discord.Enabled {
		ch, err := dispatch.NewDiscordChannel(cfg.Channels.Discord, logger)
		if err != nil {
			logger.Error("Failed to start Discord channel", zap.Error(err))
		} else {
			channels = append(channels, ch)
		}
	}

	if len(channels) == 0 {
		return nil
	}
	return dispatch.NewCaregiverNotifier(channels, logger, m)
}
