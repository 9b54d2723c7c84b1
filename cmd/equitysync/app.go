package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/attributes"
	"EquitySync/internal/collector"
	"EquitySync/internal/config"
	"EquitySync/internal/coordinator"
	"EquitySync/internal/derived"
	"EquitySync/internal/freshness"
	"EquitySync/internal/logging"
	"EquitySync/internal/metrics"
	"EquitySync/internal/model"
	"EquitySync/internal/notifier"
	"EquitySync/internal/prices"
	"EquitySync/internal/recorder"
	"EquitySync/internal/registry"
	"EquitySync/internal/storage"
)

// app is the wired engine shared by all commands.
type app struct {
	cfg      *config.Config
	fetcher  collector.Fetcher
	store    *storage.FileStore
	registry *registry.FileRegistry
	recorder recorder.Recorder
	telegram *notifier.TelegramNotifier
	attrs    *attributes.Refresher
	coord    *coordinator.Coordinator
}

func newApp(cfgPath, logLevel string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return nil, err
	}

	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	var base collector.Fetcher
	switch cfg.Provider.Name {
	case "mock":
		base = collector.NewMockFetcher()
	default:
		base = collector.NewYahooFetcher(cfg.Provider.BaseURL, cfg.Provider.Proxy, cfg.Sync.FetchTimeout)
	}
	fetcher := collector.NewGuardedFetcher(base, collector.GuardConfig{
		RatePerSecond:   cfg.Provider.RatePerSecond,
		Burst:           cfg.Provider.Burst,
		BreakerFailures: cfg.Provider.BreakerFailures,
		BreakerTimeout:  cfg.Provider.BreakerTimeout,
		OnStateChange:   metrics.BreakerStateChanged,
	})
	log.Info().Str("provider", base.Name()).Str("data_dir", cfg.DataDir).Msg("engine configured")

	a := &app{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		registry: registry.NewFileRegistry(cfg.RegistryPath()),
	}

	a.recorder = recorder.NewNoopRecorder()
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		} else {
			a.recorder = sr
		}
	}

	var note notifier.Notifier = notifier.Noop{}
	if cfg.Telegram.BotToken != "" {
		a.telegram = notifier.NewTelegramNotifier("", cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Provider.Proxy)
		note = a.telegram
	}

	etfs := make([]model.Entity, 0, len(cfg.Attributes.ETFs))
	for _, s := range cfg.Attributes.ETFs {
		etfs = append(etfs, model.NormalizeEntity(s))
	}
	a.attrs = attributes.NewRefresher(fetcher, store, attributes.Options{
		TTL:          cfg.Attributes.TTL,
		ETFs:         etfs,
		Workers:      cfg.Sync.Workers,
		FetchTimeout: cfg.Sync.FetchTimeout,
	}, nil)

	a.coord = coordinator.New(coordinator.Deps{
		Registry:   a.registry,
		IndexStore: freshness.NewFileStore(cfg.IndexPath()),
		Store:      store,
		Prices: prices.NewSynchronizer(fetcher, store, prices.Options{
			RetentionYears: cfg.Sync.RetentionYears,
			MaxFillRun:     cfg.FillRun(),
			Workers:        cfg.Sync.Workers,
			FetchTimeout:   cfg.Sync.FetchTimeout,
		}, nil),
		Attributes: a.attrs,
		Derived:    derived.NewRefresher(fetcher, store, cfg.Sync.Workers, cfg.Sync.FetchTimeout),
		Recorder:   a.recorder,
		Notifier:   note,
	})
	return a, nil
}

func (a *app) Close() {
	if err := a.recorder.Close(); err != nil {
		log.Warn().Err(err).Msg("close recorder")
	}
}

// statusText renders the freshness index for terminals and chat.
func (a *app) statusText() string {
	entries, err := a.coord.Status()
	if err != nil {
		return fmt.Sprintf("status unavailable: %v", err)
	}
	if len(entries) == 0 {
		return "no entities synchronized yet"
	}
	today := model.Day(time.Now())
	var b strings.Builder
	for _, e := range entries {
		lag := int(today.Sub(e.Date).Hours() / 24)
		b.WriteString(fmt.Sprintf("%-10s %s  (%dd)\n", e.Entity, e.Date.Format("2006-01-02"), lag))
	}
	return b.String()
}
