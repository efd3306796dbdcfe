package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"VulnDigest/internal/config"
	"VulnDigest/internal/feed"
	"VulnDigest/internal/infrastructure/feeds"
	"VulnDigest/internal/infrastructure/llm"
	"VulnDigest/internal/infrastructure/scheduler"
	"VulnDigest/internal/infrastructure/telegram"
	"VulnDigest/internal/infrastructure/wordpress"
	"VulnDigest/internal/logging"
	"VulnDigest/internal/policy"
	"VulnDigest/internal/ports"
	"VulnDigest/internal/state"
	"VulnDigest/internal/usecase"
)

// Application wires configuration to the pipeline and its lifecycle.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *usecase.Pipeline
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	registry := feed.NewRegistry()
	if cfg.Feeds.SecGemini.Enabled {
		registry.Register(feeds.NewSecGeminiFeed(cfg.Feeds.SecGemini.URL, nil))
	}
	if cfg.Feeds.NVD.Enabled {
		registry.Register(feeds.NewNVDFeed(cfg.Feeds.NVD.BaseURL, cfg.Feeds.NVD.APIKey, cfg.Feeds.NVD.MaxResults, nil))
	}
	if cfg.Feeds.JVN.Enabled {
		registry.Register(feeds.NewJVNFeed(cfg.Feeds.JVN.BaseURL, nil))
	}
	if cfg.Feeds.JPCERT.Enabled {
		registry.Register(feeds.NewJPCERTFeed(cfg.Feeds.JPCERT.URL, nil))
	}
	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no feeds enabled")
	}

	source := feeds.NewRegistrySource(registry, cfg.Feeds.Priority, baseLogger.With("component", "source"))
	catalog := feeds.NewKEVCatalog(cfg.Feeds.KEV.URLs, nil)

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	var enricher ports.Enricher
	if cfg.OpenAI.APIKey != "" {
		enricher = llm.NewOpenAIEnricher(cfg.OpenAI)
	}

	publisher := wordpress.NewClient(cfg.WordPress.BaseURL, cfg.WordPress.User, cfg.WordPress.AppPassword)

	var notifier ports.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:       source,
		Catalog:      catalog,
		Store:        store,
		Policy:       policy.NewEvaluator(cfg.Digest.CVSSThreshold),
		Enricher:     enricher,
		Publisher:    publisher,
		Notifier:     notifier,
		Logger:       baseLogger.With("component", "pipeline"),
		LookbackDays: cfg.Digest.LookbackDays,
		HeroImageURL: cfg.Digest.HeroImageURL,
		ReportPath:   cfg.Digest.ReportPath,
		Location:     cfg.Digest.Location(),
	})

	return &Application{cfg: cfg, logger: baseLogger, pipeline: pipeline}, nil
}

func buildStore(cfg config.Config) (ports.StateStore, error) {
	switch cfg.State.Backend {
	case "", "file":
		return state.NewFileStore(cfg.State.Path, cfg.Digest.PostsPerDay), nil
	case "postgres":
		db, err := state.Open(cfg.State.DSN)
		if err != nil {
			return nil, err
		}
		return state.NewPostgresStore(db, cfg.Digest.PostsPerDay), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// Run executes one digest pass, or keeps running on the configured cron
// schedule in daemon mode.
func (a *Application) Run(ctx context.Context) error {
	if !a.cfg.Scheduler.Daemon {
		_, err := a.pipeline.Run(ctx, time.Now())
		return err
	}

	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Digest.Location())
	sched := usecase.NewScheduler(driver, a.pipeline)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sched.Stop(stopCtx)
}
