package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"polibrief/internal/analysis"
	"polibrief/internal/capture"
	"polibrief/internal/classify"
	"polibrief/internal/clustering"
	"polibrief/internal/config"
	"polibrief/internal/delivery"
	"polibrief/internal/digest"
	"polibrief/internal/fallback"
	"polibrief/internal/llm"
	"polibrief/internal/logger"
	"polibrief/internal/persistence"
	"polibrief/internal/pipeline"
	"polibrief/internal/ranking"
	"polibrief/internal/scheduler"
	"polibrief/internal/server"
)

// app holds the loaded configuration and the open store shared by commands.
type app struct {
	cfg   *config.Config
	store *persistence.SQLStore
	log   zerolog.Logger
}

// openApp opens the configured store and brings its schema up to date.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log := *logger.Get()

	store, err := persistence.Open(ctx, storeOptions(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &app{cfg: cfg, store: store, log: log}, nil
}

func (a *app) Close() error { return a.store.Close() }

func storeOptions(cfg *config.Config) persistence.Options {
	return persistence.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}
}

// providerConfigs returns one provider config per distinct name in fallback
// order. Providers without an API key are left out.
func providerConfigs(cfg *config.Config) []llm.Config {
	names := append([]string{cfg.Providers.Primary}, cfg.Providers.FallbackOrder...)
	seen := make(map[string]bool, len(names))

	var out []llm.Config
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		acct, ok := cfg.Providers.Account(name)
		if !ok || acct.APIKey == "" {
			continue
		}
		out = append(out, llm.Config{
			Name:              name,
			APIKey:            acct.APIKey,
			Model:             acct.Model,
			BaseURL:           acct.BaseURL,
			Timeout:           cfg.Providers.TimeoutDuration(),
			MaxTokens:         acct.MaxTokens,
			Temperature:       acct.Temperature,
			RequestsPerSecond: cfg.Providers.RequestsPerSecond,
		})
	}
	return out
}

func fallbackConfig(cfg *config.Config) fallback.Config {
	return fallback.Config{
		Primary:               cfg.Providers.Primary,
		FallbackOrder:         cfg.Providers.FallbackOrder,
		MaxRetriesPerProvider: cfg.Providers.MaxRetriesPerProvider,
		BaseBackoff:           cfg.Providers.BaseBackoff(),
	}
}

func embeddingConfig(cfg *config.Config) llm.EmbeddingConfig {
	acct, _ := cfg.Providers.Account(cfg.Embedding.Provider)
	return llm.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     acct.APIKey,
		BaseURL:    acct.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheTTL:   cfg.Embedding.CacheTTLDuration(),
	}
}

func classifierConfig(cfg *config.Config) classify.Config {
	return classify.Config{
		Threshold:       cfg.Classifier.ConfidenceThreshold,
		FlaggedCategory: cfg.Classifier.FlaggedCategory,
		Categories:      cfg.Classifier.Categories,
		MaxInputChars:   cfg.Classifier.MaxInputChars,
	}
}

func analysisConfig(cfg *config.Config) analysis.Config {
	c := analysis.DefaultConfig()
	c.FlaggedCategory = cfg.Classifier.FlaggedCategory
	if cfg.Analysis.MaxInputChars > 0 {
		c.MaxInputChars = cfg.Analysis.MaxInputChars
	}
	return c
}

func clusteringConfig(cfg *config.Config) clustering.Config {
	c := clustering.DefaultConfig()
	c.Epsilon = cfg.Clustering.Epsilon
	c.MinPoints = cfg.Clustering.MinPoints
	c.TargetMin = cfg.Clustering.TargetMin
	c.TargetMax = cfg.Clustering.TargetMax
	c.EpsilonStep = cfg.Clustering.EpsilonStep
	c.MaxAdjustments = cfg.Clustering.MaxAdjustments
	return c
}

func rankingConfig(cfg *config.Config) ranking.Config {
	return ranking.Config{
		HalfLife:         cfg.Ranking.HalfLife(),
		Aggregation:      ranking.Aggregation(cfg.Ranking.Aggregation),
		MinQualityWeight: cfg.Ranking.MinQualityWeight,
		LengthTarget:     cfg.Ranking.LengthTarget,
	}
}

func digestConfig(cfg *config.Config) digest.Config {
	return digest.Config{
		Title:              cfg.Digest.Title,
		MaxClusters:        cfg.Digest.MaxClusters,
		DiversityThreshold: cfg.Digest.DiversityThreshold,
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		FlaggedCategory: cfg.Classifier.FlaggedCategory,
		Window:          cfg.Digest.WindowDuration(),
		ScheduleTime:    cfg.Digest.ScheduleTime,
		Location:        cfg.App.Location(),
		DeliveryTimeout: cfg.Delivery.TimeoutDuration(),
		GenerateTimeout: cfg.Digest.GenerateTimeoutDuration(),
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Concurrency: cfg.Workers.Concurrency,
		BatchSize:   cfg.Workers.BatchSize,
	}
}

func captureConfig(cfg *config.Config) capture.Config {
	c := capture.DefaultConfig()
	c.DedupTTL = cfg.Capture.DedupTTLDuration()
	c.FetchTimeout = cfg.Capture.FetchTimeoutDuration()
	c.RespectRobots = cfg.Capture.RespectRobots
	if cfg.Capture.MaxBodyChars > 0 {
		c.MaxBodyChars = cfg.Capture.MaxBodyChars
	}
	return c
}

func feedConfig(cfg *config.Config) capture.FeedConfig {
	f := capture.DefaultFeedConfig()
	f.Lookback = cfg.Capture.Feeds.LookbackDuration()
	if cfg.Capture.Feeds.MaxItems > 0 {
		f.MaxItemsPerFeed = cfg.Capture.Feeds.MaxItems
	}
	if cfg.Capture.Feeds.Concurrency > 0 {
		f.Concurrency = cfg.Capture.Feeds.Concurrency
	}
	f.Timeout = cfg.Capture.FetchTimeoutDuration()
	return f
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		AdminAPIKey:  cfg.Server.AdminAPIKey,
		CORS: server.CORSConfig{
			Enabled:        cfg.Server.CORS.Enabled,
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		},
	}
}

func deliveryConfig(cfg *config.Config) delivery.Config {
	d := cfg.Delivery
	return delivery.Config{
		Title:   cfg.Digest.Title,
		Timeout: d.TimeoutDuration(),
		Email: delivery.EmailConfig{
			Host:          d.Email.SMTP.Host,
			Port:          d.Email.SMTP.Port,
			Username:      d.Email.SMTP.Username,
			Password:      d.Email.SMTP.Password,
			From:          d.Email.From,
			To:            d.Email.To,
			SubjectPrefix: d.Email.SubjectPrefix,
		},
		SlackWebhookURL:   d.Slack.WebhookURL,
		DiscordWebhookURL: d.Discord.WebhookURL,
		Telegram: delivery.TelegramConfig{
			BotToken: d.Telegram.BotToken,
			ChatID:   d.Telegram.ChatID,
			BaseURL:  d.Telegram.BaseURL,
		},
	}
}

// fallbackManager builds every provider that has credentials behind one
// fallback manager.
func (a *app) fallbackManager(ctx context.Context) (*fallback.Manager, error) {
	configs := providerConfigs(a.cfg)
	if len(configs) == 0 {
		return nil, fmt.Errorf("no AI provider has an API key; set GEMINI_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}

	providers := make([]llm.Provider, 0, len(configs))
	for _, pc := range configs {
		p, err := llm.NewProvider(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("create %s provider: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	return fallback.New(fallbackConfig(a.cfg), providers, fallback.WithLogger(a.log.With().Str("component", "fallback").Logger()))
}

func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	m, err := a.fallbackManager(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewBuilder().
		WithStore(a.store).
		WithClassifier(classify.New(classifierConfig(a.cfg), m, a.store, a.log)).
		WithAnalyzer(analysis.New(analysisConfig(a.cfg), m, a.store, a.log)).
		WithConfig(pipelineConfig(a.cfg)).
		WithLogger(a.log).
		Build()
}

// deliverer returns nil when no channel is configured so that digests are
// stored as skipped.
func (a *app) deliverer() (scheduler.Deliverer, error) {
	multi, err := delivery.FromConfig(deliveryConfig(a.cfg), a.log)
	if err != nil {
		return nil, err
	}
	if multi.Len() == 0 {
		return nil, nil
	}
	return multi, nil
}

func (a *app) scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	embedder, err := llm.NewEmbedder(ctx, embeddingConfig(a.cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	deliverer, err := a.deliverer()
	if err != nil {
		return nil, fmt.Errorf("configure delivery: %w", err)
	}

	return scheduler.New(schedulerConfig(a.cfg), scheduler.Deps{
		Store:     a.store,
		Embedder:  embedder,
		Clusterer: clustering.New(clusteringConfig(a.cfg), a.log),
		Ranking:   rankingConfig(a.cfg),
		Assembler: digest.New(digestConfig(a.cfg)),
		Deliverer: deliverer,
	}, a.log)
}

func (a *app) capturer() *capture.Capturer {
	return capture.New(captureConfig(a.cfg), a.store, a.log)
}

func (a *app) feedImporter(c *capture.Capturer) *capture.FeedImporter {
	return capture.NewFeedImporter(feedConfig(a.cfg), c, a.log)
}
