package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/negotiation-scheduler/internal/broadcast"
	"github.com/example/negotiation-scheduler/internal/config"
	"github.com/example/negotiation-scheduler/internal/events"
	"github.com/example/negotiation-scheduler/internal/logging"
	"github.com/example/negotiation-scheduler/internal/narration"
	"github.com/example/negotiation-scheduler/internal/negotiation"
	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/persistence/memory"
	"github.com/example/negotiation-scheduler/internal/persistence/postgres"
	"github.com/example/negotiation-scheduler/internal/persistence/sqlite"
	"github.com/example/negotiation-scheduler/internal/scheduler"
)

const postgresMaxConns = 8

// runtime holds the collaborators shared by every command.
type runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	policy      scheduler.Policy
	store       persistence.Store
	broker      *broadcast.Broadcaster
	recorder    *broadcast.Recorder
	coordinator *negotiation.Coordinator
}

// loadConfig reads the environment and applies explicitly set global flags on top.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("storage") {
		cfg.Storage = strings.ToLower(strings.TrimSpace(opts.storage))
	}
	if flags.Changed("sqlite-dsn") {
		cfg.SQLiteDSN = opts.sqliteDSN
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL = opts.databaseURL
	}
	if flags.Changed("policy") {
		cfg.PolicyFile = opts.policyFile
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(opts.logFormat))
	}
	if flags.Changed("log-level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(opts.logLevel)); err != nil {
			return config.Config{}, fmt.Errorf("--log-level の値が不正です: %s", opts.logLevel)
		}
	}

	switch cfg.Storage {
	case config.StorageSQLite, config.StorageMemory:
	case config.StoragePostgres:
		if cfg.DatabaseURL == "" {
			return config.Config{}, errors.New("必須の環境変数が設定されていません: SCHEDULER_DATABASE_URL")
		}
	default:
		return config.Config{}, fmt.Errorf("--storage の値が不正です: %s", cfg.Storage)
	}
	switch cfg.LogFormat {
	case config.LogFormatAuto, config.LogFormatJSON, config.LogFormatText:
	default:
		return config.Config{}, fmt.Errorf("--log-format の値が不正です: %s", cfg.LogFormat)
	}
	return cfg, nil
}

// openStore connects to the configured backend and applies its migrations.
func openStore(ctx context.Context, cfg config.Config) (persistence.Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.Open(), nil
	case config.StoragePostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL, postgresMaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLiteDSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, nil
	}
}

// newExplainer selects the slot narrator.
func newExplainer(cfg config.Config) negotiation.Explainer {
	apply := func(key string) func(o *narration.Options) {
		return func(o *narration.Options) {
			o.APIKey = key
			o.Timeout = cfg.NarratorTimeout
			if cfg.NarratorModel != "" {
				o.Model = cfg.NarratorModel
			}
		}
	}
	switch cfg.Narrator {
	case config.NarratorAnthropic:
		return narration.NewAnthropic(apply(cfg.AnthropicAPIKey))
	case config.NarratorOpenAI:
		return narration.NewOpenAI(apply(cfg.OpenAIAPIKey))
	default:
		return negotiation.TemplateExplainer{}
	}
}

// newRuntime wires the store, event pipeline and coordinator. Close releases them.
func newRuntime(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*runtime, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	broker := broadcast.New(
		broadcast.WithBufferSize(cfg.EventBuffer),
		broadcast.WithLogger(logger),
		broadcast.WithSequenceSource(store),
	)
	recorder := broadcast.NewRecorder(broker, events.TopicNegotiation, store, logger)
	go recorder.Run(context.WithoutCancel(ctx))

	coordinator := negotiation.NewCoordinator(store, negotiation.SinkHooks(broker), negotiation.Config{
		Policy:           policy,
		Explainer:        newExplainer(cfg),
		LockTimeout:      cfg.LockTimeout,
		SessionTTL:       cfg.SessionTTL,
		Logger:           logger,
		OnSessionEvicted: broker.Forget,
	})

	logger.Debug("runtime ready",
		"storage", cfg.Storage,
		"narrator", cfg.Narrator,
		"timezone", policy.Location.String(),
	)

	return &runtime{
		cfg:         cfg,
		logger:      logger,
		policy:      policy,
		store:       store,
		broker:      broker,
		recorder:    recorder,
		coordinator: coordinator,
	}, nil
}

// Close stops the event pipeline, waits for pending events to be recorded
// and closes the store.
func (r *runtime) Close() error {
	r.broker.Close()
	<-r.recorder.Done()
	if dropped := r.recorder.Dropped(); dropped > 0 {
		r.logger.Warn("events dropped before recording", "count", dropped)
	}
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
