package cli

import (
	"fmt"

	"github.com/firmsync/firmsync/internal/auth"
	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/metrics"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/internal/notify"
	"github.com/firmsync/firmsync/internal/provider"
	"github.com/firmsync/firmsync/internal/store"
	syncengine "github.com/firmsync/firmsync/internal/sync"
)

// stack holds the assembled service components shared by the commands.
type stack struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	client   *provider.Client
	tokens   *auth.Manager
	engine   *syncengine.Engine
	metrics  *metrics.Metrics
	notifier *notify.Telegram
	logger   *logging.Logger
}

// buildStack loads configuration and wires every component. dbPath
// overrides the configured database path when non-empty.
func buildStack(configPath, dbPath string) (*stack, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)))

	path := cfg.Sync.DBPath
	if dbPath != "" {
		path = dbPath
	}
	sqliteStore, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := provider.NewClient(cfg.Provider)
	m := metrics.NewMetrics("firmsync")
	tokens := auth.NewManager(models.Provider(cfg.Provider.Name), client, sqliteStore, logger, auth.WithObserver(m))

	notifier, err := notify.NewTelegram(cfg.Telegram, logger)
	if err != nil {
		// Notifications are optional; a broken bot token must not keep
		// the sync service down.
		logger.Warn("telegram notifier disabled", "error", err.Error())
		notifier = nil
	}

	opts := []syncengine.EngineOption{
		syncengine.WithObserver(m),
		syncengine.WithRateLimitObserver(m),
	}
	if notifier != nil {
		opts = append(opts, syncengine.WithNotifier(notifier))
	}
	engine := syncengine.NewEngine(models.Provider(cfg.Provider.Name), tokens, client, sqliteStore, cfg.Sync, logger, opts...)

	return &stack{
		cfg:      cfg,
		store:    sqliteStore,
		client:   client,
		tokens:   tokens,
		engine:   engine,
		metrics:  m,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Close releases the stack's resources.
func (s *stack) Close() error {
	return s.store.Close()
}
