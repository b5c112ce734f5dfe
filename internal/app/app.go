package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"pumpguard/internal/alerting"
	"pumpguard/internal/api"
	"pumpguard/internal/auth"
	"pumpguard/internal/chain"
	"pumpguard/internal/config"
	"pumpguard/internal/ingest"
	"pumpguard/internal/metrics"
	"pumpguard/internal/scoring"
	"pumpguard/internal/service"
	"pumpguard/internal/storage"
	"pumpguard/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Collectors
	Registry *prometheus.Registry
	Out      io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		logger.Warn().Err(err).Msg("metrics registration failed")
	}
	return &App{
		Config:   cfg,
		Logger:   logger.With().Str("component", "app").Logger(),
		Metrics:  m,
		Registry: reg,
		Out:      os.Stdout,
	}
}

// stores bundles the persistence handles a command needs.
type stores struct {
	repo   storage.Repository
	locker storage.AdvisoryLocker
	nonces storage.NonceStore
	close  func()
}

// openStores connects to PostgreSQL when configured and falls back to an in-memory store.
// Redis replaces the nonce store when redis.addr is set.
func (a *App) openStores(ctx context.Context) (*stores, error) {
	s := &stores{close: func() {}}
	var closers []func()

	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, data is lost on exit")
		mem := storage.NewMemoryStore()
		s.repo, s.nonces = mem, mem
	} else {
		if a.Config.Database.AutoMigrate {
			if err := storage.Migrate(a.Config.Database.DSN); err != nil {
				return nil, err
			}
		}
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		pg := storage.NewStore(pool)
		s.repo, s.locker, s.nonces = pg, pg, pg
		closers = append(closers, pg.Close)
	}

	if a.Config.Redis.Addr != "" {
		rdb := storage.NewRedisNonceStore(a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB, a.Config.Auth.NonceTTL)
		if err := rdb.Ping(ctx); err != nil {
			for _, c := range closers {
				c()
			}
			return nil, err
		}
		s.nonces = rdb
		closers = append(closers, func() { _ = rdb.Close() })
		a.Logger.Info().Str("addr", a.Config.Redis.Addr).Msg("using redis for login nonces")
	}

	s.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return s, nil
}

func (a *App) newChainClient() *chain.Client {
	return chain.NewClient(chain.Options{
		RPCURL:    a.Config.Chain.RPCURL,
		Timeout:   a.Config.Chain.RequestTimeout,
		RateLimit: a.Config.Chain.RateLimit,
	}, a.Logger)
}

func (a *App) newPipeline(reader ingest.ChainReader, store storage.SwapStore) *ingest.Pipeline {
	return ingest.New(reader, store, ingest.Options{
		Workers:        a.Config.Ingest.Workers,
		BackfillWindow: a.Config.Chain.BackfillWindow,
		Decoder:        chain.Decoder{Strict: a.Config.Chain.StrictDecoding},
	}, a.Metrics, a.Logger)
}

// newDispatcher returns nil when alert delivery is disabled.
func (a *App) newDispatcher() (*alerting.Dispatcher, func()) {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil, func() {}
	}

	var notifiers []alerting.Notifier
	closer := func() {}
	if cfg.Telegram.Enabled && channelSelected(cfg.Channels, "telegram") {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger))
	}
	if cfg.Kafka.Enabled && channelSelected(cfg.Channels, "kafka") {
		k := alerting.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout, a.Logger)
		notifiers = append(notifiers, k)
		closer = func() {
			if err := k.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close kafka notifier")
			}
		}
	}
	if len(notifiers) == 0 {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return nil, closer
	}
	return alerting.NewDispatcher(cfg.RetryAttempts, a.Logger, notifiers...), closer
}

// channelSelected treats an empty channel list as "every configured channel".
func channelSelected(channels []string, name string) bool {
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if strings.EqualFold(strings.TrimSpace(c), name) {
			return true
		}
	}
	return false
}

func (a *App) newScorer(store storage.Repository, dispatcher *alerting.Dispatcher) *scoring.Scorer {
	opts := []scoring.Option{scoring.WithMetrics(a.Metrics)}
	if dispatcher != nil {
		opts = append(opts, scoring.WithPublisher(dispatcher))
	}
	if path := a.Config.Alerting.SnapshotPath; path != "" {
		opts = append(opts, scoring.WithSnapshot(alerting.NewSnapshot(store, path, a.Config.Alerting.SnapshotSize)))
	}
	return scoring.NewScorer(scoring.NewEngine(scoring.RulesFromConfig(a.Config.Scoring)), store, a.Logger, opts...)
}

func (a *App) newAPIServer(s *stores) (*api.Server, error) {
	tokens, err := auth.NewTokenIssuer(a.Config.Auth.JWTSecret, a.Config.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	authn := auth.NewAuthenticator(s.nonces, tokens, a.Config.Auth.NonceTTL, a.Metrics, a.Logger)
	return api.New(a.Config.API, api.Deps{
		Store:    s.repo,
		Auth:     authn,
		Pairs:    a.Config.Pairs,
		Gatherer: a.Registry,
	}, a.Logger), nil
}

// Run executes scheduled ingestion and scoring, plus the API when enabled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	client := a.newChainClient()
	defer client.Close()

	dispatcher, closeDispatcher := a.newDispatcher()
	defer closeDispatcher()

	var runners []service.Runner
	if a.Config.API.Enabled {
		srv, err := a.newAPIServer(s)
		if err != nil {
			return err
		}
		runners = append(runners, srv)
	}

	svc, err := service.New(a.Config, a.newPipeline(client, s.repo), a.newScorer(s.repo, dispatcher), s.locker, a.Logger, runners...)
	if err != nil {
		return err
	}

	a.Logger.Info().Str("version", version.Version).Str("commit", version.Commit).Msg("starting pumpguard")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("pumpguard stopped")
	return nil
}

// Serve runs only the HTTP API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	srv, err := a.newAPIServer(s)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	if err := storage.Migrate(a.Config.Database.DSN); err != nil {
		return err
	}
	fmt.Fprintln(a.Out, "migrations applied")
	return nil
}

// ExportOptions hold parameters for exporting swap history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Pair      string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	What  string
	Limit int
}

// BackfillOptions configure an explicit block-range ingestion.
type BackfillOptions struct {
	Pair string
	From uint64
	To   uint64
}

// ScoreOptions configure a one-off scoring pass.
type ScoreOptions struct {
	Pair   string
	Global bool
}

// SimulateOptions configure a synthetic alert.
type SimulateOptions struct {
	Pair string
	Type storage.AlertType
}
