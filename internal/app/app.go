package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/alerting"
	"arbwatch/internal/config"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/market"
	"arbwatch/internal/monitor"
	"arbwatch/internal/ratelimit"
	"arbwatch/internal/scheduler"
	"arbwatch/internal/storage"
	"arbwatch/internal/window"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (kalshi, polymarket fetcher.QuoteFetcher) {
	kalshi = fetcher.NewKalshi(fetcher.KalshiOptions{
		BaseURL: a.Config.Venues.Kalshi.BaseURL,
		Timeout: a.Config.Venues.Kalshi.RequestTimeout,
		APIKey:  a.Config.Venues.Kalshi.APIKey,
	}, a.Logger)

	polymarket = fetcher.NewPolymarket(fetcher.PolymarketOptions{
		BaseURL:   a.Config.Venues.Polymarket.BaseURL,
		Timeout:   a.Config.Venues.Polymarket.RequestTimeout,
		UserAgent: a.Config.Venues.Polymarket.UserAgent,
	}, a.Logger)

	return kalshi, polymarket
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var history monitor.HistorySink
	if store != nil {
		history = store

		// One monitor per database. The lock is held for the whole run so a
		// second instance cannot interleave window history.
		unlock, acquired, lockErr := store.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
		if lockErr != nil {
			return lockErr
		}
		if !acquired {
			return errors.New("another monitor instance holds the advisory lock")
		}
		defer unlock()
	}

	kalshi, polymarket := a.newFetchers()
	notifier := a.newNotifier()

	validator := market.NewValidator(market.ValidatorOptions{
		MinPrice: decimal.NewFromFloat(a.Config.Validation.MinPrice),
		MaxPrice: decimal.NewFromFloat(a.Config.Validation.MaxPrice),
		MaxAge:   a.Config.Validation.MaxAge,
	})

	evaluator := market.NewEvaluator(market.EvaluatorOptions{
		Fee:      market.KalshiFee,
		GasFee:   decimal.NewFromFloat(a.Config.Costs.GasFeePerTrade),
		FeeBasis: market.FeeBasis(a.Config.Costs.FeeBasis),
	})

	checkpoint := window.NewFileStore(
		a.Config.Checkpoint.Path,
		a.Config.Checkpoint.RecoveryTimeout,
		a.Logger,
	)

	mon := monitor.New(
		monitor.Options{
			Pairs:              a.Config.Pairs,
			BaseInterval:       a.Config.Monitor.Interval,
			CheckpointInterval: a.Config.Checkpoint.Interval,
		},
		kalshi, polymarket,
		validator,
		evaluator,
		checkpoint,
		ratelimit.Options{
			BaseInterval:    a.Config.Monitor.Interval,
			MaxInterval:     a.Config.RateLimit.MaxInterval,
			FailureWindow:   a.Config.RateLimit.FailureWindow,
			AlertThreshold:  a.Config.RateLimit.AlertThreshold,
			AlertCooldown:   a.Config.RateLimit.AlertCooldown,
			ExtendThreshold: a.Config.RateLimit.ExtendThreshold,
			ExtendCooldown:  a.Config.RateLimit.ExtendCooldown,
			RelaxAfter:      a.Config.RateLimit.RelaxAfter,
			RelaxEvery:      a.Config.RateLimit.RelaxEvery,
		},
		notifier,
		history,
		a.Logger,
	)

	if err := mon.Recover(ctx); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		BaseInterval: a.Config.Monitor.Interval,
		MaxRuntime:   a.Config.Monitor.Duration,
		StartupDelay: a.Config.Monitor.StartupDelay,
	}, a.Logger)

	a.Logger.Info().
		Int("pairs", len(a.Config.Pairs)).
		Dur("interval", a.Config.Monitor.Interval).
		Msg("starting opportunity monitor")

	err = sched.Run(ctx, mon.Tick)
	mon.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("opportunity monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical data.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PairID    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
