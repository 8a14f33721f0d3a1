package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"weather-oracle/internal/alerting"
	"weather-oracle/internal/auth"
	"weather-oracle/internal/config"
	"weather-oracle/internal/fetcher"
	"weather-oracle/internal/host"
	"weather-oracle/internal/relayer"
	"weather-oracle/internal/scheduler"
	"weather-oracle/internal/storage"
	"weather-oracle/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command results. Logs go to the logger.
	Out io.Writer

	host  *host.Host
	store *storage.Store
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// WithHost makes every command run against h instead of opening the
// configured database.
func (a *App) WithHost(h *host.Host) *App {
	a.host = h
	return a
}

func (a *App) contractAddress() (common.Address, error) {
	if a.Config.Oracle.Contract == "" {
		return common.Address{}, errors.New("oracle.contract not configured")
	}
	return common.HexToAddress(a.Config.Oracle.Contract), nil
}

func (a *App) openHost(ctx context.Context) (*host.Host, func(), error) {
	if a.host != nil {
		return a.host, func() {}, nil
	}
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}
	contract, err := a.contractAddress()
	if err != nil {
		return nil, nil, err
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStore(pool, a.Config.Database.InvocationLockKey)
	if err := store.EnsureSchema(ctx, a.Config.Database.MigrationsPath); err != nil {
		store.Close()
		return nil, nil, err
	}

	a.store = store
	h := host.New(host.Postgres(store), host.SystemClock{}, contract, a.Logger).
		WithRequestWindow(a.Config.Oracle.RequestWindow)
	closer := func() {
		store.Close()
		a.store = nil
	}
	return h, closer, nil
}

func (a *App) newSource() (fetcher.MeasurementFetcher, func(), error) {
	src := a.Config.Source
	switch src.Kind {
	case "open-meteo":
		return fetcher.NewOpenMeteo(fetcher.OpenMeteoOptions{
			BaseURL:     src.OpenMeteo.BaseURL,
			Latitude:    src.OpenMeteo.Latitude,
			Longitude:   src.OpenMeteo.Longitude,
			Variable:    src.OpenMeteo.Variable,
			Aggregation: src.OpenMeteo.Aggregation,
			Timeout:     src.OpenMeteo.RequestTimeout,
			UserAgent:   src.OpenMeteo.UserAgent,
		}, a.Logger), func() {}, nil
	case "feed":
		feed := fetcher.NewFeed(fetcher.FeedOptions{
			RPCURL:   src.Feed.RPCURL,
			Address:  src.Feed.Address,
			Decimals: src.Feed.Decimals,
			Timeout:  src.Feed.RequestTimeout,
		}, a.Logger)
		return feed, feed.Close, nil
	case "static":
		return fetcher.Static{Value: decimal.NewFromFloat(src.StaticValue)}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return alerting.Discard{}, nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken: cfg.BotToken,
		ChatID:   cfg.ChatID,
		APIBase:  cfg.APIBase,
		Timeout:  cfg.Timeout,
	}, a.Logger)
}

func (a *App) ownerSigner() (*auth.Signer, error) {
	if a.Config.Keys.Owner == "" {
		return nil, errors.New("keys.owner not configured")
	}
	return auth.ParseKey(a.Config.Keys.Owner)
}

func (a *App) relayerSigner() (*auth.Signer, error) {
	if a.Config.Keys.Relayer == "" {
		return nil, errors.New("keys.relayer not configured")
	}
	return auth.ParseKey(a.Config.Keys.Relayer)
}

func (a *App) newService(h *host.Host, sched *scheduler.Scheduler) (*relayer.Service, func(), error) {
	signer, err := a.relayerSigner()
	if err != nil {
		return nil, nil, err
	}
	source, closeSource, err := a.newSource()
	if err != nil {
		return nil, nil, err
	}
	notifier, err := a.newNotifier()
	if err != nil {
		closeSource()
		return nil, nil, err
	}

	var locker storage.AdvisoryLocker
	if a.store != nil {
		locker = a.store
	}
	return relayer.New(a.Config, sched, h, source, signer, notifier, locker, a.Logger), closeSource, nil
}

// Run executes the long-running relayer service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h, closeHost, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer closeHost()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Oracle.EpochDuration,
		Offset:       a.Config.Scheduler.SettleDelay,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, closeSource, err := a.newService(h, sched)
	if err != nil {
		return err
	}
	defer closeSource()

	a.Logger.Info().Str("version", version.String()).Str("source", a.Config.Source.Kind).Msg("starting relayer service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("relayer service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the epoch series.
type ExportOptions struct {
	FromEpoch *uint32
	ToEpoch   *uint32
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure a one-shot catch-up.
type BackfillOptions struct {
	DryRun bool
}
