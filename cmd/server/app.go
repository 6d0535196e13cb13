package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/abgate/internal/api"
	"github.com/blueberrycongee/abgate/internal/config"
	"github.com/blueberrycongee/abgate/internal/conversation"
	"github.com/blueberrycongee/abgate/internal/database"
	"github.com/blueberrycongee/abgate/internal/experiment"
	"github.com/blueberrycongee/abgate/internal/gateway"
	"github.com/blueberrycongee/abgate/internal/metrics"
	"github.com/blueberrycongee/abgate/internal/observability"
	"github.com/blueberrycongee/abgate/internal/resilience"
	"github.com/blueberrycongee/abgate/internal/secret"
	"github.com/blueberrycongee/abgate/internal/secret/vault"
)

// app holds every long-lived dependency. It is built once and passed by
// reference to the request path.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	handler  http.Handler
	assigner *experiment.Assigner

	secrets  *secret.Manager
	redis    goredis.UniversalClient
	upstream *resilience.Client
	sessions *conversation.Store
	db       *database.DB
	tracing  *observability.TracerProvider

	stopMetrics func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, redactor *observability.Redactor) (_ *app, err error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.tracing, err = observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.secrets, err = secret.NewDefaultManager(secret.Config{
		CacheTTL: cfg.Secrets.CacheTTL,
		Vault: vault.Config{
			Address:    cfg.Secrets.Vault.Address,
			AuthMethod: cfg.Secrets.Vault.AuthMethod,
			Token:      cfg.Secrets.Vault.Token,
			RoleID:     cfg.Secrets.Vault.RoleID,
			SecretID:   cfg.Secrets.Vault.SecretID,
			Namespace:  cfg.Secrets.Vault.Namespace,
			CACert:     cfg.Secrets.Vault.CACert,
			ClientCert: cfg.Secrets.Vault.ClientCert,
			ClientKey:  cfg.Secrets.Vault.ClientKey,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	apiKey, err := a.secrets.Get(ctx, cfg.Upstream.APIKey)
	if err != nil {
		return nil, fmt.Errorf("upstream api key: %w", err)
	}
	redactor.AddSecret(apiKey)

	// Experiments
	a.redis = experiment.NewRedisClient(experiment.RedisConfig{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	store := experiment.NewRedisStore(a.redis, cfg.Experiments.Key)
	if err := store.Ping(ctx); err != nil {
		logger.Warn("experiment store unreachable at startup", "addr", cfg.Redis.Addr(), "error", err)
	}
	if err := seedExperiments(ctx, store, cfg.Experiments, logger); err != nil {
		return nil, err
	}
	a.assigner, err = experiment.NewAssigner(store, fallbackPolicy(cfg.Experiments),
		experiment.WithLogger(logger),
		experiment.WithObserver(func(as experiment.Assignment) {
			metrics.RecordAssignment(as.Variant, as.Outcome.String(), as.PoolSize)
		}),
	)
	if err != nil {
		return nil, err
	}

	// Upstream
	upstreamName := cfg.Upstream.Name
	a.upstream, err = resilience.NewClient(
		resilience.WithPolicy(resilience.Policy{
			MaxAttempts:   cfg.Upstream.Retry.MaxAttempts,
			BackoffBase:   cfg.Upstream.Retry.BackoffBase,
			MaxBackoff:    cfg.Upstream.Retry.MaxBackoff,
			RetryStatuses: cfg.Upstream.Retry.RetryStatuses,
		}),
		resilience.WithTimeout(cfg.Upstream.Timeout),
		resilience.WithLogger(logger.With("component", "upstream_client")),
		resilience.WithAttemptObserver(func(_ *http.Request, resp *http.Response, _ error) {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			metrics.RecordAttempt(upstreamName, status)
		}),
	)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(a.upstream, gateway.Config{
		Name:             upstreamName,
		Endpoint:         cfg.Upstream.Endpoint,
		APIKey:           apiKey,
		MaxResponseBytes: cfg.Upstream.MaxResponseBytes,
	},
		gateway.WithLogger(logger),
		gateway.WithRedactor(redactor),
		gateway.WithTracer(a.tracing.Tracer()),
	)
	if err != nil {
		return nil, err
	}

	// Sessions and diagnostics
	handlerCfg := api.Config{MaxUploadBytes: cfg.Server.MaxUploadBytes}
	if cfg.Conversation.Enabled {
		a.sessions = conversation.NewStore(conversation.Config{
			TTL:         cfg.Conversation.TTL,
			PendingTTL:  cfg.Conversation.PendingTTL,
			MaxMessages: cfg.Conversation.MaxMessages,
		})
		handlerCfg.Sessions = a.sessions
	}
	if cfg.Database.Enabled {
		a.db, err = a.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		handlerCfg.DB = a.db
	}
	a.startMetrics(ctx)

	handler, err := api.NewHandler(gw, logger, handlerCfg)
	if err != nil {
		return nil, err
	}
	mux, err := buildMux(cfg, handler)
	if err != nil {
		return nil, err
	}
	stack, err := buildMiddlewareStack(cfg, a.assigner, a.tracing.Tracer(), logger)
	if err != nil {
		return nil, err
	}
	a.handler = stack(mux)
	return a, nil
}

func (a *app) openDatabase(ctx context.Context) (*database.DB, error) {
	dbCfg := a.cfg.Database
	password, err := a.secrets.Get(ctx, dbCfg.Password)
	if err != nil {
		return nil, fmt.Errorf("database password: %w", err)
	}
	db, err := database.Open(database.Config{
		Host:           dbCfg.Host,
		Port:           dbCfg.Port,
		User:           dbCfg.User,
		Password:       password,
		Database:       dbCfg.Name,
		SSLMode:        dbCfg.SSLMode,
		ConnectTimeout: dbCfg.ConnectTimeout,
		MaxOpenConns:   dbCfg.MaxOpenConns,
		MaxIdleConns:   dbCfg.MaxIdleConns,
		ConnLifetime:   dbCfg.ConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("database configured", "host", dbCfg.Host, "port", dbCfg.Port, "database", dbCfg.Name)
	return db, nil
}

func (a *app) startMetrics(ctx context.Context) {
	var (
		db       dbStatsProvider
		sessions sessionCounter
	)
	if a.db != nil {
		db = a.db
	}
	if a.sessions != nil {
		sessions = a.sessions
	}
	a.stopMetrics = startPoolMetrics(ctx, db, sessions, a.logger, a.cfg.Database.StatsInterval)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.upstream != nil {
		a.upstream.CloseIdleConnections()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.secrets != nil {
		errs = append(errs, a.secrets.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
