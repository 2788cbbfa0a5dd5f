// Package app wires configuration, storage, the gateway client and the HTTP surface into a server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/abuse"
	"github.com/solaivr/giftline/internal/activation"
	"github.com/solaivr/giftline/internal/activity"
	"github.com/solaivr/giftline/internal/config"
	"github.com/solaivr/giftline/internal/db"
	"github.com/solaivr/giftline/internal/gateway"
	relayhttp "github.com/solaivr/giftline/internal/http"
	"github.com/solaivr/giftline/internal/http/api/admin"
	"github.com/solaivr/giftline/internal/http/api/admin/handlers"
	"github.com/solaivr/giftline/internal/http/api/gift"
	"github.com/solaivr/giftline/internal/http/api/ivr"
	"github.com/solaivr/giftline/internal/logging"
	"github.com/solaivr/giftline/internal/settings"
	"github.com/solaivr/giftline/internal/store"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Infof("migrated database (%s)", db.DialectName(conn))
	return nil
}

// RunServer boots the gift activation server and blocks until ctx is done.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	runtimeCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(runtimeCfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	if !config.ConfigExists(configPath) {
		log.Warnf("config file %s not found, using defaults and environment", configPath)
	}

	srv, err := newServer(ctx, runtimeCfg)
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:              runtimeCfg.Server.Addr,
		Handler:           srv.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	activity.NewRetentionCleaner(srv.conn).Start(gctx)
	g.Go(func() error {
		log.Infof("giftline listening on %s", runtimeCfg.Server.Addr)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grace := runtimeCfg.Server.ShutdownGrace
		if deadline := runtimeCfg.ActivationDeadline(); grace < deadline {
			grace = deadline
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		log.Info("shutting down, waiting for in-flight activations")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// server holds the wired components behind the HTTP engine.
type server struct {
	engine  *gin.Engine
	conn    *gorm.DB
	closers []io.Closer
}

func (s *server) close() {
	for _, c := range s.closers {
		if errClose := c.Close(); errClose != nil {
			log.WithError(errClose).Warn("close resource")
		}
	}
}

func newServer(ctx context.Context, cfg config.Config) (*server, error) {
	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	srv := &server{conn: conn}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		srv.closers = append(srv.closers, sqlDB)
	}

	if errMigrate := db.Migrate(conn); errMigrate != nil {
		srv.close()
		return nil, errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		srv.close()
		return nil, fmt.Errorf("load settings: %w", errRefresh)
	}
	if errAdmin := handlers.EnsureBootstrapAdmin(ctx, conn, cfg.Admin.Username, cfg.Admin.Password); errAdmin != nil {
		srv.close()
		return nil, fmt.Errorf("bootstrap admin: %w", errAdmin)
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		log.Warn("jwt.secret is empty, admin login is disabled")
	}
	if strings.TrimSpace(cfg.Gateway.Key) == "" {
		log.Warn("gateway.key is empty, gateway calls will be rejected")
	}

	counters := newCounterStore(ctx, cfg.Redis, srv)

	giftStore := store.NewGormGiftStore(conn)
	activityLog := activity.NewLogger(conn)
	gw := gateway.NewClient(gateway.Config{
		Endpoint:             cfg.Gateway.Endpoint,
		Key:                  cfg.Gateway.Key,
		Version:              cfg.Gateway.Version,
		SoftwareName:         cfg.Gateway.SoftwareName,
		SoftwareVersion:      cfg.Gateway.SoftwareVersion,
		Timeout:              cfg.Gateway.Timeout,
		AlreadyActiveCodes:   cfg.Gateway.AlreadyActiveCodes,
		AlreadyInactiveCodes: cfg.Gateway.AlreadyInactiveCodes,
	}, nil)
	orchestrator := activation.NewOrchestrator(giftStore, gw, activityLog, cfg.ActivationDeadline())

	guard := abuse.NewGuard(counters, abuseLimits(cfg.Abuse), failureMode(cfg.Abuse.FailureMode))
	lockout := abuse.NewLoginLockout(counters, func() int {
		return settings.DBConfigInt(settings.AdminMaxLoginFailuresKey, cfg.Abuse.AdminMaxLoginFailures)
	}, cfg.Abuse.AdminLockDuration)

	engine := gin.New()
	engine.Use(gin.Recovery(), relayhttp.RequestLogger())
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gift.RegisterGiftRoutes(engine, orchestrator, cfg.Server.InternalKey)
	ivr.RegisterIVRRoutes(engine, ivr.NewHandler(guard, orchestrator, activityLog, ivr.Options{}))
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:           conn,
		JWT:          cfg.JWT,
		Gifts:        giftStore,
		Orchestrator: orchestrator,
		Activity:     activityLog,
		Lockout:      lockout,
		Notifier:     handlers.ActivityLockoutNotifier{Activity: activityLog},
		UnmaskPIN:    cfg.Admin.UnmaskPIN,
		Pinger:       giftStore,
	})

	srv.engine = engine
	return srv, nil
}

// newCounterStore returns a Redis-backed store when configured, otherwise process-local counters.
func newCounterStore(ctx context.Context, cfg config.RedisConfig, srv *server) abuse.CounterStore {
	if strings.TrimSpace(cfg.Addr) == "" {
		log.Info("abuse counters: in-process (single instance only)")
		return abuse.NewMemoryCounterStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	srv.closers = append(srv.closers, client)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		log.WithError(errPing).Warnf("abuse counters: redis %s unreachable at startup", cfg.Addr)
	} else {
		log.Infof("abuse counters: redis %s", cfg.Addr)
	}
	return abuse.NewRedisCounterStore(client, cfg.KeyPrefix)
}

// abuseLimits reads thresholds from the settings snapshot on each call, falling back to YAML.
func abuseLimits(cfg config.AbuseConfig) func() abuse.Limits {
	return func() abuse.Limits {
		return abuse.Limits{
			MaxCalls:           settings.DBConfigInt(settings.IVRMaxCallsKey, cfg.MaxCalls),
			RateWindow:         settings.DBConfigMinutes(settings.IVRRateWindowMinutesKey, cfg.RateWindow),
			MaxPhoneRetries:    settings.DBConfigInt(settings.IVRMaxPhoneRetriesKey, cfg.MaxPhoneRetries),
			MaxSecurityRetries: settings.DBConfigInt(settings.IVRMaxSecurityRetriesKey, cfg.MaxSecurityRetries),
			SessionTTL:         cfg.SessionTTL,
		}
	}
}

func failureMode(mode string) abuse.FailureMode {
	if mode == config.FailClosed {
		return abuse.FailClosed
	}
	return abuse.FailOpen
}
