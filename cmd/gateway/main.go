package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/synrgscaling/federation-gateway/internal/audit"
	"github.com/synrgscaling/federation-gateway/internal/auth"
	"github.com/synrgscaling/federation-gateway/internal/config"
	"github.com/synrgscaling/federation-gateway/internal/executor"
	"github.com/synrgscaling/federation-gateway/internal/httpapi"
	"github.com/synrgscaling/federation-gateway/internal/obs"
	"github.com/synrgscaling/federation-gateway/internal/permission"
	"github.com/synrgscaling/federation-gateway/internal/ratelimit"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := obs.NewLogger(cfg.Environment).With().Str("version", version).Logger()
	obs.Init()

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	counterStore := ratelimit.NewRedisStore(redisClient)

	gate, err := auth.NewGate(cfg.Auth.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("init identity gate")
	}

	limiter := ratelimit.New(counterStore,
		ratelimit.TierLimits(cfg.RateLimit.General),
		ratelimit.TierLimits(cfg.RateLimit.CrossTenant),
		ratelimit.TierLimits(cfg.RateLimit.Issuance),
		log)

	grantStore := permission.NewPGStore(db)
	auditStore := audit.NewPGStore(db)
	recorder := audit.NewRecorder(auditStore, cfg.Audit.BufferSize, log)

	api := httpapi.New(httpapi.Deps{
		Log:      log,
		Gate:     gate,
		Limiter:  limiter,
		Checker:  permission.NewChecker(grantStore),
		Executor: executor.New(db, cfg.Query.Timeout, log),
		Recorder: recorder,
		Grants:   grantStore,
		Audits:   auditStore,
		Ready: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			return counterStore.Ping(ctx)
		},
		Opts: httpapi.Options{
			BootstrapSecret: cfg.Auth.BootstrapSecret,
			TokenTTL:        cfg.Auth.TokenTTL,
			Production:      cfg.Production(),
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			EdgeRPS:         cfg.Server.EdgeRPS,
			EdgeBurst:       cfg.Server.EdgeBurst,
			TrustedProxy:    cfg.Server.TrustedProxy,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.Query.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	// Flush pending audit records last; in-flight handlers have drained.
	if err := recorder.Close(ctx); err != nil {
		log.Error().Err(err).Msg("audit recorder shutdown")
	}
	log.Info().Msg("stopped")
}
