package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/zavod-empire/factory-bot/internal/config"
	"github.com/zavod-empire/factory-bot/internal/counter"
	"github.com/zavod-empire/factory-bot/internal/db"
	"github.com/zavod-empire/factory-bot/internal/dispatch"
	"github.com/zavod-empire/factory-bot/internal/ledger"
	"github.com/zavod-empire/factory-bot/internal/ratelimit"
	"github.com/zavod-empire/factory-bot/internal/referral"
	"github.com/zavod-empire/factory-bot/internal/telegram"
	"github.com/zavod-empire/factory-bot/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations, then exits. Used by
// deploy pipelines that migrate before rolling the server.
func Migrate(cfg config.Config) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the webhook server with database-backed components and
// blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.Config, port int) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	redisClient := newRedisClient(ctx, cfg.Redis)

	limiter, errLimiter := ratelimit.NewManager(ratelimit.Bucket{
		Capacity:     cfg.RateLimit.Capacity,
		RefillPerSec: cfg.RateLimit.RefillPerSec,
	}, redisClient, cfg.Redis.Prefix, nil)
	if errLimiter != nil {
		return errLimiter
	}

	var counters counter.Store
	if redisClient != nil {
		counters = counter.NewRedisStore(redisClient, cfg.Redis.Prefix)
	} else {
		counters = counter.NewMemoryStore()
	}

	entries := ledger.New(ledger.NewGormStore(conn))
	referrals := referral.NewService(conn, counters, entries, referral.Config{
		BonusAmount: int64(cfg.Referral.BonusAmount),
		DailyCap:    int64(cfg.Referral.DailyCap),
		BotName:     cfg.Referral.BotName,
	}, nil)

	notifier := telegram.NewClient(cfg.BotToken)
	bot := dispatch.NewBot(conn, referrals, notifier)

	gate := webhook.NewGate(webhook.NewValidator(cfg.Webhook.Secret), limiter)
	handler := webhook.NewHandler(gate, bot, notifier, cfg.DefaultLanguage)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler.RegisterRoutes(engine, cfg.Webhook.Path)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("webhook server listening on %s path=%s store=%s", server.Addr, cfg.Webhook.Path, storeName(redisClient))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// newRedisClient builds the shared-store client, or nil when no address
// is configured. An unreachable store at boot is logged but not fatal;
// admission denies until it comes back.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		log.WithError(errPing).Warnf("redis unreachable at %s, requests will be denied until it recovers", cfg.Addr)
	}
	return client
}

func storeName(client *redis.Client) string {
	if client != nil {
		return "redis"
	}
	return "memory"
}
