package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/platform/blobstore"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Clients holds every external connection the service opens at boot:
// Postgres for job/tile state, Redis for the quota cache, and the blob
// store for staged and finalized images.
type Clients struct {
	DB    *gorm.DB
	Redis *redis.Client
	Blobs blobstore.Store
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("wiring clients")

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return Clients{}, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(
		&upscale.Job{},
		&upscale.Tile{},
		&upscale.JobEvent{},
		&upscale.ProcessedCallbackRecord{},
	); err != nil {
		return Clients{}, fmt.Errorf("automigrate upscale schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed at boot; quota oracle will fall back to its default cap", "error", err)
	}

	blobs, err := blobstore.New(ctx, log, blobstore.Config{
		Bucket:        cfg.StorageBucket,
		EmulatorHost:  cfg.StorageEmulatorHost,
		PublicBaseURL: cfg.StoragePublicBaseURL,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init blob store: %w", err)
	}

	return Clients{DB: db, Redis: rdb, Blobs: blobs}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
		c.Redis = nil
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
		c.DB = nil
	}
}
