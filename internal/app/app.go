// Package app builds the optional durable backends shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mezamarco14/resu-sistem/internal/cache"
	"github.com/mezamarco14/resu-sistem/internal/config"
	"github.com/mezamarco14/resu-sistem/internal/db"
	"github.com/mezamarco14/resu-sistem/internal/handler"
	"github.com/mezamarco14/resu-sistem/internal/logger"
	"github.com/mezamarco14/resu-sistem/internal/queue"
	"github.com/mezamarco14/resu-sistem/internal/repository"
)

// Backends are the configured outcome sinks. Unconfigured ones are nil.
type Backends struct {
	DB      *sql.DB
	Reports *repository.ReportRepository
	Redis   *redis.Client
	Cache   *cache.OutcomeCache
}

// Open connects to Postgres and Redis when they are configured.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Backends, error) {
	b := &Backends{}

	if cfg.Database.URL != "" {
		conn, err := db.Open(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := db.MigrateUp(conn); err != nil {
				conn.Close()
				return nil, err
			}
		}
		b.DB = conn
		b.Reports = &repository.ReportRepository{
			Campaigns:  &repository.CampaignRepository{DB: conn},
			Deliveries: &repository.DeliveryRepository{DB: conn},
		}
		log.Info().Msg("durable reports enabled")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			b.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.Redis = rdb
		b.Cache = cache.NewOutcomeCache(rdb, cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("outcome cache enabled")
	}
	return b, nil
}

// Sinks lists the configured sinks, cache first.
func (b *Backends) Sinks() []queue.OutcomeSink {
	var sinks []queue.OutcomeSink
	if b.Cache != nil {
		sinks = append(sinks, b.Cache)
	}
	if b.Reports != nil {
		sinks = append(sinks, b.Reports)
	}
	return sinks
}

func (b *Backends) Close() {
	if b.Redis != nil {
		b.Redis.Close()
	}
	if b.DB != nil {
		b.DB.Close()
	}
}

// ReportSources lists where past campaign reports can be read, cache first.
func (b *Backends) ReportSources() []handler.ReportSource {
	var sources []handler.ReportSource
	if b.Cache != nil {
		sources = append(sources, b.Cache)
	}
	if b.Reports != nil {
		sources = append(sources, b.Reports)
	}
	return sources
}
