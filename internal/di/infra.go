package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/schema"
	"github.com/prohmpiriya/ticket-engine/pkg/config"
	"github.com/prohmpiriya/ticket-engine/pkg/database"
	"github.com/prohmpiriya/ticket-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticket-engine/pkg/redis"
)

// Infra holds the external connections a process owns
type Infra struct {
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
}

// Connect opens the connections cfg asks for. Postgres is used when a host
// is configured, Redis when the ledger lives there, and Kafka is best effort.
func Connect(ctx context.Context, cfg *config.Config, clientID string, log *logger.Logger) (*Infra, error) {
	infra := &Infra{}

	if cfg.Database.Enabled() {
		dbCfg := &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		}
		db, err := database.NewPostgres(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		infra.DB = db
		log.Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))

		if err := schema.Migrate(ctx, db.Pool()); err != nil {
			infra.Close()
			return nil, err
		}
		log.Info("Database schema applied")
	}

	if cfg.Engine.LedgerBackend == "redis" {
		redisCfg := &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			PoolTimeout:   4 * time.Second,
		}
		client, err := pkgredis.NewClient(ctx, redisCfg)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		infra.Redis = client
		log.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      clientID,
		MaxRetries:    1,
		RetryInterval: time.Second,
	})
	if err != nil {
		log.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
	} else {
		infra.Producer = producer
		log.Info("Kafka producer connected")
	}

	return infra, nil
}

// Close closes every open connection
func (i *Infra) Close() {
	if i.Producer != nil {
		if err := i.Producer.Close(); err != nil {
			logger.Get().Warn(fmt.Sprintf("Failed to flush kafka producer: %v", err))
		}
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
