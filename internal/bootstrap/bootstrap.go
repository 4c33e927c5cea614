// Package bootstrap wires the storage, gateway and services shared by the binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"

	"hotel_channel/internal/adapters/otagw"
	redisad "hotel_channel/internal/adapters/redis"
	"hotel_channel/internal/adapters/secrets"
	"hotel_channel/internal/app"
	"hotel_channel/internal/shared"
	mysqlrepo "hotel_channel/internal/storage/mysql"
)

type Stack struct {
	DB         *sql.DB
	Repo       *mysqlrepo.Repo
	Registry   *app.RegistryService
	Gateway    *otagw.Client
	Queue      *app.QueueService
	Processor  *app.ProcessorService
	Reconciler *app.ReconcilerService
	Retention  *app.RetentionService

	// Lock is nil when no Redis is configured.
	Lock *redisad.Lock
}

func Build(ctx context.Context, cfg shared.Config) (*Stack, error) {
	sealer, err := secrets.NewSealer(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIALS_KEY: %w", err)
	}
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}

	db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("database connection ok")

	repo := mysqlrepo.New(db)
	s := &Stack{DB: db, Repo: repo}
	s.Registry = app.NewRegistryService(repo, secrets.NewStore(repo, sealer), sealer, []byte(cfg.LookupKey))
	s.Gateway = otagw.New(repo, cfg.GatewayRPS, cfg.GatewayTimeout)
	s.Queue = app.NewQueueService(repo, repo, cfg.MaxAttempts)
	s.Processor = app.NewProcessorService(repo, s.Registry, s.Gateway, repo, repo, cfg.FlushBatchSize, cfg.MaxAttempts)
	s.Reconciler = app.NewReconcilerService(s.Registry, s.Gateway, repo, node)
	s.Retention = app.NewRetentionService(repo, repo)

	if cfg.RedisAddr != "" {
		lock := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err := lock.Ping(ctx); err != nil {
			_ = lock.Close()
			_ = db.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.Lock = lock
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis lock enabled")
	}
	return s, nil
}

func (s *Stack) Close() {
	if s.Lock != nil {
		if err := s.Lock.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close failed")
		}
	}
	if err := s.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("db close failed")
	}
}
