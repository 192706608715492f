package repositories

import (
	"context"

	"proctorlink/internal/core/ports"
	"proctorlink/internal/infrastructure/repositories/memory"
	redisrepo "proctorlink/internal/infrastructure/repositories/redis"
	"proctorlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates gateway repositories with memory fallback.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory registry",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis session registry")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory session registry")
	}

	return factory, nil
}

// CreateSessionRegistry returns the Redis-backed registry when available,
// otherwise the in-memory one.
func (f *RepositoryFactory) CreateSessionRegistry() ports.SessionRegistry {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewSessionRegistry(f.redisClient)
	}
	return memory.NewSessionRegistry()
}

// Close closes the Redis connection if used.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck verifies the Redis connection when Redis is in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
