package unitlock

import (
	"github.com/mlandesman/SAMS-sub020/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewRedisClient returns nil when no redis address is configured; the
// guard then falls back to in-process locking only.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("unitlock",
	fx.Provide(
		NewRedisClient,
		NewGuard,
	),
)
