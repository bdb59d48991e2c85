package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/telehealth-booking/internal/config"
	"github.com/wolfman30/telehealth-booking/internal/scheduling"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSlotGrid turns the SLOT_* settings into the booking lattice.
func BuildSlotGrid(cfg *appconfig.Config) (scheduling.Grid, error) {
	if cfg == nil {
		return scheduling.Grid{}, fmt.Errorf("bootstrap: config is required")
	}
	loc, err := time.LoadLocation(cfg.SlotTimezone)
	if err != nil {
		return scheduling.Grid{}, fmt.Errorf("bootstrap: slot timezone: %w", err)
	}
	grid := scheduling.DefaultGrid(loc)
	if cfg.SlotGranularity > 0 {
		grid.Granularity = cfg.SlotGranularity
	}
	if strings.TrimSpace(cfg.SlotWindows) != "" {
		windows, err := scheduling.ParseWindows(cfg.SlotWindows)
		if err != nil {
			return scheduling.Grid{}, fmt.Errorf("bootstrap: slot windows: %w", err)
		}
		grid.Windows = windows
	}
	grid.EnforceWindows = cfg.SlotEnforceWindows
	return grid, nil
}

// SchedulingOptions wires the allocator logger and adds the Redis slot hold
// when a client is available.
func SchedulingOptions(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) []scheduling.Option {
	if logger == nil {
		logger = logging.Default()
	}
	opts := []scheduling.Option{scheduling.WithLogger(logger)}
	holder := scheduling.NewRedisHolder(redisClient, cfg.SlotHoldTTL)
	if holder == nil {
		logger.Info("slot holds disabled; relying on the database slot index")
		return opts
	}
	return append(opts, scheduling.WithHolder(holder))
}
