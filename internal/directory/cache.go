package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDirectory memoises profile lookups in Redis. Unknown identifiers are
// never cached so a newly registered profile is visible immediately.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedDirectory wraps next with a Redis read-through cache.
// A nil client disables caching and returns next unchanged.
func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, logger *logging.Logger) Directory {
	if client == nil {
		return next
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedDirectory{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedDirectory) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	doc, err := c.GetDoctor(ctx, doctorID)
	return doc != nil, err
}

func (c *CachedDirectory) PatientExists(ctx context.Context, patientID string) (bool, error) {
	p, err := c.GetPatient(ctx, patientID)
	return p != nil, err
}

func (c *CachedDirectory) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	key := "directory:patient:" + patientID
	var cached Patient
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}
	p, err := c.next.GetPatient(ctx, patientID)
	if err != nil || p == nil {
		return p, err
	}
	c.store(ctx, key, p)
	return p, nil
}

func (c *CachedDirectory) GetDoctor(ctx context.Context, doctorID string) (*Doctor, error) {
	key := "directory:doctor:" + doctorID
	var cached Doctor
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}
	doc, err := c.next.GetDoctor(ctx, doctorID)
	if err != nil || doc == nil {
		return doc, err
	}
	c.store(ctx, key, doc)
	return doc, nil
}

func (c *CachedDirectory) load(ctx context.Context, key string, dst any) bool {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("directory cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("directory cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedDirectory) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("directory cache write failed", "key", key, "error", err)
	}
}
