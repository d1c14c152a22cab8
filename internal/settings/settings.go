// Package settings resolves per-institution attendance policy.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schoolattend/internal/model"
)

// Loader reads a stored settings row. found is false when the institution has none.
type Loader interface {
	Load(ctx context.Context, institutionID string) (s model.Settings, found bool, err error)
}

// Cache stores encoded settings for a while. Get returns redis.Nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Provider returns settings, consulting the cache first when one is configured.
type Provider struct {
	loader Loader
	cache  Cache
	ttl    time.Duration
	log    *zap.Logger
}

// NewProvider builds a provider. A nil cache or non-positive ttl disables caching.
func NewProvider(loader Loader, cache Cache, ttl time.Duration, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		cache = nil
	}
	return &Provider{loader: loader, cache: cache, ttl: ttl, log: log}
}

// CacheKey is where an institution's settings are cached.
func CacheKey(institutionID string) string {
	return "attendance:settings:" + institutionID
}

// Get returns the institution's settings, or the defaults when none are stored.
// Cache failures are logged and fall through to the loader.
func (p *Provider) Get(ctx context.Context, institutionID string) (model.Settings, error) {
	key := CacheKey(institutionID)
	if p.cache != nil {
		raw, err := p.cache.Get(ctx, key)
		switch {
		case err == nil:
			var s model.Settings
			if jerr := json.Unmarshal(raw, &s); jerr == nil {
				return s, nil
			}
			p.log.Warn("discarding undecodable cached settings", zap.String("institution_id", institutionID))
		case !errors.Is(err, redis.Nil):
			p.log.Warn("settings cache read failed", zap.String("institution_id", institutionID), zap.Error(err))
		}
	}

	s, found, err := p.loader.Load(ctx, institutionID)
	if err != nil {
		return model.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if !found {
		s = model.DefaultSettings(institutionID)
	}

	if p.cache != nil {
		if raw, err := json.Marshal(s); err == nil {
			if err := p.cache.Set(ctx, key, raw, p.ttl); err != nil {
				p.log.Warn("settings cache write failed", zap.String("institution_id", institutionID), zap.Error(err))
			}
		}
	}
	return s, nil
}

// Repository loads settings rows from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Load implements Loader.
func (r *Repository) Load(ctx context.Context, institutionID string) (model.Settings, bool, error) {
	if uuid.Validate(institutionID) != nil {
		return model.Settings{}, false, nil
	}
	s := model.Settings{InstitutionID: institutionID}
	err := r.db.QueryRowContext(ctx, `
		SELECT min_attendance_percentage, auto_lock_attendance, auto_lock_after_hours, allow_excused_absences
		FROM attendance_settings WHERE institution_id = $1
	`, institutionID).Scan(&s.MinAttendancePercentage, &s.AutoLockAttendance, &s.AutoLockAfterHours, &s.AllowExcusedAbsences)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Settings{}, false, nil
	}
	if err != nil {
		return model.Settings{}, false, err
	}
	return s, true, nil
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	Client *redis.Client
}

func (c RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.Client.Get(ctx, key).Bytes()
}

func (c RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}
