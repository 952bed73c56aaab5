package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/campaign-live/pkg/log"
	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache miss")

// Snapshot is the cached view of one campaign.
type Snapshot struct {
	GMUserID string   `json:"gm_user_id"`
	Members  []string `json:"members"`
}

// Cache stores campaign snapshots.
type Cache interface {
	Get(ctx context.Context, campaignID string) (*Snapshot, error)
	Set(ctx context.Context, campaignID string, snap *Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, campaignIDs ...string) error
}

// RedisCache implements Cache with one JSON value per campaign.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(campaignID string) string {
	return fmt.Sprintf("%s:id:%s", c.prefix, campaignID)
}

func (c *RedisCache) Get(ctx context.Context, campaignID string) (*Snapshot, error) {
	data, err := c.client.Get(ctx, c.key(campaignID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &snap, nil
}

func (c *RedisCache) Set(ctx context.Context, campaignID string, snap *Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, c.key(campaignID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, campaignIDs ...string) error {
	if len(campaignIDs) == 0 {
		return nil
	}
	keys := make([]string, len(campaignIDs))
	for i, id := range campaignIDs {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// SnapshotSource loads a full campaign snapshot from the store.
type SnapshotSource interface {
	Snapshot(ctx context.Context, campaignID string) (*Snapshot, error)
}

// Snapshot loads the GM and member list in two queries.
func (s *GormStore) Snapshot(ctx context.Context, campaignID string) (*Snapshot, error) {
	gm, err := s.GMUserID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var members []string
	err = s.db.WithContext(ctx).Model(&MemberModel{}).
		Where("campaign_id = ?", campaignID).
		Order("user_id").
		Pluck("user_id", &members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign members: %w", err)
	}
	return &Snapshot{GMUserID: gm, Members: members}, nil
}

// CachedOracle answers from the cache and fills misses from source,
// collapsing concurrent misses for one campaign into a single load.
type CachedOracle struct {
	source SnapshotSource
	cache  Cache
	ttl    time.Duration
	sf     singleflight.Group
}

func NewCachedOracle(source SnapshotSource, cache Cache, ttl time.Duration) *CachedOracle {
	return &CachedOracle{source: source, cache: cache, ttl: ttl}
}

func (o *CachedOracle) IsMember(ctx context.Context, campaignID, userID string) (bool, error) {
	snap, err := o.snapshot(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if snap.GMUserID != "" && snap.GMUserID == userID {
		return true, nil
	}
	for _, m := range snap.Members {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (o *CachedOracle) GMUserID(ctx context.Context, campaignID string) (string, error) {
	snap, err := o.snapshot(ctx, campaignID)
	if err != nil {
		return "", err
	}
	return snap.GMUserID, nil
}

// Invalidate drops cached snapshots after membership changes.
func (o *CachedOracle) Invalidate(ctx context.Context, campaignIDs ...string) error {
	return o.cache.Delete(ctx, campaignIDs...)
}

// fillTimeout bounds a shared fill, which runs detached from any single
// caller's cancellation.
const fillTimeout = 5 * time.Second

func (o *CachedOracle) snapshot(ctx context.Context, campaignID string) (*Snapshot, error) {
	ch := o.sf.DoChan(campaignID, func() (interface{}, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()
		return o.fetchWithCache(fillCtx, campaignID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	snap, ok := res.Val.(*Snapshot)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return snap, nil
}

func (o *CachedOracle) fetchWithCache(ctx context.Context, campaignID string) (*Snapshot, error) {
	cached, err := o.cache.Get(ctx, campaignID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCampaignID, campaignID).Msg("campaign cache get error")
	}

	snap, err := o.source.Snapshot(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign %s: %w", campaignID, err)
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.cache.Set(cacheCtx, campaignID, snap, o.ttl); err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldCampaignID, campaignID).Msg("campaign cache set error")
		}
	}()

	return snap, nil
}
