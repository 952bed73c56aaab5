package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

// RedisDirectory keeps one TTL key per (room, node). A node that dies
// without deregistering drops out once its keys expire.
type RedisDirectory struct {
	client            *redis.Client
	nodeID            string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managed           map[domain.RoomKey]struct{}
	mu                sync.RWMutex
	cancel            context.CancelFunc
	done              chan struct{}
}

func NewRedisDirectory(client *redis.Client, nodeID, prefix string, keyTTL, heartbeatInterval time.Duration) *RedisDirectory {
	if prefix == "" {
		prefix = "campaign:directory"
	}
	if keyTTL <= 0 {
		keyTTL = 30 * time.Second
	}
	if heartbeatInterval <= 0 || heartbeatInterval >= keyTTL {
		heartbeatInterval = keyTTL / 3
	}
	return &RedisDirectory{
		client:            client,
		nodeID:            nodeID,
		prefix:            prefix,
		keyTTL:            keyTTL,
		heartbeatInterval: heartbeatInterval,
		managed:           make(map[domain.RoomKey]struct{}),
	}
}

func (d *RedisDirectory) roomPrefix(key domain.RoomKey) string {
	return fmt.Sprintf("%s:room:%s:node:", d.prefix, key.String())
}

func (d *RedisDirectory) keyFor(key domain.RoomKey) string {
	return d.roomPrefix(key) + d.nodeID
}

// scanPattern escapes glob metacharacters so a room named "a[b]" only
// matches itself.
func scanPattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(prefix) + "*"
}

func (d *RedisDirectory) Register(ctx context.Context, key domain.RoomKey) error {
	if err := d.client.Set(ctx, d.keyFor(key), d.nodeID, d.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to register room: %w", err)
	}

	d.mu.Lock()
	d.managed[key] = struct{}{}
	d.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldRoom, key.String()).Str(log.FieldNodeID, d.nodeID).Msg("registered room")
	return nil
}

func (d *RedisDirectory) Deregister(ctx context.Context, key domain.RoomKey) error {
	d.mu.Lock()
	delete(d.managed, key)
	d.mu.Unlock()

	if err := d.client.Del(ctx, d.keyFor(key)).Err(); err != nil {
		return fmt.Errorf("failed to deregister room: %w", err)
	}

	l := log.L()
	l.Debug().Str(log.FieldRoom, key.String()).Str(log.FieldNodeID, d.nodeID).Msg("deregistered room")
	return nil
}

func (d *RedisDirectory) Nodes(ctx context.Context, key domain.RoomKey) ([]string, error) {
	prefix := d.roomPrefix(key)
	var nodes []string
	iter := d.client.Scan(ctx, 0, scanPattern(prefix), 100).Iterator()
	for iter.Next(ctx) {
		nodes = append(nodes, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to lookup room nodes: %w", err)
	}
	return nodes, nil
}

func (d *RedisDirectory) HasRemote(ctx context.Context, key domain.RoomKey) (bool, error) {
	nodes, err := d.Nodes(ctx, key)
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		if n != d.nodeID {
			return true, nil
		}
	}
	return false, nil
}

// StartHeartbeat periodically re-registers the rooms reported by active
// and drops any managed room that is no longer in it.
func (d *RedisDirectory) StartHeartbeat(ctx context.Context, active func() []domain.RoomKey) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.heartbeatLoop(ctx, active)
	l := log.L()
	l.Info().Dur("interval", d.heartbeatInterval).Dur("ttl", d.keyTTL).Msg("directory heartbeat started")
	return nil
}

func (d *RedisDirectory) heartbeatLoop(ctx context.Context, active func() []domain.RoomKey) {
	defer close(d.done)
	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refresh(ctx, active())
		}
	}
}

func (d *RedisDirectory) refresh(ctx context.Context, rooms []domain.RoomKey) {
	current := make(map[domain.RoomKey]struct{}, len(rooms))
	for _, key := range rooms {
		current[key] = struct{}{}
	}

	d.mu.Lock()
	var stale []domain.RoomKey
	for key := range d.managed {
		if _, ok := current[key]; !ok {
			stale = append(stale, key)
		}
	}
	d.managed = current
	d.mu.Unlock()

	pipe := d.client.Pipeline()
	for key := range current {
		pipe.Set(ctx, d.keyFor(key), d.nodeID, d.keyTTL)
	}
	for _, key := range stale {
		pipe.Del(ctx, d.keyFor(key))
	}
	if len(current)+len(stale) == 0 {
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l := log.L()
		l.Error().Err(err).Int("rooms", len(current)).Msg("failed to refresh directory keys")
	}
}

func (d *RedisDirectory) StopHeartbeat() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}
}

// Close stops the heartbeat and removes every key this node still owns.
func (d *RedisDirectory) Close() error {
	d.StopHeartbeat()

	d.mu.Lock()
	keys := make([]string, 0, len(d.managed))
	for key := range d.managed {
		keys = append(keys, d.keyFor(key))
	}
	d.managed = make(map[domain.RoomKey]struct{})
	d.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.client.Del(ctx, keys...).Err()
}

// Listener adapts the directory to hub.RoomListener. Redis errors are
// logged; the next heartbeat repairs the entry.
func Listener(d Directory, timeout time.Duration) func(domain.RoomKey, bool) {
	return func(key domain.RoomKey, active bool) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var err error
		if active {
			err = d.Register(ctx, key)
		} else {
			err = d.Deregister(ctx, key)
		}
		if err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldRoom, key.String()).Bool("active", active).Msg("directory update failed")
		}
	}
}
