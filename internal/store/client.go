// Package store implements the Aggregate Store Client (spec.md §4.6): a thin
// typed layer over a Redis-compatible key/value store providing the
// AGPARTS/AGPARTKEYS/AGPARTVALUES/AGPARTPUB namespaces, pipelined publish,
// and replica fail-over, grounded on the pack's Redis cache/queue/rate-limit
// clients (internal/cache/redis.go, internal/queue/redis_notifier.go,
// internal/ratelimit/redis_backend.go).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/metrics"
)

// Row is one (type -> value) pair to publish for a key, or a tombstone when
// Value is nil (type=null, meaning a whole-type or whole-key removal per
// spec.md §4.6).
type Row struct {
	Key   string
	Type  string // empty string + Value==nil means whole-key removal
	Value any    // JSON-marshalable; nil for a tombstone
}

// PubMessage is one entry of the AGPARTPUB channel payload.
type PubMessage struct {
	Key  string  `json:"key"`
	Type *string `json:"type"`
}

// Client wraps a Redis connection pool (or fail-over list of replicas) with
// the aggregate store's namespace and operation contracts.
type Client struct {
	mu       sync.Mutex
	replicas []string
	password string
	db       int
	instance string
	moduleID string

	rdb     *redis.Client
	current string
}

// Config configures a Client.
type Config struct {
	Replicas []string
	Password string
	DB       int
	ModuleID string
	Instance string
}

// NewClient constructs a Client and connects to the first healthy replica,
// per spec.md §4.6's replica policy.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{
		replicas: cfg.Replicas,
		password: cfg.Password,
		db:       cfg.DB,
		moduleID: cfg.ModuleID,
		instance: cfg.Instance,
	}
	if err := c.reconnect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// reconnect fails over across the replica list, pinning to the first healthy
// endpoint, per spec.md §4.6. On reconnect it clears this instance's
// liveness key and asserts it fresh.
func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, addr := range c.replicas {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: c.password,
			DB:       c.db,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			lastErr = err
			rdb.Close()
			continue
		}

		livenessKey := c.livenessKey()
		exists, err := rdb.Exists(ctx, livenessKey).Result()
		if err != nil {
			lastErr = err
			rdb.Close()
			continue
		}
		if exists == 0 {
			logging.Op().Info("store: liveness key absent, remote restart detected", "addr", addr)
		}
		if err := rdb.Set(ctx, livenessKey, "True", 0).Err(); err != nil {
			lastErr = err
			rdb.Close()
			continue
		}

		if c.rdb != nil {
			c.rdb.Close()
		}
		c.rdb = rdb
		c.current = addr
		logging.Op().Info("store: connected", "addr", addr)
		return nil
	}

	metrics.RecordStoreError("reconnect")
	return fmt.Errorf("store: no healthy replica available: %w", lastErr)
}

func (c *Client) livenessKey() string {
	return c.moduleID + ":" + c.instance
}

func (c *Client) client() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func partsKey(instance string) string { return "AGPARTS:" + instance }
func partKeysKey(instance string, partition int) string {
	return "AGPARTKEYS:" + instance + ":" + strconv.Itoa(partition)
}
func partValuesKey(instance string, partition int, key string) string {
	return "AGPARTVALUES:" + instance + ":" + strconv.Itoa(partition) + ":" + key
}
func partPubChannel(instance string, partition int) string {
	return "AGPARTPUB:" + instance + ":" + strconv.Itoa(partition)
}

// Epoch returns the currently stored acq_time for (instance, partition), or
// 0 if unset.
func (c *Client) Epoch(ctx context.Context, partition int) (int64, error) {
	v, err := c.client().HGet(ctx, partsKey(c.instance), strconv.Itoa(partition)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		metrics.RecordStoreError("epoch")
		return 0, err
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, nil
}

// SetEpoch writes the partition's new acquisition epoch to AGPARTS. Per
// spec.md §8, AGPARTS[p] must be non-decreasing across the process lifetime;
// callers are expected to only ever increase it.
func (c *Client) SetEpoch(ctx context.Context, partition int, epochUs int64) error {
	if err := c.client().HSet(ctx, partsKey(c.instance), strconv.Itoa(partition), epochUs).Err(); err != nil {
		metrics.RecordStoreError("set_epoch")
		return err
	}
	metrics.SetPartitionEpoch(partition, epochUs)
	return nil
}

// RemoveEpoch removes the partition's epoch entry on release (spec.md §4.5).
func (c *Client) RemoveEpoch(ctx context.Context, partition int) error {
	return c.client().HDel(ctx, partsKey(c.instance), strconv.Itoa(partition)).Err()
}

// PublishBatch pipelines up to maxOutRows writes for rows into
// AGPARTKEYS/AGPARTVALUES and publishes the changed (key, type) tuples on
// the partition's pub channel, per spec.md §4.2 step 4 and §4.6.
func (c *Client) PublishBatch(ctx context.Context, partition int, epochUs int64, rows []Row, maxOutRows int) error {
	if maxOutRows <= 0 {
		maxOutRows = 20
	}
	for start := 0; start < len(rows); start += maxOutRows {
		end := start + maxOutRows
		if end > len(rows) {
			end = len(rows)
		}
		if err := c.publishChunk(ctx, partition, epochUs, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) publishChunk(ctx context.Context, partition int, epochUs int64, rows []Row) error {
	pipe := c.client().Pipeline()
	msgs := make([]PubMessage, 0, len(rows))

	for _, row := range rows {
		if row.Value == nil && row.Type == "" {
			pipe.Del(ctx, partValuesKey(c.instance, partition, row.Key))
			pipe.SRem(ctx, partKeysKey(c.instance, partition), row.Key)
			msgs = append(msgs, PubMessage{Key: row.Key, Type: nil})
			continue
		}
		if row.Value == nil {
			typ := row.Type
			pipe.HDel(ctx, partValuesKey(c.instance, partition, row.Key), typ)
			msgs = append(msgs, PubMessage{Key: row.Key, Type: &typ})
			continue
		}
		data, err := json.Marshal(row.Value)
		if err != nil {
			return fmt.Errorf("store: marshal row %s/%s: %w", row.Key, row.Type, err)
		}
		pipe.SAdd(ctx, partKeysKey(c.instance, partition), row.Key)
		pipe.HSet(ctx, partValuesKey(c.instance, partition, row.Key), row.Type, string(data))
		typ := row.Type
		msgs = append(msgs, PubMessage{Key: row.Key, Type: &typ})
	}
	pipe.HSet(ctx, partsKey(c.instance), strconv.Itoa(partition), epochUs)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordStoreError("publish_batch")
		return fmt.Errorf("store: publish batch: %w", err)
	}

	payload, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	if err := c.client().Publish(ctx, partPubChannel(c.instance, partition), payload).Err(); err != nil {
		metrics.RecordStoreError("publish_notify")
		return err
	}
	return nil
}

// ClearPartition pipelined-deletes every sub-key of a partition (the
// AGPARTKEYS set and every AGPARTVALUES:*hash), per spec.md §4.6.
func (c *Client) ClearPartition(ctx context.Context, partition int) error {
	keysSet := partKeysKey(c.instance, partition)
	keys, err := c.client().SMembers(ctx, keysSet).Result()
	if err != nil && err != redis.Nil {
		metrics.RecordStoreError("clear_partition")
		return err
	}

	pipe := c.client().Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, partValuesKey(c.instance, partition, k))
	}
	pipe.Del(ctx, keysSet)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		metrics.RecordStoreError("clear_partition")
		return fmt.Errorf("store: clear partition %d: %w", partition, err)
	}
	return nil
}

// Keys returns the UVE keys currently present in a partition's AGPARTKEYS set.
func (c *Client) Keys(ctx context.Context, partition int) ([]string, error) {
	return c.client().SMembers(ctx, partKeysKey(c.instance, partition)).Result()
}

// Values returns the type->JSON hash for a key in a partition.
func (c *Client) Values(ctx context.Context, partition int, key string) (map[string]string, error) {
	return c.client().HGetAll(ctx, partValuesKey(c.instance, partition, key)).Result()
}

// Subscribe returns a channel of raw AGPARTPUB payloads for a partition.
func (c *Client) Subscribe(ctx context.Context, partition int) *redis.PubSub {
	return c.client().Subscribe(ctx, partPubChannel(c.instance, partition))
}

func membersKey(cluster string) string  { return "AGMEMBERS:" + cluster }
func membersChan(cluster string) string { return "AGMEMBERS:" + cluster + ":changed" }

// Heartbeat records this member's liveness in the cluster's membership set
// with a TTL and announces a membership change on the cluster's pub/sub
// channel, per SPEC_FULL.md §16's membership transport (reusing the
// aggregate store's Redis client rather than a second coordination
// library).
func (c *Client) Heartbeat(ctx context.Context, cluster, member string, ttl time.Duration) error {
	key := membersKey(cluster) + ":" + member
	if err := c.client().Set(ctx, key, "1", ttl).Err(); err != nil {
		metrics.RecordStoreError("heartbeat")
		return err
	}
	return c.client().Publish(ctx, membersChan(cluster), member).Err()
}

// Members scans the cluster's membership keys for the currently live set,
// relying on each Heartbeat's TTL to expire departed members.
func (c *Client) Members(ctx context.Context, cluster string) ([]string, error) {
	prefix := membersKey(cluster) + ":"
	var out []string
	iter := c.client().Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		metrics.RecordStoreError("members_scan")
		return nil, err
	}
	return out, nil
}

// WatchMembers returns a channel of membership-change announcements for a
// cluster; callers should treat each message as a cue to re-poll Members,
// not as the authoritative membership delta.
func (c *Client) WatchMembers(ctx context.Context, cluster string) *redis.PubSub {
	return c.client().Subscribe(ctx, membersChan(cluster))
}
