// Package redisdb keeps item attribute values in Redis and exposes them to a
// valuecache.Manager: the Store is a valuecache.Database whose transactions
// report the change counter and the changed-item log, and HashAttribute loads
// one attribute column from a Redis hash.
//
// Layout under the key prefix:
//
//	<prefix>icn        change counter, incremented once per write
//	<prefix>changes    sorted set of item ids scored by the counter of their last change
//	<prefix>trimmed    counter up to which the change log has been discarded
//	<prefix>attr:<a>   hash of item id to encoded value of attribute a
package redisdb

import (
	"context"
	"slices"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/valuecache-go/pkg/compression"
	"github.com/vnykmshr/valuecache-go/pkg/valuecache"
)

// DefaultBatchSize is the number of items fetched per HMGET.
const DefaultBatchSize = 256

// recordChange bumps the counter, scores the changed items with it and trims
// the change log to the configured retention.
var recordChange = redis.NewScript(`
local icn = redis.call('INCR', KEYS[1])
local retention = tonumber(ARGV[1])
for i = 2, #ARGV do
	redis.call('ZADD', KEYS[2], icn, ARGV[i])
end
if retention > 0 and icn > retention then
	local floor = icn - retention
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', floor)
	redis.call('SET', KEYS[3], floor)
end
return icn
`)

// Config holds Redis database configuration
type Config struct {
	// Client is the Redis client to use
	Client redis.Cmdable

	// KeyPrefix is prepended to all keys to avoid conflicts
	KeyPrefix string

	// Codec encodes attribute values; defaults to uncompressed JSON
	Codec *compression.Codec

	// BatchSize is the number of items an attribute loads per round trip
	BatchSize int

	// ChangeLogRetention is the number of counter increments the change log
	// covers. Older readers fall back to a full reload. 0 keeps everything.
	ChangeLogRetention int64
}

// Store is a Redis-backed item database
type Store struct {
	client    redis.Cmdable
	keyPrefix string
	codec     *compression.Codec
	batchSize int
	retention int64
}

// New creates a new Redis database with the given configuration
func New(config *Config) (*Store, error) {
	if config == nil || config.Client == nil {
		return nil, errors.New("redis client is required")
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "valuecache:"
	}

	codec := config.Codec
	if codec == nil {
		var err error
		codec, err = compression.NewCodec(nil)
		if err != nil {
			return nil, err
		}
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Store{
		client:    config.Client,
		keyPrefix: keyPrefix,
		codec:     codec,
		batchSize: batchSize,
		retention: max(config.ChangeLogRetention, 0),
	}, nil
}

// Write stores values of one attribute and records their items as changed.
// It returns the new change counter.
func (s *Store) Write(ctx context.Context, attribute string, values map[int64]any) (int64, error) {
	if len(values) == 0 {
		return s.Icn(ctx)
	}

	fields := make([]any, 0, 2*len(values))
	items := make([]int64, 0, len(values))
	for item, value := range values {
		encoded, err := s.codec.Encode(value)
		if err != nil {
			return 0, errors.Wrapf(err, "encode %s of item %d", attribute, item)
		}
		fields = append(fields, itemField(item), encoded)
		items = append(items, item)
	}

	return s.commit(ctx, items, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.attributeKey(attribute), fields...)
	})
}

// Delete removes items from the given attributes and records them as changed.
// It returns the new change counter.
func (s *Store) Delete(ctx context.Context, attributes []string, items ...int64) (int64, error) {
	if len(items) == 0 {
		return s.Icn(ctx)
	}

	fields := make([]string, len(items))
	for i, item := range items {
		fields[i] = itemField(item)
	}

	return s.commit(ctx, items, func(pipe redis.Pipeliner) {
		for _, attribute := range attributes {
			pipe.HDel(ctx, s.attributeKey(attribute), fields...)
		}
	})
}

// commit applies a write and its change record in one MULTI/EXEC.
func (s *Store) commit(ctx context.Context, items []int64, write func(redis.Pipeliner)) (int64, error) {
	args := make([]any, 0, len(items)+1)
	args = append(args, s.retention)
	for _, item := range items {
		args = append(args, item)
	}

	var icn *redis.Cmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		write(pipe)
		icn = recordChange.Eval(ctx, pipe, []string{s.icnKey(), s.changesKey(), s.trimmedKey()}, args...)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "commit write")
	}
	return icn.Int64()
}

// Icn returns the current change counter
func (s *Store) Icn(ctx context.Context) (int64, error) {
	icn, err := s.client.Get(ctx, s.icnKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read change counter")
	}
	return icn, nil
}

// Read runs fn against a view of the database at the current change counter.
// Redis offers no snapshots, so attribute loads see values committed after
// the counter was read; those items are also reported by the next catch-up.
func (s *Store) Read(ctx context.Context, fn func(ctx context.Context, tx valuecache.Transaction) error) error {
	icn, err := s.Icn(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, &transaction{store: s, icn: icn})
}

// Clear removes every key under the prefix
func (s *Store) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return errors.Wrap(err, "scan keys")
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "delete keys")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *Store) icnKey() string     { return s.keyPrefix + "icn" }
func (s *Store) changesKey() string { return s.keyPrefix + "changes" }
func (s *Store) trimmedKey() string { return s.keyPrefix + "trimmed" }

func (s *Store) attributeKey(attribute string) string {
	return s.keyPrefix + "attr:" + attribute
}

func itemField(item int64) string {
	return strconv.FormatInt(item, 10)
}

// transaction is a read view at a fixed change counter
type transaction struct {
	store *Store
	icn   int64
}

func (tx *transaction) Icn() int64 {
	return tx.icn
}

// ChangedItemsSorted reports items whose last change is newer than sinceIcn.
// The upper bound is open, so items changed after the view was taken are
// included; marking them outdated early is harmless.
func (tx *transaction) ChangedItemsSorted(ctx context.Context, sinceIcn int64) ([]int64, error) {
	s := tx.store

	trimmed, err := s.client.Get(ctx, s.trimmedKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "read change log floor")
	}
	if sinceIcn < trimmed {
		return nil, valuecache.ErrChangesUnavailable
	}

	members, err := s.client.ZRangeByScore(ctx, s.changesKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(sinceIcn, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read change log")
	}

	items := make([]int64, 0, len(members))
	for _, member := range members {
		item, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse changed item %q", member)
		}
		items = append(items, item)
	}
	slices.Sort(items)
	return items, nil
}

// Ensure interfaces are implemented
var (
	_ valuecache.Database    = (*Store)(nil)
	_ valuecache.Transaction = (*transaction)(nil)
)
