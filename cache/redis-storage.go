package cache

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 2 * time.Second

// RedisStorage shares partitions between processes through Redis.
// Partition names live in a sorted set scored by creation sequence,
// each partition is a hash of key to entry envelope.
type RedisStorage struct {
	client    *redis.Client
	namespace string
}

type redisPartition struct {
	name    string
	storage *RedisStorage
}

type redisEnvelope struct {
	StoredAt time.Time `json:"stored_at"`
	Payload  []byte    `json:"payload"`
}

// NewRedisStorage connects to the Redis instance at rawURL.
// All keys are prefixed with namespace (default "sw-cache").
func NewRedisStorage(rawURL string, namespace string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "parse redis url")
	}
	if namespace == "" {
		namespace = "sw-cache"
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultRedisTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "redis ping failed")
	}
	return &RedisStorage{client: client, namespace: namespace}, nil
}

// Client returns the underlying redis client.
func (s *RedisStorage) Client() *redis.Client {
	return s.client
}

// Close terminates the underlying Redis client connections.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) namesKey() string {
	return s.namespace + ":partitions"
}

func (s *RedisStorage) seqKey() string {
	return s.namespace + ":seq"
}

func (s *RedisStorage) partitionKey(name string) string {
	return s.namespace + ":partition:" + name
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := s.ensure(ctx, name); err != nil {
		return nil, err
	}
	return redisPartition{name: name, storage: s}, nil
}

func (s *RedisStorage) ensure(ctx context.Context, name string) error {
	ok, err := s.Has(ctx, name)
	if err != nil || ok {
		return err
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "redis incr")
	}
	err = s.client.ZAddNX(ctx, s.namesKey(), redis.Z{Score: float64(seq), Member: name}).Err()
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "could not create partition %s", name)
	}
	return nil
}

func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.client.ZScore(ctx, s.namesKey(), name).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "redis zscore")
	}
	return true, nil
}

func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "redis zrange")
	}
	return names, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	pipe := s.client.TxPipeline()
	removed := pipe.ZRem(ctx, s.namesKey(), name)
	pipe.Del(ctx, s.partitionKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "could not delete partition %s", name)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Match(ctx context.Context, key string) (Entry, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, name := range names {
		entry, ok, err := s.get(ctx, name, key)
		if err != nil || ok {
			return entry, ok, err
		}
	}
	return Entry{}, false, nil
}

func (s *RedisStorage) get(ctx context.Context, name string, key string) (Entry, bool, error) {
	data, err := s.client.HGet(ctx, s.partitionKey(name), key).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, errors.CodeDatabase, "redis hget %q", key)
	}
	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, false, errors.Wrapf(err, errors.CodeDatabase, "decode cached payload %q", key)
	}
	return Entry{Key: key, StoredAt: env.StoredAt, Bytes: env.Payload}, true, nil
}

func (p redisPartition) Name() string {
	return p.name
}

func (p redisPartition) Get(ctx context.Context, key string) (Entry, bool, error) {
	return p.storage.get(ctx, p.name, key)
}

// Put writes the entry, recreating the partition if it was deleted in the meantime.
func (p redisPartition) Put(ctx context.Context, entry Entry) error {
	if err := p.storage.ensure(ctx, p.name); err != nil {
		return err
	}
	data, err := json.Marshal(redisEnvelope{StoredAt: entry.StoredAt.UTC(), Payload: entry.Bytes})
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "encode cached payload %q", entry.Key)
	}
	if err := p.storage.client.HSet(ctx, p.storage.partitionKey(p.name), entry.Key, data).Err(); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "redis hset %q", entry.Key)
	}
	return nil
}

func (p redisPartition) Delete(ctx context.Context, key string) (bool, error) {
	n, err := p.storage.client.HDel(ctx, p.storage.partitionKey(p.name), key).Result()
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "redis hdel %q", key)
	}
	return n > 0, nil
}

func (p redisPartition) Keys(ctx context.Context) ([]string, error) {
	keys, err := p.storage.client.HKeys(ctx, p.storage.partitionKey(p.name)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "redis hkeys")
	}
	sort.Strings(keys)
	return keys, nil
}
