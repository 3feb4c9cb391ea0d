package cache

import (
	"context"
	"time"
)

// Storage is a registry of named cache partitions.
// Each partition maps request keys to stored HTTP responses.
// There is no expiry: entries live until they are overwritten
// or until the partition that owns them is deleted.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the partition with the given name, creating it if needed.
	Open(ctx context.Context, name string) (Partition, error)
	// Has checks if a partition with the given name exists.
	Has(ctx context.Context, name string) (bool, error)
	// Names returns the names of all partitions in creation order.
	Names(ctx context.Context) ([]string, error)
	// Delete removes the partition and all of its entries.
	// It returns false if the partition did not exist.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks up the key in every partition, in creation order,
	// and returns the first entry found.
	Match(ctx context.Context, key string) (Entry, bool, error)
}

// Partition is a single named cache.
type Partition interface {
	Name() string
	// Get returns the entry stored under the key, if any.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put stores the entry, replacing any previous entry with the same key.
	Put(ctx context.Context, entry Entry) error
	// Delete removes the entry stored under the key.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys returns all keys stored in the partition.
	Keys(ctx context.Context) ([]string, error)
}

type Entry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}
