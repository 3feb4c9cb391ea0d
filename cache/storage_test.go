package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testStorage(t *testing.T, storage Storage) {
	ctx := context.Background()
	names := NewNames("", "")

	t.Run("open creates partition", func(t *testing.T) {
		if ok, _ := storage.Has(ctx, names.Static); ok {
			t.Fatalf("Partition %s exists before open", names.Static)
		}
		p, err := storage.Open(ctx, names.Static)
		if err != nil {
			t.Fatalf("Open: %s", err)
		}
		if p.Name() != names.Static {
			t.Fatalf("Partition name is %s", p.Name())
		}
		if ok, err := storage.Has(ctx, names.Static); !ok || err != nil {
			t.Fatalf("Partition %s missing after open (%v)", names.Static, err)
		}
	})

	t.Run("put get overwrite", func(t *testing.T) {
		p, _ := storage.Open(ctx, names.Static)
		now := time.Now().Truncate(time.Millisecond)
		if err := p.Put(ctx, Entry{Key: "GET http://a/1", StoredAt: now, Bytes: []byte("one")}); err != nil {
			t.Fatalf("Put: %s", err)
		}
		if err := p.Put(ctx, Entry{Key: "GET http://a/1", StoredAt: now, Bytes: []byte("two")}); err != nil {
			t.Fatalf("Put: %s", err)
		}
		entry, ok, err := p.Get(ctx, "GET http://a/1")
		if err != nil || !ok {
			t.Fatalf("Get: %v %v", ok, err)
		}
		if string(entry.Bytes) != "two" {
			t.Fatalf("Entry is %s, expected last write", entry.Bytes)
		}
		if !entry.StoredAt.Equal(now) {
			t.Fatalf("StoredAt is %v, expected %v", entry.StoredAt, now)
		}
		if _, ok, _ := p.Get(ctx, "GET http://a/none"); ok {
			t.Fatalf("Found entry that was never stored")
		}
	})

	t.Run("match honors creation order", func(t *testing.T) {
		static, _ := storage.Open(ctx, names.Static)
		dynamic, _ := storage.Open(ctx, names.Dynamic)
		dynamic.Put(ctx, Entry{Key: "GET http://a/shared", StoredAt: time.Now(), Bytes: []byte("dynamic")})
		static.Put(ctx, Entry{Key: "GET http://a/shared", StoredAt: time.Now(), Bytes: []byte("static")})
		dynamic.Put(ctx, Entry{Key: "GET http://a/only-dynamic", StoredAt: time.Now(), Bytes: []byte("dynamic")})

		entry, ok, err := storage.Match(ctx, "GET http://a/shared")
		if err != nil || !ok || string(entry.Bytes) != "static" {
			t.Fatalf("Match returned %s (%v, %v)", entry.Bytes, ok, err)
		}
		entry, ok, _ = storage.Match(ctx, "GET http://a/only-dynamic")
		if !ok || string(entry.Bytes) != "dynamic" {
			t.Fatalf("Match returned %s (%v)", entry.Bytes, ok)
		}
		if _, ok, _ := storage.Match(ctx, "GET http://a/nowhere"); ok {
			t.Fatalf("Match found missing key")
		}
		got, _ := storage.Names(ctx)
		if len(got) != 2 || got[0] != names.Static || got[1] != names.Dynamic {
			t.Fatalf("Names are %v", got)
		}
	})

	t.Run("keys and entry delete", func(t *testing.T) {
		p, _ := storage.Open(ctx, names.Dynamic)
		keys, err := p.Keys(ctx)
		if err != nil || len(keys) != 2 || keys[0] != "GET http://a/only-dynamic" {
			t.Fatalf("Keys are %v (%v)", keys, err)
		}
		if ok, _ := p.Delete(ctx, "GET http://a/only-dynamic"); !ok {
			t.Fatalf("Delete reported missing entry")
		}
		if ok, _ := p.Delete(ctx, "GET http://a/only-dynamic"); ok {
			t.Fatalf("Second delete reported removal")
		}
	})

	t.Run("partition delete", func(t *testing.T) {
		old, _ := storage.Open(ctx, "ttrust-static-v1.0.0")
		old.Put(ctx, Entry{Key: "GET http://a/old", StoredAt: time.Now(), Bytes: []byte("old")})
		if ok, err := storage.Delete(ctx, "ttrust-static-v1.0.0"); !ok || err != nil {
			t.Fatalf("Delete: %v %v", ok, err)
		}
		if ok, _ := storage.Delete(ctx, "ttrust-static-v1.0.0"); ok {
			t.Fatalf("Second delete reported removal")
		}
		if _, ok, _ := storage.Match(ctx, "GET http://a/old"); ok {
			t.Fatalf("Entry of deleted partition still matches")
		}
		// a write through a stale handle brings the partition back
		old.Put(ctx, Entry{Key: "GET http://a/old", StoredAt: time.Now(), Bytes: []byte("again")})
		if ok, _ := storage.Has(ctx, "ttrust-static-v1.0.0"); !ok {
			t.Fatalf("Partition not recreated on write")
		}
		if _, ok, _ := old.Get(ctx, "GET http://a/old"); !ok {
			t.Fatalf("Entry missing after recreation")
		}
		storage.Delete(ctx, "ttrust-static-v1.0.0")
	})

	t.Run("concurrent writes", func(t *testing.T) {
		p, _ := storage.Open(ctx, names.Dynamic)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := p.Put(ctx, Entry{Key: "GET http://a/race", StoredAt: time.Now(), Bytes: []byte{byte(i)}}); err != nil {
					t.Errorf("Put: %s", err)
				}
			}(i)
		}
		wg.Wait()
		if _, ok, _ := p.Get(ctx, "GET http://a/race"); !ok {
			t.Fatalf("Entry missing after concurrent writes")
		}
	})
}

func TestMemStorage(t *testing.T) {
	testStorage(t, NewMemStorage())
}

func TestSQLiteStorage(t *testing.T) {
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Could not open db: %s", err)
	}
	defer storage.Close()
	testStorage(t, storage)
}

func TestSQLiteStorageInMemory(t *testing.T) {
	storage, err := NewSQLiteStorage("")
	if err != nil {
		t.Fatalf("Could not open db: %s", err)
	}
	defer storage.Close()
	testStorage(t, storage)
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "cache.db")
	storage, err := NewSQLiteStorage(filename)
	if err != nil {
		t.Fatalf("Could not open db: %s", err)
	}
	p, _ := storage.Open(ctx, "ttrust-static-v1.1.0")
	p.Put(ctx, Entry{Key: "GET http://a/", StoredAt: time.Now(), Bytes: []byte("index")})
	storage.Close()

	storage, err = NewSQLiteStorage(filename)
	if err != nil {
		t.Fatalf("Could not reopen db: %s", err)
	}
	defer storage.Close()
	entry, ok, err := storage.Match(ctx, "GET http://a/")
	if err != nil || !ok || string(entry.Bytes) != "index" {
		t.Fatalf("Entry lost on reopen: %s (%v, %v)", entry.Bytes, ok, err)
	}
}

func TestRedisStorage(t *testing.T) {
	rawURL := os.Getenv("SW_CACHE_TEST_REDIS_URL")
	if rawURL == "" {
		t.Skip("SW_CACHE_TEST_REDIS_URL not set")
	}
	namespace := "sw-cache-test-" + time.Now().Format("150405.000000")
	storage, err := NewRedisStorage(rawURL, namespace)
	if err != nil {
		t.Fatalf("Could not connect: %s", err)
	}
	defer func() {
		ctx := context.Background()
		names, _ := storage.Names(ctx)
		for _, name := range names {
			storage.Delete(ctx, name)
		}
		storage.Client().Del(ctx, namespace+":seq")
		storage.Close()
	}()
	testStorage(t, storage)
}

func TestNames(t *testing.T) {
	names := NewNames("", "")
	if names.Static != "ttrust-static-v1.1.0" || names.Dynamic != "ttrust-dynamic-v1.1.0" {
		t.Fatalf("Default names are %+v", names)
	}
	names = NewNames("app", "v2")
	if names.Static != "app-static-v2" || names.Dynamic != "app-dynamic-v2" {
		t.Fatalf("Names are %+v", names)
	}
	if !names.IsCurrent("app-dynamic-v2") || names.IsCurrent("app-static-v1") {
		t.Fatalf("IsCurrent mismatch")
	}
	if len(names.Current()) != 2 {
		t.Fatalf("Current is %v", names.Current())
	}
}
