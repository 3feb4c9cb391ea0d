package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmgilman/go/errors"
)

// SQLiteStorage persists partitions in a SQLite database,
// so that precached content survives restarts.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

type sqlitePartition struct {
	name    string
	storage *SQLiteStorage
}

// NewSQLiteStorage opens the storage with the given filename as the db.
// If file name is empty, a private in-memory db is opened.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	inMemory := filename == ""
	if inMemory {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "could not open cache db")
	}
	// every connection to :memory: is a new database
	if inMemory {
		db.SetMaxOpenConns(1)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (partition, key)
		)`,
		"CREATE INDEX IF NOT EXISTS entries_key_idx ON entries (key)",
	}
	if !inMemory {
		statements = append(statements, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.CodeDatabase, "could not initialize cache db")
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Partition, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if err := s.ensure(ctx, s.db, name); err != nil {
		return nil, err
	}
	return sqlitePartition{name: name, storage: s}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStorage) ensure(ctx context.Context, db execer, name string) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixMilli())
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "could not create partition %s", name)
	}
	return nil
}

func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM partitions WHERE name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not look up partition")
	}
	return true, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM partitions ORDER BY seq ASC")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "could not list partitions")
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, errors.Wrap(err, errors.CodeDatabase, "could not read partition name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not begin delete")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE partition = ?", name); err != nil {
		_ = tx.Rollback()
		return false, errors.Wrapf(err, errors.CodeDatabase, "could not delete entries of %s", name)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM partitions WHERE name = ?", name)
	if err != nil {
		_ = tx.Rollback()
		return false, errors.Wrapf(err, errors.CodeDatabase, "could not delete partition %s", name)
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not commit delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not count deleted partitions")
	}
	return n > 0, nil
}

func (s *SQLiteStorage) Match(ctx context.Context, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT e.key, e.stored_at, e.bytes
		FROM entries e JOIN partitions p ON p.name = e.partition
		WHERE e.key = ? ORDER BY p.seq ASC LIMIT 1`, key)
	return scanEntry(row)
}

func (p sqlitePartition) Name() string {
	return p.name
}

func (p sqlitePartition) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := p.storage.db.QueryRowContext(ctx,
		"SELECT key, stored_at, bytes FROM entries WHERE partition = ? AND key = ?", p.name, key)
	return scanEntry(row)
}

// Put writes the entry, recreating the partition if it was deleted in the meantime.
func (p sqlitePartition) Put(ctx context.Context, entry Entry) error {
	p.storage.writeMutex.Lock()
	defer p.storage.writeMutex.Unlock()
	tx, err := p.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not begin write")
	}
	if err := p.storage.ensure(ctx, tx, p.name); err != nil {
		_ = tx.Rollback()
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO entries
		(partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		p.name, entry.Key, entry.StoredAt.UnixMilli(), entry.Bytes)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, errors.CodeDatabase, "could not write %s", entry.Key)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not commit write")
	}
	return nil
}

func (p sqlitePartition) Delete(ctx context.Context, key string) (bool, error) {
	p.storage.writeMutex.Lock()
	defer p.storage.writeMutex.Unlock()
	res, err := p.storage.db.ExecContext(ctx,
		"DELETE FROM entries WHERE partition = ? AND key = ?", p.name, key)
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "could not delete %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not count deleted entries")
	}
	return n > 0, nil
}

func (p sqlitePartition) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.storage.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE partition = ? ORDER BY key ASC", p.name)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "could not list keys")
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, errors.Wrap(err, errors.CodeDatabase, "could not read key")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanEntry(row *sql.Row) (Entry, bool, error) {
	var entry Entry
	var storedAt int64
	err := row.Scan(&entry.Key, &storedAt, &entry.Bytes)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "could not read entry")
	}
	entry.StoredAt = time.UnixMilli(storedAt)
	return entry, true, nil
}
