package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// NewSQLiteStore 以 filename 为数据库文件打开 sqlite 存储，空文件名使用共享内存库。
func NewSQLiteStore(filename string, codec Codec) (Store, error) {
	if codec == nil {
		return nil, errors.New("entry codec required")
	}
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接即可满足串行写入，也避免内存库在多连接间各自独立。
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		`CREATE TABLE IF NOT EXISTS partitions (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			partition TEXT NOT NULL REFERENCES partitions(name) ON DELETE CASCADE,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (partition, key)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return &sqliteStore{db: db, codec: codec}, nil
}

type sqliteStore struct {
	db    *sql.DB
	codec Codec
}

func (s *sqliteStore) OpenPartition(ctx context.Context, name string) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		name, time.Now().Unix())
	return err
}

func (s *sqliteStore) Put(ctx context.Context, partition string, entry Entry) error {
	if entry.Key == "" {
		return errors.New("entry key required")
	}
	payload, err := s.codec.Encode(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM partitions WHERE name = ?", partition).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPartitionNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		partition, entry.Key, entry.StoredAt.Unix(), payload)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE partition = ? AND key = ?", partition, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry, err := s.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

func (s *sqliteStore) Keys(ctx context.Context, partition string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM partitions WHERE name = ?", partition).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE partition = ?", partition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) DeletePartition(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE partition = ?", name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM partitions WHERE name = ?", name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM partitions ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
