package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLStore struct {
	db         *sql.DB
	driverName string
}

// New opens the database and creates the schema. driverName is "sqlite3" or "postgres".
func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// One connection keeps ":memory:" databases shared and serializes SQLite writers.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL DEFAULT '',
		profile_pic TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS communities (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_by TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS community_members (
		community_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		pos INTEGER NOT NULL,
		PRIMARY KEY (community_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		community_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		pair_key TEXT UNIQUE,
		last_message_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS rooms_community_idx ON rooms (community_id);

	CREATE TABLE IF NOT EXISTS room_users (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		pos INTEGER NOT NULL,
		PRIMARY KEY (room_id, user_id, role)
	);

	CREATE INDEX IF NOT EXISTS room_users_user_idx ON room_users (user_id, role);

	CREATE TABLE IF NOT EXISTS messages (
		room_id TEXT NOT NULL,
		id TEXT NOT NULL,
		pos INTEGER NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		media TEXT NOT NULL DEFAULT '[]',
		sent_at TIMESTAMP NOT NULL,
		seen BOOLEAN NOT NULL DEFAULT FALSE,
		client_id TEXT NOT NULL DEFAULT '',
		reply_original_id TEXT,
		reply_content TEXT,
		reply_sender_id TEXT,
		reply_sender_username TEXT,
		reply_sender_profile_pic TEXT,
		PRIMARY KEY (room_id, id)
	);

	CREATE TABLE IF NOT EXISTS message_users (
		room_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		pos INTEGER NOT NULL,
		PRIMARY KEY (room_id, message_id, user_id, kind)
	);

	CREATE TABLE IF NOT EXISTS message_reactions (
		room_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		PRIMARY KEY (room_id, message_id, user_id)
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.inTx(ctx, nil, fn)
}

// withReadTx gives fn one snapshot across all of its statements. SQLite gets
// this from the single pooled connection; Postgres needs repeatable read.
func (s *SQLStore) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	opts := &sql.TxOptions{ReadOnly: true}
	if s.driverName == "postgres" {
		opts.Isolation = sql.LevelRepeatableRead
	}
	return s.inTx(ctx, opts, fn)
}

func (s *SQLStore) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit transaction: %w", commitErr)
		}
	}()
	return fn(tx)
}

// classify maps driver failures onto the chat error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, chaterr.ErrNotFound), errors.Is(err, chaterr.ErrConflict), errors.Is(err, chaterr.ErrUnavailable):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", chaterr.ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %w", chaterr.ErrUnavailable, err)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", chaterr.ErrUnavailable, err)
		case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", chaterr.ErrConflict, err)
		}
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch {
		case pe.Code == "23505":
			return fmt.Errorf("%w: %w", chaterr.ErrConflict, err)
		case pe.Code == "40001", pe.Code == "55P03", pe.Code.Class() == "08", pe.Code.Class() == "57":
			return fmt.Errorf("%w: %w", chaterr.ErrUnavailable, err)
		}
	}
	return err
}
