package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so repositories run the
// same statements inside and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Database struct {
	Conn *sql.DB
	log  *zap.Logger
}

func NewDatabase(dsn string, opts Options, log *zap.Logger) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(opts.MaxOpenConns)
	conn.SetMaxIdleConns(opts.MaxIdleConns)
	conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	return &Database{Conn: conn, log: log.Named("db")}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// WithTx runs fn on a single pooled connection inside a transaction. The
// transaction is committed when fn returns nil and rolled back otherwise,
// including on panic, so the connection always goes back to the pool.
func (d *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.log.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(255) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            profile_image VARCHAR(255),
            created TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            type VARCHAR(10) NOT NULL CHECK (type IN ('direct', 'group')),
            name VARCHAR(255),
            cover_image VARCHAR(255),
            created TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS user_rooms (
            user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            room_id BIGINT REFERENCES rooms(id) ON DELETE CASCADE,
            PRIMARY KEY (user_id, room_id)
        )`,

		`CREATE INDEX IF NOT EXISTS user_rooms_room_id_idx ON user_rooms (room_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            sender_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
            text TEXT NOT NULL,
            created TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE INDEX IF NOT EXISTS messages_room_id_idx ON messages (room_id, id DESC)`,

		`CREATE TABLE IF NOT EXISTS files (
            message_id BIGINT REFERENCES messages(id) ON DELETE CASCADE,
            message_index INT NOT NULL,
            file_hash VARCHAR(255) NOT NULL,
            file_name VARCHAR(255) NOT NULL,
            PRIMARY KEY (message_id, message_index)
        )`,
	}

	for _, query := range queries {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
