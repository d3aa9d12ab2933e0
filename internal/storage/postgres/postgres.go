// Package postgres is the SQL implementation of the message, user and friendship stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"duet/internal/auth"
	"duet/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at    BIGINT NOT NULL,
	last_seen     BIGINT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower ON users (lower(username));

CREATE TABLE IF NOT EXISTS conversations (
	low             TEXT NOT NULL,
	high            TEXT NOT NULL,
	last_seq        BIGINT NOT NULL DEFAULT 0,
	last_ts         BIGINT NOT NULL DEFAULT 0,
	last_message_id TEXT NOT NULL DEFAULT '',
	last_from       TEXT NOT NULL DEFAULT '',
	last_text       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (low, high)
);

CREATE TABLE IF NOT EXISTS messages (
	low          TEXT NOT NULL,
	high         TEXT NOT NULL,
	seq          BIGINT NOT NULL,
	id           TEXT NOT NULL UNIQUE,
	from_user_id TEXT NOT NULL,
	to_user_id   TEXT NOT NULL,
	text         TEXT NOT NULL,
	ts           BIGINT NOT NULL,
	PRIMARY KEY (low, high, seq)
);

CREATE TABLE IF NOT EXISTS friendships (
	requester_id TEXT NOT NULL,
	addressee_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   BIGINT NOT NULL,
	updated_at   BIGINT NOT NULL,
	PRIMARY KEY (requester_id, addressee_id)
);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	user_id  TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	auth     TEXT NOT NULL,
	p256dh   TEXT NOT NULL,
	PRIMARY KEY (user_id, endpoint)
);
`

type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and creates missing tables.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, creds auth.UserCredentials) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, avatar_url, password_hash, created_at, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		creds.ID, creds.UserName, creds.AvatarURL, creds.PasswordHash, creds.CreatedAt, creds.LastSeen)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return auth.ErrUserExists
	}
	return err
}

const userColumns = `id, username, avatar_url, created_at, last_seen`

func scanUser(row pgx.Row, extra ...any) (models.User, error) {
	var u models.User
	dest := append([]any{&u.ID, &u.UserName, &u.AvatarURL, &u.CreatedAt, &u.LastSeen}, extra...)
	err := row.Scan(dest...)
	return u, err
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	return u, notFound(err, "user "+userID)
}

func (s *Store) GetCredentials(ctx context.Context, username string) (auth.UserCredentials, error) {
	var creds auth.UserCredentials
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE lower(username) = lower($1)`, username)
	user, err := scanUser(row, &creds.PasswordHash)
	if err != nil {
		return auth.UserCredentials{}, notFound(err, "user "+username)
	}
	creds.User = user
	return creds, nil
}

func (s *Store) SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(prefix))
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) LIKE $1 ORDER BY lower(username) LIMIT $2`,
		escaped+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateLastSeen(ctx context.Context, userID string, ts int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_seen = $2 WHERE id = $1`, userID, ts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return nil
}
