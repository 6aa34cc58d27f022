package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"roomchat/internal/apperr"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Store is what the user service needs from persistence.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	SetProfileImage(ctx context.Context, id int64, image string) (string, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var (
		id      int64
		created time.Time
	)
	query := "INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id, created"

	err := r.db.QueryRowContext(ctx, query, user.Username, user.Password).Scan(&id, &created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperr.ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	user.ID = id
	user.Created = created.UnixMilli()
	return user, nil
}

const userColumns = "id, username, password, profile_image, created"

func scanUser(row *sql.Row) (*User, error) {
	var (
		u       User
		image   sql.NullString
		created time.Time
	)
	err := row.Scan(&u.ID, &u.Username, &u.Password, &image, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.ProfileImage = image.String
	u.Created = created.UnixMilli()
	return &u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE username = $1"
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE users SET password = $1 WHERE id = $2", hash, id); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetProfileImage stores image as the user's picture and returns the one it
// replaced, if any.
func (r *Repository) SetProfileImage(ctx context.Context, id int64, image string) (string, error) {
	query := `
		UPDATE users SET profile_image = $1
		FROM (SELECT profile_image AS previous FROM users WHERE id = $2 FOR UPDATE) old
		WHERE id = $2
		RETURNING old.previous`
	var previous sql.NullString
	err := r.db.QueryRowContext(ctx, query, image, id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("update profile image: %w", err)
	}
	return previous.String, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, profile_image FROM users WHERE username ILIKE $1 ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var (
			u     User
			image sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Username, &image); err != nil {
			return nil, err
		}
		u.ProfileImage = image.String
		users = append(users, u)
	}
	return users, rows.Err()
}
