package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"leadflow/backend/internal/user/domain"
)

const userColumns = `id, email, name, phone, role, verified, password_hash,
	refresh_token_hash, refresh_token_expires_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, nullString(u.Email), nullString(u.Name), nullString(u.Phone), u.Role, u.Verified,
		nullString(u.PasswordHash), nullString(u.RefreshTokenHash), nullTime(u.RefreshTokenExpiresAt),
		u.CreatedAt, u.UpdatedAt)
	return err
}

func (r *PostgresRepository) SetRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET refresh_token_hash = $2, refresh_token_expires_at = $3, updated_at = $4
		WHERE id = $1`, userID, tokenHash, expiresAt, time.Now().UTC())
	return err
}

func (r *PostgresRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET refresh_token_hash = NULL, refresh_token_expires_at = NULL, updated_at = $2
		WHERE id = $1`, userID, time.Now().UTC())
	return err
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET verified = TRUE, updated_at = $2
		WHERE id = $1`, userID, time.Now().UTC())
	return requireRow(res, err)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1`, userID, passwordHash, time.Now().UTC())
	return requireRow(res, err)
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u                domain.User
		email, name      sql.NullString
		phone, pwHash    sql.NullString
		refreshHash      sql.NullString
		refreshExpiresAt sql.NullTime
	)
	err := row.Scan(&u.ID, &email, &name, &phone, &u.Role, &u.Verified, &pwHash,
		&refreshHash, &refreshExpiresAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Email = email.String
	u.Name = name.String
	u.Phone = phone.String
	u.PasswordHash = pwHash.String
	u.RefreshTokenHash = refreshHash.String
	if refreshExpiresAt.Valid {
		t := refreshExpiresAt.Time
		u.RefreshTokenExpiresAt = &t
	}
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
