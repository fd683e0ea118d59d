package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"leadflow/backend/internal/otp/domain"
)

const recordColumns = `id, user_id, purpose, channel, code_hash, expires_at, used, used_at,
	reset_token_hash, reset_expires_at, purge_at, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the record. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.UserID, string(rec.Purpose), string(rec.Channel), rec.CodeHash, rec.ExpiresAt,
		rec.Used, nullTime(rec.UsedAt), nullString(rec.ResetTokenHash), nullTime(rec.ResetExpiresAt),
		rec.PurgeAt, rec.CreatedAt)
	return err
}

// Latest returns the most recent record for userID and purpose, or nil if not found.
func (r *PostgresRepository) Latest(ctx context.Context, userID string, purpose domain.Purpose) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM otp_records
		WHERE user_id = $1 AND purpose = $2 AND code_hash <> ''
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID, string(purpose))
	return scanRecord(row)
}

// Claim sets used only while the row is still unused, so two concurrent claims cannot both succeed.
func (r *PostgresRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otp_records SET used = TRUE, used_at = $2
		WHERE id = $1 AND used = FALSE`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) AttachResetToken(ctx context.Context, id, tokenHash string, expiresAt, purgeAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE otp_records
		SET reset_token_hash = $2, reset_expires_at = $3, purge_at = GREATEST(purge_at, $4)
		WHERE id = $1 AND used = TRUE`, id, tokenHash, expiresAt, purgeAt)
	return err
}

func (r *PostgresRepository) GetByResetToken(ctx context.Context, userID, tokenHash string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM otp_records
		WHERE user_id = $1 AND purpose = $2 AND reset_token_hash = $3
		ORDER BY created_at DESC
		LIMIT 1`, userID, string(domain.PurposeForgotPassword), tokenHash)
	return scanRecord(row)
}

func (r *PostgresRepository) ExpireResetToken(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otp_records SET reset_expires_at = $2
		WHERE id = $1 AND reset_expires_at > $2`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpired removes rows past their purge time. Postgres has no TTL index, so the worker calls this periodically.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_records WHERE purge_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecord(row *sql.Row) (*domain.Record, error) {
	var (
		rec            domain.Record
		purpose        string
		channel        string
		usedAt         sql.NullTime
		resetHash      sql.NullString
		resetExpiresAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.UserID, &purpose, &channel, &rec.CodeHash, &rec.ExpiresAt, &rec.Used,
		&usedAt, &resetHash, &resetExpiresAt, &rec.PurgeAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Purpose = domain.Purpose(purpose)
	rec.Channel = domain.Channel(channel)
	if usedAt.Valid {
		t := usedAt.Time
		rec.UsedAt = &t
	}
	if resetHash.Valid {
		rec.ResetTokenHash = resetHash.String
	}
	if resetExpiresAt.Valid {
		t := resetExpiresAt.Time
		rec.ResetExpiresAt = &t
	}
	return &rec, nil
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
