package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	ClearedExpiredLocks  int64 `json:"cleared_expired_locks"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, username, email, password_hash, role, is_active, failed_attempts, locked_until, created_at, updated_at`

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getUser(ctx, `WHERE email = $1`, email)
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	return r.getUser(ctx, `WHERE id = $1`, id)
}

func (r *Repository) getUser(ctx context.Context, where string, arg any) (User, error) {
	var user User
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		`+where, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role,
		&user.IsActive, &user.FailedAttempts, &lockedUntil, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		user.LockedUntil = &value
	}

	return user, nil
}

// IdentityExists runs the single existence check shared by both
// registration paths. Matching is case-sensitive on both fields.
func (r *Repository) IdentityExists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM users WHERE username = $1 OR email = $2
		)
	`, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check identity exists: %w", err)
	}

	return exists, nil
}

func (r *Repository) Create(ctx context.Context, user User) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	user.ID = id.String()
	user.IsActive = true
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, is_active, failed_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.IsActive, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateIdentity
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

// RecordFailedAttempt increments the account's failed-login counter and,
// once the counter reaches maxAttempts, opens a lock window. The read
// and the write run in one transaction so an aborted request can never
// leave the counter half-updated.
func (r *Repository) RecordFailedAttempt(ctx context.Context, userID string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin failed attempt tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&failed, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user row: %w", err)
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return &until, nil
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any = nil
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		nextLockValue = until
		failed = 0
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, userID, failed, nextLockValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("update failed attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed attempt tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ResetLoginState(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}

	return nil
}

func (r *Repository) AppendRefreshToken(ctx context.Context, userID, rawToken string, issuedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (user_id, token_hash, issued_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token_hash) DO NOTHING
	`, userID, hashToken(rawToken), issuedAt.UTC())
	if err != nil {
		return fmt.Errorf("append refresh token: %w", err)
	}

	return nil
}

// HasRefreshToken reports whether the literal token is still a member
// of the user's refresh-token set. Membership is the source of truth
// for revocation, independent of the token's embedded expiry.
func (r *Repository) HasRefreshToken(ctx context.Context, userID, rawToken string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM auth_refresh_tokens
			WHERE user_id = $1 AND token_hash = $2
		)
	`, userID, hashToken(rawToken)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check refresh token: %w", err)
	}

	return exists, nil
}

// RemoveRefreshToken deletes the matching entry if present. Absence is
// not an error, which keeps logout idempotent.
func (r *Repository) RemoveRefreshToken(ctx context.Context, userID, rawToken string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_refresh_tokens
		WHERE user_id = $1 AND token_hash = $2
	`, userID, hashToken(rawToken))
	if err != nil {
		return fmt.Errorf("remove refresh token: %w", err)
	}

	return nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, refreshRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if refreshRetention <= 0 {
		refreshRetention = 14 * 24 * time.Hour
	}

	cutoff := time.Now().UTC().Add(-refreshRetention)

	deletedTokens, err := r.deleteStaleRefreshTokens(ctx, cutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	clearedLocks, err := r.clearExpiredLocks(ctx)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedTokens,
		ClearedExpiredLocks:  clearedLocks,
	}, nil
}

func (r *Repository) deleteStaleRefreshTokens(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT user_id, token_hash
			FROM auth_refresh_tokens
			WHERE issued_at < $1
			ORDER BY issued_at ASC
			LIMIT $2
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.user_id = stale.user_id AND t.token_hash = stale.token_hash
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) clearExpiredLocks(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("clear expired locks: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired locks rows affected: %w", err)
	}

	return affected, nil
}

func hashToken(rawToken string) string {
	hash := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(hash[:])
}
