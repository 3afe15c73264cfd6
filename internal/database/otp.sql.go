package database

import (
	"context"
	"time"
)

const upsertOtp = `-- name: UpsertOtp :one
INSERT INTO otp_verifications (phone, code, expires_at, is_used, created_at)
VALUES ($1, $2, $3, false, now())
ON CONFLICT (phone) DO UPDATE
SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, is_used = false, attempts = 0, created_at = now()
RETURNING phone, code, expires_at, is_used, attempts, created_at`

type UpsertOtpParams struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (q *Queries) UpsertOtp(ctx context.Context, arg UpsertOtpParams) (OtpVerification, error) {
	row := q.db.QueryRow(ctx, upsertOtp, arg.Phone, arg.Code, arg.ExpiresAt)
	var i OtpVerification
	err := row.Scan(&i.Phone, &i.Code, &i.ExpiresAt, &i.IsUsed, &i.Attempts, &i.CreatedAt)
	return i, err
}

const claimOtpAttempt = `-- name: ClaimOtpAttempt :one
UPDATE otp_verifications SET attempts = attempts + 1
WHERE phone = $1
RETURNING phone, code, expires_at, is_used, attempts, created_at`

// ClaimOtpAttempt counts one verification attempt and returns the code
// with the updated count. Concurrent callers each see a distinct count.
func (q *Queries) ClaimOtpAttempt(ctx context.Context, phone string) (OtpVerification, error) {
	row := q.db.QueryRow(ctx, claimOtpAttempt, phone)
	var i OtpVerification
	err := row.Scan(&i.Phone, &i.Code, &i.ExpiresAt, &i.IsUsed, &i.Attempts, &i.CreatedAt)
	return i, err
}

const markOtpUsed = `-- name: MarkOtpUsed :execrows
UPDATE otp_verifications SET is_used = true
WHERE phone = $1 AND code = $2 AND is_used = false`

type MarkOtpUsedParams struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// MarkOtpUsed consumes a code. Zero rows means another request used it first.
func (q *Queries) MarkOtpUsed(ctx context.Context, arg MarkOtpUsedParams) (int64, error) {
	result, err := q.db.Exec(ctx, markOtpUsed, arg.Phone, arg.Code)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteOtp = `-- name: DeleteOtp :exec
DELETE FROM otp_verifications WHERE phone = $1`

func (q *Queries) DeleteOtp(ctx context.Context, phone string) error {
	_, err := q.db.Exec(ctx, deleteOtp, phone)
	return err
}

const deleteExpiredOtps = `-- name: DeleteExpiredOtps :execrows
DELETE FROM otp_verifications WHERE expires_at < $1`

func (q *Queries) DeleteExpiredOtps(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.Exec(ctx, deleteExpiredOtps, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
