package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mindsignal/pairing/internal/model"
)

// SessionRepository is the token store behind the Session Broker.
//
// Claim is the atomic arbiter: of any number of concurrent callers presenting the
// same issued, unexpired token, exactly one gets the paired session back. Every
// other caller gets nil and must classify the failure with FindByToken.
type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.PairingSession, error)
	FindByToken(ctx context.Context, token string) (*model.PairingSession, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.PairingSession, error)
	Claim(ctx context.Context, params model.ClaimSessionParams) (*model.PairingSession, error)
	// MarkExpired moves an issued session to EXPIRED and reports whether it did.
	MarkExpired(ctx context.Context, id string, at time.Time) (bool, error)
	// ExpireStale moves every issued session whose window closed before now to
	// EXPIRED and returns the sessions it moved.
	ExpireStale(ctx context.Context, now time.Time) ([]model.PairingSession, error)
	// DeleteExpired purges paired and expired sessions last touched before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type sessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.PairingSession, error) {
	var session model.PairingSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM pairing_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByToken(ctx context.Context, token string) (*model.PairingSession, error) {
	var session model.PairingSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM pairing_sessions WHERE token = $1
	`, token)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.PairingSession, error) {
	var session model.PairingSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO pairing_sessions (id, token, status, issued_at, expires_at, updated_at)
		VALUES ($1, $2, 'ISSUED', $3, $4, $3)
		RETURNING *
	`, params.ID, params.Token, params.IssuedAt, params.ExpiresAt)
	if isUniqueViolation(err) {
		return nil, ErrTokenTaken
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Claim(ctx context.Context, params model.ClaimSessionParams) (*model.PairingSession, error) {
	var session model.PairingSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE pairing_sessions SET
			status = 'PAIRED',
			paired_at = $2,
			paired_by = $3,
			updated_at = $2
		WHERE token = $1 AND status = 'ISSUED' AND expires_at > $2
		RETURNING *
	`, params.Token, params.At, params.ClaimedBy)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = 'EXPIRED',
			updated_at = $2
		WHERE id = $1 AND status = 'ISSUED'
	`, id, at)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows == 1, err
}

func (r *sessionRepo) ExpireStale(ctx context.Context, now time.Time) ([]model.PairingSession, error) {
	var sessions []model.PairingSession
	err := r.db.SelectContext(ctx, &sessions, `
		UPDATE pairing_sessions SET
			status = 'EXPIRED',
			updated_at = $1
		WHERE status = 'ISSUED' AND expires_at <= $1
		RETURNING *
	`, now)
	return sessions, err
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_sessions
		WHERE status IN ('PAIRED', 'EXPIRED') AND updated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
