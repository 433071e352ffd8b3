package model

import "time"

type PairingSession struct {
	ID        string        `db:"id" json:"id"`
	Token     string        `db:"token" json:"pairingToken"`
	Status    SessionStatus `db:"status" json:"status"`
	IssuedAt  time.Time     `db:"issued_at" json:"issuedAt"`
	ExpiresAt time.Time     `db:"expires_at" json:"expiresAt"`
	PairedAt  *time.Time    `db:"paired_at" json:"pairedAt"`
	PairedBy  *string       `db:"paired_by" json:"-"`
	UpdatedAt time.Time     `db:"updated_at" json:"-"`
}

// IsOverdue reports whether an issued session has outlived its validity window.
func (s *PairingSession) IsOverdue(now time.Time) bool {
	return s.Status == SessionStatusIssued && !now.Before(s.ExpiresAt)
}

type CreateSessionParams struct {
	ID        string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type ClaimSessionParams struct {
	Token     string
	ClaimedBy string
	At        time.Time
}
