package pairing

import (
	"context"
	"time"
)

// Issuance is a freshly minted token as reported by the broker.
type Issuance struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// ClaimResult is returned for the one claim the broker accepted.
type ClaimResult struct {
	SessionID string
	PairedAt  time.Time
}

// SessionInfo is the broker's view of a session, in its own status vocabulary
// (StatusIssued, StatusPaired or StatusExpired).
type SessionInfo struct {
	SessionID string
	Status    Status
	ExpiresAt time.Time
	PairedAt  *time.Time
}

// Broker is the authority that issues tokens and arbitrates claims.
//
// CreateSession never reuses a token. Claim must be safe to race from many
// devices: exactly one caller gets a nil error, the rest get an error matching
// ErrAlreadyClaimed, ErrExpired or ErrUnknownToken. Transport failures should
// be reported as *NetworkError.
type Broker interface {
	CreateSession(ctx context.Context) (Issuance, error)
	Claim(ctx context.Context, token string) (ClaimResult, error)
}

// StatusChecker is implemented by brokers that support status polling.
type StatusChecker interface {
	SessionStatus(ctx context.Context, sessionID string) (SessionInfo, error)
}
