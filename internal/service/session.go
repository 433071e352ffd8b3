package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/mindsignal/pairing/internal/errors"
	"github.com/mindsignal/pairing/internal/metrics"
	"github.com/mindsignal/pairing/internal/model"
	"github.com/mindsignal/pairing/internal/pairing"
	"github.com/mindsignal/pairing/internal/repository"
	"github.com/mindsignal/pairing/internal/sse"
	"github.com/mindsignal/pairing/internal/util"
)

const maxTokenAttempts = 10

// EventPublisher delivers session events to hosts watching the session.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event sse.Event) error
}

// SessionView is what the API returns for a session.
type SessionView struct {
	ID           string              `json:"id"`
	PairingToken string              `json:"pairingToken"`
	Status       model.SessionStatus `json:"status"`
	IssuedAt     time.Time           `json:"issuedAt"`
	ExpiresAt    time.Time           `json:"expiresAt"`
	ExpiresIn    int                 `json:"expiresIn"`
	PairedAt     *time.Time          `json:"pairedAt"`
	JoinURL      string              `json:"joinUrl,omitempty"`
}

type SessionService struct {
	sessionRepo repository.SessionRepository
	publisher   EventPublisher
	metrics     *metrics.Metrics
	ttl         time.Duration
	joinBaseURL string
	now         func() time.Time
}

func NewSessionService(
	sessionRepo repository.SessionRepository,
	publisher EventPublisher,
	m *metrics.Metrics,
	ttl time.Duration,
	joinBaseURL string,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		publisher:   publisher,
		metrics:     m,
		ttl:         ttl,
		joinBaseURL: joinBaseURL,
		now:         time.Now,
	}
}

// CreateSession issues a new token. A token is never handed out twice while the
// store still remembers it.
func (s *SessionService) CreateSession(ctx context.Context) (*SessionView, error) {
	now := s.now()

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := util.GeneratePairingToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		session, err := s.sessionRepo.Create(ctx, model.CreateSessionParams{
			ID:        uuid.NewString(),
			Token:     token,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.ttl),
		})
		if errors.Is(err, repository.ErrTokenTaken) {
			log.Debug().Int("attempt", attempt+1).Msg("pairing token collision, retrying")
			continue
		}
		if err != nil {
			return nil, apperrors.Database(err)
		}

		if s.metrics != nil {
			s.metrics.SessionsCreated.Inc()
		}
		log.Info().
			Str("sessionId", session.ID).
			Str("token", util.MaskCode(session.Token)).
			Time("expiresAt", session.ExpiresAt).
			Msg("session created")

		return s.view(session, now), nil
	}

	return nil, apperrors.Internal("Could not allocate a pairing token")
}

// Claim pairs the session holding token. Of any number of concurrent claims on
// the same token exactly one succeeds; the rest learn why they lost.
func (s *SessionService) Claim(ctx context.Context, rawToken, claimedBy string) (*SessionView, error) {
	token := util.NormalizeToken(rawToken)
	now := s.now()

	start := time.Now()
	session, err := s.sessionRepo.Claim(ctx, model.ClaimSessionParams{
		Token:     token,
		ClaimedBy: claimedBy,
		At:        now,
	})
	if s.metrics != nil {
		s.metrics.ClaimLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.metrics.RecordClaim(metrics.ClaimError)
		return nil, apperrors.Database(err)
	}

	if session != nil {
		s.metrics.RecordClaim(metrics.ClaimAccepted)
		log.Info().
			Str("sessionId", session.ID).
			Str("token", util.MaskCode(token)).
			Msg("session paired")
		s.publish(ctx, session.ID, model.EventPairingComplete, map[string]any{
			"sessionId": session.ID,
			"pairedAt":  session.PairedAt,
		})
		return s.view(session, now), nil
	}

	return nil, s.rejectClaim(ctx, token, now)
}

// rejectClaim works out why a claim lost.
func (s *SessionService) rejectClaim(ctx context.Context, token string, now time.Time) error {
	existing, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		s.metrics.RecordClaim(metrics.ClaimError)
		return apperrors.Database(err)
	}

	switch {
	case existing == nil:
		s.metrics.RecordClaim(metrics.ClaimUnknown)
		log.Warn().Str("token", util.MaskCode(token)).Msg("claim for unknown pairing token")
		return apperrors.InvalidPairingCode()

	case existing.Status == model.SessionStatusPaired:
		s.metrics.RecordClaim(metrics.ClaimAlreadyPaired)
		log.Info().Str("sessionId", existing.ID).Msg("claim lost: session already paired")
		return apperrors.AlreadyPaired()

	default:
		s.metrics.RecordClaim(metrics.ClaimExpired)
		if existing.IsOverdue(now) {
			if err := s.expire(ctx, existing.ID, now); err != nil {
				return err
			}
		}
		log.Info().Str("sessionId", existing.ID).Msg("claim rejected: pairing token expired")
		return apperrors.PairingExpired()
	}
}

// GetStatus returns the session, expiring it first if its window has closed.
func (s *SessionService) GetStatus(ctx context.Context, sessionID string) (*SessionView, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	now := s.now()
	if session.IsOverdue(now) {
		if err := s.expire(ctx, session.ID, now); err != nil {
			return nil, err
		}
		session.Status = model.SessionStatusExpired
	}

	return s.view(session, now), nil
}

// ExpireStale expires every overdue session and tells its host.
func (s *SessionService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.sessionRepo.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}

	for _, session := range expired {
		s.afterExpire(ctx, session.ID)
	}
	return len(expired), nil
}

// PurgeBefore deletes settled sessions last touched before cutoff.
func (s *SessionService) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.sessionRepo.DeleteExpired(ctx, cutoff)
}

func (s *SessionService) expire(ctx context.Context, sessionID string, now time.Time) error {
	moved, err := s.sessionRepo.MarkExpired(ctx, sessionID, now)
	if err != nil {
		return apperrors.Database(err)
	}
	if moved {
		s.afterExpire(ctx, sessionID)
	}
	return nil
}

func (s *SessionService) afterExpire(ctx context.Context, sessionID string) {
	if s.metrics != nil {
		s.metrics.SessionsExpired.Inc()
	}
	log.Info().Str("sessionId", sessionID).Msg("session expired")
	s.publish(ctx, sessionID, model.EventPairingExpired, map[string]any{
		"sessionId": sessionID,
		"reason":    "timeout",
	})
}

// publish is best effort: a host that misses the event still converges by polling.
func (s *SessionService) publish(ctx context.Context, sessionID string, eventType model.EventType, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("marshal session event")
		return
	}
	if err := s.publisher.Publish(ctx, sessionID, sse.Event{Type: string(eventType), Data: data}); err != nil {
		log.Error().
			Err(err).
			Str("sessionId", sessionID).
			Str("event", string(eventType)).
			Msg("failed to publish session event")
	}
}

func (s *SessionService) view(session *model.PairingSession, now time.Time) *SessionView {
	v := &SessionView{
		ID:           session.ID,
		PairingToken: session.Token,
		Status:       session.Status,
		IssuedAt:     session.IssuedAt,
		ExpiresAt:    session.ExpiresAt,
		PairedAt:     session.PairedAt,
	}
	if session.Status == model.SessionStatusIssued {
		if remaining := session.ExpiresAt.Sub(now); remaining > 0 {
			v.ExpiresIn = int(remaining / time.Second)
		}
		if s.joinBaseURL != "" {
			joinURL, err := pairing.BuildJoinURL(s.joinBaseURL, session.Token)
			if err != nil {
				log.Warn().Err(err).Msg("build join url")
			} else {
				v.JoinURL = joinURL
			}
		}
	}
	return v
}
