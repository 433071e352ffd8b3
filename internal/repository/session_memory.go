package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mindsignal/pairing/internal/model"
)

const (
	memoryTokenPrefix = "token:"
	memoryIDPrefix    = "id:"
	memoryJanitor     = time.Minute
)

// memorySessionRepo serves a single broker instance. All writes go through mu so a
// claim is a plain read-modify-write.
type memorySessionRepo struct {
	mu        sync.Mutex
	cache     *gocache.Cache
	retention time.Duration
}

func NewMemorySessionRepository(retention time.Duration) SessionRepository {
	return &memorySessionRepo{
		cache:     gocache.New(gocache.NoExpiration, memoryJanitor),
		retention: retention,
	}
}

func (r *memorySessionRepo) FindByID(ctx context.Context, id string) (*model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.cache.Get(memoryIDPrefix + id)
	if !ok {
		return nil, nil
	}
	return r.load(token.(string)), nil
}

func (r *memorySessionRepo) FindByToken(ctx context.Context, token string) (*model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(token), nil
}

func (r *memorySessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cache.Get(memoryTokenPrefix + params.Token); exists {
		return nil, ErrTokenTaken
	}

	session := model.PairingSession{
		ID:        params.ID,
		Token:     params.Token,
		Status:    model.SessionStatusIssued,
		IssuedAt:  params.IssuedAt,
		ExpiresAt: params.ExpiresAt,
		UpdatedAt: params.IssuedAt,
	}
	r.store(session)
	return &session, nil
}

func (r *memorySessionRepo) Claim(ctx context.Context, params model.ClaimSessionParams) (*model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.load(params.Token)
	if session == nil || session.Status != model.SessionStatusIssued {
		return nil, nil
	}
	if session.IsOverdue(params.At) {
		return nil, nil
	}

	pairedAt := params.At
	claimedBy := params.ClaimedBy
	session.Status = model.SessionStatusPaired
	session.PairedAt = &pairedAt
	session.PairedBy = &claimedBy
	session.UpdatedAt = params.At
	r.store(*session)
	return session, nil
}

func (r *memorySessionRepo) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.cache.Get(memoryIDPrefix + id)
	if !ok {
		return false, nil
	}
	session := r.load(token.(string))
	if session == nil || session.Status != model.SessionStatusIssued {
		return false, nil
	}
	session.Status = model.SessionStatusExpired
	session.UpdatedAt = at
	r.store(*session)
	return true, nil
}

func (r *memorySessionRepo) ExpireStale(ctx context.Context, now time.Time) ([]model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []model.PairingSession
	for key, item := range r.cache.Items() {
		if !strings.HasPrefix(key, memoryTokenPrefix) {
			continue
		}
		session := item.Object.(model.PairingSession)
		if !session.IsOverdue(now) {
			continue
		}
		session.Status = model.SessionStatusExpired
		session.UpdatedAt = now
		r.store(session)
		expired = append(expired, session)
	}
	return expired, nil
}

func (r *memorySessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for key, item := range r.cache.Items() {
		if !strings.HasPrefix(key, memoryTokenPrefix) {
			continue
		}
		session := item.Object.(model.PairingSession)
		if session.Status == model.SessionStatusIssued || !session.UpdatedAt.Before(before) {
			continue
		}
		r.cache.Delete(key)
		r.cache.Delete(memoryIDPrefix + session.ID)
		count++
	}
	return count, nil
}

// load returns a copy so callers never alias the cached value. Callers hold mu.
func (r *memorySessionRepo) load(token string) *model.PairingSession {
	item, ok := r.cache.Get(memoryTokenPrefix + token)
	if !ok {
		return nil
	}
	session := item.(model.PairingSession)
	return &session
}

// store writes both the token entry and the id index with the same lifetime. Callers hold mu.
func (r *memorySessionRepo) store(session model.PairingSession) {
	ttl := time.Until(session.ExpiresAt) + r.retention
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	r.cache.Set(memoryTokenPrefix+session.Token, session, ttl)
	r.cache.Set(memoryIDPrefix+session.ID, session.Token, ttl)
}
