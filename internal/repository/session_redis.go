package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindsignal/pairing/internal/model"
	redisclient "github.com/mindsignal/pairing/internal/redis"
)

// KEYS: session hash, id index, pending zset
// ARGV: id, token, issuedAt ms, expiresAt ms, ttl ms
var createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1],
    'id', ARGV[1],
    'token', ARGV[2],
    'status', 'ISSUED',
    'issued_at', ARGV[3],
    'expires_at', ARGV[4],
    'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
return 1
`)

// KEYS: session hash, pending zset
// ARGV: now ms, claimedBy, token
var claimSessionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'ISSUED' then
    return 0
end

local now = tonumber(ARGV[1])
local expiresAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if now >= expiresAt then
    return 0
end

redis.call('ZREM', KEYS[2], ARGV[3])
redis.call('HSET', KEYS[1],
    'status', 'PAIRED',
    'paired_at', ARGV[1],
    'paired_by', ARGV[2],
    'updated_at', ARGV[1])
return 1
`)

// KEYS: session hash, pending zset
// ARGV: now ms, token
var expireSessionScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[2])
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'ISSUED' then
    return 0
end
redis.call('HSET', KEYS[1], 'status', 'EXPIRED', 'updated_at', ARGV[1])
return 1
`)

type redisSessionRepo struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisSessionRepository keeps each session for retention past its expiry so late
// claims can still be told "expired" rather than "unknown".
func NewRedisSessionRepository(client *redis.Client, retention time.Duration) SessionRepository {
	return &redisSessionRepo{client: client, retention: retention}
}

func (r *redisSessionRepo) FindByID(ctx context.Context, id string) (*model.PairingSession, error) {
	token, err := r.client.Get(ctx, redisclient.SessionIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session id index: %w", err)
	}
	return r.FindByToken(ctx, token)
}

func (r *redisSessionRepo) FindByToken(ctx context.Context, token string) (*model.PairingSession, error) {
	fields, err := r.client.HGetAll(ctx, redisclient.SessionKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeSessionHash(fields)
}

func (r *redisSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.PairingSession, error) {
	ttl := time.Until(params.ExpiresAt) + r.retention
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	created, err := createSessionScript.Run(ctx, r.client,
		[]string{
			redisclient.SessionKey(params.Token),
			redisclient.SessionIDKey(params.ID),
			redisclient.PendingKey,
		},
		params.ID,
		params.Token,
		unixMilli(params.IssuedAt),
		unixMilli(params.ExpiresAt),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return nil, ErrTokenTaken
	}

	return &model.PairingSession{
		ID:        params.ID,
		Token:     params.Token,
		Status:    model.SessionStatusIssued,
		IssuedAt:  params.IssuedAt,
		ExpiresAt: params.ExpiresAt,
		UpdatedAt: params.IssuedAt,
	}, nil
}

func (r *redisSessionRepo) Claim(ctx context.Context, params model.ClaimSessionParams) (*model.PairingSession, error) {
	won, err := claimSessionScript.Run(ctx, r.client,
		[]string{redisclient.SessionKey(params.Token), redisclient.PendingKey},
		unixMilli(params.At),
		params.ClaimedBy,
		params.Token,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}
	if won == 0 {
		return nil, nil
	}
	return r.FindByToken(ctx, params.Token)
}

func (r *redisSessionRepo) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	token, err := r.client.Get(ctx, redisclient.SessionIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session id index: %w", err)
	}
	return r.expire(ctx, token, at)
}

func (r *redisSessionRepo) ExpireStale(ctx context.Context, now time.Time) ([]model.PairingSession, error) {
	tokens, err := r.client.ZRangeByScore(ctx, redisclient.PendingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: unixMilli(now),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}

	var expired []model.PairingSession
	for _, token := range tokens {
		moved, err := r.expire(ctx, token, now)
		if err != nil {
			return expired, err
		}
		if !moved {
			continue
		}
		session, err := r.FindByToken(ctx, token)
		if err != nil {
			return expired, err
		}
		if session != nil {
			expired = append(expired, *session)
		}
	}
	return expired, nil
}

// DeleteExpired is a no-op: session keys carry their own TTL.
func (r *redisSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *redisSessionRepo) expire(ctx context.Context, token string, at time.Time) (bool, error) {
	moved, err := expireSessionScript.Run(ctx, r.client,
		[]string{redisclient.SessionKey(token), redisclient.PendingKey},
		unixMilli(at),
		token,
	).Int()
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	return moved == 1, nil
}

func unixMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeSessionHash(fields map[string]string) (*model.PairingSession, error) {
	session := &model.PairingSession{
		ID:     fields["id"],
		Token:  fields["token"],
		Status: model.SessionStatus(fields["status"]),
	}

	var err error
	if session.IssuedAt, err = parseMilli(fields["issued_at"]); err != nil {
		return nil, fmt.Errorf("decode issued_at: %w", err)
	}
	if session.ExpiresAt, err = parseMilli(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	if session.UpdatedAt, err = parseMilli(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if raw := fields["paired_at"]; raw != "" {
		pairedAt, err := parseMilli(raw)
		if err != nil {
			return nil, fmt.Errorf("decode paired_at: %w", err)
		}
		session.PairedAt = &pairedAt
	}
	if by, ok := fields["paired_by"]; ok {
		session.PairedBy = &by
	}
	return session, nil
}

func parseMilli(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
