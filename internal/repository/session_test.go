package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsignal/pairing/internal/database"
	"github.com/mindsignal/pairing/internal/model"
)

const testRetention = time.Hour

func TestMemorySessionRepository(t *testing.T) {
	runSessionRepositoryTests(t, func(t *testing.T) SessionRepository {
		return NewMemorySessionRepository(testRetention)
	})
}

func TestRedisSessionRepository(t *testing.T) {
	runSessionRepositoryTests(t, func(t *testing.T) SessionRepository {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return NewRedisSessionRepository(client, testRetention)
	})
}

func TestPostgresSessionRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	runSessionRepositoryTests(t, func(t *testing.T) SessionRepository {
		db, err := database.Connect(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		ctx := context.Background()
		require.NoError(t, db.EnsureSchema(ctx))
		_, err = db.ExecContext(ctx, `TRUNCATE pairing_sessions`)
		require.NoError(t, err)

		return NewSessionRepository(db.DB)
	})
}

func TestRedisSessionRepository_KeyExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := NewRedisSessionRepository(client, time.Minute)
	ctx := context.Background()

	created := createSession(t, repo, "KEYS-TTL2", 5*time.Minute)

	mr.FastForward(5*time.Minute + 2*time.Minute)

	byToken, err := repo.FindByToken(ctx, created.Token)
	require.NoError(t, err)
	assert.Nil(t, byToken, "session hash should be gone after expiry plus retention")

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, byID)
}

func runSessionRepositoryTests(t *testing.T, newRepo func(t *testing.T) SessionRepository) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		repo := newRepo(t)
		created := createSession(t, repo, "ABCD-EFGH", 5*time.Minute)

		assert.Equal(t, model.SessionStatusIssued, created.Status)
		assert.Nil(t, created.PairedAt)

		byToken, err := repo.FindByToken(ctx, "ABCD-EFGH")
		require.NoError(t, err)
		require.NotNil(t, byToken)
		assert.Equal(t, created.ID, byToken.ID)
		assert.WithinDuration(t, created.ExpiresAt, byToken.ExpiresAt, time.Millisecond)

		byID, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, "ABCD-EFGH", byID.Token)
	})

	t.Run("find unknown returns nil", func(t *testing.T) {
		repo := newRepo(t)

		session, err := repo.FindByToken(ctx, "ZZZZ-ZZZZ")
		require.NoError(t, err)
		assert.Nil(t, session)

		session, err = repo.FindByID(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("create rejects a token in use", func(t *testing.T) {
		repo := newRepo(t)
		createSession(t, repo, "DUPE-TKN2", 5*time.Minute)

		_, err := repo.Create(ctx, model.CreateSessionParams{
			ID:        uuid.NewString(),
			Token:     "DUPE-TKN2",
			IssuedAt:  time.Now(),
			ExpiresAt: time.Now().Add(5 * time.Minute),
		})
		assert.ErrorIs(t, err, ErrTokenTaken)
	})

	t.Run("claim pairs an issued session once", func(t *testing.T) {
		repo := newRepo(t)
		createSession(t, repo, "CLAM-ONCE", 5*time.Minute)
		at := time.Now()

		paired, err := repo.Claim(ctx, model.ClaimSessionParams{Token: "CLAM-ONCE", ClaimedBy: "10.0.0.1", At: at})
		require.NoError(t, err)
		require.NotNil(t, paired)
		assert.Equal(t, model.SessionStatusPaired, paired.Status)
		require.NotNil(t, paired.PairedAt)
		assert.WithinDuration(t, at, *paired.PairedAt, time.Millisecond)

		again, err := repo.Claim(ctx, model.ClaimSessionParams{Token: "CLAM-ONCE", ClaimedBy: "10.0.0.2", At: time.Now()})
		require.NoError(t, err)
		assert.Nil(t, again)

		stored, err := repo.FindByToken(ctx, "CLAM-ONCE")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusPaired, stored.Status)
		assert.WithinDuration(t, at, *stored.PairedAt, time.Millisecond, "pairedAt must not move on a losing claim")
	})

	t.Run("claim after the window fails", func(t *testing.T) {
		repo := newRepo(t)
		created := createSession(t, repo, "LATE-CLAM", 5*time.Minute)

		late, err := repo.Claim(ctx, model.ClaimSessionParams{Token: "LATE-CLAM", ClaimedBy: "x", At: created.ExpiresAt.Add(time.Second)})
		require.NoError(t, err)
		assert.Nil(t, late)

		stored, err := repo.FindByToken(ctx, "LATE-CLAM")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.NotEqual(t, model.SessionStatusPaired, stored.Status)
		assert.Nil(t, stored.PairedAt)
	})

	t.Run("claim of unknown token returns nil", func(t *testing.T) {
		repo := newRepo(t)

		session, err := repo.Claim(ctx, model.ClaimSessionParams{Token: "NONE-HERE", At: time.Now()})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("concurrent claims have exactly one winner", func(t *testing.T) {
		repo := newRepo(t)
		createSession(t, repo, "RACE-TKN2", 5*time.Minute)

		const claimers = 16
		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				session, err := repo.Claim(ctx, model.ClaimSessionParams{
					Token:     "RACE-TKN2",
					ClaimedBy: fmt.Sprintf("device-%d", i),
					At:        time.Now(),
				})
				assert.NoError(t, err)
				if session != nil {
					winners.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("mark expired only moves issued sessions", func(t *testing.T) {
		repo := newRepo(t)
		issued := createSession(t, repo, "MARK-EXP2", 5*time.Minute)
		paired := createSession(t, repo, "MARK-PAIR", 5*time.Minute)
		_, err := repo.Claim(ctx, model.ClaimSessionParams{Token: "MARK-PAIR", At: time.Now()})
		require.NoError(t, err)

		moved, err := repo.MarkExpired(ctx, issued.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, moved)

		moved, err = repo.MarkExpired(ctx, issued.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, moved, "second mark is a no-op")

		moved, err = repo.MarkExpired(ctx, paired.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, moved)

		got, err := repo.FindByID(ctx, issued.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusExpired, got.Status)

		got, err = repo.FindByID(ctx, paired.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusPaired, got.Status)
	})

	t.Run("expire stale returns only overdue issued sessions", func(t *testing.T) {
		repo := newRepo(t)
		short := createSession(t, repo, "SHRT-WNDW", time.Minute)
		createSession(t, repo, "LONG-WNDW", 10*time.Minute)

		expired, err := repo.ExpireStale(ctx, short.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, short.ID, expired[0].ID)
		assert.Equal(t, model.SessionStatusExpired, expired[0].Status)

		again, err := repo.ExpireStale(ctx, short.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		assert.Empty(t, again)

		long, err := repo.FindByToken(ctx, "LONG-WNDW")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusIssued, long.Status)
	})
}

func createSession(t *testing.T, repo SessionRepository, token string, ttl time.Duration) *model.PairingSession {
	t.Helper()
	now := time.Now()
	session, err := repo.Create(context.Background(), model.CreateSessionParams{
		ID:        uuid.NewString(),
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	return session
}
