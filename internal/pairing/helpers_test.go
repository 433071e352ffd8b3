package pairing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

// tick delivers one tick and reports whether the countdown took it.
func (f *fakeTicker) tick(wait time.Duration) bool {
	select {
	case f.ch <- time.Time{}:
		return true
	case <-time.After(wait):
		return false
	}
}

func (f *fakeTicker) mustTick(t *testing.T) {
	t.Helper()
	if !f.tick(waitTimeout) {
		t.Fatal("countdown did not take the tick")
	}
}

// assertStopped waits for the countdown owning tk to exit, then checks that it
// no longer takes ticks.
func (f *fakeTicker) assertStopped(t *testing.T) {
	t.Helper()
	require.Eventually(t, f.stopped.Load, waitTimeout, 5*time.Millisecond, "countdown still running")
	assert.False(t, f.tick(50*time.Millisecond))
}

// fakeTickers hands out tickers driven by the test instead of the clock.
type fakeTickers struct {
	created chan *fakeTicker
}

func newFakeTickers() *fakeTickers {
	return &fakeTickers{created: make(chan *fakeTicker, 16)}
}

func (f *fakeTickers) New(d time.Duration) Ticker {
	tk := &fakeTicker{ch: make(chan time.Time)}
	f.created <- tk
	return tk
}

func (f *fakeTickers) next(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case tk := <-f.created:
		return tk
	case <-time.After(waitTimeout):
		t.Fatal("no ticker was started")
		return nil
	}
}

func (f *fakeTickers) none(t *testing.T) {
	t.Helper()
	select {
	case <-f.created:
		t.Fatal("unexpected ticker started")
	default:
	}
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) CreateSession(ctx context.Context) (Issuance, error) {
	args := m.Called(ctx)
	return args.Get(0).(Issuance), args.Error(1)
}

func (m *MockBroker) Claim(ctx context.Context, token string) (ClaimResult, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(ClaimResult), args.Error(1)
}

type MockPollingBroker struct {
	MockBroker
}

func (m *MockPollingBroker) SessionStatus(ctx context.Context, sessionID string) (SessionInfo, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(SessionInfo), args.Error(1)
}

// arbiterBroker grants each token to exactly one claimer.
type arbiterBroker struct {
	mu      sync.Mutex
	claimed map[string]bool
	calls   atomic.Int32
	start   chan struct{}
}

func newArbiterBroker() *arbiterBroker {
	return &arbiterBroker{claimed: make(map[string]bool), start: make(chan struct{})}
}

func (b *arbiterBroker) CreateSession(ctx context.Context) (Issuance, error) {
	return Issuance{}, nil
}

func (b *arbiterBroker) Claim(ctx context.Context, token string) (ClaimResult, error) {
	b.calls.Add(1)
	<-b.start

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimed[token] {
		return ClaimResult{}, ErrAlreadyClaimed
	}
	b.claimed[token] = true
	return ClaimResult{SessionID: "session-" + token}, nil
}

// recorder collects every state a machine publishes.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.states))
	for i, s := range r.states {
		out[i] = s.Status
	}
	return out
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}
