package pairing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBothPaired(t *testing.T) {
	statuses := []Status{StatusIdle, StatusLoading, StatusIssued, StatusPaired, StatusExpired, StatusError}
	for _, a := range statuses {
		for _, b := range statuses {
			want := a == StatusPaired && b == StatusPaired
			assert.Equal(t, want, BothPaired(a, b), "%s/%s", a, b)
		}
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *MockBroker) {
	t.Helper()
	broker := new(MockBroker)
	broker.On("Claim", mock.Anything, "TOKEN-A").Return(ClaimResult{SessionID: "session-a"}, nil)
	broker.On("Claim", mock.Anything, "TOKEN-B").Return(ClaimResult{SessionID: "session-b"}, nil)

	c := NewCoordinator(
		newTestMachine(broker, newFakeTickers(), WithSubject("A")),
		newTestMachine(broker, newFakeTickers(), WithSubject("B")),
	)
	t.Cleanup(c.Close)
	return c, broker
}

func TestCoordinator_BothPairedInEitherOrder(t *testing.T) {
	orders := map[string][]string{
		"A then B": {"A", "B"},
		"B then A": {"B", "A"},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestCoordinator(t)

			var mu sync.Mutex
			var seen []bool
			c.Watch(func(s Snapshot) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, s.BothPaired)
			})

			for i, subject := range order {
				state, err := c.Machine(subject).Claim(context.Background(), "TOKEN-"+subject)
				require.NoError(t, err)
				require.Equal(t, StatusPaired, state.Status)

				if i == 0 {
					assert.False(t, c.BothPaired())
				}
			}

			assert.True(t, c.BothPaired())
			snap := c.Snapshot()
			assert.Equal(t, StatusPaired, snap.A.Status)
			assert.Equal(t, StatusPaired, snap.B.Status)

			mu.Lock()
			defer mu.Unlock()
			require.NotEmpty(t, seen)
			last := len(seen) - 1
			assert.True(t, seen[last], "true right after the second transition")
			for i, both := range seen[:last] {
				assert.False(t, both, "observation %d", i)
			}
		})
	}
}

func TestCoordinator_ResetOneSideClearsFlag(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.A().Claim(ctx, "TOKEN-A")
	require.NoError(t, err)
	_, err = c.B().Claim(ctx, "TOKEN-B")
	require.NoError(t, err)
	require.True(t, c.BothPaired())

	_, err = c.B().Reset()
	require.NoError(t, err)

	assert.False(t, c.BothPaired())
	snap := c.Snapshot()
	assert.Equal(t, StatusPaired, snap.A.Status, "no cross-talk between children")
	assert.Equal(t, StatusIdle, snap.B.Status)
}

func TestCoordinator_ChildrenAreIndependent(t *testing.T) {
	c, broker := newTestCoordinator(t)
	broker.On("Claim", mock.Anything, "DEAD-TKN").Return(ClaimResult{}, ErrExpired)

	_, err := c.A().Claim(context.Background(), "DEAD-TKN")
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, StatusExpired, snap.A.Status)
	assert.Equal(t, StatusIdle, snap.B.Status)
	assert.Equal(t, "A", snap.A.Subject)
	assert.Equal(t, "B", snap.B.Subject)
}

func TestCoordinator_Machine(t *testing.T) {
	c, _ := newTestCoordinator(t)

	assert.Same(t, c.A(), c.Machine("A"))
	assert.Same(t, c.B(), c.Machine("B"))
	assert.Nil(t, c.Machine("C"))
}

func TestCoordinator_Close(t *testing.T) {
	c, _ := newTestCoordinator(t)

	calls := 0
	c.Watch(func(Snapshot) { calls++ })
	c.Close()

	_, err := c.A().Claim(context.Background(), "TOKEN-A")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, calls)
}
