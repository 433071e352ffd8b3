package pairing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusLoading Status = "LOADING"
	StatusIssued  Status = "ISSUED"
	StatusPaired  Status = "PAIRED"
	StatusExpired Status = "EXPIRED"
	StatusError   Status = "ERROR"
)

// IsTerminal reports whether only Reset or Start can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusPaired || s == StatusExpired
}

// DefaultValidity is used when the broker does not say when a token expires.
const DefaultValidity = 300 * time.Second

// State is a read-only projection of a Machine.
type State struct {
	Subject          string
	Status           Status
	Token            string
	SessionID        string
	ExpiresAt        time.Time
	SecondsRemaining int
	PairedAt         *time.Time
	// Err is the cause of the last ERROR or EXPIRED transition.
	Err   error
	Ready bool
}

type Option func(*Machine)

func WithValidity(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.validity = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithTicker(newTicker TickerFunc) Option {
	return func(m *Machine) {
		m.timer = NewTimer(newTicker)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

func WithSubject(subject string) Option {
	return func(m *Machine) {
		m.subject = subject
	}
}

// Machine drives one pairing lifecycle against a Broker.
//
// Intents (Start, Claim, AutoClaim, Refresh) block for the duration of their
// broker call. Only one broker call is in flight at a time: an intent arriving
// meanwhile returns immediately with an error matching ErrIgnored and leaves the
// state untouched. Reset and Close may be called at any time; a broker response
// that arrives after either is discarded.
type Machine struct {
	broker   Broker
	validity time.Duration
	now      func() time.Time
	timer    *Timer
	logger   zerolog.Logger
	subject  string

	mu            sync.Mutex
	state         State
	gen           uint64
	busy          bool
	cancelOp      context.CancelFunc
	lastSubmitted string
	countdown     *TimerHandle
	watchers      []watcher
	nextWatcher   int
	closed        bool
	// last status announced to watchers
	announced Status
}

type watcher struct {
	id int
	fn func(State)
}

func NewMachine(broker Broker, opts ...Option) *Machine {
	m := &Machine{
		broker:   broker,
		validity: DefaultValidity,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.timer == nil {
		m.timer = NewTimer(nil)
	}
	if m.subject != "" {
		m.logger = m.logger.With().Str("subject", m.subject).Logger()
	}
	m.state = State{Subject: m.subject, Status: StatusIdle}
	m.announced = StatusIdle
	return m
}

func (m *Machine) Subject() string {
	return m.subject
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Watch calls fn with the current state and then after every change, until the
// returned function is called. fn runs while the machine is locked: it must not
// call back into the machine.
func (m *Machine) Watch(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextWatcher++
	id := m.nextWatcher
	m.watchers = append(m.watchers, watcher{id: id, fn: fn})
	fn(m.state)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, w := range m.watchers {
			if w.id == id {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				return
			}
		}
	}
}

// MarkReady opens the gate AutoClaim waits on. The hosting shell calls it once it
// is safe to look at ambient input.
func (m *Machine) MarkReady() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state.Ready {
		return
	}
	m.state.Ready = true
	m.notify()
}

// Start asks the broker for a new token. Any current token is abandoned along with
// its countdown.
func (m *Machine) Start(ctx context.Context) (State, error) {
	m.mu.Lock()
	if err := m.admit(); err != nil {
		defer m.mu.Unlock()
		return m.state, err
	}
	m.stopCountdown()
	m.lastSubmitted = ""
	opCtx, cancel, gen := m.begin(ctx)
	m.replace(State{Status: StatusLoading})
	m.mu.Unlock()
	defer cancel()

	issued, err := m.broker.CreateSession(opCtx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finish(gen) {
		m.logger.Debug().Msg("discarding superseded issue response")
		return m.state, ErrStale
	}
	if err != nil {
		m.fail("issue", err)
		return m.state, nil
	}
	m.issue(issued)
	return m.state, nil
}

// Claim submits the token carried by input, a join URL or a bare token. Input
// holding no token, such as a URL without a recognised query key, is ignored.
// Submitting the same token twice in a row is ignored unless the first attempt
// ended in ERROR.
func (m *Machine) Claim(ctx context.Context, input string) (State, error) {
	token, ok := LookupToken(input)
	if !ok {
		return m.State(), ErrMalformedInput
	}
	return m.claim(ctx, token)
}

// AutoClaim claims a token found in ambient input such as the URL the participant
// arrived on. It does nothing before MarkReady, and input without a token is
// ignored rather than treated as a failure.
func (m *Machine) AutoClaim(ctx context.Context, ambient string) (State, error) {
	m.mu.Lock()
	state, closed := m.state, m.closed
	m.mu.Unlock()

	if closed {
		return state, ErrClosed
	}
	if !state.Ready {
		return state, ErrNotReady
	}
	token, ok := LookupToken(ambient)
	if !ok {
		return state, ErrMalformedInput
	}
	return m.claim(ctx, token)
}

func (m *Machine) claim(ctx context.Context, token string) (State, error) {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.state, ErrClosed
	}
	if token == m.lastSubmitted {
		defer m.mu.Unlock()
		return m.state, ErrDuplicateClaim
	}
	if err := m.admit(); err != nil {
		defer m.mu.Unlock()
		return m.state, err
	}
	switch m.state.Status {
	case StatusIdle, StatusIssued, StatusError:
	default:
		defer m.mu.Unlock()
		return m.state, ErrInvalidTransition
	}

	m.lastSubmitted = token
	opCtx, cancel, gen := m.begin(ctx)
	if m.state.Status != StatusIssued {
		m.state.Token = token
	}
	m.state.Status = StatusLoading
	m.state.Err = nil
	m.notify()
	m.mu.Unlock()
	defer cancel()

	result, err := m.broker.Claim(opCtx, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finish(gen) {
		m.logger.Debug().Msg("discarding superseded claim response")
		return m.state, ErrStale
	}

	switch {
	case err == nil:
		pairedAt := result.PairedAt
		if pairedAt.IsZero() {
			pairedAt = m.now()
		}
		if result.SessionID != "" {
			m.state.SessionID = result.SessionID
		}
		m.pair(pairedAt)
	case errors.Is(err, ErrExpired), errors.Is(err, ErrAlreadyClaimed):
		m.logger.Info().Err(err).Msg("claim rejected")
		m.expireWith(err)
	default:
		m.fail("claim", err)
	}
	return m.state, nil
}

// Refresh polls the broker for the issued session's status. PAIRED and EXPIRED
// answers are applied; a failed poll leaves the state alone.
func (m *Machine) Refresh(ctx context.Context) (State, error) {
	checker, ok := m.broker.(StatusChecker)

	m.mu.Lock()
	if err := m.admit(); err != nil {
		defer m.mu.Unlock()
		return m.state, err
	}
	if !ok || m.state.Status != StatusIssued || m.state.SessionID == "" {
		defer m.mu.Unlock()
		return m.state, ErrInvalidTransition
	}
	sessionID := m.state.SessionID
	opCtx, cancel, gen := m.begin(ctx)
	m.mu.Unlock()
	defer cancel()

	info, err := checker.SessionStatus(opCtx, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finish(gen) {
		return m.state, ErrStale
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("status poll failed")
		return m.state, nil
	}
	// the countdown may have expired the token while the poll was out
	if m.state.Status != StatusIssued {
		return m.state, nil
	}

	switch info.Status {
	case StatusPaired:
		pairedAt := m.now()
		if info.PairedAt != nil {
			pairedAt = *info.PairedAt
		}
		m.pair(pairedAt)
	case StatusExpired:
		m.expireWith(ErrExpired)
	}
	return m.state, nil
}

// Reset abandons everything: the in-flight call is cancelled and its response
// will be discarded, the countdown stops and the token is forgotten.
func (m *Machine) Reset() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.state, ErrClosed
	}
	m.abort()
	m.stopCountdown()
	m.lastSubmitted = ""
	m.replace(State{Status: StatusIdle})
	return m.state, nil
}

// Close tears the machine down. Every later intent returns ErrClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.abort()
	m.stopCountdown()
	m.watchers = nil
}

// Everything below runs with mu held.

func (m *Machine) admit() error {
	if m.closed {
		return ErrClosed
	}
	if m.busy {
		return ErrBusy
	}
	return nil
}

func (m *Machine) begin(ctx context.Context) (context.Context, context.CancelFunc, uint64) {
	m.gen++
	opCtx, cancel := context.WithCancel(ctx)
	m.busy = true
	m.cancelOp = cancel
	return opCtx, cancel, m.gen
}

// finish reports whether the response to the call started at gen still applies.
func (m *Machine) finish(gen uint64) bool {
	if m.closed || gen != m.gen {
		return false
	}
	m.busy = false
	m.cancelOp = nil
	return true
}

func (m *Machine) abort() {
	m.gen++
	if m.cancelOp != nil {
		m.cancelOp()
		m.cancelOp = nil
	}
	m.busy = false
}

func (m *Machine) issue(issued Issuance) {
	expiresAt := issued.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(m.validity)
	}
	remaining := m.secondsUntil(expiresAt)

	next := State{
		Status:           StatusIssued,
		Token:            issued.Token,
		SessionID:        issued.SessionID,
		ExpiresAt:        expiresAt,
		SecondsRemaining: remaining,
	}
	if remaining <= 0 {
		next.Status = StatusExpired
		next.Err = ErrExpired
		m.replace(next)
		m.logger.Warn().Str("sessionId", issued.SessionID).Msg("token issued already expired")
		return
	}

	m.startCountdown(remaining)
	m.replace(next)
	m.logger.Info().
		Str("sessionId", issued.SessionID).
		Time("expiresAt", expiresAt).
		Int("secondsRemaining", remaining).
		Msg("pairing token issued")
}

func (m *Machine) secondsUntil(expiresAt time.Time) int {
	remaining := int(expiresAt.Sub(m.now()) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *Machine) startCountdown(seconds int) {
	var h *TimerHandle
	h = m.timer.Start(seconds,
		func(remaining int) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if h != m.countdown {
				return
			}
			m.state.SecondsRemaining = remaining
			m.notify()
		},
		func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if h != m.countdown {
				return
			}
			m.countdown = nil
			// a claim in flight is settled by the broker's answer, not the clock
			if m.state.Status != StatusIssued {
				return
			}
			m.logger.Info().Str("sessionId", m.state.SessionID).Msg("pairing token expired")
			m.expireWith(ErrExpired)
		})
	m.countdown = h
}

func (m *Machine) stopCountdown() {
	m.countdown.Cancel()
	m.countdown = nil
}

func (m *Machine) pair(at time.Time) {
	m.stopCountdown()
	m.state.Status = StatusPaired
	m.state.PairedAt = &at
	m.state.SecondsRemaining = 0
	m.state.Err = nil
	m.logger.Info().Str("sessionId", m.state.SessionID).Msg("paired")
	m.notify()
}

func (m *Machine) expireWith(cause error) {
	m.stopCountdown()
	m.state.Status = StatusExpired
	m.state.SecondsRemaining = 0
	m.state.Err = cause
	m.notify()
}

// fail clears the duplicate guard so the same token can be retried.
func (m *Machine) fail(op string, err error) {
	m.stopCountdown()
	m.lastSubmitted = ""
	m.state.Status = StatusError
	m.state.Err = err
	m.logger.Warn().Err(err).Str("op", op).Msg("pairing broker call failed")
	m.notify()
}

func (m *Machine) replace(next State) {
	next.Subject = m.subject
	next.Ready = m.state.Ready
	m.state = next
	m.notify()
}

func (m *Machine) notify() {
	state := m.state
	if state.Status != m.announced {
		m.logger.Debug().
			Str("from", string(m.announced)).
			Str("to", string(state.Status)).
			Msg("pairing transition")
		m.announced = state.Status
	}
	for _, w := range m.watchers {
		w.fn(state)
	}
}
