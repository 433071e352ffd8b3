package pairing

import (
	"sync"
	"time"
)

// Ticker is the part of *time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc builds a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct {
	*time.Ticker
}

func (t realTicker) C() <-chan time.Time {
	return t.Ticker.C
}

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

// Timer runs one-second countdowns. Each Start owns its own goroutine and ticker
// and hands back the only way to stop it.
type Timer struct {
	newTicker TickerFunc
}

func NewTimer(newTicker TickerFunc) *Timer {
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &Timer{newTicker: newTicker}
}

// Start counts seconds down once per tick, calling onTick with the seconds left
// after each tick. After the tick that reaches zero it calls onExpire exactly once
// and stops. A countdown started at zero or below expires without waiting for a
// tick. Callbacks run on the countdown's goroutine.
func (t *Timer) Start(seconds int, onTick func(remaining int), onExpire func()) *TimerHandle {
	h := &TimerHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go h.run(t.newTicker, seconds, onTick, onExpire)
	return h
}

// TimerHandle controls a running countdown.
type TimerHandle struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Cancel stops the countdown. It does not wait for a callback already running,
// may be called any number of times, and is safe on a nil handle.
func (h *TimerHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
}

// Done is closed once the countdown goroutine has exited.
func (h *TimerHandle) Done() <-chan struct{} {
	return h.done
}

func (h *TimerHandle) run(newTicker TickerFunc, remaining int, onTick func(int), onExpire func()) {
	defer close(h.done)

	if remaining <= 0 {
		h.expire(onExpire)
		return
	}

	ticker := newTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C():
			// a tick racing a cancel must lose
			if h.stopped() {
				return
			}
			remaining--
			if onTick != nil {
				onTick(remaining)
			}
			if remaining <= 0 {
				h.expire(onExpire)
				return
			}
		}
	}
}

func (h *TimerHandle) expire(onExpire func()) {
	if onExpire != nil && !h.stopped() {
		onExpire()
	}
}

func (h *TimerHandle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}
