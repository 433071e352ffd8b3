package pairing

import "sync"

// BothPaired is the coordinator's only derived value.
func BothPaired(a, b Status) bool {
	return a == StatusPaired && b == StatusPaired
}

// Snapshot is a consistent read of both machines.
type Snapshot struct {
	A          State
	B          State
	BothPaired bool
}

// Coordinator runs two machines side by side for dual-subject sessions. It only
// reads their published states; the machines never see each other.
type Coordinator struct {
	a, b    *Machine
	unwatch []func()

	mu          sync.Mutex
	snapshot    Snapshot
	watchers    []coordinatorWatcher
	nextWatcher int
}

type coordinatorWatcher struct {
	id int
	fn func(Snapshot)
}

func NewCoordinator(a, b *Machine) *Coordinator {
	c := &Coordinator{a: a, b: b}
	c.unwatch = []func(){
		a.Watch(func(s State) { c.update(func(snap *Snapshot) { snap.A = s }) }),
		b.Watch(func(s State) { c.update(func(snap *Snapshot) { snap.B = s }) }),
	}
	return c
}

// update runs from inside a machine's notification, so a child transition and
// the derived flag change under one coordinator lock.
func (c *Coordinator) update(apply func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	apply(&c.snapshot)
	c.snapshot.BothPaired = BothPaired(c.snapshot.A.Status, c.snapshot.B.Status)
	for _, w := range c.watchers {
		w.fn(c.snapshot)
	}
}

// Machine returns the child with the given subject, or nil.
func (c *Coordinator) Machine(subject string) *Machine {
	switch subject {
	case c.a.Subject():
		return c.a
	case c.b.Subject():
		return c.b
	}
	return nil
}

func (c *Coordinator) A() *Machine { return c.a }
func (c *Coordinator) B() *Machine { return c.b }

func (c *Coordinator) BothPaired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.BothPaired
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Watch calls fn with the current snapshot and again after every child change.
// Like Machine.Watch, fn must not call back into the coordinator or its machines.
func (c *Coordinator) Watch(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextWatcher++
	id := c.nextWatcher
	c.watchers = append(c.watchers, coordinatorWatcher{id: id, fn: fn})
	fn(c.snapshot)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, w := range c.watchers {
			if w.id == id {
				c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
				return
			}
		}
	}
}

// Close stops observing and closes both machines.
func (c *Coordinator) Close() {
	for _, unwatch := range c.unwatch {
		unwatch()
	}
	c.a.Close()
	c.b.Close()

	c.mu.Lock()
	c.watchers = nil
	c.mu.Unlock()
}
