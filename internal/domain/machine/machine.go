package machine

import (
	"errors"
	"sync"
)

// ErrDisposed is returned by every operation on a disposed machine.
var ErrDisposed = errors.New("machine disposed")

// ActionType names an action accepted by a machine.
type ActionType string

// Action is an input to a machine.
type Action interface {
	Type() ActionType
}

// Snapshot is the observable value of a machine.
type Snapshot[S comparable, C any] struct {
	State   S
	Context C
	Err     error
}

// TransitionFunc computes the next snapshot. Returning false rejects the
// action and leaves the machine untouched.
type TransitionFunc[S comparable, C any] func(cur Snapshot[S, C], action Action) (Snapshot[S, C], bool)

// Transitions maps a state and action type to its transition.
type Transitions[S comparable, C any] map[S]map[ActionType]TransitionFunc[S, C]

// Listener receives snapshots. Listeners run one at a time in the order
// transitions were applied and must not call Send or Subscribe on the machine
// that notifies them.
type Listener[S comparable, C any] func(Snapshot[S, C])

// Cloner is implemented by contexts holding slices or pointers. Snapshots
// leaving the machine carry a clone so callers cannot alter machine state.
type Cloner[C any] interface {
	Clone() C
}

type subscription[S comparable, C any] struct {
	id int
	fn Listener[S, C]
}

// Machine is a reducer-style state container. Listeners are only notified
// when a transition is applied.
type Machine[S comparable, C any] struct {
	// dispatch is held from applying a transition until every listener has
	// seen it, and is always taken before mu.
	dispatch    sync.Mutex
	mu          sync.Mutex
	current     Snapshot[S, C]
	transitions Transitions[S, C]
	listeners   []subscription[S, C]
	nextID      int
	disposed    bool
}

// New creates a machine in the given initial state.
func New[S comparable, C any](initial S, ctx C, transitions Transitions[S, C]) *Machine[S, C] {
	return &Machine[S, C]{
		current:     Snapshot[S, C]{State: initial, Context: ctx},
		transitions: transitions,
	}
}

// State returns the current snapshot.
func (m *Machine[S, C]) State() (Snapshot[S, C], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return Snapshot[S, C]{}, ErrDisposed
	}
	return m.current.clone(), nil
}

// Send applies action if the current state defines a transition for it.
// It reports whether a transition was applied.
func (m *Machine[S, C]) Send(action Action) (bool, error) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return false, ErrDisposed
	}
	fn, ok := m.transitions[m.current.State][action.Type()]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	next, ok := fn(m.current, action)
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	m.current = next
	listeners := make([]subscription[S, C], len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.fn(next.clone())
	}
	return true, nil
}

// Subscribe registers fn and calls it once with the current snapshot.
func (m *Machine[S, C]) Subscribe(fn Listener[S, C]) (func(), error) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, subscription[S, C]{id: id, fn: fn})
	cur := m.current
	m.mu.Unlock()

	fn(cur.clone())

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(id) })
	}, nil
}

func (m *Machine[S, C]) unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// Dispose releases all listeners. Safe to call more than once.
func (m *Machine[S, C]) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.listeners = nil
}

// Disposed reports whether Dispose has been called.
func (m *Machine[S, C]) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

func (s Snapshot[S, C]) clone() Snapshot[S, C] {
	if c, ok := any(s.Context).(Cloner[C]); ok {
		s.Context = c.Clone()
	}
	return s
}

// IsTerminal reports whether s has no outbound transitions.
func (t Transitions[S, C]) IsTerminal(s S) bool {
	return len(t[s]) == 0
}
