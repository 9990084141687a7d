package trade

import "sync"

// lockArena serializes trade execution per participant. Trades for the same
// participant run one at a time; trades for different participants never
// contend. Entries are never evicted; the arena is bounded by the number of
// participants who have traded since startup.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the participant's mutex and returns the release func.
func (a *lockArena) acquire(participantID string) func() {
	a.mu.Lock()
	l, ok := a.locks[participantID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[participantID] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
