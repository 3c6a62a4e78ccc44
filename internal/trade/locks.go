package trade

import "sync"

// lockTable hands out one mutex per key. Entries are never reclaimed,
// which is fine at the scale of markets and active users here.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) get(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.locks[key] = l
	return l
}

// Locks serializes order execution: at most one in-flight committing
// order per market and per account. Both locks are always acquired market
// first, then account, so two orders touching the same pair of resources
// cannot deadlock. Settlement shares the same market locks so a resolve
// or void never interleaves with a partially committed order.
type Locks struct {
	markets  *lockTable
	accounts *lockTable
}

// NewLocks creates an empty lock set. One instance is shared between the
// trading and settlement services.
func NewLocks() *Locks {
	return &Locks{
		markets:  newLockTable(),
		accounts: newLockTable(),
	}
}

// Lock acquires the market lock then the account lock and returns the
// matching unlock function (reverse order).
func (l *Locks) Lock(marketID, userID string) func() {
	m := l.markets.get(marketID)
	a := l.accounts.get(userID)
	m.Lock()
	a.Lock()
	return func() {
		a.Unlock()
		m.Unlock()
	}
}

// LockMarket acquires only the market lock, for resolution and void paths
// that settle every holder at once.
func (l *Locks) LockMarket(marketID string) func() {
	m := l.markets.get(marketID)
	m.Lock()
	return m.Unlock
}
