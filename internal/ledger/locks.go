package ledger

import "sync"

// lockTable holds the serialization points of the engine: one RWMutex per
// market, one Mutex per outcome, and one Mutex per user, created lazily.
// A trade holds its market's read lock plus its outcome's lock end-to-end
// (price read through ledger append), so trades on unrelated outcomes
// proceed in parallel. A buy additionally holds the user's lock across the
// funds check and the append; the user lock is always innermost, so the
// ordering market -> outcome -> user cannot deadlock. Settlement takes the
// market's write lock, excluding all trades on that market without
// touching any other market.
type lockTable struct {
	mu       sync.Mutex
	markets  map[string]*sync.RWMutex
	outcomes map[string]*sync.Mutex
	users    map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{
		markets:  make(map[string]*sync.RWMutex),
		outcomes: make(map[string]*sync.Mutex),
		users:    make(map[string]*sync.Mutex),
	}
}

func (lt *lockTable) market(id string) *sync.RWMutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	l, ok := lt.markets[id]
	if !ok {
		l = &sync.RWMutex{}
		lt.markets[id] = l
	}
	return l
}

func (lt *lockTable) outcome(id string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	l, ok := lt.outcomes[id]
	if !ok {
		l = &sync.Mutex{}
		lt.outcomes[id] = l
	}
	return l
}

func (lt *lockTable) user(id string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	l, ok := lt.users[id]
	if !ok {
		l = &sync.Mutex{}
		lt.users[id] = l
	}
	return l
}
