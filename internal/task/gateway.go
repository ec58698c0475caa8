package task

import "sync"

// gateway hands out one mutex per user so every read-modify-write cycle on a
// user's state (UI action or timer firing) is totally ordered, while distinct
// users proceed fully in parallel.
//
// Entries are never evicted: one idle mutex per user ever seen is cheap and
// keeps the locking story trivial.
type gateway struct {
	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

func newGateway() *gateway {
	return &gateway{users: map[int64]*sync.Mutex{}}
}

func (g *gateway) forUser(userID int64) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.users[userID]
	if !ok {
		m = &sync.Mutex{}
		g.users[userID] = m
	}
	return m
}
