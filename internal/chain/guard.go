package chain

import "sync"

// Guard is the "upgradable read" lock chain head/validator-set/ZKP-state
// access is taken through: many readers may hold a read lock
// concurrently, but only one goroutine at a time may be in the process of
// upgrading to a write lock, so two upgraders can never deadlock each
// waiting for the other's read lock to drain. sync.RWMutex alone does not
// provide this — two RLock holders both calling Lock() will deadlock
// against each other — so Guard adds a second mutex serializing upgrades.
type Guard struct {
	mu         sync.RWMutex
	upgradeMu  sync.Mutex
}

// RLock acquires a read lock. Call RUnlock to release it.
func (g *Guard) RLock()   { g.mu.RLock() }
func (g *Guard) RUnlock() { g.mu.RUnlock() }

// Lock acquires the write lock directly (no prior read lock held).
func (g *Guard) Lock()   { g.mu.Lock() }
func (g *Guard) Unlock() { g.mu.Unlock() }

// UpgradableRead runs fn while holding a read lock that fn may upgrade to
// a write lock via the Upgrade callback passed to it, for the common
// "check under a read lock, mutate only if needed" pattern (e.g. checking
// whether a block is already known before taking the write lock to push
// it). Only one goroutine may be inside UpgradableRead at a time; others
// block on entry until it returns.
func (g *Guard) UpgradableRead(fn func(upgrade func(func())) error) error {
	g.upgradeMu.Lock()
	defer g.upgradeMu.Unlock()

	g.mu.RLock()
	heldRead := true
	defer func() {
		if heldRead {
			g.mu.RUnlock()
		}
	}()

	upgrade := func(write func()) {
		g.mu.RUnlock()
		heldRead = false
		g.mu.Lock()
		write()
		g.mu.Unlock()
		g.mu.RLock()
		heldRead = true
	}
	return fn(upgrade)
}
