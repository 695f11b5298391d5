package node

import (
	"fmt"
	"sync"

	"github.com/fubhy/jazz/ids"
)

// maxSessionSlots bounds the slot search a session lock performs (spec §5:
// "trying slots 0..99").
const maxSessionSlots = 100

// SessionLocker grants exclusive use of a (account, slot) session nonce for
// the lifetime of a node handle, so two tabs/processes on one device never
// write under the same session. Release must be called exactly once, when
// the owning node is torn down.
type SessionLocker interface {
	Acquire(accountID ids.CoID) (sessionID ids.SessionID, release func(), err error)
}

// ErrNoFreeSlot is returned when every slot 0..99 is already held for an
// account — vanishingly unlikely outside of a runaway test loop.
var ErrNoFreeSlot = fmt.Errorf("node: no free session slot in 0..%d", maxSessionSlots-1)

// InMemorySessionLocker implements SessionLocker for a single process: the
// "portable design exposes an injected SessionLocker capability" design
// note (spec §9), fulfilling the role browser navigator.locks plays in the
// source. It is keyed on an agent's own AgentID so independently-launched
// nodes using distinct per-device keys never collide.
type InMemorySessionLocker struct {
	agent ids.AgentID

	mu      sync.Mutex
	held    map[int]bool
	nonceOf map[int]uint64
	next    uint64
}

// NewInMemorySessionLocker creates a locker for a single agent identity.
// nonceSeed reserves slot nonces starting above any previously persisted
// session nonce for this device, so a restart never reuses a session ID.
func NewInMemorySessionLocker(agent ids.AgentID, nonceSeed uint64) *InMemorySessionLocker {
	return &InMemorySessionLocker{
		agent:   agent,
		held:    map[int]bool{},
		nonceOf: map[int]uint64{},
		next:    nonceSeed,
	}
}

// Acquire tries slots 0..99 in order, taking the first unheld one. A fresh
// nonce is minted for a slot the first time it is ever taken; later
// re-acquisitions of the same slot (after Release) reuse the same nonce,
// matching "a fresh session nonce is minted if no slot has one" (spec §5).
func (l *InMemorySessionLocker) Acquire(accountID ids.CoID) (ids.SessionID, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for slot := 0; slot < maxSessionSlots; slot++ {
		if l.held[slot] {
			continue
		}
		l.held[slot] = true
		nonce, ok := l.nonceOf[slot]
		if !ok {
			nonce = l.next
			l.next++
			l.nonceOf[slot] = nonce
		}
		sessionID := ids.NewSessionID(l.agent, nonce)
		release := func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, slot)
		}
		return sessionID, release, nil
	}
	return "", nil, fmt.Errorf("%w: account %s", ErrNoFreeSlot, accountID)
}
