package node

import (
	"sync"

	"github.com/fubhy/jazz/content"
	"github.com/fubhy/jazz/covalue"
	"github.com/fubhy/jazz/ids"
)

// defaultQueryDepth caps how many levels of nested covalue reference Query
// auto-subscribes through, absent an explicit depth (spec §4.9 supplemented
// feature: "query depth-limited auto-subscription").
const defaultQueryDepth = 3

// subscription is one node of the auto-subscription tree Query builds: the
// root carries the caller's callback, every nested covalue reference found
// in its materialized content gets its own child subscription one level
// shallower, recursively, down to depth 0.
type subscription struct {
	n        *Node
	id       ids.CoID
	depth    int
	callback func(any) // only set on the root subscription

	mu       sync.Mutex
	parent   *subscription
	children map[ids.CoID]*subscription
}

// Query subscribes callback to the materialized content of id, re-invoked
// on every change to id or to any covalue it references (up to depth
// levels deep). callback receives nil while any required covalue is still
// loading — monotonic read is preserved because a subscription is only
// ever replaced by a strictly newer materialization (spec §4.9, §5).
func (n *Node) Query(id ids.CoID, depth int, callback func(any)) (unsubscribe func()) {
	if depth <= 0 {
		depth = defaultQueryDepth
	}
	root := &subscription{n: n, id: id, depth: depth, callback: callback, children: map[ids.CoID]*subscription{}}
	n.addSub(root)
	root.recompute()
	return func() { n.unsubscribeTree(root) }
}

func (n *Node) addSub(s *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[s.id] = append(n.subs[s.id], s)
}

func (n *Node) removeSub(s *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[s.id]
	for i, existing := range list {
		if existing == s {
			n.subs[s.id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(n.subs[s.id]) == 0 {
		delete(n.subs, s.id)
	}
}

func (n *Node) unsubscribeTree(s *subscription) {
	s.mu.Lock()
	children := make([]*subscription, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()
	for _, c := range children {
		n.unsubscribeTree(c)
	}
	n.removeSub(s)
}

// onCoValueUpdate is the syncmanager onUpdate hook: re-run every
// subscription watching id (directly, or as a nested reference).
func (n *Node) onCoValueUpdate(id ids.CoID) {
	n.mu.Lock()
	subs := append([]*subscription(nil), n.subs[id]...)
	n.mu.Unlock()
	for _, s := range subs {
		s.root().recompute()
	}
}

func (s *subscription) root() *subscription {
	for s.parent != nil {
		s = s.parent
	}
	return s
}

// recompute resolves s.id (root only: delivers nil while anything in the
// subtree is still loading, otherwise the materialized content).
func (s *subscription) recompute() {
	materialized, resolved := s.resolve()
	if !resolved {
		s.deliver(nil)
		return
	}
	s.deliver(materialized)
}

// resolve materializes s.id and, if its content is a Map and s.depth > 0,
// recursively resolves every CoID-valued entry as a child subscription —
// creating new ones, tearing down ones no longer referenced — so deeper
// levels of reference get the same treatment as the root (spec §4.9
// supplemented feature: depth-limited auto-subscription). It returns the
// materialized content and whether every covalue this subtree needs is
// currently loaded.
func (s *subscription) resolve() (any, bool) {
	cv, ok := s.n.reg.getCoValue(s.id)
	if !ok {
		s.n.sync.RequestLoad(s.id)
		return nil, false
	}

	var keys covalue.KeyProvider
	if groupID, ok := cv.GroupID(); ok {
		if g, err := s.n.Group(groupID); err == nil {
			keys = g
		}
	}

	materialized, err := cv.GetCurrentContent(keys)
	if err != nil {
		return nil, false
	}

	if s.depth <= 0 {
		return materialized, true
	}
	m, ok := materialized.(*content.Map)
	if !ok {
		return materialized, true
	}
	return materialized, s.syncChildren(m)
}

// syncChildren ensures a child subscription exists for every CoID-valued
// entry in m, dropping children for keys no longer present. Returns false
// if any referenced child's own subtree is not yet fully resolved.
func (s *subscription) syncChildren(m *content.Map) bool {
	referenced := map[ids.CoID]bool{}
	for _, key := range m.Keys() {
		var ref ids.CoID
		ok, err := m.Get(key, &ref)
		if err != nil || !ok || !ref.Valid() {
			continue
		}
		referenced[ref] = true
	}

	s.mu.Lock()
	for id, child := range s.children {
		if !referenced[id] {
			delete(s.children, id)
			s.n.unsubscribeTree(child)
		}
	}
	for id := range referenced {
		if _, exists := s.children[id]; !exists {
			child := &subscription{n: s.n, id: id, depth: s.depth - 1, parent: s, children: map[ids.CoID]*subscription{}}
			s.children[id] = child
			s.n.addSub(child)
		}
	}
	children := make([]*subscription, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	allResolved := true
	for _, c := range children {
		if _, ok := c.resolve(); !ok {
			allResolved = false
		}
	}
	return allResolved
}

func (s *subscription) deliver(v any) {
	if s.callback != nil {
		s.callback(v)
	}
}
