// Package node implements the account lifecycle and registry surface of
// spec §4.9: a single local handle that owns a registry of loaded covalues
// and groups, a sync manager wired to whatever peers it was given, and the
// account session this process writes under.
package node

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fubhy/jazz/covalue"
	"github.com/fubhy/jazz/group"
	"github.com/fubhy/jazz/ids"
)

// registryCapacity bounds how many covalues a node keeps materialized in
// memory at once. Evicted entries are still recoverable from a storage
// peer; eviction only drops the in-process cache.
const registryCapacity = 4096

// registry is the node's local cache of loaded covalues and the groups
// that own them, keyed by CoID. It is the thing `load` and `query` consult
// before going to the network.
type registry struct {
	covalues *lru.Cache[ids.CoID, *covalue.CoValue]
	groups   *lru.Cache[ids.CoID, *group.Group]
}

func newRegistry() *registry {
	covalues, err := lru.New[ids.CoID, *covalue.CoValue](registryCapacity)
	if err != nil {
		panic(err)
	}
	groups, err := lru.New[ids.CoID, *group.Group](registryCapacity)
	if err != nil {
		panic(err)
	}
	return &registry{covalues: covalues, groups: groups}
}

func (r *registry) getCoValue(id ids.CoID) (*covalue.CoValue, bool) {
	return r.covalues.Get(id)
}

func (r *registry) putCoValue(cv *covalue.CoValue) {
	r.covalues.Add(cv.ID(), cv)
}

func (r *registry) getGroup(id ids.CoID) (*group.Group, bool) {
	return r.groups.Get(id)
}

func (r *registry) putGroup(g *group.Group) {
	r.groups.Add(g.ID(), g)
	r.covalues.Add(g.ID(), g.CoValue())
}
