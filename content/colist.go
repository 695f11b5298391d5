package content

import (
	"sort"

	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/ids"
)

type listElement struct {
	pos       Position
	value     []byte
	deleted   bool
	madeAt    int64
	sessionID ids.SessionID
	txIndex   int
}

// List is an RGA-style ordered sequence (spec §4.6). Every element carries
// an opaque dense position; concurrent inserts that land on the same
// position are kept, ordered by (madeAt, sessionID) — the same tiebreak
// the covalue layer uses to order transactions for merging.
type List struct {
	live []listElement // final order, deleted entries excluded
	all  []listElement // final order, including tombstones (for Delete bookkeeping)
}

// MergeList folds transactions into a List.
func MergeList(txs []TxChanges) *List {
	sorted := append([]TxChanges(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	byPos := map[Position][]*listElement{}
	var order []Position

	for _, tx := range sorted {
		for _, ch := range tx.Changes {
			switch ch.Op {
			case OpAppend, OpPrepend, OpInsert:
				el := &listElement{
					pos: ch.Pos, value: ch.Value,
					madeAt: tx.MadeAt, sessionID: tx.SessionID, txIndex: tx.TxIndex,
				}
				if _, seen := byPos[ch.Pos]; !seen {
					order = append(order, ch.Pos)
				}
				byPos[ch.Pos] = append(byPos[ch.Pos], el)
			case OpDelete:
				for _, el := range byPos[ch.Pos] {
					el.deleted = true
				}
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	l := &List{}
	for _, pos := range order {
		group := byPos[pos]
		sort.Slice(group, func(i, j int) bool {
			if group[i].madeAt != group[j].madeAt {
				return group[i].madeAt < group[j].madeAt
			}
			return group[i].sessionID < group[j].sessionID
		})
		for _, el := range group {
			l.all = append(l.all, *el)
			if !el.deleted {
				l.live = append(l.live, *el)
			}
		}
	}
	return l
}

// Len returns the number of live (non-deleted) elements.
func (l *List) Len() int { return len(l.live) }

// At decodes the value of the i'th live element into out.
func (l *List) At(i int, out any) error {
	return canon.Decode(l.live[i].value, out)
}

// PositionAt returns the opaque position of the i'th live element, used by
// a caller building a new Change to insert relative to it.
func (l *List) PositionAt(i int) Position { return l.live[i].pos }

// NeighborsForIndex returns the (lo, hi) live-element positions
// surrounding the insertion point at index i (0 <= i <= Len()), suitable
// for GenerateBetween when building an insert Change.
func (l *List) NeighborsForIndex(i int) (lo, hi Position) {
	if i > 0 {
		lo = l.live[i-1].pos
	}
	if i < len(l.live) {
		hi = l.live[i].pos
	}
	return lo, hi
}
