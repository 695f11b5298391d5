package content

import (
	"sort"

	"github.com/fubhy/jazz/canon"
)

// mapEntry is the current value and provenance for one key.
type mapEntry struct {
	value   []byte
	deleted bool
	edit    Edit
}

// Map is a last-writer-wins map (spec §4.6). Deletion is an explicit
// tombstone change, not mere absence, so a delete can itself be overridden
// by a later concurrent set.
type Map struct {
	entries map[string]mapEntry
}

// MergeMap folds an unordered set of transactions into a Map, sorting them
// into merge order first (spec §4.5) and then applying each change in
// turn. Because the fold is a pure left-to-right overwrite over an
// ascending order, "last one applied wins" needs no further tie-breaking.
func MergeMap(txs []TxChanges) *Map {
	sorted := append([]TxChanges(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	m := &Map{entries: map[string]mapEntry{}}
	for _, tx := range sorted {
		for _, ch := range tx.Changes {
			switch ch.Op {
			case OpSet:
				m.entries[ch.Key] = mapEntry{
					value: ch.Value,
					edit:  Edit{By: tx.SessionID, At: tx.MadeAt, TxIndex: tx.TxIndex},
				}
			case OpDelete:
				m.entries[ch.Key] = mapEntry{
					deleted: true,
					edit:    Edit{By: tx.SessionID, At: tx.MadeAt, TxIndex: tx.TxIndex},
				}
			}
		}
	}
	return m
}

// Get decodes the value stored at key into out. ok is false if the key was
// never set or was deleted.
func (m *Map) Get(key string, out any) (ok bool, err error) {
	e, present := m.entries[key]
	if !present || e.deleted {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := canon.Decode(e.value, out); err != nil {
		return false, err
	}
	return true, nil
}

// Keys returns every key that currently has a live (non-deleted) value.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// LastEditAt returns the provenance of the most recent change to key,
// whether that change was a set or a delete.
func (m *Map) LastEditAt(key string) (Edit, bool) {
	e, ok := m.entries[key]
	if !ok {
		return Edit{}, false
	}
	return e.edit, true
}

// EncodeValue canonicalizes v for use as a Change.Value — exported so
// callers building Change literals don't need to import canon directly.
func EncodeValue(v any) ([]byte, error) { return canon.Encode(v) }

// DecodeValue is the inverse of EncodeValue, exported for callers (e.g.
// the group package) that decode a Change.Value outside of a Map.Get.
func DecodeValue(data []byte, out any) error { return canon.Decode(data, out) }
