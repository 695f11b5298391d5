// Package content implements the CRDT merge rules of spec §4.6: Map, List,
// Stream and BinaryStream. Every type is materialized by folding a
// deterministically ordered stream of decrypted transactions — the
// covalue package is responsible for producing that order (madeAt primary
// ascending, sessionID lexicographic tiebreak, spec §4.5) and for
// decryption; this package never touches ciphertext or signatures.
package content

import "github.com/fubhy/jazz/ids"

// Op names one CRDT operation. The source's typed per-kind change records
// collapse here into one schema-agnostic struct (design note §9): static
// typing over Content is a language-level convenience the Go port does not
// need to reproduce at the wire level.
type Op string

const (
	OpSet     Op = "set"     // map: set(key, value, privacy)
	OpDelete  Op = "del"     // map: delete(key, privacy); list: del(pos)
	OpAppend  Op = "app"     // list: app(pos, value) — element placed at its own Pos
	OpPrepend Op = "pre"     // list: pre(pos, value) — merged exactly like app
	OpInsert  Op = "ins"     // list: insert(pos, value) — merged exactly like app
	OpPush    Op = "push"    // stream: push(value)
	OpStart   Op = "start"   // binary stream: start(meta)
	OpChunk   Op = "chunk"   // binary stream: chunk(bytes)
	OpEnd     Op = "end"     // binary stream: end
)

// Privacy marks whether the transaction carrying a change was encrypted.
// Carried on the Change itself only for UI/history purposes (§4.6's
// per-key edit history); the actual encryption happens one layer up, at
// the transaction.
type Privacy string

const (
	PrivacyPrivate  Privacy = "private"
	PrivacyTrusting Privacy = "trusting"
)

// Change is one CRDT operation inside a transaction (spec §3).
type Change struct {
	Op Op `cbor:"1,keyasint"`

	// Map fields.
	Key     string  `cbor:"2,keyasint,omitempty"`
	Value   []byte  `cbor:"3,keyasint,omitempty"` // canonical encoding of an arbitrary value
	Privacy Privacy `cbor:"4,keyasint,omitempty"`

	// List fields.
	Pos   Position `cbor:"5,keyasint,omitempty"` // target position (del) or new element's own position
	After Position  `cbor:"6,keyasint,omitempty"` // predecessor position; carried but not read by MergeList

	// Binary stream fields.
	MimeType      string `cbor:"7,keyasint,omitempty"`
	TotalSizeBytes int64 `cbor:"8,keyasint,omitempty"`
	FileName      string `cbor:"9,keyasint,omitempty"`
	Chunk         []byte `cbor:"10,keyasint,omitempty"`
}

// TxChanges is one decrypted transaction's worth of changes, already
// ordered for materialization by the covalue package.
type TxChanges struct {
	SessionID ids.SessionID
	TxIndex   int
	MadeAt    int64
	Changes   []Change
}

// Less implements the deterministic merge order of spec §4.5: madeAt
// primary ascending, sessionID lexicographic tiebreak. Two covalue
// replicas that received the same set of transactions always fold them in
// this order and so always converge to byte-identical content.
func Less(a, b TxChanges) bool {
	if a.MadeAt != b.MadeAt {
		return a.MadeAt < b.MadeAt
	}
	if a.SessionID != b.SessionID {
		return a.SessionID < b.SessionID
	}
	return a.TxIndex < b.TxIndex
}

// Edit records who made the most recent change to a map key, and where,
// for the UI-facing history the spec §4.6 calls for.
type Edit struct {
	By      ids.SessionID
	At      int64
	TxIndex int
}
