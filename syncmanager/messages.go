// Package syncmanager implements the gossip sync protocol of spec §4.8:
// a per-peer knownState negotiation over a duplex channel
// of JSON-ish records, fanning out new local content to every peer that
// is behind.
package syncmanager

import "github.com/fubhy/jazz/ids"

// Kind names one of the four message shapes the protocol exchanges.
type Kind string

const (
	KindKnown   Kind = "known"
	KindLoad    Kind = "load"
	KindContent Kind = "content"
	KindDone    Kind = "done"
	// KindPing is not part of the base protocol in spec.md but is carried
	// by every transport adapter to detect a dead duplex channel without
	// tearing it down on every silent period (supplemented feature: idle
	// timeout below 2.5s of any traffic, including pings).
	KindPing Kind = "ping"
)

// WireEntry is one session log entry as it travels over the wire —
// exactly sessionlog.Entry's three verified fields, kept independent of
// that package so syncmanager's message schema doesn't change shape if
// sessionlog's internal representation ever does.
type WireEntry struct {
	Tx        []byte          `json:"tx"`
	AfterHash [32]byte        `json:"afterHash"`
	Signature ids.SignatureID `json:"signature"`
}

// Message is the single envelope type exchanged on a peer channel; which
// fields are populated depends on Kind.
type Message struct {
	Kind Kind     `json:"kind"`
	ID   ids.CoID `json:"id,omitempty"`

	// Header is the canonical encoding of a covalue.Header, attached the
	// first time a peer learns of an ID it had no header for.
	Header []byte `json:"header,omitempty"`

	// Sessions is used by `known` (claimed lengths) and `load` (indices
	// to resume from).
	Sessions map[ids.SessionID]int `json:"sessions,omitempty"`

	// New carries the actual entries for `content`, keyed by session and
	// starting at the index named in the preceding `load`/`known` gap.
	New map[ids.SessionID][]WireEntry `json:"new,omitempty"`
}
