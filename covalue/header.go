// Package covalue implements the per-object aggregate of spec §4.5: an
// immutable content-addressed header plus the set of session logs that
// carry its transactions, merged on demand into a typed CRDT view.
package covalue

import (
	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
)

// Type names the CRDT content kind a covalue materializes to (spec §3).
type Type string

const (
	TypeMap          Type = "comap"
	TypeList         Type = "colist"
	TypeStream       Type = "costream"
	TypeBinaryStream Type = "binary-costream"
)

// RulesetKind names who may write to a covalue (spec §3, GLOSSARY).
type RulesetKind string

const (
	RulesetGroup          RulesetKind = "group"
	RulesetOwnedByGroup   RulesetKind = "ownedByGroup"
	RulesetUnsafeAllowAll RulesetKind = "unsafeAllowAll"
	RulesetAccount        RulesetKind = "account"
)

// Ruleset is a tagged union: Group is only meaningful when Kind is
// RulesetOwnedByGroup.
type Ruleset struct {
	Kind  RulesetKind `cbor:"1,keyasint"`
	Group ids.CoID    `cbor:"2,keyasint,omitempty"`
}

// Header is the immutable, content-addressed part of a covalue (spec §3,
// invariant 1). Its canonical encoding hashed with crypto.SecureHash is the
// covalue's ID.
type Header struct {
	Type Type `cbor:"1,keyasint"`
	// Ruleset is one of the tagged variants above.
	Ruleset Ruleset `cbor:"2,keyasint"`
	// Meta is an opaque canonical-encoded value, application defined.
	Meta []byte `cbor:"3,keyasint,omitempty"`
	// CreatedAt is milliseconds since epoch, informational only — it is
	// not used for ordering anything (madeAt on transactions is).
	CreatedAt int64 `cbor:"4,keyasint"`
	// UniquenessSalt ensures two headers with otherwise identical fields
	// (e.g. two empty group covalues created in the same millisecond)
	// still hash to different IDs.
	UniquenessSalt []byte `cbor:"5,keyasint"`
}

// ID computes the covalue ID this header is addressed by.
func (h Header) ID() (ids.CoID, error) {
	hash, err := crypto.SecureHash(h)
	if err != nil {
		return "", err
	}
	return ids.NewCoID(hash[:]), nil
}
