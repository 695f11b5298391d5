// Package canon provides the single canonical, order-independent encoding
// used everywhere a hash, signature payload, or nonce material is computed.
//
// Without a canonical form two peers holding semantically identical values
// (e.g. a transaction map built by inserting keys in a different order)
// would hash differently and every signature chain would fork. Canon fixes
// that by always encoding through CBOR's core deterministic rules: map keys
// sorted by their own encoded bytes, shortest-form integers, no indefinite
// length items.
package canon

import (
	"github.com/fxamacker/cbor/v2"
)

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeUnix
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

var decMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Encode returns the canonical encoding of v. Two values that are deeply
// equal once decoded always produce the same bytes, regardless of the
// order in which map entries were set.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode reverses Encode into v.
func Decode(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// MustEncode panics on encode failure. Used at call sites where the input
// is a value this package's own types produced and is therefore always
// encodable (e.g. hashing a Go struct literal we control).
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}
