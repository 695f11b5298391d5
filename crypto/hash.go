package crypto

import (
	"github.com/fubhy/jazz/canon"
	"github.com/zeebo/blake3"
)

// HashSize is the full digest size produced by SecureHash.
const HashSize = 32

// ShortHashSize is the truncated digest size produced by ShortHash, used
// wherever a compact but still collision-resistant-for-our-purposes
// fingerprint is enough (key IDs).
const ShortHashSize = 16

// SecureHash canonicalizes v and returns its blake3 digest. Every content
// hash in the system — covalue IDs, session rolling hashes, key IDs — is
// built on this one function so that hashing is never order-sensitive.
func SecureHash(v any) ([HashSize]byte, error) {
	data, err := canon.Encode(v)
	if err != nil {
		return [HashSize]byte{}, err
	}
	return blake3.Sum256(data), nil
}

// SecureHashBytes hashes already-canonical bytes directly, used by the
// session log's rolling hash where the payload is a pre-encoded
// transaction rather than a Go value.
func SecureHashBytes(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// ShortHash returns the first ShortHashSize bytes of SecureHash(v). Used
// to derive KeySecret IDs from the key's own bytes (see KeySecret.ID).
func ShortHash(v any) ([ShortHashSize]byte, error) {
	full, err := SecureHash(v)
	if err != nil {
		return [ShortHashSize]byte{}, err
	}
	var short [ShortHashSize]byte
	copy(short[:], full[:ShortHashSize])
	return short, nil
}
