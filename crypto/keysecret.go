package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/ids"
	"golang.org/x/crypto/nacl/secretbox"
)

func encodeChanges(changes any) ([]byte, error) { return canon.Encode(changes) }

func decodeChanges(data []byte, out any) error { return canon.Decode(data, out) }

// KeySecretSize is the size of a read-key's symmetric material (spec §3).
const KeySecretSize = 32

// KeySecret is a symmetric read key. Its ID is derived from a short hash of
// its own bytes — there is no separate "public derivation material" in this
// port, which keeps key identity self-contained and still content-addressed.
type KeySecret [KeySecretSize]byte

// NewKeySecret generates a fresh random read key.
func NewKeySecret() (KeySecret, error) {
	var k KeySecret
	if _, err := rand.Read(k[:]); err != nil {
		return KeySecret{}, fmt.Errorf("crypto: generate key secret: %w", err)
	}
	return k, nil
}

// ID returns the KeyID this secret is addressed by.
func (k KeySecret) ID() (ids.KeyID, error) {
	short, err := ShortHash(k[:])
	if err != nil {
		return "", err
	}
	return ids.NewKeyID(short[:]), nil
}

// EncryptForTransaction encrypts a transaction's canonicalized changes
// under keySecret. nonceMaterial is canonicalized and hashed to derive the
// XSalsa20-Poly1305 nonce, the same way Seal derives its nonce — spec
// requires this so that no nonce is ever reused for two different
// transactions signed by two different sessions. Spec §4.1.
func EncryptForTransaction(changes any, key KeySecret, nonceMaterial any) ([]byte, error) {
	plaintext, err := encodeChanges(changes)
	if err != nil {
		return nil, err
	}
	nonce, err := deriveNonce(nonceMaterial)
	if err != nil {
		return nil, err
	}
	k := [32]byte(key)
	return secretbox.Seal(nil, plaintext, &nonce, &k), nil
}

// DecryptForTransaction reverses EncryptForTransaction. Per spec §7 it
// returns ok=false on MAC failure instead of an error — attacker-controlled
// ciphertext must never panic or bubble an exception, only a sentinel.
func DecryptForTransaction(ciphertext []byte, key KeySecret, nonceMaterial any, out any) (ok bool) {
	nonce, err := deriveNonce(nonceMaterial)
	if err != nil {
		return false
	}
	k := [32]byte(key)
	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &k)
	if !ok {
		return false
	}
	if err := decodeChanges(plaintext, out); err != nil {
		return false
	}
	return true
}

// WrapKeySecret encrypts oldKey under newKey, used to build the group's
// previous-key chain on rotation (`<oldKeyID>_wrapped_in_<newKeyID>`, spec
// §4.7). The key ID pair itself is the nonce material: it is unique per
// (old, new) pairing and never reused.
func WrapKeySecret(oldKey, newKey KeySecret) ([]byte, error) {
	oldID, err := oldKey.ID()
	if err != nil {
		return nil, err
	}
	newID, err := newKey.ID()
	if err != nil {
		return nil, err
	}
	nonce, err := deriveNonce(wrapNonceMaterial{Old: oldID, New: newID})
	if err != nil {
		return nil, err
	}
	k := [32]byte(newKey)
	return secretbox.Seal(nil, oldKey[:], &nonce, &k), nil
}

// UnwrapKeySecret reverses WrapKeySecret. Returns ok=false on MAC failure.
func UnwrapKeySecret(wrapped []byte, oldID, newID ids.KeyID, newKey KeySecret) (KeySecret, bool) {
	nonce, err := deriveNonce(wrapNonceMaterial{Old: oldID, New: newID})
	if err != nil {
		return KeySecret{}, false
	}
	k := [32]byte(newKey)
	plain, ok := secretbox.Open(nil, wrapped, &nonce, &k)
	if !ok || len(plain) != KeySecretSize {
		return KeySecret{}, false
	}
	var out KeySecret
	copy(out[:], plain)
	return out, true
}

type wrapNonceMaterial struct {
	Old ids.KeyID `cbor:"old"`
	New ids.KeyID `cbor:"new"`
}

func deriveNonce(nonceMaterial any) ([24]byte, error) {
	var nonce [24]byte
	hash, err := SecureHash(nonceMaterial)
	if err != nil {
		return nonce, err
	}
	copy(nonce[:], hash[:24])
	return nonce, nil
}
