package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/ids"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// ErrWrongTag is returned by Unseal when AEAD verification fails — either
// the ciphertext was tampered with or it was sealed for a different
// recipient. Spec §7: surfaced to callers of unseal, never panics.
var ErrWrongTag = errors.New("crypto: wrong tag")

// AgentSecret bundles the private halves of a signing and a sealing
// keypair — the credential an account session actually writes with.
type AgentSecret struct {
	SignerSecret ed25519.PrivateKey
	SealerSecret [32]byte
}

// Agent bundles the public halves, i.e. the AgentID an agent is addressed
// by on the wire.
type Agent struct {
	Signer SignerPublic
	Sealer SealerPublic
}

// SignerPublic / SealerPublic hold both the typed ID and the raw key bytes
// so callers don't have to re-decode the ID on every verify/seal call.
type SignerPublic struct {
	ID  ids.SignerID
	Key ed25519.PublicKey
}

type SealerPublic struct {
	ID  ids.SealerID
	Key [32]byte
}

// NewAgentSecret generates a fresh signing and sealing keypair.
func NewAgentSecret() (AgentSecret, error) {
	signerPub, signerSec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return AgentSecret{}, fmt.Errorf("crypto: generate signer key: %w", err)
	}
	_ = signerPub

	var sealerSec [32]byte
	if _, err := rand.Read(sealerSec[:]); err != nil {
		return AgentSecret{}, fmt.Errorf("crypto: generate sealer key: %w", err)
	}
	// Clamp per curve25519 convention so the scalar is always a valid
	// X25519 private key regardless of the raw random bytes drawn.
	sealerSec[0] &= 248
	sealerSec[31] &= 127
	sealerSec[31] |= 64

	return AgentSecret{SignerSecret: signerSec, SealerSecret: sealerSec}, nil
}

// Agent derives the public Agent corresponding to this secret.
func (s AgentSecret) Agent() (Agent, error) {
	signerPub, ok := s.SignerSecret.Public().(ed25519.PublicKey)
	if !ok {
		return Agent{}, errors.New("crypto: invalid signer secret")
	}
	var sealerPub [32]byte
	curve25519.ScalarBaseMult(&sealerPub, &s.SealerSecret)

	return Agent{
		Signer: SignerPublic{ID: ids.NewSignerID(signerPub), Key: signerPub},
		Sealer: SealerPublic{ID: ids.NewSealerID(sealerPub[:]), Key: sealerPub},
	}, nil
}

// ID composes the AgentID addressing this agent.
func (a Agent) ID() ids.AgentID { return ids.NewAgentID(a.Sealer.ID, a.Signer.ID) }

// ParseSignerPublic decodes a SignerID into its raw key.
func ParseSignerPublic(id ids.SignerID) (SignerPublic, error) {
	raw, err := id.Bytes()
	if err != nil {
		return SignerPublic{}, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return SignerPublic{}, fmt.Errorf("crypto: signer id %q has wrong length", id)
	}
	return SignerPublic{ID: id, Key: ed25519.PublicKey(raw)}, nil
}

// ParseSealerPublic decodes a SealerID into its raw key.
func ParseSealerPublic(id ids.SealerID) (SealerPublic, error) {
	raw, err := id.Bytes()
	if err != nil {
		return SealerPublic{}, err
	}
	if len(raw) != 32 {
		return SealerPublic{}, fmt.Errorf("crypto: sealer id %q has wrong length", id)
	}
	var key [32]byte
	copy(key[:], raw)
	return SealerPublic{ID: id, Key: key}, nil
}

// Sign canonicalizes payload and signs it with signerSecret, returning a
// SignatureID. Spec §4.1.
func Sign(signerSecret ed25519.PrivateKey, payload any) (ids.SignatureID, error) {
	data, err := canon.Encode(payload)
	if err != nil {
		return "", err
	}
	return SignBytes(signerSecret, data), nil
}

// SignBytes signs already-canonical bytes directly — used by the session
// log, which signs a rolling hash rather than re-encoding the transaction.
func SignBytes(signerSecret ed25519.PrivateKey, data []byte) ids.SignatureID {
	sig := ed25519.Sign(signerSecret, data)
	return ids.NewSignatureID(sig)
}

// Verify checks sig over the canonicalized payload against signerID.
func Verify(sig ids.SignatureID, payload any, signerID ids.SignerID) bool {
	data, err := canon.Encode(payload)
	if err != nil {
		return false
	}
	return VerifyBytes(sig, data, signerID)
}

// VerifyBytes checks sig over already-canonical bytes.
func VerifyBytes(sig ids.SignatureID, data []byte, signerID ids.SignerID) bool {
	sigBytes, err := sig.Bytes()
	if err != nil {
		return false
	}
	pub, err := ParseSignerPublic(signerID)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub.Key, data, sigBytes)
}

// SealInput bundles the arguments to Seal, mirroring the source's
// object-literal call convention.
type SealInput struct {
	Message      []byte
	From         AgentSecret
	To           ids.SealerID
	NonceMaterial any
}

// Seal derives a nonce from blake3(canonical(nonceMaterial)) and encrypts
// message from From to To via X25519 ECDH + XSalsa20-Poly1305 (nacl/box).
// Spec §4.1.
func Seal(in SealInput) (ids.SealedID, error) {
	var nonce [24]byte
	hash, err := SecureHash(in.NonceMaterial)
	if err != nil {
		return "", err
	}
	copy(nonce[:], hash[:24])

	toPub, err := ParseSealerPublic(in.To)
	if err != nil {
		return "", err
	}

	sealed := box.Seal(nil, in.Message, &nonce, &toPub.Key, &in.From.SealerSecret)
	return ids.NewSealedID(sealed), nil
}

// UnsealInput bundles the arguments to Unseal.
type UnsealInput struct {
	Sealed        ids.SealedID
	From          ids.SealerID
	To            AgentSecret
	NonceMaterial any
}

// Unseal reverses Seal. Returns ErrWrongTag (never panics) on AEAD
// verification failure, per spec §7.
func Unseal(in UnsealInput) ([]byte, error) {
	var nonce [24]byte
	hash, err := SecureHash(in.NonceMaterial)
	if err != nil {
		return nil, err
	}
	copy(nonce[:], hash[:24])

	fromPub, err := ParseSealerPublic(in.From)
	if err != nil {
		return nil, err
	}

	sealedBytes, err := in.Sealed.Bytes()
	if err != nil {
		return nil, err
	}

	message, ok := box.Open(nil, sealedBytes, &nonce, &fromPub.Key, &in.To.SealerSecret)
	if !ok {
		return nil, ErrWrongTag
	}
	return message, nil
}
