// Package ids implements the typed, self-describing string identifiers used
// throughout the covalue log engine (spec §4.3): covalues, agents (signer /
// sealer keypairs), sessions and symmetric keys.
//
// Every ID is a prefix plus encoded binary material. The prefix picks both
// the alphabet (base58 for short fixed-size material, base64url for
// variable-length ciphertext) and, implicitly, the algorithm version: a
// future signature scheme would ship under a new prefix rather than
// reinterpreting `signature_z`.
package ids

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Prefixes for every ID kind the system hands out.
const (
	PrefixCoValue        = "co_z"
	PrefixSealer         = "sealer_z"
	PrefixSealerSecret   = "sealerSecret_z"
	PrefixSigner         = "signer_z"
	PrefixSignerSecret   = "signerSecret_z"
	PrefixKey            = "key_z"
	PrefixSealed         = "sealed_U"
	PrefixSignature      = "signature_z"
	PrefixInviteSecret   = "inviteSecret_z"
	sessionInfix         = "_session_"
	agentCompositeInfix  = "/"
)

// CoID identifies a covalue: co_z<base58(hash-of-canonical-header)>.
type CoID string

// SignerID is the public half of a signing (Ed25519) keypair.
type SignerID string

// SignerSecretID is the private half of a signing keypair.
type SignerSecretID string

// SealerID is the public half of a sealing (X25519) keypair.
type SealerID string

// SealerSecretID is the private half of a sealing keypair.
type SealerSecretID string

// AgentID bundles a sealer and signer public ID into one composite string:
// "sealer_z.../signer_z...". It is what an AccountID's profile-less peers
// use to address "whoever can write as this agent".
type AgentID string

// SessionID is "<agentID>_session_<nonce>".
type SessionID string

// KeyID identifies a KeySecret: key_z<base58(shortHash(keyBytes))>.
type KeyID string

// SealedID is the base64url envelope produced by seal(): sealed_U<base64url>.
type SealedID string

// SignatureID is the base58 envelope produced by sign(): signature_z<base58>.
type SignatureID string

// InviteSecretID is a one-shot invite token: inviteSecret_z<base58>.
type InviteSecretID string

func encodeB58(prefix string, data []byte) string {
	return prefix + base58.Encode(data)
}

func decodeB58(prefix, id string) ([]byte, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return nil, fmt.Errorf("ids: %q does not have prefix %q", id, prefix)
	}
	data := base58.Decode(rest)
	if len(data) == 0 && rest != "" && rest != base58.Encode(nil) {
		return nil, fmt.Errorf("ids: %q is not valid base58", id)
	}
	return data, nil
}

func encodeB64(prefix string, data []byte) string {
	return prefix + base64.RawURLEncoding.EncodeToString(data)
}

func decodeB64(prefix, id string) ([]byte, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return nil, fmt.Errorf("ids: %q does not have prefix %q", id, prefix)
	}
	return base64.RawURLEncoding.DecodeString(rest)
}

// NewCoID formats a covalue ID from the hash of its canonical header.
func NewCoID(headerHash []byte) CoID { return CoID(encodeB58(PrefixCoValue, headerHash)) }

// Bytes decodes the hash embedded in a CoID.
func (id CoID) Bytes() ([]byte, error) { return decodeB58(PrefixCoValue, string(id)) }

func (id CoID) Valid() bool { return strings.HasPrefix(string(id), PrefixCoValue) }

// NewSignerID / NewSignerSecretID wrap raw Ed25519 key bytes.
func NewSignerID(pub []byte) SignerID             { return SignerID(encodeB58(PrefixSigner, pub)) }
func NewSignerSecretID(sec []byte) SignerSecretID { return SignerSecretID(encodeB58(PrefixSignerSecret, sec)) }

func (id SignerID) Bytes() ([]byte, error)       { return decodeB58(PrefixSigner, string(id)) }
func (id SignerSecretID) Bytes() ([]byte, error) { return decodeB58(PrefixSignerSecret, string(id)) }

// NewSealerID / NewSealerSecretID wrap raw X25519 key bytes.
func NewSealerID(pub []byte) SealerID             { return SealerID(encodeB58(PrefixSealer, pub)) }
func NewSealerSecretID(sec []byte) SealerSecretID { return SealerSecretID(encodeB58(PrefixSealerSecret, sec)) }

func (id SealerID) Bytes() ([]byte, error)       { return decodeB58(PrefixSealer, string(id)) }
func (id SealerSecretID) Bytes() ([]byte, error) { return decodeB58(PrefixSealerSecret, string(id)) }

// NewAgentID composes a sealer and a signer public ID into one agent ID.
func NewAgentID(sealer SealerID, signer SignerID) AgentID {
	return AgentID(string(sealer) + agentCompositeInfix + string(signer))
}

// Split decomposes an AgentID back into its sealer and signer halves.
func (id AgentID) Split() (SealerID, SignerID, error) {
	parts := strings.SplitN(string(id), agentCompositeInfix, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("ids: %q is not a valid agent id", id)
	}
	return SealerID(parts[0]), SignerID(parts[1]), nil
}

// NewSessionID composes an agent ID and a per-device nonce.
func NewSessionID(agent AgentID, nonce uint64) SessionID {
	return SessionID(fmt.Sprintf("%s%s%d", agent, sessionInfix, nonce))
}

// Agent returns the AgentID half of a SessionID.
func (id SessionID) Agent() (AgentID, error) {
	idx := strings.LastIndex(string(id), sessionInfix)
	if idx < 0 {
		return "", fmt.Errorf("ids: %q is not a valid session id", id)
	}
	return AgentID(string(id)[:idx]), nil
}

// NewKeyID wraps the short hash of a key's own bytes.
func NewKeyID(shortHash []byte) KeyID { return KeyID(encodeB58(PrefixKey, shortHash)) }

func (id KeyID) Bytes() ([]byte, error) { return decodeB58(PrefixKey, string(id)) }

// NewSealedID wraps a sealed ciphertext envelope.
func NewSealedID(ciphertext []byte) SealedID { return SealedID(encodeB64(PrefixSealed, ciphertext)) }

func (id SealedID) Bytes() ([]byte, error) { return decodeB64(PrefixSealed, string(id)) }

// NewSignatureID wraps a raw signature.
func NewSignatureID(sig []byte) SignatureID { return SignatureID(encodeB58(PrefixSignature, sig)) }

func (id SignatureID) Bytes() ([]byte, error) { return decodeB58(PrefixSignature, string(id)) }

// NewInviteSecretID wraps random invite-secret material.
func NewInviteSecretID(secret []byte) InviteSecretID {
	return InviteSecretID(encodeB58(PrefixInviteSecret, secret))
}

func (id InviteSecretID) Bytes() ([]byte, error) { return decodeB58(PrefixInviteSecret, string(id)) }
