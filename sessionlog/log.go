// Package sessionlog implements the per-(agent,session) signed hash chain
// described in spec §4.4: a purely local, append-only log of transactions.
// It knows nothing about peers or covalues; the covalue package is the only
// caller, and the sync manager only ever reaches a session's entries
// through it.
package sessionlog

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
)

var (
	// ErrInvalidSignature is returned by TryAdd when the entry's signature
	// does not verify against the session's agent signing key.
	ErrInvalidSignature = errors.New("sessionlog: invalid signature")
	// ErrInvalidHashChain is returned by TryAdd when the claimed afterHash
	// does not match H(previous afterHash || canonical(tx)).
	ErrInvalidHashChain = errors.New("sessionlog: invalid hash chain")
	// ErrDuplicate is returned by TryAdd when replaying an entry already
	// present at that index — verification is idempotent, not an error
	// condition callers need to treat specially.
	ErrDuplicate = errors.New("sessionlog: duplicate entry")
	// ErrOutOfRange is returned by Slice when fromIndex exceeds the log.
	ErrOutOfRange = errors.New("sessionlog: index out of range")
)

// Transaction is one signed, hash-chained unit of mutation (spec §3). The
// covalue/content layers interpret Changes; this package only needs to
// canonicalize and hash it.
type Transaction struct {
	// Private is true when Changes is a ciphertext rather than plaintext
	// (spec §3: "Trusting" vs "Private" transactions).
	Private bool `cbor:"1,keyasint"`
	// MadeAt is milliseconds since epoch, monotonic within a session
	// (invariant 5).
	MadeAt int64 `cbor:"2,keyasint"`
	// KeyID names the read key Changes is encrypted under, set only when
	// Private.
	KeyID ids.KeyID `cbor:"3,keyasint,omitempty"`
	// Changes holds the canonical encoding of the plaintext change list
	// (Trusting) or the sealed ciphertext (Private). The session log
	// never interprets these bytes.
	Changes []byte `cbor:"4,keyasint"`
}

// Entry is one verified link in a session's hash chain.
type Entry struct {
	Tx        Transaction
	AfterHash [crypto.HashSize]byte
	Signature ids.SignatureID
}

// Log is the append-only hash chain for a single (agent, session) pair.
type Log struct {
	sessionID ids.SessionID
	signer    ids.SignerID
	log       logger.Logger

	entries []Entry
}

// New creates an empty log for sessionID, whose entries must verify
// against signer's Ed25519 public key.
func New(log logger.Logger, sessionID ids.SessionID, signer ids.SignerID) *Log {
	return &Log{sessionID: sessionID, signer: signer, log: log}
}

// SessionID returns the session this log belongs to.
func (l *Log) SessionID() ids.SessionID { return l.sessionID }

// Length returns the number of entries currently held.
func (l *Log) Length() int { return len(l.entries) }

// LastHash returns the rolling hash of the most recent entry, or the
// session's genesis hash if the log is empty.
func (l *Log) LastHash() [crypto.HashSize]byte {
	if len(l.entries) == 0 {
		return genesisHash(l.sessionID)
	}
	return l.entries[len(l.entries)-1].AfterHash
}

// LastSignature returns the signature of the most recent entry, if any.
func (l *Log) LastSignature() (ids.SignatureID, bool) {
	if len(l.entries) == 0 {
		return "", false
	}
	return l.entries[len(l.entries)-1].Signature, true
}

// genesisHash seeds the rolling hash chain with a value specific to this
// session, so that two sessions whose first transaction happens to be
// byte-identical never produce the same afterHash.
func genesisHash(sessionID ids.SessionID) [crypto.HashSize]byte {
	return crypto.SecureHashBytes([]byte(sessionID))
}

func rollingHash(prev [crypto.HashSize]byte, tx Transaction) ([crypto.HashSize]byte, []byte, error) {
	txBytes, err := canon.Encode(tx)
	if err != nil {
		return [crypto.HashSize]byte{}, nil, fmt.Errorf("sessionlog: canonicalize tx: %w", err)
	}
	payload := append(append([]byte{}, prev[:]...), txBytes...)
	return crypto.SecureHashBytes(payload), txBytes, nil
}

// Sign appends tx to the log, computing the next afterHash and signing it
// with signerSecret. Used when this node owns the session (spec §4.4).
// signerSecret must correspond to l.signer.
func (l *Log) Sign(signerSecret ed25519.PrivateKey, tx Transaction) (Entry, error) {
	afterHash, _, err := rollingHash(l.LastHash(), tx)
	if err != nil {
		return Entry{}, err
	}
	sig := crypto.SignBytes(signerSecret, afterHash[:])
	entry := Entry{Tx: tx, AfterHash: afterHash, Signature: sig}
	l.entries = append(l.entries, entry)
	if l.log != nil {
		logger.Sugar.Debugf("sessionlog: signed entry %d for session %s", len(l.entries)-1, l.sessionID)
	}
	return entry, nil
}

// TryAdd verifies and appends a replicated (tx, afterHash, signature)
// triple received from a peer. Verification is deterministic and
// idempotent: replaying an already-known entry returns ErrDuplicate
// without altering state, and any other failure leaves the log untouched.
func (l *Log) TryAdd(index int, tx Transaction, afterHash [crypto.HashSize]byte, signature ids.SignatureID) error {
	if index < len(l.entries) {
		existing := l.entries[index]
		if existing.AfterHash == afterHash && existing.Signature == signature {
			return ErrDuplicate
		}
		return ErrInvalidHashChain
	}
	if index != len(l.entries) {
		return fmt.Errorf("sessionlog: %w: expected index %d, got %d", ErrInvalidHashChain, len(l.entries), index)
	}

	expected, _, err := rollingHash(l.LastHash(), tx)
	if err != nil {
		return err
	}
	if expected != afterHash {
		return ErrInvalidHashChain
	}
	if !crypto.VerifyBytes(signature, afterHash[:], l.signer) {
		return ErrInvalidSignature
	}

	l.entries = append(l.entries, Entry{Tx: tx, AfterHash: afterHash, Signature: signature})
	return nil
}

// Slice returns the entries from fromIndex to the end, used by sync to
// answer "send me everything after N" (spec §4.8).
func (l *Log) Slice(fromIndex int) ([]Entry, error) {
	if fromIndex < 0 || fromIndex > len(l.entries) {
		return nil, ErrOutOfRange
	}
	out := make([]Entry, len(l.entries)-fromIndex)
	copy(out, l.entries[fromIndex:])
	return out, nil
}

// Entries returns every entry currently held, used by materialization.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
