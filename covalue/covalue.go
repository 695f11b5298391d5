package covalue

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/content"
	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/sessionlog"
)

// Role is a member's permission level in a group, as seen by the covalue
// layer's authorization check (spec §4.7). The covalue package only
// depends on this small enum; the group package is what actually computes
// roles, and implements PermissionView itself to avoid an import cycle
// (design note §9: cyclic references resolved through identity
// indirection, never an owning pointer).
type Role int

const (
	RoleNone Role = iota
	RoleReader
	RoleWriter
	RoleAdmin
	RoleRevoked
)

// PermissionView answers "what role did this account hold at this time",
// for the group that owns a covalue (or the group covalue's own admin
// set, when checking writes to the group itself).
type PermissionView interface {
	RoleAt(accountID ids.CoID, at int64) Role
}

// KeyProvider resolves a read key by ID, for decrypting private
// transactions during materialization (spec §4.5, §4.7).
type KeyProvider interface {
	ResolveKey(keyID ids.KeyID) (crypto.KeySecret, bool)
}

var (
	// ErrUnauthorized means the signing agent did not hold the role this
	// ruleset requires at the transaction's madeAt. Spec §7: local writes
	// that hit this are programmer bugs and should be raised loudly;
	// sync-received transactions that hit this are dropped and logged.
	ErrUnauthorized = errors.New("covalue: unauthorized")
	// ErrSessionAccountMismatch guards against a session ID being
	// attributed to two different accounts across calls.
	ErrSessionAccountMismatch = errors.New("covalue: session already attributed to a different account")
	// ErrHeaderMismatch is returned when an installed header's hash does
	// not match the covalue's own ID (spec §7: InvalidHeader).
	ErrHeaderMismatch = errors.New("covalue: header does not hash to this covalue's id")
)

type sessionMeta struct {
	accountID ids.CoID
	signerID  ids.SignerID
}

// TxNonceMaterial is the nonce material used both when a private
// transaction is encrypted and when it is decrypted — unique per
// (session, transaction index) so no nonce is ever reused.
type TxNonceMaterial struct {
	SessionID ids.SessionID `cbor:"1,keyasint"`
	TxIndex   int           `cbor:"2,keyasint"`
}

// CoValue aggregates every session log contributing to one object and
// materializes their merged content on demand (spec §4.5).
type CoValue struct {
	id     ids.CoID
	header Header
	log    logger.Logger

	mu          sync.Mutex
	sessions    map[ids.SessionID]*sessionlog.Log
	sessionMeta map[ids.SessionID]sessionMeta

	cachedTotalLen int
	cachedContent  any
}

// New assembles a covalue from its header, computing the ID header hashes
// to (invariant 1).
func New(log logger.Logger, header Header) (*CoValue, error) {
	id, err := header.ID()
	if err != nil {
		return nil, err
	}
	return &CoValue{
		id:          id,
		header:      header,
		log:         log,
		sessions:    map[ids.SessionID]*sessionlog.Log{},
		sessionMeta: map[ids.SessionID]sessionMeta{},
	}, nil
}

// FromWire installs a header received from a peer, verifying it hashes to
// the expected ID before trusting it (spec §7: InvalidHeader).
func FromWire(log logger.Logger, expected ids.CoID, header Header) (*CoValue, error) {
	cv, err := New(log, header)
	if err != nil {
		return nil, err
	}
	if cv.id != expected {
		return nil, fmt.Errorf("%w: got %s want %s", ErrHeaderMismatch, cv.id, expected)
	}
	return cv, nil
}

func (c *CoValue) ID() ids.CoID   { return c.id }
func (c *CoValue) Header() Header { return c.header }

// GroupID returns the group this covalue is owned by, when its ruleset is
// RulesetOwnedByGroup.
func (c *CoValue) GroupID() (ids.CoID, bool) {
	if c.header.Ruleset.Kind != RulesetOwnedByGroup {
		return "", false
	}
	return c.header.Ruleset.Group, true
}

// ensureSession lazily creates the session log the first time a session is
// referenced, remembering which account it belongs to. A session may never
// change the account it is attributed to.
func (c *CoValue) ensureSession(sessionID ids.SessionID, accountID ids.CoID, signerID ids.SignerID) (*sessionlog.Log, error) {
	if meta, ok := c.sessionMeta[sessionID]; ok {
		if meta.accountID != accountID {
			return nil, ErrSessionAccountMismatch
		}
		return c.sessions[sessionID], nil
	}
	log := sessionlog.New(c.log, sessionID, signerID)
	c.sessions[sessionID] = log
	c.sessionMeta[sessionID] = sessionMeta{accountID: accountID, signerID: signerID}
	return log, nil
}

func (c *CoValue) authorize(accountID ids.CoID, madeAt int64, perms PermissionView) error {
	switch c.header.Ruleset.Kind {
	case RulesetUnsafeAllowAll:
		return nil
	case RulesetAccount:
		// Bootstrap case: an account covalue authorizes its own agents by
		// virtue of the session key being private to the account holder;
		// there is nothing else to check it against (the account's own
		// member list is itself the covalue being written).
		return nil
	case RulesetGroup:
		if perms == nil {
			return fmt.Errorf("%w: no permission view for group covalue", ErrUnauthorized)
		}
		if role := perms.RoleAt(accountID, madeAt); role != RoleAdmin {
			return fmt.Errorf("%w: role %v is not admin", ErrUnauthorized, role)
		}
		return nil
	case RulesetOwnedByGroup:
		if perms == nil {
			return fmt.Errorf("%w: no permission view for owned covalue", ErrUnauthorized)
		}
		role := perms.RoleAt(accountID, madeAt)
		if role != RoleWriter && role != RoleAdmin {
			return fmt.Errorf("%w: role %v may not write", ErrUnauthorized, role)
		}
		return nil
	default:
		return fmt.Errorf("covalue: unknown ruleset kind %q", c.header.Ruleset.Kind)
	}
}

// TryAddTransactions validates authorization and hash-chain/signature
// integrity for a batch of replicated entries, then appends them and
// invalidates the materialization cache (spec §4.5). This is the path
// replicated entries take (spec §5: not reentrant). Local writes made
// through Append extend the session log directly and do not pass this
// authorization check.
func (c *CoValue) TryAddTransactions(
	sessionID ids.SessionID, accountID ids.CoID, signerID ids.SignerID,
	fromIndex int, entries []sessionlog.Entry, perms PermissionView,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log, err := c.ensureSession(sessionID, accountID, signerID)
	if err != nil {
		return err
	}

	for i, entry := range entries {
		if err := c.authorize(accountID, entry.Tx.MadeAt, perms); err != nil {
			return err
		}
		if err := log.TryAdd(fromIndex+i, entry.Tx, entry.AfterHash, entry.Signature); err != nil {
			if errors.Is(err, sessionlog.ErrDuplicate) {
				continue
			}
			return err
		}
	}
	c.invalidateCache()
	return nil
}

// Append is the local-write path: canonicalize+optionally encrypt changes,
// sign the next entry under signerSecret, and append it directly (the
// local writer always already holds the required role by construction).
func (c *CoValue) Append(
	sessionID ids.SessionID, accountID ids.CoID, signerID ids.SignerID,
	signerSecret ed25519.PrivateKey, changes []content.Change, key *crypto.KeySecret, keyID ids.KeyID,
	clock func() int64,
) (sessionlog.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log, err := c.ensureSession(sessionID, accountID, signerID)
	if err != nil {
		return sessionlog.Entry{}, err
	}

	madeAt := clampMadeAt(log, clock())

	tx := sessionlog.Transaction{MadeAt: madeAt}
	txIndex := log.Length()

	if key != nil {
		ciphertext, err := crypto.EncryptForTransaction(changes, *key, TxNonceMaterial{SessionID: sessionID, TxIndex: txIndex})
		if err != nil {
			return sessionlog.Entry{}, err
		}
		tx.Private = true
		tx.KeyID = keyID
		tx.Changes = ciphertext
	} else {
		plain, err := canon.Encode(changes)
		if err != nil {
			return sessionlog.Entry{}, err
		}
		tx.Changes = plain
	}

	entry, err := log.Sign(signerSecret, tx)
	if err != nil {
		return sessionlog.Entry{}, err
	}
	c.invalidateCache()
	return entry, nil
}

// clampMadeAt enforces invariant 5: madeAt within a session never
// regresses; when the wall clock would make it do so, clamp to prev+1.
func clampMadeAt(log *sessionlog.Log, now int64) int64 {
	last := lastMadeAt(log)
	if now <= last {
		return last + 1
	}
	return now
}

func lastMadeAt(log *sessionlog.Log) int64 {
	entries := log.Entries()
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].Tx.MadeAt
}

// KnownState reports what this covalue currently has for sync negotiation
// (spec §4.8).
type KnownState struct {
	ID       ids.CoID
	Sessions map[ids.SessionID]int
}

func (c *CoValue) KnownState() KnownState {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make(map[ids.SessionID]int, len(c.sessions))
	for id, log := range c.sessions {
		sessions[id] = log.Length()
	}
	return KnownState{ID: c.id, Sessions: sessions}
}

// SessionEntries exposes a session's entries from fromIndex on, for the
// sync manager to answer a `load` request (spec §4.8).
func (c *CoValue) SessionEntries(sessionID ids.SessionID, fromIndex int) ([]sessionlog.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log, ok := c.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return log.Slice(fromIndex)
}

func (c *CoValue) invalidateCache() {
	c.cachedContent = nil
	c.cachedTotalLen = -1
}

func (c *CoValue) totalLen() int {
	n := 0
	for _, log := range c.sessions {
		n += log.Length()
	}
	return n
}

// DecryptedTransactions decrypts (where needed) and returns every
// transaction currently held, unsorted. Callers that need the
// deterministic merge order should sort with content.Less; callers that
// need a point-in-time view (e.g. the group package's rolesAt) filter by
// MadeAt before folding. Private transactions whose key is not yet known
// are omitted, not erred on (spec §7: UndecryptableTransaction).
func (c *CoValue) DecryptedTransactions(keys KeyProvider) []content.TxChanges {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decryptedTransactionsLocked(keys)
}

func (c *CoValue) decryptedTransactionsLocked(keys KeyProvider) []content.TxChanges {
	var all []content.TxChanges
	for sessionID, log := range c.sessions {
		for i, entry := range log.Entries() {
			var changes []content.Change
			if entry.Tx.Private {
				if keys == nil {
					continue
				}
				key, ok := keys.ResolveKey(entry.Tx.KeyID)
				if !ok {
					continue
				}
				if !crypto.DecryptForTransaction(entry.Tx.Changes, key, TxNonceMaterial{SessionID: sessionID, TxIndex: i}, &changes) {
					continue
				}
			} else {
				if err := canon.Decode(entry.Tx.Changes, &changes); err != nil {
					continue
				}
			}
			all = append(all, content.TxChanges{SessionID: sessionID, TxIndex: i, MadeAt: entry.Tx.MadeAt, Changes: changes})
		}
	}
	return all
}

// GetCurrentContent merges every session's transactions into the typed
// CRDT view named by the header's Type. Private transactions whose key is
// not yet known are skipped (not dropped) and retried on the next call
// once keys arrive (spec §7: UndecryptableTransaction).
func (c *CoValue) GetCurrentContent(keys KeyProvider) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totalLen()
	if c.cachedContent != nil && c.cachedTotalLen == total {
		return c.cachedContent, nil
	}

	all := c.decryptedTransactionsLocked(keys)

	var materialized any
	switch c.header.Type {
	case TypeMap:
		materialized = content.MergeMap(all)
	case TypeList:
		materialized = content.MergeList(all)
	case TypeStream:
		materialized = content.MergeStream(all)
	case TypeBinaryStream:
		materialized = content.MergeBinaryStream(all)
	default:
		return nil, fmt.Errorf("covalue: unknown content type %q", c.header.Type)
	}

	// A materialization that skipped transactions is not cached, so the
	// next call retries them with whatever keys it is given.
	if len(all) == total {
		c.cachedContent = materialized
		c.cachedTotalLen = total
	}
	return materialized, nil
}

// Now returns the current time in milliseconds since epoch — the default
// clock passed to Append outside of tests.
func Now() int64 { return time.Now().UnixMilli() }
