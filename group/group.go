// Package group implements the permission/key-rotation engine of spec
// §4.7: a `group`-ruleset covalue whose materialized map content is the
// source of truth for roles, sealed read-keys, the previous-key wrap
// chain, and open invites. It implements covalue.PermissionView and
// covalue.KeyProvider so that any covalue.CoValue owned by a Group can be
// handed this Group directly wherever those interfaces are expected.
package group

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fubhy/jazz/content"
	"github.com/fubhy/jazz/covalue"
	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
)

// Role mirrors covalue.Role under names that read naturally in this
// package's own vocabulary.
type Role = covalue.Role

const (
	RoleNone    = covalue.RoleNone
	RoleReader  = covalue.RoleReader
	RoleWriter  = covalue.RoleWriter
	RoleAdmin   = covalue.RoleAdmin
	RoleRevoked = covalue.RoleRevoked
)

const (
	roleKeyPrefix   = "role:"
	readKeyKey      = "readKey"
	sealedKeyPrefix = "sealedKey:" // sealedKey:<keyID>:for:<accountID>
	wrapKeyPrefix   = "wrap:"      // wrap:<oldKeyID>:in:<newKeyID>
	inviteKeyPrefix = "invite:"
)

var (
	// ErrNotAdmin is returned when a caller without the admin role
	// attempts an operation reserved to admins (spec §4.7).
	ErrNotAdmin = errors.New("group: caller is not an admin")
	// ErrUnknownKey is returned by AddMember and RemoveMember when
	// ReadKeyAt cannot resolve the secret of the current read key.
	ErrUnknownKey = errors.New("group: cannot resolve key secret")
	// ErrInvalidInvite is returned by AcceptInvite when the secret does
	// not match any open invite, or the invite was already consumed.
	ErrInvalidInvite = errors.New("group: invalid or consumed invite")
)

// keyRecord is what the group privately remembers about each read key it
// has ever held, so that a current member can unwrap the whole
// predecessor chain down to any key an old transaction references.
type keyRecord struct {
	id     ids.KeyID
	secret crypto.KeySecret
}

// Group wraps a RulesetGroup covalue and caches the locally-known key
// secrets a member has managed to unwrap, since unwrapping requires a
// member's own sealer secret and can't be recomputed from the public
// covalue content alone.
type Group struct {
	cv  *covalue.CoValue
	log logger.Logger

	mu        sync.Mutex
	knownKeys map[ids.KeyID]crypto.KeySecret
}

// New creates a brand-new group, owned by founder at RoleAdmin, with a
// fresh read key sealed to founder.
func New(log logger.Logger, founder crypto.Agent, founderSecret crypto.AgentSecret,
	sessionID ids.SessionID, founderAccountID ids.CoID, clock func() int64) (*Group, error) {

	header := covalue.Header{
		Type:           covalue.TypeMap,
		Ruleset:        covalue.Ruleset{Kind: covalue.RulesetGroup},
		CreatedAt:      clock(),
		UniquenessSalt: randomSalt(),
	}
	cv, err := covalue.New(log, header)
	if err != nil {
		return nil, err
	}

	g := &Group{cv: cv, log: log, knownKeys: map[ids.KeyID]crypto.KeySecret{}}

	readKey, err := crypto.NewKeySecret()
	if err != nil {
		return nil, err
	}
	readKeyID, err := readKey.ID()
	if err != nil {
		return nil, err
	}
	g.knownKeys[readKeyID] = readKey

	sealed, err := crypto.Seal(crypto.SealInput{
		Message: readKey[:], From: founderSecret, To: founder.Sealer.ID,
		NonceMaterial: sealNonce(readKeyID, founderAccountID),
	})
	if err != nil {
		return nil, err
	}

	changes := []content.Change{
		roleChange(founderAccountID, RoleAdmin),
		setChange(readKeyKey, mustEncode(readKeyID)),
		setChange(sealedKeyName(readKeyID, founderAccountID), mustEncode(sealed)),
	}

	if _, err := g.cv.Append(sessionID, founderAccountID, founder.Signer.ID, founderSecret.SignerSecret, changes, nil, "", clock); err != nil {
		return nil, err
	}
	return g, nil
}

// FromCoValue wraps an already-loaded group-ruleset covalue, e.g. after
// sync has delivered one.
func FromCoValue(cv *covalue.CoValue) (*Group, error) {
	if cv.Header().Ruleset.Kind != covalue.RulesetGroup {
		return nil, fmt.Errorf("group: covalue %s is not a group", cv.ID())
	}
	return &Group{cv: cv, knownKeys: map[ids.KeyID]crypto.KeySecret{}}, nil
}

// ID returns the group covalue's ID.
func (g *Group) ID() ids.CoID { return g.cv.ID() }

// CoValue exposes the underlying covalue, e.g. for the sync manager.
func (g *Group) CoValue() *covalue.CoValue { return g.cv }

// RoleAt implements covalue.PermissionView.
func (g *Group) RoleAt(accountID ids.CoID, at int64) Role {
	roles := g.rolesAt(at)
	if role, ok := roles[accountID]; ok {
		return role
	}
	return RoleNone
}

// ResolveKey implements covalue.KeyProvider, consulting only keys this
// Group value already holds: the ones it generated itself (New,
// RemoveMember) or recovered through a prior UnwrapTo call walking the
// chain. Sealed keys addressed to a member are not unsealed here.
func (g *Group) ResolveKey(keyID ids.KeyID) (crypto.KeySecret, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k, ok := g.knownKeys[keyID]
	return k, ok
}

// rolesAt folds every role-entry transaction up to and including time at
// (spec §4.7: "rolesAt(time) by folding transactions up to time").
func (g *Group) rolesAt(at int64) map[ids.CoID]Role {
	txs := g.cv.DecryptedTransactions(g)
	filtered := make([]content.TxChanges, 0, len(txs))
	for _, tx := range txs {
		if tx.MadeAt <= at {
			filtered = append(filtered, tx)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return content.Less(filtered[i], filtered[j]) })

	roles := map[ids.CoID]Role{}
	for _, tx := range filtered {
		for _, ch := range tx.Changes {
			if ch.Op != content.OpSet {
				continue
			}
			accountID, ok := parseRoleKey(ch.Key)
			if !ok {
				continue
			}
			var role Role
			if err := content.DecodeValue(ch.Value, &role); err == nil {
				roles[accountID] = role
			}
		}
	}
	return roles
}

// Roles returns the group's current (latest) role assignments.
func (g *Group) Roles() map[ids.CoID]Role { return g.rolesAt(latestMadeAt) }

const latestMadeAt = int64(1<<63 - 1)

// ReadKeyAt returns the key ID in force at time `at`, and — if the caller
// has previously unwrapped it (directly or through the wrap chain) — its
// resolved secret (spec §4.7).
func (g *Group) ReadKeyAt(at int64) (ids.KeyID, crypto.KeySecret, bool) {
	m, err := g.materializedAt(at)
	if err != nil {
		return "", crypto.KeySecret{}, false
	}
	var keyID ids.KeyID
	ok, err := m.Get(readKeyKey, &keyID)
	if err != nil || !ok {
		return "", crypto.KeySecret{}, false
	}
	secret, ok := g.ResolveKey(keyID)
	return keyID, secret, ok
}

func (g *Group) materializedAt(at int64) (*content.Map, error) {
	txs := g.cv.DecryptedTransactions(g)
	filtered := make([]content.TxChanges, 0, len(txs))
	for _, tx := range txs {
		if tx.MadeAt <= at {
			filtered = append(filtered, tx)
		}
	}
	return content.MergeMap(filtered), nil
}

// AddMember seals the current read key to accountID's sealer public key
// and records its role. Caller must already hold RoleAdmin. This method
// does not check that: Append is the local-write fast path and runs no
// authorization (spec §5: the local writer is trusted by construction);
// only replicas receiving the entry through TryAddTransactions verify the
// writer against RoleAt.
func (g *Group) AddMember(
	sessionID ids.SessionID, adminAccountID ids.CoID, admin crypto.Agent, adminSecret crypto.AgentSecret,
	memberAccountID ids.CoID, memberSealer ids.SealerID, role Role, clock func() int64,
) error {
	readKeyID, readKey, ok := g.ReadKeyAt(clock())
	if !ok {
		return ErrUnknownKey
	}

	sealed, err := crypto.Seal(crypto.SealInput{
		Message: readKey[:], From: adminSecret, To: memberSealer,
		NonceMaterial: sealNonce(readKeyID, memberAccountID),
	})
	if err != nil {
		return err
	}

	changes := []content.Change{
		roleChange(memberAccountID, role),
		setChange(sealedKeyName(readKeyID, memberAccountID), mustEncode(sealed)),
	}
	_, err = g.cv.Append(sessionID, adminAccountID, admin.Signer.ID, adminSecret.SignerSecret, changes, nil, "", clock)
	return err
}

// RemoveMember revokes accountID, rotates the read key, wraps the old key
// under the new one, and re-seals the new key to every remaining
// non-revoked member — so the removed member can decrypt nothing signed
// after this transaction's madeAt, but older content they already synced
// (and already decrypted) is unaffected (spec §4.7, invariant 4: rotation
// strictly follows revocation).
func (g *Group) RemoveMember(
	sessionID ids.SessionID, adminAccountID ids.CoID, admin crypto.Agent, adminSecret crypto.AgentSecret,
	memberAccountID ids.CoID, memberSealers map[ids.CoID]ids.SealerID, clock func() int64,
) error {
	now := clock()
	oldKeyID, oldKey, ok := g.ReadKeyAt(now)
	if !ok {
		return ErrUnknownKey
	}

	newKey, err := crypto.NewKeySecret()
	if err != nil {
		return err
	}
	newKeyID, err := newKey.ID()
	if err != nil {
		return err
	}

	wrapped, err := crypto.WrapKeySecret(oldKey, newKey)
	if err != nil {
		return err
	}

	changes := []content.Change{
		roleChange(memberAccountID, RoleRevoked),
		setChange(readKeyKey, mustEncode(newKeyID)),
		setChange(wrapName(oldKeyID, newKeyID), mustEncode(wrapped)),
	}

	for accountID, sealer := range memberSealers {
		if accountID == memberAccountID {
			continue
		}
		if g.RoleAt(accountID, now) == RoleRevoked {
			continue
		}
		sealed, err := crypto.Seal(crypto.SealInput{
			Message: newKey[:], From: adminSecret, To: sealer,
			NonceMaterial: sealNonce(newKeyID, accountID),
		})
		if err != nil {
			return err
		}
		changes = append(changes, setChange(sealedKeyName(newKeyID, accountID), mustEncode(sealed)))
	}

	g.mu.Lock()
	g.knownKeys[newKeyID] = newKey
	g.mu.Unlock()

	_, err = g.cv.Append(sessionID, adminAccountID, admin.Signer.ID, adminSecret.SignerSecret, changes, nil, "", clock)
	return err
}

// UnwrapTo walks the wrap chain backwards from a key the caller already
// knows, recovering any older key secrets referenced by transactions the
// caller is trying to decrypt — e.g. content written before the caller
// joined but still inside the window they were granted access to.
func (g *Group) UnwrapTo(targetKeyID ids.KeyID, at int64) (crypto.KeySecret, bool) {
	if k, ok := g.ResolveKey(targetKeyID); ok {
		return k, true
	}
	m, err := g.materializedAt(at)
	if err != nil {
		return crypto.KeySecret{}, false
	}

	var newKeyID ids.KeyID
	ok, err := m.Get(readKeyKey, &newKeyID)
	if err != nil || !ok {
		return crypto.KeySecret{}, false
	}
	for {
		newKey, ok := g.ResolveKey(newKeyID)
		if !ok {
			return crypto.KeySecret{}, false
		}
		var oldKeyID ids.KeyID
		var wrapped []byte
		found := false
		for _, key := range m.Keys() {
			old, isWrap := parseWrapKey(key, newKeyID)
			if !isWrap {
				continue
			}
			if ok, _ := m.Get(key, &wrapped); ok {
				oldKeyID = old
				found = true
			}
			break
		}
		if !found {
			return crypto.KeySecret{}, false
		}
		oldKey, ok := crypto.UnwrapKeySecret(wrapped, oldKeyID, newKeyID, newKey)
		if !ok {
			return crypto.KeySecret{}, false
		}
		g.mu.Lock()
		g.knownKeys[oldKeyID] = oldKey
		g.mu.Unlock()
		if oldKeyID == targetKeyID {
			return oldKey, true
		}
		newKeyID = oldKeyID
	}
}

// Invite is the bearer credential handed out-of-band by CreateInvite.
type Invite struct {
	ID     string
	Secret []byte
	Role   Role
}

// InviteIDFor recomputes the invite ID a secret was minted under, so a
// caller holding only the secret (the spec §4.9 node surface only passes
// `inviteSecret`) doesn't also need to remember the ID separately.
func InviteIDFor(secret []byte) string {
	return fmt.Sprintf("%x", crypto.SecureHashBytes(secret))[:24]
}

// CreateInvite mints a one-time invite usable by anyone who holds its
// Secret. The granted role is stored sealed under a key derived from the
// secret itself, so the wire-visible group state never reveals what role
// an open invite carries (spec §4.7).
func (g *Group) CreateInvite(
	sessionID ids.SessionID, adminAccountID ids.CoID, admin crypto.Agent, adminSecret crypto.AgentSecret,
	role Role, clock func() int64,
) (Invite, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return Invite{}, fmt.Errorf("group: generate invite secret: %w", err)
	}
	inviteKeySecret := crypto.KeySecret(crypto.SecureHashBytes(secret))
	inviteID := fmt.Sprintf("%x", crypto.SecureHashBytes(secret))[:24]

	sealed, err := crypto.EncryptForTransaction([]content.Change{roleChange(ids.CoID(""), role)}, inviteKeySecret, inviteID)
	if err != nil {
		return Invite{}, err
	}

	changes := []content.Change{setChange(inviteKeyPrefix+inviteID, mustEncode(sealed))}
	if _, err := g.cv.Append(sessionID, adminAccountID, admin.Signer.ID, adminSecret.SignerSecret, changes, nil, "", clock); err != nil {
		return Invite{}, err
	}

	return Invite{ID: inviteID, Secret: secret, Role: role}, nil
}

// AcceptInvite is executed by a node that already holds admin access to
// the group (spec §4.7: "convinces the group to add the caller's account
// at the encoded role" — the group's own admin performs the add once it
// has verified the bearer secret). It rejects replay: a consumed invite's
// entry is tombstoned so a second AcceptInvite with the same secret fails
// with ErrInvalidInvite. The invite is looked up in the group's latest
// state, not in a view cut off at clock().
func (g *Group) AcceptInvite(
	sessionID ids.SessionID, adminAccountID ids.CoID, admin crypto.Agent, adminSecret crypto.AgentSecret,
	inviteID string, secret []byte, newMemberAccountID ids.CoID, newMemberSealer ids.SealerID, clock func() int64,
) error {
	m, err := g.materializedAt(latestMadeAt)
	if err != nil {
		return err
	}

	var sealed []byte
	ok, err := m.Get(inviteKeyPrefix+inviteID, &sealed)
	if err != nil || !ok {
		return ErrInvalidInvite
	}

	inviteKeySecret := crypto.KeySecret(crypto.SecureHashBytes(secret))
	var changes []content.Change
	if !crypto.DecryptForTransaction(sealed, inviteKeySecret, inviteID, &changes) || len(changes) != 1 {
		return ErrInvalidInvite
	}
	var role Role
	if err := content.DecodeValue(changes[0].Value, &role); err != nil {
		return ErrInvalidInvite
	}

	if err := g.AddMember(sessionID, adminAccountID, admin, adminSecret, newMemberAccountID, newMemberSealer, role, clock); err != nil {
		return err
	}

	tombstone := []content.Change{{Op: content.OpDelete, Key: inviteKeyPrefix + inviteID}}
	_, err = g.cv.Append(sessionID, adminAccountID, admin.Signer.ID, adminSecret.SignerSecret, tombstone, nil, "", clock)
	return err
}

func roleChange(accountID ids.CoID, role Role) content.Change {
	return setChange(roleKeyPrefix+string(accountID), mustEncode(role))
}

func setChange(key string, value []byte) content.Change {
	return content.Change{Op: content.OpSet, Key: key, Value: value}
}

func sealedKeyName(keyID ids.KeyID, accountID ids.CoID) string {
	return fmt.Sprintf("%s%s:for:%s", sealedKeyPrefix, keyID, accountID)
}

func wrapName(oldKeyID, newKeyID ids.KeyID) string {
	return fmt.Sprintf("%s%s:in:%s", wrapKeyPrefix, oldKeyID, newKeyID)
}

func parseWrapKey(key string, newKeyID ids.KeyID) (ids.KeyID, bool) {
	suffix := ":in:" + string(newKeyID)
	if len(key) <= len(wrapKeyPrefix)+len(suffix) {
		return "", false
	}
	if key[len(key)-len(suffix):] != suffix || key[:len(wrapKeyPrefix)] != wrapKeyPrefix {
		return "", false
	}
	return ids.KeyID(key[len(wrapKeyPrefix) : len(key)-len(suffix)]), true
}

func parseRoleKey(key string) (ids.CoID, bool) {
	if len(key) <= len(roleKeyPrefix) || key[:len(roleKeyPrefix)] != roleKeyPrefix {
		return "", false
	}
	return ids.CoID(key[len(roleKeyPrefix):]), true
}

func sealNonce(keyID ids.KeyID, accountID ids.CoID) any {
	return struct {
		Key     ids.KeyID `cbor:"1,keyasint"`
		Account ids.CoID  `cbor:"2,keyasint"`
	}{keyID, accountID}
}

func mustEncode(v any) []byte {
	b, err := content.EncodeValue(v)
	if err != nil {
		panic(err)
	}
	return b
}

func randomSalt() []byte {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		panic(err)
	}
	return salt
}
