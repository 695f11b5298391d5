package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fubhy/jazz/content"
	"github.com/fubhy/jazz/covalue"
	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/group"
	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/storage"
	"github.com/fubhy/jazz/syncmanager"
)

var (
	// ErrUnavailable is returned by Load when a covalue cannot be obtained
	// from any connected peer within the caller's patience window (spec §7).
	ErrUnavailable = errors.New("node: covalue unavailable")
	// ErrNotAGroup is returned by the group-specific helpers when an ID
	// does not name a group-ruleset covalue.
	ErrNotAGroup = errors.New("node: covalue is not a group")
)

const profileKey = "profile"
const nameKey = "name"

// Node is the local handle of spec §4.9: one account session, a registry of
// loaded covalues/groups, and a sync manager wired to whatever peers it was
// given. Exactly one Node exists per running process per account session —
// the session lock (spec §5) enforces that across processes on one device.
type Node struct {
	log   logger.Logger
	clock func() int64

	reg     *registry
	sync    *syncmanager.Manager
	locker  SessionLocker
	release func()

	accountID     ids.CoID
	accountSecret crypto.AgentSecret
	agent         crypto.Agent
	sessionID     ids.SessionID

	mu     sync.Mutex
	agents map[ids.AgentID]ids.CoID // known agent -> account, for AccountResolver
	subs   map[ids.CoID][]*subscription
	closed bool
}

// NewAccountOptions configures WithNewlyCreatedAccount.
type NewAccountOptions struct {
	Name               string
	InitialAgentSecret *crypto.AgentSecret
	Migration          func(*Node) error
	Clock              func() int64
}

// WithNewlyCreatedAccount generates (or adopts) an agent keypair, creates
// the account covalue and its profile covalue, and returns the live Node
// (spec §4.9).
func WithNewlyCreatedAccount(log logger.Logger, locker SessionLocker, opts NewAccountOptions) (*Node, error) {
	clock := opts.Clock
	if clock == nil {
		clock = covalue.Now
	}

	secret := crypto.AgentSecret{}
	if opts.InitialAgentSecret != nil {
		secret = *opts.InitialAgentSecret
	} else {
		s, err := crypto.NewAgentSecret()
		if err != nil {
			return nil, err
		}
		secret = s
	}
	agent, err := secret.Agent()
	if err != nil {
		return nil, err
	}

	accountHeader := covalue.Header{
		Type:           covalue.TypeMap,
		Ruleset:        covalue.Ruleset{Kind: covalue.RulesetAccount},
		CreatedAt:      clock(),
		UniquenessSalt: freshSalt(),
	}
	accountCV, err := covalue.New(log, accountHeader)
	if err != nil {
		return nil, err
	}
	accountID := accountCV.ID()

	sessionID, release, err := locker.Acquire(accountID)
	if err != nil {
		return nil, err
	}

	n := &Node{
		log: log, clock: clock,
		reg: newRegistry(), sync: syncmanager.New(log, nil, nil), locker: locker, release: release,
		accountID: accountID, accountSecret: secret, agent: agent, sessionID: sessionID,
		agents: map[ids.AgentID]ids.CoID{}, subs: map[ids.CoID][]*subscription{},
	}
	n.sync.SetCoValueFactory(n.onUnknownCoValue)
	n.sync.SetOnUpdate(n.onCoValueUpdate)
	n.sync.SetAccountResolver(n)
	n.sync.SetPermissionResolver(n)

	profileHeader := covalue.Header{
		Type:           covalue.TypeMap,
		Ruleset:        covalue.Ruleset{Kind: covalue.RulesetAccount},
		CreatedAt:      clock(),
		UniquenessSalt: freshSalt(),
	}
	profileCV, err := covalue.New(log, profileHeader)
	if err != nil {
		return nil, err
	}
	if _, err := profileCV.Append(sessionID, accountID, agent.Signer.ID, secret.SignerSecret,
		[]content.Change{{Op: content.OpSet, Key: nameKey, Value: mustEncode(opts.Name)}},
		nil, "", clock); err != nil {
		return nil, err
	}

	if _, err := accountCV.Append(sessionID, accountID, agent.Signer.ID, secret.SignerSecret,
		[]content.Change{
			{Op: content.OpSet, Key: nameKey, Value: mustEncode(opts.Name)},
			{Op: content.OpSet, Key: profileKey, Value: mustEncode(profileCV.ID())},
		}, nil, "", clock); err != nil {
		return nil, err
	}

	n.reg.putCoValue(accountCV)
	n.reg.putCoValue(profileCV)
	n.registerAgent(agent.ID(), accountID)
	n.sync.RegisterCoValue(accountCV)
	n.sync.RegisterCoValue(profileCV)

	if opts.Migration != nil {
		if err := opts.Migration(n); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// LoadAccountOptions configures WithLoadedAccount.
type LoadAccountOptions struct {
	AccountID     ids.CoID
	AccountSecret crypto.AgentSecret
	SessionID     ids.SessionID
	Migration     func(*Node) error
	Clock         func() int64
}

// WithLoadedAccount attaches to an existing account (spec §4.9). It does
// not load or verify the account covalue: it only builds the Node around
// the given account ID and secret. The account covalue is fetched on
// demand (Load, Query) from peers added afterward via AddPeer.
func WithLoadedAccount(log logger.Logger, locker SessionLocker, opts LoadAccountOptions) (*Node, error) {
	clock := opts.Clock
	if clock == nil {
		clock = covalue.Now
	}
	agent, err := opts.AccountSecret.Agent()
	if err != nil {
		return nil, err
	}

	sessionID := opts.SessionID
	var release func()
	if sessionID == "" {
		sessionID, release, err = locker.Acquire(opts.AccountID)
		if err != nil {
			return nil, err
		}
	} else {
		release = func() {}
	}

	n := &Node{
		log: log, clock: clock,
		reg: newRegistry(), sync: syncmanager.New(log, nil, nil), locker: locker, release: release,
		accountID: opts.AccountID, accountSecret: opts.AccountSecret, agent: agent, sessionID: sessionID,
		agents: map[ids.AgentID]ids.CoID{}, subs: map[ids.CoID][]*subscription{},
	}
	n.sync.SetCoValueFactory(n.onUnknownCoValue)
	n.sync.SetOnUpdate(n.onCoValueUpdate)
	n.sync.SetAccountResolver(n)
	n.sync.SetPermissionResolver(n)
	n.registerAgent(agent.ID(), opts.AccountID)

	if opts.Migration != nil {
		if err := opts.Migration(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// AccountID returns this node's account.
func (n *Node) AccountID() ids.CoID { return n.accountID }

// SessionID returns the session this node writes under.
func (n *Node) SessionID() ids.SessionID { return n.sessionID }

// Done releases the session lock (spec §5). It does not close peer
// channels; those stay open until their owners close them.
func (n *Node) Done() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	if n.release != nil {
		n.release()
	}
}

// AddPeer wires a connected channel into this node's sync manager.
func (n *Node) AddPeer(id string, role syncmanager.Role, channel syncmanager.Channel) {
	n.sync.AddPeer(id, role, channel)
}

// AddStorePeer wires a storage.Store in as a storage-role peer — always
// authoritative for durability (spec §6).
func (n *Node) AddStorePeer(ctx context.Context, id string, store storage.Store) {
	peer := storage.NewPeer(ctx, n.log, store)
	n.sync.AddPeer(id, syncmanager.RoleStorage, newStorageChannel(peer))
}

func (n *Node) registerAgent(agent ids.AgentID, accountID ids.CoID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.agents[agent] = accountID
}

// ResolveAccount implements syncmanager.AccountResolver.
func (n *Node) ResolveAccount(sessionID ids.SessionID) (ids.CoID, bool) {
	agentID, err := sessionID.Agent()
	if err != nil {
		return "", false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	accountID, ok := n.agents[agentID]
	return accountID, ok
}

// PermissionViewFor implements syncmanager.PermissionResolver. A group
// covalue authorizes its own admin/member transactions against itself —
// GroupID() only resolves the *owning* group of an ownedByGroup covalue,
// so id naming a group directly is checked against the registry first.
func (n *Node) PermissionViewFor(id ids.CoID) covalue.PermissionView {
	if g, ok := n.reg.getGroup(id); ok {
		return g
	}

	cv, ok := n.reg.getCoValue(id)
	if !ok {
		return nil
	}
	groupID, ok := cv.GroupID()
	if !ok {
		return nil
	}
	g, ok := n.reg.getGroup(groupID)
	if !ok {
		return nil
	}
	return g
}

func (n *Node) onUnknownCoValue(id ids.CoID, header covalue.Header) (syncmanager.CoValueAccess, error) {
	cv, err := covalue.FromWire(n.log, id, header)
	if err != nil {
		return nil, err
	}
	n.reg.putCoValue(cv)
	return cv, nil
}

// CreateGroup creates a new group with this node's account as its founding
// admin (spec §4.9).
func (n *Node) CreateGroup() (*group.Group, error) {
	g, err := group.New(n.log, n.agent, n.accountSecret, n.sessionID, n.accountID, n.clock)
	if err != nil {
		return nil, err
	}
	n.reg.putGroup(g)
	n.sync.RegisterCoValue(g.CoValue())
	return g, nil
}

// Group resolves a previously-loaded group covalue into a *group.Group,
// registering it the first time it is seen.
func (n *Node) Group(id ids.CoID) (*group.Group, error) {
	if g, ok := n.reg.getGroup(id); ok {
		return g, nil
	}
	cv, err := n.Load(id)
	if err != nil {
		return nil, err
	}
	g, err := group.FromCoValue(cv)
	if err != nil {
		return nil, err
	}
	n.reg.putGroup(g)
	return g, nil
}

// Load returns a covalue already in the registry, or blocks briefly asking
// connected peers for it (spec §4.9: `load(id) → covalue | "unavailable"`).
// Unlike query, Load is a one-shot: it does not keep watching for further
// sync traffic once it returns.
func (n *Node) Load(id ids.CoID) (*covalue.CoValue, error) {
	if cv, ok := n.reg.getCoValue(id); ok {
		return cv, nil
	}
	n.sync.RequestLoad(id)
	if !waitUntil(loadPatience, func() bool {
		_, ok := n.reg.getCoValue(id)
		return ok
	}) {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, id)
	}
	cv, _ := n.reg.getCoValue(id)
	return cv, nil
}

// CreateInvite mints a one-time invite against g, granting role once
// redeemed (spec §4.9, via group.Group.CreateInvite). Caller must already
// be the Node whose account holds RoleAdmin in g.
func (n *Node) CreateInvite(g *group.Group, role group.Role) (group.Invite, error) {
	return g.CreateInvite(n.sessionID, n.accountID, n.agent, n.accountSecret, role, n.clock)
}

// AcceptInvite redeems an invite secret against the named group on behalf
// of newMemberAccountID, granting it the role the invite encodes (spec
// §4.9). This node's own account must already hold RoleAdmin in the group
// — see group.AcceptInvite's doc comment for why acceptance is
// admin-mediated rather than self-service. When a node is redeeming its
// own invite link, pass n.AccountID()/its own sealer ID as the new member.
func (n *Node) AcceptInvite(groupID ids.CoID, inviteSecret []byte, newMemberAccountID ids.CoID, newMemberSealer ids.SealerID) error {
	g, err := n.Group(groupID)
	if err != nil {
		return err
	}
	inviteID := group.InviteIDFor(inviteSecret)
	return g.AcceptInvite(n.sessionID, n.accountID, n.agent, n.accountSecret,
		inviteID, inviteSecret, newMemberAccountID, newMemberSealer, n.clock)
}

func mustEncode(v any) []byte {
	b, err := content.EncodeValue(v)
	if err != nil {
		panic(err)
	}
	return b
}
