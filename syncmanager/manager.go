package syncmanager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/covalue"
	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/sessionlog"
)

// CoValueAccess is the slice of *covalue.CoValue the manager needs. It is
// satisfied directly by *covalue.CoValue; kept as an interface so tests
// can exercise the protocol without a full covalue.
type CoValueAccess interface {
	ID() ids.CoID
	Header() covalue.Header
	KnownState() covalue.KnownState
	SessionEntries(session ids.SessionID, fromIndex int) ([]sessionlog.Entry, error)
	TryAddTransactions(session ids.SessionID, accountID ids.CoID, signer ids.SignerID, fromIndex int, entries []sessionlog.Entry, perms covalue.PermissionView) error
}

// AccountResolver maps a session to the account it writes on behalf of.
// The sync manager needs this only to authorize incoming `content`; it
// has no notion of accounts otherwise.
type AccountResolver interface {
	ResolveAccount(session ids.SessionID) (ids.CoID, bool)
}

// PermissionResolver supplies the covalue.PermissionView to check an
// incoming transaction's authorization against — typically the Group a
// covalue's ruleset names.
type PermissionResolver interface {
	PermissionViewFor(id ids.CoID) covalue.PermissionView
}

var (
	ErrUnknownCoValue = errors.New("syncmanager: no such covalue registered")
	ErrUnknownPeer    = errors.New("syncmanager: no such peer")
)

// Manager runs the gossip protocol of spec §4.8 across every registered
// peer and covalue.
type Manager struct {
	log logger.Logger

	accounts AccountResolver
	perms    PermissionResolver

	mu         sync.Mutex
	covalues   map[ids.CoID]CoValueAccess
	peers      map[string]*Peer
	newCoValue func(id ids.CoID, header covalue.Header) (CoValueAccess, error)
	onUpdate   func(id ids.CoID)
}

// SetOnUpdate installs a hook called every time NotifyLocalChange runs for
// an id — both for genuinely local writes and for content freshly merged
// in from a peer (handleContent calls NotifyLocalChange itself once it has
// applied a batch). Node uses this to drive query subscriptions.
func (m *Manager) SetOnUpdate(f func(id ids.CoID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = f
}

// SetAccountResolver installs the AccountResolver used to authorize
// incoming `content`. Node can only implement this interface once it has
// its own *Node value to hand back, which doesn't exist yet at the point
// it constructs its Manager — so this is a setter rather than a
// constructor argument, mirroring SetCoValueFactory/SetOnUpdate.
func (m *Manager) SetAccountResolver(r AccountResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = r
}

// SetPermissionResolver installs the PermissionResolver used to authorize
// incoming `content`, for the same reason SetAccountResolver exists.
func (m *Manager) SetPermissionResolver(r PermissionResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms = r
}

// New creates a Manager. accounts and perms may be nil for tests that
// only exercise unsafeAllowAll covalues.
func New(log logger.Logger, accounts AccountResolver, perms PermissionResolver) *Manager {
	return &Manager{
		log: log, accounts: accounts, perms: perms,
		covalues: map[ids.CoID]CoValueAccess{},
		peers:    map[string]*Peer{},
	}
}

// SetCoValueFactory installs the constructor used when `content` arrives
// for an ID the manager has never seen locally (spec §4.9 `load`: the
// header travels with the first content a peer sends). Node supplies one
// that wraps covalue.FromWire and registers the result in its own registry;
// tests that only exercise pre-registered covalues can leave this unset.
func (m *Manager) SetCoValueFactory(f func(id ids.CoID, header covalue.Header) (CoValueAccess, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newCoValue = f
}

// RequestLoad asks every connected peer for everything they have on id —
// the pull side of spec §4.9 `load`, used when id names a covalue this
// node has never registered (no header, no sessions to negotiate from).
func (m *Manager) RequestLoad(id ids.CoID) {
	m.mu.Lock()
	peers := m.peerList()
	m.mu.Unlock()
	for _, p := range peers {
		if err := p.Channel.Send(Message{Kind: KindLoad, ID: id}); err != nil && m.log != nil {
			logger.Sugar.Debugf("syncmanager: request load from %s: %v", p, err)
		}
	}
}

// RegisterCoValue makes cv visible to sync: known peers are told about it
// immediately per spec §4.8 step 1 ("on local creation or first load").
func (m *Manager) RegisterCoValue(cv CoValueAccess) {
	m.mu.Lock()
	m.covalues[cv.ID()] = cv
	peers := m.peerList()
	m.mu.Unlock()

	for _, p := range peers {
		if p.eligibleForUnsolicited(cv.ID()) {
			m.sendKnown(p, cv)
		}
	}
}

func (m *Manager) peerList() []*Peer {
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// AddPeer registers a connected channel and starts its receive loop. The
// returned Peer is also returned so the caller can later RemovePeer it;
// the receive loop exits on its own once Recv reports ErrChannelClosed.
func (m *Manager) AddPeer(id string, role Role, channel Channel) *Peer {
	p := newPeer(id, role, channel)

	m.mu.Lock()
	m.peers[id] = p
	covalues := make([]CoValueAccess, 0, len(m.covalues))
	for _, cv := range m.covalues {
		covalues = append(covalues, cv)
	}
	m.mu.Unlock()

	for _, cv := range covalues {
		if p.eligibleForUnsolicited(cv.ID()) {
			m.sendKnown(p, cv)
		}
	}

	go m.receiveLoop(p)
	return p
}

// RemovePeer drops a peer's negotiated state. It does not close the
// channel — the caller (transport adapter) owns that lifecycle.
func (m *Manager) RemovePeer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
}

func (m *Manager) receiveLoop(p *Peer) {
	for {
		msg, err := p.Channel.Recv()
		if err != nil {
			if m.log != nil {
				logger.Sugar.Debugf("syncmanager: %s recv: %v", p, err)
			}
			m.RemovePeer(p.ID)
			return
		}
		if err := m.handle(p, msg); err != nil && m.log != nil {
			logger.Sugar.Debugf("syncmanager: %s handle %s: %v", p, msg.Kind, err)
		}
	}
}

func (m *Manager) sendKnown(p *Peer, cv CoValueAccess) {
	state := cv.KnownState()
	msg := Message{Kind: KindKnown, ID: state.ID, Sessions: state.Sessions}
	if err := p.Channel.Send(msg); err != nil && m.log != nil {
		logger.Sugar.Debugf("syncmanager: send known to %s: %v", p, err)
	}
}

// NotifyLocalChange broadcasts the new knownState for id to every
// connected peer eligible for unsolicited updates — server and storage
// peers, and any peer that has expressed interest in id — whether or not
// that peer is behind (spec §4.8: gossip fan-out on new local content).
func (m *Manager) NotifyLocalChange(id ids.CoID) {
	m.mu.Lock()
	cv, ok := m.covalues[id]
	peers := m.peerList()
	onUpdate := m.onUpdate
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range peers {
		if p.eligibleForUnsolicited(id) {
			m.sendKnown(p, cv)
		}
	}
	if onUpdate != nil {
		onUpdate(id)
	}
}

func (m *Manager) handle(p *Peer, msg Message) error {
	switch msg.Kind {
	case KindKnown:
		return m.handleKnown(p, msg)
	case KindLoad:
		return m.handleLoad(p, msg)
	case KindContent:
		return m.handleContent(p, msg)
	case KindDone, KindPing:
		return nil
	default:
		return fmt.Errorf("syncmanager: unknown message kind %q", msg.Kind)
	}
}

// handleKnown implements protocol step 2: for sessions where the peer is
// ahead, ask it to `load`; for sessions where we are ahead, queue
// `content` with the missing slice.
func (m *Manager) handleKnown(p *Peer, msg Message) error {
	p.recordKnown(msg.ID, msg.Sessions)
	p.interestedIn[msg.ID] = true

	m.mu.Lock()
	cv, ok := m.covalues[msg.ID]
	m.mu.Unlock()
	if !ok {
		// We don't have this covalue at all yet: ask for everything (an
		// empty Sessions map, see handleLoad).
		return p.Channel.Send(Message{Kind: KindLoad, ID: msg.ID})
	}

	ours := cv.KnownState()
	loadWant := map[ids.SessionID]int{}
	contentToSend := map[ids.SessionID][]sessionlog.Entry{}

	for session, peerLen := range msg.Sessions {
		ourLen := ours.Sessions[session]
		if ourLen < peerLen {
			loadWant[session] = ourLen
		}
	}
	for session, ourLen := range ours.Sessions {
		peerLen := msg.Sessions[session]
		if peerLen < ourLen {
			entries, err := cv.SessionEntries(session, peerLen)
			if err != nil {
				return err
			}
			contentToSend[session] = entries
		}
	}

	if len(loadWant) > 0 {
		if err := p.Channel.Send(Message{Kind: KindLoad, ID: msg.ID, Sessions: loadWant}); err != nil {
			return err
		}
	}
	if len(contentToSend) > 0 {
		return m.sendContent(p, cv, contentToSend)
	}
	return nil
}

func (m *Manager) sendContent(p *Peer, cv CoValueAccess, entries map[ids.SessionID][]sessionlog.Entry) error {
	wire := make(map[ids.SessionID][]WireEntry, len(entries))
	for session, es := range entries {
		we := make([]WireEntry, len(es))
		for i, e := range es {
			tx, err := canon.Encode(e.Tx)
			if err != nil {
				return err
			}
			we[i] = WireEntry{Tx: tx, AfterHash: e.AfterHash, Signature: e.Signature}
		}
		wire[session] = we
	}

	var header []byte
	if _, sent := p.knownState[cv.ID()]; !sent {
		h, err := canon.Encode(cv.Header())
		if err != nil {
			return err
		}
		header = h
	}

	return p.Channel.Send(Message{Kind: KindContent, ID: cv.ID(), Header: header, New: wire})
}

// handleLoad implements protocol step 4: reply with the requested
// slice(s) of every session named.
func (m *Manager) handleLoad(p *Peer, msg Message) error {
	m.mu.Lock()
	cv, ok := m.covalues[msg.ID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCoValue, msg.ID)
	}

	// An empty Sessions map means "send me everything you have" — the pull
	// request RequestLoad issues for an ID the asker has never registered.
	wanted := msg.Sessions
	if len(wanted) == 0 {
		wanted = map[ids.SessionID]int{}
		for session := range cv.KnownState().Sessions {
			wanted[session] = 0
		}
	}

	entries := map[ids.SessionID][]sessionlog.Entry{}
	for session, fromIndex := range wanted {
		es, err := cv.SessionEntries(session, fromIndex)
		if err != nil {
			return err
		}
		entries[session] = es
	}
	return m.sendContent(p, cv, entries)
}

// handleContent implements protocol step 3: verify and append, install a
// header if we had none, and re-broadcast our improved knownState.
func (m *Manager) handleContent(p *Peer, msg Message) error {
	m.mu.Lock()
	cv, ok := m.covalues[msg.ID]
	factory := m.newCoValue
	m.mu.Unlock()
	if !ok {
		if len(msg.Header) == 0 || factory == nil {
			return fmt.Errorf("%w: %s (received content for an unregistered covalue)", ErrUnknownCoValue, msg.ID)
		}
		var header covalue.Header
		if err := canon.Decode(msg.Header, &header); err != nil {
			return err
		}
		built, err := factory(msg.ID, header)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.covalues[msg.ID] = built
		m.mu.Unlock()
		cv = built
	}

	for session, wireEntries := range msg.New {
		accountID, ok := m.resolveAccount(session)
		if !ok {
			continue
		}
		agentID, err := session.Agent()
		if err != nil {
			continue
		}
		_, signerID, err := agentID.Split()
		if err != nil {
			continue
		}

		existing := cv.KnownState().Sessions[session]
		entries := make([]sessionlog.Entry, len(wireEntries))
		for i, we := range wireEntries {
			var tx sessionlog.Transaction
			if err := canon.Decode(we.Tx, &tx); err != nil {
				return err
			}
			entries[i] = sessionlog.Entry{Tx: tx, AfterHash: we.AfterHash, Signature: we.Signature}
		}

		var perms covalue.PermissionView
		if m.perms != nil {
			perms = m.perms.PermissionViewFor(msg.ID)
		}
		if err := cv.TryAddTransactions(session, accountID, signerID, existing, entries, perms); err != nil {
			return err
		}
	}

	p.recordKnown(msg.ID, cv.KnownState().Sessions)
	m.NotifyLocalChange(msg.ID)
	return nil
}

func (m *Manager) resolveAccount(session ids.SessionID) (ids.CoID, bool) {
	if m.accounts == nil {
		return "", false
	}
	return m.accounts.ResolveAccount(session)
}
