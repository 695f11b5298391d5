package syncmanager

import (
	"errors"
	"fmt"

	"github.com/fubhy/jazz/ids"
)

// Role classifies a connected peer for gossip fan-out purposes (spec
// §4.8): server peers receive unsolicited `known` for every covalue this
// node holds; client peers only hear about covalues they have
// specifically asked about; peer is the symmetric default; storage peers
// are treated like server peers. RequestLoad asks every peer alike,
// storage peers included.
type Role string

const (
	RoleServer  Role = "server"
	RoleClient  Role = "client"
	RolePeer    Role = "peer"
	RoleStorage Role = "storage"
)

// ErrChannelClosed is returned by Channel.Recv once the underlying
// transport has been torn down; the manager treats it as "drop this
// peer", not as an error worth logging loudly.
var ErrChannelClosed = errors.New("syncmanager: channel closed")

// Channel is the transport-agnostic duplex byte pipe a peer adapter
// (websocket, in-process pair, storage-backed loopback) provides. The
// manager is connection-agnostic per spec §4.8; reconnection with
// backoff is the adapter's job, not this package's.
type Channel interface {
	Send(Message) error
	Recv() (Message, error)
	Close() error
}

// Peer tracks one connected channel's negotiated state. knownState is
// what the peer has told us it has (its presence for an ID also decides
// whether sendContent attaches the header); interestedIn records the IDs
// the peer has sent `known` for. No per-peer record of what we have
// offered or requested is kept.
type Peer struct {
	ID      string
	Role    Role
	Channel Channel

	knownState   map[ids.CoID]map[ids.SessionID]int
	interestedIn map[ids.CoID]bool
}

func newPeer(id string, role Role, channel Channel) *Peer {
	return &Peer{
		ID: id, Role: role, Channel: channel,
		knownState:   map[ids.CoID]map[ids.SessionID]int{},
		interestedIn: map[ids.CoID]bool{},
	}
}

func (p *Peer) recordKnown(id ids.CoID, sessions map[ids.SessionID]int) {
	state, ok := p.knownState[id]
	if !ok {
		state = map[ids.SessionID]int{}
		p.knownState[id] = state
	}
	for session, length := range sessions {
		if length > state[session] {
			state[session] = length
		}
	}
}

func (p *Peer) knownLength(id ids.CoID, session ids.SessionID) int {
	return p.knownState[id][session]
}

// eligibleForUnsolicited reports whether this peer should be told about
// a covalue it never asked about — true for server/storage roles, and
// for a client/peer role once it has expressed interest (spec §4.8: "client
// peers are only told about covalues they have asked for").
func (p *Peer) eligibleForUnsolicited(id ids.CoID) bool {
	switch p.Role {
	case RoleServer, RoleStorage:
		return true
	default:
		return p.interestedIn[id]
	}
}

func (p *Peer) String() string { return fmt.Sprintf("peer(%s,%s)", p.ID, p.Role) }
