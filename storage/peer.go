package storage

import (
	"context"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fubhy/jazz/ids"
)

// Kind/Message mirror syncmanager's wire shapes without importing that
// package — storage is a lower layer than syncmanager in the dependency
// graph (syncmanager doesn't know about storage; a storage-role peer is
// wired in by node, which imports both).
type Kind string

const (
	KindKnown   Kind = "known"
	KindLoad    Kind = "load"
	KindContent Kind = "content"
)

type WireEntry struct {
	Tx        []byte
	AfterHash [32]byte
	Signature ids.SignatureID
}

type Message struct {
	Kind     Kind
	ID       ids.CoID
	Header   []byte
	Sessions map[ids.SessionID]int
	New      map[ids.SessionID][]WireEntry
}

// Peer answers the sync protocol directly from a Store, in-process — a
// storage-role peer never needs a network round trip (spec §6: "a storage
// collaborator exposes itself as a peer with role storage ... the node
// treats it as authoritative for durability").
type Peer struct {
	store Store
	log   logger.Logger
	ctx   context.Context

	out chan Message
}

// NewPeer wraps store as a syncmanager.Channel-shaped adapter: it has the
// same Send/Recv/Close methods, but over storage's own Message type (kept
// distinct to avoid storage importing syncmanager), so it does not itself
// satisfy syncmanager.Channel; node/storagebridge.go adapts it into one.
func NewPeer(ctx context.Context, log logger.Logger, store Store) *Peer {
	return &Peer{store: store, log: log, ctx: ctx, out: make(chan Message, 64)}
}

func (p *Peer) Send(msg Message) error {
	switch msg.Kind {
	case KindKnown:
		return p.handleKnown(msg)
	case KindLoad:
		return p.handleLoad(msg)
	case KindContent:
		return p.handleContent(msg)
	}
	return nil
}

func (p *Peer) Recv() (Message, error) {
	select {
	case m := <-p.out:
		return m, nil
	case <-p.ctx.Done():
		return Message{}, p.ctx.Err()
	}
}

func (p *Peer) Close() error { return p.store.Close() }

func (p *Peer) handleKnown(msg Message) error {
	ours, err := p.store.KnownState(p.ctx, msg.ID)
	if err != nil {
		return err
	}
	loadWant := map[ids.SessionID]int{}
	for session, ourLen := range ours {
		if peerLen := msg.Sessions[session]; peerLen < ourLen {
			if err := p.sendContent(msg.ID, map[ids.SessionID]int{session: peerLen}); err != nil {
				return err
			}
		}
	}
	for session, peerLen := range msg.Sessions {
		if ours[session] < peerLen {
			loadWant[session] = ours[session]
		}
	}
	if len(loadWant) > 0 {
		p.out <- Message{Kind: KindLoad, ID: msg.ID, Sessions: loadWant}
	}
	return nil
}

func (p *Peer) handleLoad(msg Message) error {
	wanted := msg.Sessions
	if len(wanted) == 0 {
		known, err := p.store.KnownState(p.ctx, msg.ID)
		if err != nil {
			return err
		}
		wanted = map[ids.SessionID]int{}
		for session := range known {
			wanted[session] = 0
		}
	}
	return p.sendContent(msg.ID, wanted)
}

func (p *Peer) sendContent(id ids.CoID, wanted map[ids.SessionID]int) error {
	header, err := p.store.LoadHeader(p.ctx, id)
	if err != nil && err != ErrNotFound {
		return err
	}
	new := map[ids.SessionID][]WireEntry{}
	for session, fromIndex := range wanted {
		entries, err := p.store.LoadSession(p.ctx, id, session, fromIndex)
		if err != nil {
			return err
		}
		we := make([]WireEntry, len(entries))
		for i, e := range entries {
			we[i] = WireEntry{Tx: e.Tx, AfterHash: e.AfterHash, Signature: e.Signature}
		}
		new[session] = we
	}
	p.out <- Message{Kind: KindContent, ID: id, Header: header, New: new}
	return nil
}

func (p *Peer) handleContent(msg Message) error {
	if len(msg.Header) > 0 {
		if err := p.store.SaveHeader(p.ctx, msg.ID, msg.Header); err != nil {
			return err
		}
	}
	for session, entries := range msg.New {
		length, err := p.store.SessionLength(p.ctx, msg.ID, session)
		if err != nil {
			return err
		}
		se := make([]SessionEntry, len(entries))
		for i, e := range entries {
			se[i] = SessionEntry{Tx: e.Tx, AfterHash: e.AfterHash, Signature: e.Signature}
		}
		if err := p.store.AppendSession(p.ctx, msg.ID, session, length, se); err != nil {
			return err
		}
	}
	known, err := p.store.KnownState(p.ctx, msg.ID)
	if err != nil {
		return err
	}
	p.out <- Message{Kind: KindKnown, ID: msg.ID, Sessions: known}
	return nil
}
