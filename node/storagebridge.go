package node

import (
	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/storage"
	"github.com/fubhy/jazz/syncmanager"
)

// storageChannel adapts a storage.Peer (which speaks storage.Message, to
// keep the storage package free of a syncmanager import) into the
// syncmanager.Channel the sync manager actually drives.
type storageChannel struct {
	peer *storage.Peer
}

func newStorageChannel(peer *storage.Peer) syncmanager.Channel {
	return storageChannel{peer: peer}
}

func (c storageChannel) Send(msg syncmanager.Message) error {
	return c.peer.Send(storage.Message{
		Kind:     storage.Kind(msg.Kind),
		ID:       msg.ID,
		Header:   msg.Header,
		Sessions: msg.Sessions,
		New:      toStorageEntries(msg.New),
	})
}

func (c storageChannel) Recv() (syncmanager.Message, error) {
	msg, err := c.peer.Recv()
	if err != nil {
		return syncmanager.Message{}, err
	}
	return syncmanager.Message{
		Kind:     syncmanager.Kind(msg.Kind),
		ID:       msg.ID,
		Header:   msg.Header,
		Sessions: msg.Sessions,
		New:      toSyncEntries(msg.New),
	}, nil
}

func (c storageChannel) Close() error { return c.peer.Close() }

func toStorageEntries(in map[ids.SessionID][]syncmanager.WireEntry) map[ids.SessionID][]storage.WireEntry {
	if in == nil {
		return nil
	}
	out := make(map[ids.SessionID][]storage.WireEntry, len(in))
	for session, entries := range in {
		we := make([]storage.WireEntry, len(entries))
		for i, e := range entries {
			we[i] = storage.WireEntry{Tx: e.Tx, AfterHash: e.AfterHash, Signature: e.Signature}
		}
		out[session] = we
	}
	return out
}

func toSyncEntries(in map[ids.SessionID][]storage.WireEntry) map[ids.SessionID][]syncmanager.WireEntry {
	if in == nil {
		return nil
	}
	out := make(map[ids.SessionID][]syncmanager.WireEntry, len(in))
	for session, entries := range in {
		we := make([]syncmanager.WireEntry, len(entries))
		for i, e := range entries {
			we[i] = syncmanager.WireEntry{Tx: e.Tx, AfterHash: e.AfterHash, Signature: e.Signature}
		}
		out[session] = we
	}
	return out
}
