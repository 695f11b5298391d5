// Package storage persists covalue headers and session logs for a
// storage-role peer (spec §4.8: "peer roles: server, client, peer,
// storage"). It is grounded on the teacher's massifs/storage package:
// the same shape of context-scoped, path-addressed Reader/Writer split,
// adapted from massif blob objects to covalue headers and session
// entries.
package storage

import (
	"context"
	"errors"

	"github.com/fubhy/jazz/ids"
)

// ErrNotFound is returned by Store.LoadHeader when no header has been
// persisted for the requested covalue. MemoryStore.LoadSession also wraps
// it when fromIndex lies beyond the stored length; loading a session that
// has nothing persisted returns no entries and no error.
var ErrNotFound = errors.New("storage: not found")

// SessionEntry is the on-disk representation of one sessionlog.Entry —
// the session log package already canonicalizes transactions, so the
// store only needs to keep the three verified fields byte-for-byte.
type SessionEntry struct {
	Tx        []byte // canonical encoding of sessionlog.Transaction
	AfterHash [32]byte
	Signature ids.SignatureID
}

// Store is the persistence boundary a storage-role peer offers to the
// sync manager (spec §4.8). Every method is safe for concurrent use.
type Store interface {
	// SaveHeader persists a covalue's immutable header, keyed by its ID.
	// Calling it twice for the same ID with the same bytes is a no-op.
	SaveHeader(ctx context.Context, id ids.CoID, header []byte) error
	// LoadHeader returns ErrNotFound if the covalue has never been seen.
	LoadHeader(ctx context.Context, id ids.CoID) ([]byte, error)

	// AppendSession appends entries starting at fromIndex to the named
	// session's log. fromIndex must equal the session's current length
	// (the store does not reorder or gap-fill).
	AppendSession(ctx context.Context, id ids.CoID, session ids.SessionID, fromIndex int, entries []SessionEntry) error
	// LoadSession returns every entry from fromIndex on.
	LoadSession(ctx context.Context, id ids.CoID, session ids.SessionID, fromIndex int) ([]SessionEntry, error)
	// SessionLength reports how many entries are stored for a session.
	SessionLength(ctx context.Context, id ids.CoID, session ids.SessionID) (int, error)

	// KnownState reports the stored session lengths for a covalue, the
	// same shape the sync manager exchanges in a `known` message.
	KnownState(ctx context.Context, id ids.CoID) (map[ids.SessionID]int, error)

	// Close releases any underlying resources (file handles, DB
	// connections).
	Close() error
}
