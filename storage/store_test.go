package storage

import (
	"context"
	"testing"

	"github.com/fubhy/jazz/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStoreHeaderRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			id := ids.CoID("co_ztest")
			_, err := store.LoadHeader(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.SaveHeader(ctx, id, []byte("header-bytes")))
			got, err := store.LoadHeader(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []byte("header-bytes"), got)

			require.NoError(t, store.SaveHeader(ctx, id, []byte("header-bytes")))
		})
	}
}

func TestStoreSessionAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			id := ids.CoID("co_ztest")
			session := ids.SessionID("agent_session_1")

			e0 := SessionEntry{Tx: []byte("tx0"), Signature: ids.SignatureID("signature_zfirst")}
			e0.AfterHash[0] = 1
			e1 := SessionEntry{Tx: []byte("tx1"), Signature: ids.SignatureID("signature_zsecond")}
			e1.AfterHash[0] = 2

			require.NoError(t, store.AppendSession(ctx, id, session, 0, []SessionEntry{e0}))
			require.NoError(t, store.AppendSession(ctx, id, session, 1, []SessionEntry{e1}))

			err := store.AppendSession(ctx, id, session, 5, []SessionEntry{e1})
			assert.Error(t, err)

			length, err := store.SessionLength(ctx, id, session)
			require.NoError(t, err)
			assert.Equal(t, 2, length)

			loaded, err := store.LoadSession(ctx, id, session, 0)
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			assert.Equal(t, e0.Tx, loaded[0].Tx)
			assert.Equal(t, e1.Tx, loaded[1].Tx)

			loaded, err = store.LoadSession(ctx, id, session, 1)
			require.NoError(t, err)
			require.Len(t, loaded, 1)
			assert.Equal(t, e1.Tx, loaded[0].Tx)

			known, err := store.KnownState(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 2, known[session])
		})
	}
}
