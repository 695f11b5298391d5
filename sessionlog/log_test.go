package sessionlog

import (
	"testing"

	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Log, crypto.AgentSecret, ids.SessionID) {
	t.Helper()
	secret, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	agent, err := secret.Agent()
	require.NoError(t, err)
	sessionID := ids.NewSessionID(agent.ID(), 1)
	log := New(nil, sessionID, agent.Signer.ID)
	return log, secret, sessionID
}

func TestSignAndVerifyChain(t *testing.T) {
	log, secret, _ := newTestSession(t)

	tx0 := Transaction{MadeAt: 1, Changes: []byte("change-0")}
	entry0, err := log.Sign(secret.SignerSecret, tx0)
	require.NoError(t, err)

	tx1 := Transaction{MadeAt: 2, Changes: []byte("change-1")}
	entry1, err := log.Sign(secret.SignerSecret, tx1)
	require.NoError(t, err)

	assert.Equal(t, 2, log.Length())
	assert.NotEqual(t, entry0.AfterHash, entry1.AfterHash)

	last, ok := log.LastSignature()
	require.True(t, ok)
	assert.Equal(t, entry1.Signature, last)
}

func TestTryAddReplicatesChain(t *testing.T) {
	source, secret, sessionID := newTestSession(t)
	entry, err := source.Sign(secret.SignerSecret, Transaction{MadeAt: 1, Changes: []byte("x")})
	require.NoError(t, err)

	agent, err := secret.Agent()
	require.NoError(t, err)
	replica := New(nil, sessionID, agent.Signer.ID)

	err = replica.TryAdd(0, entry.Tx, entry.AfterHash, entry.Signature)
	require.NoError(t, err)
	assert.Equal(t, 1, replica.Length())

	// Replaying the same entry is idempotent, not an error condition.
	err = replica.TryAdd(0, entry.Tx, entry.AfterHash, entry.Signature)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestTryAddRejectsTamperedSignature(t *testing.T) {
	source, secret, sessionID := newTestSession(t)
	entry, err := source.Sign(secret.SignerSecret, Transaction{MadeAt: 1, Changes: []byte("x")})
	require.NoError(t, err)

	agent, err := secret.Agent()
	require.NoError(t, err)
	replica := New(nil, sessionID, agent.Signer.ID)

	other, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	forgedSig := crypto.SignBytes(other.SignerSecret, entry.AfterHash[:])

	err = replica.TryAdd(0, entry.Tx, entry.AfterHash, forgedSig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTryAddRejectsBrokenHashChain(t *testing.T) {
	source, secret, sessionID := newTestSession(t)
	entry, err := source.Sign(secret.SignerSecret, Transaction{MadeAt: 1, Changes: []byte("x")})
	require.NoError(t, err)

	agent, err := secret.Agent()
	require.NoError(t, err)
	replica := New(nil, sessionID, agent.Signer.ID)

	tampered := entry.Tx
	tampered.Changes = []byte("y")

	err = replica.TryAdd(0, tampered, entry.AfterHash, entry.Signature)
	assert.ErrorIs(t, err, ErrInvalidHashChain)
}

func TestSlice(t *testing.T) {
	log, secret, _ := newTestSession(t)
	for i := 0; i < 3; i++ {
		_, err := log.Sign(secret.SignerSecret, Transaction{MadeAt: int64(i + 1), Changes: []byte{byte(i)}})
		require.NoError(t, err)
	}
	entries, err := log.Slice(1)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = log.Slice(10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
