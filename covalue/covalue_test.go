package covalue

import (
	"testing"

	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/content"
	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/sessionlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) RoleAt(ids.CoID, int64) Role { return RoleAdmin }

type readOnly struct{}

func (readOnly) RoleAt(ids.CoID, int64) Role { return RoleReader }

type memKeys struct {
	keys map[ids.KeyID]crypto.KeySecret
}

func (m memKeys) ResolveKey(id ids.KeyID) (crypto.KeySecret, bool) {
	k, ok := m.keys[id]
	return k, ok
}

func newUnsafeMap(t *testing.T) *CoValue {
	t.Helper()
	header := Header{
		Type:           TypeMap,
		Ruleset:        Ruleset{Kind: RulesetUnsafeAllowAll},
		CreatedAt:      1,
		UniquenessSalt: []byte("test-salt"),
	}
	cv, err := New(nil, header)
	require.NoError(t, err)
	return cv
}

func newSession(t *testing.T) (ids.SessionID, ids.CoID, crypto.AgentSecret) {
	t.Helper()
	secret, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	agent, err := secret.Agent()
	require.NoError(t, err)
	accountID := ids.CoID("co_ztestaccount")
	sessionID := ids.NewSessionID(agent.ID(), 1)
	return sessionID, accountID, secret
}

func TestHeaderIDStableAndMatchesFromWire(t *testing.T) {
	header := Header{
		Type:           TypeMap,
		Ruleset:        Ruleset{Kind: RulesetUnsafeAllowAll},
		CreatedAt:      42,
		UniquenessSalt: []byte("salt"),
	}
	id1, err := header.ID()
	require.NoError(t, err)
	id2, err := header.ID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	cv, err := FromWire(nil, id1, header)
	require.NoError(t, err)
	assert.Equal(t, id1, cv.ID())

	_, err = FromWire(nil, ids.CoID("co_zwrong"), header)
	assert.ErrorIs(t, err, ErrHeaderMismatch)
}

func TestAppendAndMaterializeMap(t *testing.T) {
	cv := newUnsafeMap(t)
	sessionID, accountID, secret := newSession(t)
	agent, err := secret.Agent()
	require.NoError(t, err)

	changes := []content.Change{{Op: content.OpSet, Key: "foo", Value: mustEncode(t, "bar")}}
	_, err = cv.Append(sessionID, accountID, agent.Signer.ID, secret.SignerSecret, changes, nil, "", clockAt(100))
	require.NoError(t, err)

	materialized, err := cv.GetCurrentContent(nil)
	require.NoError(t, err)
	m := materialized.(*content.Map)

	var got string
	ok, err := m.Get("foo", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bar", got)
}

func TestAppendPrivateTransactionRoundTrips(t *testing.T) {
	cv := newUnsafeMap(t)
	sessionID, accountID, secret := newSession(t)
	agent, err := secret.Agent()
	require.NoError(t, err)

	key, err := crypto.NewKeySecret()
	require.NoError(t, err)
	keyID, err := key.ID()
	require.NoError(t, err)

	changes := []content.Change{{Op: content.OpSet, Key: "secret", Value: mustEncode(t, "shh")}}
	_, err = cv.Append(sessionID, accountID, agent.Signer.ID, secret.SignerSecret, changes, &key, keyID, clockAt(100))
	require.NoError(t, err)

	// Without the key, the transaction is skipped (not an error).
	materialized, err := cv.GetCurrentContent(memKeys{keys: map[ids.KeyID]crypto.KeySecret{}})
	require.NoError(t, err)
	m := materialized.(*content.Map)
	found, err := m.Get("secret", nil)
	require.NoError(t, err)
	assert.False(t, found)

	materialized, err = cv.GetCurrentContent(memKeys{keys: map[ids.KeyID]crypto.KeySecret{keyID: key}})
	require.NoError(t, err)
	m = materialized.(*content.Map)
	var got string
	ok3, err := m.Get("secret", &got)
	require.NoError(t, err)
	require.True(t, ok3)
	assert.Equal(t, "shh", got)
}

func TestTryAddTransactionsRequiresAdminOnGroupRuleset(t *testing.T) {
	header := Header{Type: TypeMap, Ruleset: Ruleset{Kind: RulesetGroup}, UniquenessSalt: []byte("g")}
	cv, err := New(nil, header)
	require.NoError(t, err)

	sessionID, accountID, secret := newSession(t)
	agent, err := secret.Agent()
	require.NoError(t, err)

	plain, err := canon.Encode([]content.Change{{Op: content.OpSet, Key: "x", Value: mustEncode(t, 1)}})
	require.NoError(t, err)
	tx := sessionlog.Transaction{MadeAt: 10, Changes: plain}

	genesis := sessionlog.New(nil, sessionID, agent.Signer.ID)
	entry, err := genesis.Sign(secret.SignerSecret, tx)
	require.NoError(t, err)

	err = cv.TryAddTransactions(sessionID, accountID, agent.Signer.ID, 0, []sessionlog.Entry{entry}, readOnly{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = cv.TryAddTransactions(sessionID, accountID, agent.Signer.ID, 0, []sessionlog.Entry{entry}, allowAll{})
	assert.NoError(t, err)
}

func clockAt(ms int64) func() int64 { return func() int64 { return ms } }

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := content.EncodeValue(v)
	require.NoError(t, err)
	return b
}
