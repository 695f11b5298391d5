package group

import (
	"testing"

	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFounder(t *testing.T) (crypto.Agent, crypto.AgentSecret, ids.SessionID, ids.CoID) {
	t.Helper()
	secret, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	agent, err := secret.Agent()
	require.NoError(t, err)
	accountID := ids.CoID("co_zfounderaccount")
	sessionID := ids.NewSessionID(agent.ID(), 1)
	return agent, secret, sessionID, accountID
}

func clockAt(ms int64) func() int64 { return func() int64 { return ms } }

func TestNewGroupFounderIsAdmin(t *testing.T) {
	founder, founderSecret, sessionID, founderAccountID := newFounder(t)

	g, err := New(nil, founder, founderSecret, sessionID, founderAccountID, clockAt(1))
	require.NoError(t, err)

	assert.Equal(t, RoleAdmin, g.RoleAt(founderAccountID, 1))
	assert.Equal(t, RoleNone, g.RoleAt(ids.CoID("co_zsomeoneelse"), 1))

	keyID, secret, ok := g.ReadKeyAt(1)
	require.True(t, ok)
	assert.NotEmpty(t, keyID)
	assert.NotZero(t, secret)
}

func TestAddMemberGrantsRoleAndSealedKey(t *testing.T) {
	founder, founderSecret, sessionID, founderAccountID := newFounder(t)
	g, err := New(nil, founder, founderSecret, sessionID, founderAccountID, clockAt(1))
	require.NoError(t, err)

	memberSecret, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	member, err := memberSecret.Agent()
	require.NoError(t, err)
	memberAccountID := ids.CoID("co_zmemberaccount")

	err = g.AddMember(sessionID, founderAccountID, founder, founderSecret, memberAccountID, member.Sealer.ID, RoleWriter, clockAt(2))
	require.NoError(t, err)

	assert.Equal(t, RoleWriter, g.RoleAt(memberAccountID, 2))
	// Role did not exist before this transaction.
	assert.Equal(t, RoleNone, g.RoleAt(memberAccountID, 1))
}

func TestRemoveMemberRotatesKeyAndRevokesRole(t *testing.T) {
	founder, founderSecret, sessionID, founderAccountID := newFounder(t)
	g, err := New(nil, founder, founderSecret, sessionID, founderAccountID, clockAt(1))
	require.NoError(t, err)

	memberSecret, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	member, err := memberSecret.Agent()
	require.NoError(t, err)
	memberAccountID := ids.CoID("co_zmemberaccount")
	require.NoError(t, g.AddMember(sessionID, founderAccountID, founder, founderSecret, memberAccountID, member.Sealer.ID, RoleWriter, clockAt(2)))

	oldKeyID, _, ok := g.ReadKeyAt(2)
	require.True(t, ok)

	err = g.RemoveMember(sessionID, founderAccountID, founder, founderSecret, memberAccountID, map[ids.CoID]ids.SealerID{
		founderAccountID: founder.Sealer.ID,
		memberAccountID:  member.Sealer.ID,
	}, clockAt(3))
	require.NoError(t, err)

	assert.Equal(t, RoleRevoked, g.RoleAt(memberAccountID, 3))
	newKeyID, _, ok := g.ReadKeyAt(3)
	require.True(t, ok)
	assert.NotEqual(t, oldKeyID, newKeyID)

	// The founder still resolves the old key after rotation (it already
	// holds it, so UnwrapTo returns it without walking the chain).
	old, ok := g.UnwrapTo(oldKeyID, 3)
	require.True(t, ok)
	_, oldKeyActual, _ := g.ReadKeyAt(2)
	assert.Equal(t, oldKeyActual, old)
}

func TestCreateAndAcceptInvite(t *testing.T) {
	founder, founderSecret, sessionID, founderAccountID := newFounder(t)
	g, err := New(nil, founder, founderSecret, sessionID, founderAccountID, clockAt(1))
	require.NoError(t, err)

	invite, err := g.CreateInvite(sessionID, founderAccountID, founder, founderSecret, RoleReader, clockAt(2))
	require.NoError(t, err)

	newMemberSecret, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	newMember, err := newMemberSecret.Agent()
	require.NoError(t, err)
	newMemberAccountID := ids.CoID("co_zinvitedaccount")

	err = g.AcceptInvite(sessionID, founderAccountID, founder, founderSecret, invite.ID, invite.Secret, newMemberAccountID, newMember.Sealer.ID, clockAt(3))
	require.NoError(t, err)

	assert.Equal(t, RoleReader, g.RoleAt(newMemberAccountID, 3))

	// Replay with the same secret is rejected once the invite is tombstoned.
	otherAccountID := ids.CoID("co_zanotheraccount")
	err = g.AcceptInvite(sessionID, founderAccountID, founder, founderSecret, invite.ID, invite.Secret, otherAccountID, newMember.Sealer.ID, clockAt(4))
	assert.ErrorIs(t, err, ErrInvalidInvite)
}
