package node

import (
	"testing"
	"time"

	"github.com/fubhy/jazz/content"
	"github.com/fubhy/jazz/covalue"
	"github.com/fubhy/jazz/group"
	"github.com/fubhy/jazz/ids"
	"github.com/fubhy/jazz/syncmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockAt(ms int64) func() int64 { return func() int64 { return ms } }

func newTestNode(t *testing.T, agentID string) *Node {
	t.Helper()
	n, err := WithNewlyCreatedAccount(nil, NewInMemorySessionLocker(ids.AgentID(agentID), 1), NewAccountOptions{
		Name: "tester", Clock: clockAt(1000),
	})
	require.NoError(t, err)
	t.Cleanup(n.Done)
	return n
}

func TestWithNewlyCreatedAccountCreatesProfile(t *testing.T) {
	n := newTestNode(t, "a")

	account, ok := n.reg.getCoValue(n.AccountID())
	require.True(t, ok)

	var profileID ids.CoID
	found, err := mustMap(t, account).Get(profileKey, &profileID)
	require.NoError(t, err)
	require.True(t, found)

	profile, ok := n.reg.getCoValue(profileID)
	require.True(t, ok)
	var name string
	found, err = mustMap(t, profile).Get(nameKey, &name)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tester", name)
}

func mustMap(t *testing.T, cv *covalue.CoValue) *content.Map {
	t.Helper()
	c, err := cv.GetCurrentContent(nil)
	require.NoError(t, err)
	m, ok := c.(*content.Map)
	require.True(t, ok)
	return m
}

func TestCreateGroupAndOwnedMapRoundTrip(t *testing.T) {
	n := newTestNode(t, "b")

	g, err := n.CreateGroup()
	require.NoError(t, err)

	header := covalue.Header{
		Type:           covalue.TypeMap,
		Ruleset:        covalue.Ruleset{Kind: covalue.RulesetOwnedByGroup, Group: g.ID()},
		UniquenessSalt: []byte("doc"),
	}
	cv, err := covalue.New(nil, header)
	require.NoError(t, err)
	n.reg.putCoValue(cv)
	n.sync.RegisterCoValue(cv)

	_, err = cv.Append(n.SessionID(), n.AccountID(), n.agent.Signer.ID, n.accountSecret.SignerSecret,
		[]content.Change{{Op: content.OpSet, Key: "foo", Value: mustEncode("bar")}},
		nil, "", clockAt(1000))
	require.NoError(t, err)

	var got string
	found, err := mustMap(t, cv).Get("foo", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bar", got)
}

// pipeChannel wires two syncmanager.Manager instances together in-process,
// the same shape as syncmanager's own test double.
type pipeChannel struct {
	out, in chan syncmanager.Message
	closed  chan struct{}
}

func newPipePair() (syncmanager.Channel, syncmanager.Channel) {
	ab := make(chan syncmanager.Message, 32)
	ba := make(chan syncmanager.Message, 32)
	return &pipeChannel{out: ab, in: ba, closed: make(chan struct{})},
		&pipeChannel{out: ba, in: ab, closed: make(chan struct{})}
}

func (c *pipeChannel) Send(m syncmanager.Message) error {
	select {
	case c.out <- m:
		return nil
	case <-c.closed:
		return syncmanager.ErrChannelClosed
	}
}

func (c *pipeChannel) Recv() (syncmanager.Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return syncmanager.Message{}, syncmanager.ErrChannelClosed
	}
}

func (c *pipeChannel) Close() error { close(c.closed); return nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestCreateInviteAndAcceptGrantsRole(t *testing.T) {
	admin := newTestNode(t, "admin")
	member := newTestNode(t, "member")

	g, err := admin.CreateGroup()
	require.NoError(t, err)

	invite, err := admin.CreateInvite(g, group.RoleReader)
	require.NoError(t, err)

	err = admin.AcceptInvite(g.ID(), invite.Secret, member.AccountID(), member.agent.Sealer.ID)
	require.NoError(t, err)

	assert.Equal(t, group.RoleReader, g.RoleAt(member.AccountID(), covalue.Now()))
}

func TestQueryAcrossNodesResolvesOnceSynced(t *testing.T) {
	writer := newTestNode(t, "writer")
	reader := newTestNode(t, "reader")

	header := covalue.Header{
		Type:           covalue.TypeMap,
		Ruleset:        covalue.Ruleset{Kind: covalue.RulesetUnsafeAllowAll},
		UniquenessSalt: []byte("shared-doc"),
	}
	cv, err := covalue.New(nil, header)
	require.NoError(t, err)
	writer.reg.putCoValue(cv)
	writer.sync.RegisterCoValue(cv)

	_, err = cv.Append(writer.SessionID(), writer.AccountID(), writer.agent.Signer.ID, writer.accountSecret.SignerSecret,
		[]content.Change{{Op: content.OpSet, Key: "hello", Value: mustEncode("world")}},
		nil, "", clockAt(1000))
	require.NoError(t, err)

	a, b := newPipePair()
	writer.AddPeer("reader", syncmanager.RolePeer, a)
	reader.AddPeer("writer", syncmanager.RoleServer, b)

	var last any
	unsubscribe := reader.Query(cv.ID(), 1, func(v any) { last = v })
	defer unsubscribe()

	writer.sync.NotifyLocalChange(cv.ID())

	waitFor(t, 2*time.Second, func() bool {
		m, ok := last.(*content.Map)
		if !ok {
			return false
		}
		var got string
		found, _ := m.Get("hello", &got)
		return found && got == "world"
	})
}
