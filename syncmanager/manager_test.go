package syncmanager

import (
	"testing"
	"time"

	"github.com/fubhy/jazz/content"
	"github.com/fubhy/jazz/covalue"
	"github.com/fubhy/jazz/crypto"
	"github.com/fubhy/jazz/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanPipe implements Channel over a pair of Go channels, enough to drive
// the protocol between two in-process managers in a test.
type chanPipe struct {
	out    chan Message
	in     chan Message
	closed chan struct{}
}

func newPipePair() (*chanPipe, *chanPipe) {
	ab := make(chan Message, 16)
	ba := make(chan Message, 16)
	return &chanPipe{out: ab, in: ba, closed: make(chan struct{})},
		&chanPipe{out: ba, in: ab, closed: make(chan struct{})}
}

func (c *chanPipe) Send(m Message) error {
	select {
	case c.out <- m:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	}
}

func (c *chanPipe) Recv() (Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return Message{}, ErrChannelClosed
	}
}

func (c *chanPipe) Close() error {
	close(c.closed)
	return nil
}

func newUnsafeMapCoValue(t *testing.T, salt string) *covalue.CoValue {
	t.Helper()
	cv, err := covalue.New(nil, covalue.Header{
		Type:           covalue.TypeMap,
		Ruleset:        covalue.Ruleset{Kind: covalue.RulesetUnsafeAllowAll},
		UniquenessSalt: []byte(salt),
	})
	require.NoError(t, err)
	return cv
}

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

type staticAccounts struct {
	accountID ids.CoID
}

func (s staticAccounts) ResolveAccount(ids.SessionID) (ids.CoID, bool) { return s.accountID, true }

func TestManagerSyncsNewContentBetweenTwoPeers(t *testing.T) {
	accountID := ids.CoID("co_zwriter")

	mgrA := New(nil, nil, nil)
	mgrB := New(nil, staticAccounts{accountID: accountID}, nil)

	cvA := newUnsafeMapCoValue(t, "shared")
	cvB, err := covalue.FromWire(nil, cvA.ID(), cvA.Header())
	require.NoError(t, err)

	mgrA.RegisterCoValue(cvA)
	mgrB.RegisterCoValue(cvB)

	pipeA, pipeB := newPipePair()
	mgrA.AddPeer("b", RolePeer, pipeA)
	mgrB.AddPeer("a", RoleServer, pipeB)

	secret, err := crypto.NewAgentSecret()
	require.NoError(t, err)
	agent, err := secret.Agent()
	require.NoError(t, err)
	sessionID := ids.NewSessionID(agent.ID(), 1)

	_, err = cvA.Append(sessionID, accountID, agent.Signer.ID, secret.SignerSecret,
		[]content.Change{{Op: content.OpSet, Key: "foo", Value: mustEncodeValue(t, "bar")}},
		nil, "", func() int64 { return 1 })
	require.NoError(t, err)
	mgrA.NotifyLocalChange(cvA.ID())

	waitFor(t, time.Second, func() bool {
		return cvB.KnownState().Sessions[sessionID] == 1
	})

	materialized, err := cvB.GetCurrentContent(nil)
	require.NoError(t, err)
	m := materialized.(*content.Map)
	var got string
	ok, err := m.Get("foo", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bar", got)
}

func mustEncodeValue(t *testing.T, v any) []byte {
	t.Helper()
	b, err := content.EncodeValue(v)
	require.NoError(t, err)
	return b
}
