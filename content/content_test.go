package content

import (
	"testing"

	"github.com/fubhy/jazz/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(t *testing.T, v any) []byte {
	t.Helper()
	b, err := EncodeValue(v)
	require.NoError(t, err)
	return b
}

func TestMergeMapLastWriterWins(t *testing.T) {
	s1 := ids.SessionID("agent1_session_1")
	s2 := ids.SessionID("agent2_session_1")

	txs := []TxChanges{
		{SessionID: s1, TxIndex: 0, MadeAt: 10, Changes: []Change{{Op: OpSet, Key: "foo", Value: val(t, "bar")}}},
		{SessionID: s2, TxIndex: 0, MadeAt: 20, Changes: []Change{{Op: OpSet, Key: "foo", Value: val(t, "baz")}}},
	}
	m := MergeMap(txs)

	var got string
	ok, err := m.Get("foo", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "baz", got)

	edit, ok := m.LastEditAt("foo")
	require.True(t, ok)
	assert.Equal(t, s2, edit.By)
}

func TestMergeMapDeleteIsExplicit(t *testing.T) {
	s1 := ids.SessionID("agent1_session_1")
	txs := []TxChanges{
		{SessionID: s1, TxIndex: 0, MadeAt: 10, Changes: []Change{{Op: OpSet, Key: "foo", Value: val(t, "bar")}}},
		{SessionID: s1, TxIndex: 1, MadeAt: 11, Changes: []Change{{Op: OpDelete, Key: "foo"}}},
	}
	m := MergeMap(txs)

	ok, err := m.Get("foo", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeListInsertAndDelete(t *testing.T) {
	s1 := ids.SessionID("agent1_session_1")

	p1 := GenerateBetween("", "")
	p2 := GenerateBetween(p1, "")

	txs := []TxChanges{
		{SessionID: s1, TxIndex: 0, MadeAt: 1, Changes: []Change{{Op: OpAppend, Pos: p1, Value: val(t, "a")}}},
		{SessionID: s1, TxIndex: 1, MadeAt: 2, Changes: []Change{{Op: OpAppend, Pos: p2, Value: val(t, "b")}}},
	}
	l := MergeList(txs)
	require.Equal(t, 2, l.Len())

	var got string
	require.NoError(t, l.At(0, &got))
	assert.Equal(t, "a", got)
	require.NoError(t, l.At(1, &got))
	assert.Equal(t, "b", got)

	txs = append(txs, TxChanges{SessionID: s1, TxIndex: 2, MadeAt: 3, Changes: []Change{{Op: OpDelete, Pos: p1}}})
	l = MergeList(txs)
	require.Equal(t, 1, l.Len())
	require.NoError(t, l.At(0, &got))
	assert.Equal(t, "b", got)
}

func TestMergeListConcurrentInsertTiebreak(t *testing.T) {
	sa := ids.SessionID("a_session_1")
	sb := ids.SessionID("b_session_1")
	samePos := GenerateBetween("", "")

	txs := []TxChanges{
		{SessionID: sb, TxIndex: 0, MadeAt: 5, Changes: []Change{{Op: OpAppend, Pos: samePos, Value: val(t, "from-b")}}},
		{SessionID: sa, TxIndex: 0, MadeAt: 5, Changes: []Change{{Op: OpAppend, Pos: samePos, Value: val(t, "from-a")}}},
	}
	l := MergeList(txs)
	require.Equal(t, 2, l.Len())

	var got string
	require.NoError(t, l.At(0, &got))
	assert.Equal(t, "from-a", got, "same madeAt: sessionID lexicographic tiebreak")
}

func TestStreamDerivedViews(t *testing.T) {
	mine := ids.SessionID("me_session_1")

	txs := []TxChanges{
		{SessionID: mine, TxIndex: 0, MadeAt: 1, Changes: []Change{{Op: OpPush, Value: val(t, "hello")}}},
		{SessionID: mine, TxIndex: 1, MadeAt: 2, Changes: []Change{{Op: OpPush, Value: val(t, "world")}}},
	}
	s := MergeStream(txs)

	series, ok := s.Me(mine)
	require.True(t, ok)
	var last string
	ok, err := series.Last(&last)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", last)

	all, err := series.All(func() any { return new(string) })
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "hello", *all[0].(*string))
	assert.Equal(t, "world", *all[1].(*string))
}

func TestBinaryStreamLifecycle(t *testing.T) {
	s1 := ids.SessionID("agent1_session_1")
	txs := []TxChanges{
		{SessionID: s1, TxIndex: 0, MadeAt: 1, Changes: []Change{{Op: OpStart, MimeType: "text/plain", TotalSizeBytes: 10, FileName: "f.txt"}}},
		{SessionID: s1, TxIndex: 1, MadeAt: 2, Changes: []Change{{Op: OpChunk, Chunk: []byte("hello")}}},
	}
	b := MergeBinaryStream(txs)

	_, ok := b.GetBinaryChunks(false)
	assert.False(t, ok, "not finished yet")

	chunks, ok := b.GetBinaryChunks(true)
	require.True(t, ok)
	assert.Equal(t, "text/plain", chunks.MimeType)
	assert.False(t, chunks.Finished)

	txs = append(txs, TxChanges{SessionID: s1, TxIndex: 2, MadeAt: 3, Changes: []Change{{Op: OpEnd}}})
	b = MergeBinaryStream(txs)
	chunks, ok = b.GetBinaryChunks(false)
	require.True(t, ok)
	assert.True(t, chunks.Finished)
	assert.Equal(t, [][]byte{[]byte("hello")}, chunks.Chunks)
}
