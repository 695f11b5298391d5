package content

import (
	"sort"

	"github.com/fubhy/jazz/canon"
	"github.com/fubhy/jazz/ids"
)

// streamItem is one pushed value with its provenance.
type streamItem struct {
	value   []byte
	madeAt  int64
	txIndex int
}

// SessionSeries is one session's linear sub-sequence of pushes.
type SessionSeries struct {
	items []streamItem
}

// All decodes every pushed value in this session, oldest first.
func (s SessionSeries) All(newOut func() any) ([]any, error) {
	out := make([]any, 0, len(s.items))
	for _, it := range s.items {
		v := newOut()
		if err := canon.Decode(it.value, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Last decodes the most recently pushed value into out. ok is false if the
// session pushed nothing.
func (s SessionSeries) Last(out any) (ok bool, err error) {
	if len(s.items) == 0 {
		return false, nil
	}
	last := s.items[len(s.items)-1]
	if err := canon.Decode(last.value, out); err != nil {
		return false, err
	}
	return true, nil
}

// Stream is an unordered multiset of pushes partitioned by session, with
// each session's own sub-sequence preserved linearly (spec §4.6).
type Stream struct {
	perSession map[ids.SessionID]SessionSeries
	order      []ids.SessionID // first-seen order, stable iteration
}

// MergeStream folds transactions into a Stream. Within one session pushes
// are ordered by (madeAt, txIndex); across sessions the stream keeps no
// single order, matching the source's "unordered multiset" semantics —
// ordering is only meaningful per-session or per-account.
func MergeStream(txs []TxChanges) *Stream {
	sorted := append([]TxChanges(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	s := &Stream{perSession: map[ids.SessionID]SessionSeries{}}
	for _, tx := range sorted {
		for _, ch := range tx.Changes {
			if ch.Op != OpPush {
				continue
			}
			series, ok := s.perSession[tx.SessionID]
			if !ok {
				s.order = append(s.order, tx.SessionID)
			}
			series.items = append(series.items, streamItem{value: ch.Value, madeAt: tx.MadeAt, txIndex: tx.TxIndex})
			s.perSession[tx.SessionID] = series
		}
	}
	return s
}

// PerSession returns the linear sub-sequence for one session.
func (s *Stream) PerSession(session ids.SessionID) (SessionSeries, bool) {
	series, ok := s.perSession[session]
	return series, ok
}

// Sessions lists every session that has pushed at least once, in
// first-seen order.
func (s *Stream) Sessions() []ids.SessionID {
	out := make([]ids.SessionID, len(s.order))
	copy(out, s.order)
	return out
}

// Me is the current-session shortcut: PerSession(mine).
func (s *Stream) Me(mine ids.SessionID) (SessionSeries, bool) { return s.PerSession(mine) }

// PerAccount folds the sessions belonging to one account into a single
// series, ordered by (madeAt, sessionID) same as the top-level merge, so
// that "the last thing this account pushed from any of its devices" is
// well defined. accountOf resolves a session to its owning account,
// provided by the covalue/group layer (Stream itself has no notion of
// accounts).
func (s *Stream) PerAccount(accountOf func(ids.SessionID) ids.CoID) map[ids.CoID]SessionSeries {
	type tagged struct {
		streamItem
		session ids.SessionID
	}
	byAccount := map[ids.CoID][]tagged{}
	for session, series := range s.perSession {
		account := accountOf(session)
		for _, it := range series.items {
			byAccount[account] = append(byAccount[account], tagged{streamItem: it, session: session})
		}
	}

	out := make(map[ids.CoID]SessionSeries, len(byAccount))
	for account, items := range byAccount {
		sort.Slice(items, func(i, j int) bool {
			if items[i].madeAt != items[j].madeAt {
				return items[i].madeAt < items[j].madeAt
			}
			return items[i].session < items[j].session
		})
		series := SessionSeries{}
		for _, it := range items {
			series.items = append(series.items, it.streamItem)
		}
		out[account] = series
	}
	return out
}
