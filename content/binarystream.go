package content

import "sort"

// MaxRecommendedTxSize caps how much chunk payload a single transaction
// should carry (spec §4.6, ~100 KiB). Binary stream writers should split
// larger payloads across multiple chunk changes; this package only
// assembles what it is given, it does not split on write.
const MaxRecommendedTxSize = 100 * 1024

// BinaryChunks is the materialized view of a binary stream.
type BinaryChunks struct {
	MimeType       string
	TotalSizeBytes int64
	FileName       string
	Chunks         [][]byte
	Finished       bool
}

// BinaryStream is a specialization of Stream with a start/chunk*/end
// lifecycle (spec §4.6).
type BinaryStream struct {
	started  bool
	mimeType string
	total    int64
	fileName string
	chunks   [][]byte
	finished bool
}

// MergeBinaryStream folds transactions into a BinaryStream. Start/chunk/end
// changes are applied across all sessions in the same global merge order
// used everywhere else (spec §4.5) — a binary stream is conceptually a
// single linear object even though nothing stops multiple sessions from
// contributing to it.
func MergeBinaryStream(txs []TxChanges) *BinaryStream {
	sorted := append([]TxChanges(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	b := &BinaryStream{}
	for _, tx := range sorted {
		for _, ch := range tx.Changes {
			switch ch.Op {
			case OpStart:
				b.started = true
				b.mimeType = ch.MimeType
				b.total = ch.TotalSizeBytes
				b.fileName = ch.FileName
				b.chunks = nil
				b.finished = false
			case OpChunk:
				if b.started && !b.finished {
					b.chunks = append(b.chunks, ch.Chunk)
				}
			case OpEnd:
				if b.started {
					b.finished = true
				}
			}
		}
	}
	return b
}

// GetBinaryChunks returns the assembled chunks. ok is false if the stream
// was never started, or if it has not yet reached `end` and
// allowUnfinished is false (spec §4.6).
func (b *BinaryStream) GetBinaryChunks(allowUnfinished bool) (*BinaryChunks, bool) {
	if !b.started {
		return nil, false
	}
	if !b.finished && !allowUnfinished {
		return nil, false
	}
	chunks := make([][]byte, len(b.chunks))
	copy(chunks, b.chunks)
	return &BinaryChunks{
		MimeType:       b.mimeType,
		TotalSizeBytes: b.total,
		FileName:       b.fileName,
		Chunks:         chunks,
		Finished:       b.finished,
	}, true
}
