package fts

import (
	"sort"

	"github.com/fenilsonani/motedb/internal/index"
)

// SegmentSize caps the number of documents in one encoded posting segment.
const SegmentSize = 256

// Posting is one document's occurrence record for a term.
type Posting struct {
	DocID     index.DocID
	Freq      uint32
	Positions []uint32 // sorted token positions; populated only when enabled
}

// PostingList is a term's postings, sorted by document id.
type PostingList struct {
	Postings []Posting
}

// add records one occurrence of the term in doc at position pos. Documents
// arrive in nondecreasing order within a batch but the list stays correct
// for arbitrary order.
func (pl *PostingList) add(doc index.DocID, pos uint32, withPositions bool) {
	n := len(pl.Postings)
	if n > 0 && pl.Postings[n-1].DocID == doc {
		p := &pl.Postings[n-1]
		p.Freq++
		if withPositions {
			p.Positions = append(p.Positions, pos)
		}
		return
	}
	// Out-of-order doc: find and update in place.
	if n > 0 && pl.Postings[n-1].DocID > doc {
		for i := range pl.Postings {
			if pl.Postings[i].DocID == doc {
				pl.Postings[i].Freq++
				if withPositions {
					pl.Postings[i].Positions = append(pl.Postings[i].Positions, pos)
				}
				return
			}
			if pl.Postings[i].DocID > doc {
				pl.Postings = append(pl.Postings, Posting{})
				copy(pl.Postings[i+1:], pl.Postings[i:])
				np := Posting{DocID: doc, Freq: 1}
				if withPositions {
					np.Positions = []uint32{pos}
				}
				pl.Postings[i] = np
				return
			}
		}
	}
	np := Posting{DocID: doc, Freq: 1}
	if withPositions {
		np.Positions = []uint32{pos}
	}
	pl.Postings = append(pl.Postings, np)
}

// removeDoc drops doc from the list, reporting whether it was present.
func (pl *PostingList) removeDoc(doc index.DocID) bool {
	for i := range pl.Postings {
		if pl.Postings[i].DocID == doc {
			pl.Postings = append(pl.Postings[:i], pl.Postings[i+1:]...)
			return true
		}
	}
	return false
}

// appendUvarint encodes v with the base-128 varint scheme.
func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// readUvarint decodes one varint, returning the value and bytes consumed.
// An unterminated varint is corruption.
func readUvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if i == 9 && b > 1 {
			return 0, 0, index.Corruptionf("varint overflows 64 bits")
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
		if i == 9 {
			break
		}
	}
	return 0, 0, index.Corruptionf("unterminated varint")
}

// Encode serializes the list: segment count, then per segment the document
// count followed by delta-encoded doc ids, frequencies, and (optionally)
// delta-encoded positions per document.
func (pl *PostingList) Encode(withPositions bool) []byte {
	numSegments := (len(pl.Postings) + SegmentSize - 1) / SegmentSize
	buf := appendUvarint(nil, uint64(numSegments))
	flags := byte(0)
	if withPositions {
		flags = 1
	}
	buf = append(buf, flags)

	for s := 0; s < numSegments; s++ {
		start := s * SegmentSize
		end := start + SegmentSize
		if end > len(pl.Postings) {
			end = len(pl.Postings)
		}
		seg := pl.Postings[start:end]
		buf = appendUvarint(buf, uint64(len(seg)))
		prevDoc := uint64(0)
		for i, p := range seg {
			doc := uint64(p.DocID)
			if i == 0 {
				buf = appendUvarint(buf, doc)
			} else {
				buf = appendUvarint(buf, doc-prevDoc)
			}
			prevDoc = doc
			buf = appendUvarint(buf, uint64(p.Freq))
			if withPositions {
				buf = appendUvarint(buf, uint64(len(p.Positions)))
				prevPos := uint64(0)
				for j, pos := range p.Positions {
					if j == 0 {
						buf = appendUvarint(buf, uint64(pos))
					} else {
						buf = appendUvarint(buf, uint64(pos)-prevPos)
					}
					prevPos = uint64(pos)
				}
			}
		}
	}
	return buf
}

// DecodePostingList parses an encoded list.
func DecodePostingList(buf []byte) (*PostingList, error) {
	numSegments, n, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	off := n
	if off >= len(buf) {
		return nil, index.Corruptionf("posting list: missing flags byte")
	}
	withPositions := buf[off]&1 == 1
	off++

	pl := &PostingList{}
	for s := uint64(0); s < numSegments; s++ {
		docCount, n, err := readUvarint(buf[off:])
		if err != nil {
			return nil, err
		}
		off += n
		prevDoc := uint64(0)
		for i := uint64(0); i < docCount; i++ {
			delta, n, err := readUvarint(buf[off:])
			if err != nil {
				return nil, err
			}
			off += n
			doc := delta
			if i > 0 {
				doc = prevDoc + delta
			}
			prevDoc = doc

			freq, n, err := readUvarint(buf[off:])
			if err != nil {
				return nil, err
			}
			off += n

			p := Posting{DocID: index.DocID(doc), Freq: uint32(freq)}
			if withPositions {
				posCount, n, err := readUvarint(buf[off:])
				if err != nil {
					return nil, err
				}
				off += n
				p.Positions = make([]uint32, posCount)
				prevPos := uint64(0)
				for j := uint64(0); j < posCount; j++ {
					pd, n, err := readUvarint(buf[off:])
					if err != nil {
						return nil, err
					}
					off += n
					pos := pd
					if j > 0 {
						pos = prevPos + pd
					}
					prevPos = pos
					p.Positions[j] = uint32(pos)
				}
			}
			pl.Postings = append(pl.Postings, p)
		}
	}
	return pl, nil
}

// merge folds other into pl, assuming disjoint or overridable doc sets from
// consecutive shards; later shards win on conflict.
func (pl *PostingList) merge(other *PostingList) {
	for _, p := range other.Postings {
		replaced := false
		for i := range pl.Postings {
			if pl.Postings[i].DocID == p.DocID {
				pl.Postings[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			pl.Postings = append(pl.Postings, p)
		}
	}
}

// sortByDoc restores document-id order after merging shards.
func (pl *PostingList) sortByDoc() {
	sort.Slice(pl.Postings, func(i, j int) bool {
		return pl.Postings[i].DocID < pl.Postings[j].DocID
	})
}
