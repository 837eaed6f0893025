package fts

import (
	"sort"

	"github.com/fenilsonani/motedb/internal/index"
)

// PhraseMatch is one document matching a phrase, with its occurrence count.
type PhraseMatch struct {
	DocID index.DocID
	Count uint32
}

// SearchPhrase returns documents containing the exact phrase: the first
// term at position p, the second at p+1, and so on. Requires the index to
// have been built with positions enabled.
func (ix *Index) SearchPhrase(phrase string) ([]PhraseMatch, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.positions {
		return nil, index.InvalidDataf("phrase search requires enable_positions")
	}
	terms := ix.phraseTerms(phrase)
	if len(terms) == 0 {
		return nil, nil
	}

	positions, candidates, err := ix.termPositions(terms)
	if err != nil {
		return nil, err
	}

	var out []PhraseMatch
	for _, doc := range candidates {
		count := uint32(0)
		first := positions[0][doc]
		for _, start := range first {
			ok := true
			for t := 1; t < len(terms); t++ {
				if !containsPos(positions[t][doc], start+uint32(t)) {
					ok = false
					break
				}
			}
			if ok {
				count++
			}
		}
		if count > 0 {
			out = append(out, PhraseMatch{DocID: doc, Count: count})
		}
	}
	return out, nil
}

// SearchProximity returns documents where every non-first term has at least
// one position within distance of some occurrence of the first term.
func (ix *Index) SearchProximity(query string, distance uint32) ([]index.DocID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.positions {
		return nil, index.InvalidDataf("proximity search requires enable_positions")
	}
	terms := ix.phraseTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	positions, candidates, err := ix.termPositions(terms)
	if err != nil {
		return nil, err
	}

	var out []index.DocID
	for _, doc := range candidates {
		for _, anchor := range positions[0][doc] {
			ok := true
			for t := 1; t < len(terms); t++ {
				if !anyWithin(positions[t][doc], anchor, distance) {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, doc)
				break
			}
		}
	}
	return out, nil
}

// phraseTerms tokenizes the phrase keeping order and duplicates: a phrase
// like "really really fast" needs both occurrences.
func (ix *Index) phraseTerms(phrase string) []string {
	tokens := ix.tokenizer.Tokenize(phrase)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// termPositions intersects the doc sets of every term and returns, per
// term, the position lists of the surviving candidate documents.
func (ix *Index) termPositions(terms []string) ([]map[index.DocID][]uint32, []index.DocID, error) {
	positions := make([]map[index.DocID][]uint32, len(terms))
	var candidates map[index.DocID]struct{}

	for t, term := range terms {
		pl, err := ix.lookupPostings(term)
		if err != nil {
			return nil, nil, err
		}
		positions[t] = make(map[index.DocID][]uint32, len(pl.Postings))
		docs := make(map[index.DocID]struct{}, len(pl.Postings))
		for _, p := range pl.Postings {
			positions[t][p.DocID] = p.Positions
			docs[p.DocID] = struct{}{}
		}
		if candidates == nil {
			candidates = docs
			continue
		}
		for d := range candidates {
			if _, ok := docs[d]; !ok {
				delete(candidates, d)
			}
		}
		if len(candidates) == 0 {
			return positions, nil, nil
		}
	}

	out := make([]index.DocID, 0, len(candidates))
	for d := range candidates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return positions, out, nil
}

// containsPos binary-searches a sorted position list.
func containsPos(positions []uint32, want uint32) bool {
	lo, hi := 0, len(positions)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case positions[mid] < want:
			lo = mid + 1
		case positions[mid] > want:
			hi = mid
		default:
			return true
		}
	}
	return false
}

// anyWithin reports whether any position lies within distance of anchor.
func anyWithin(positions []uint32, anchor, distance uint32) bool {
	for _, p := range positions {
		var gap uint32
		if p > anchor {
			gap = p - anchor
		} else {
			gap = anchor - p
		}
		if gap <= distance {
			return true
		}
	}
	return false
}
