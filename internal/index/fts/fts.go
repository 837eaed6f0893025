// Package fts implements the full-text index: pluggable tokenization, a
// chunked token dictionary, pending in-memory posting lists shard-appended
// into a generic B+Tree, BM25 ranking, and positional phrase search.
package fts

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
	"github.com/fenilsonani/motedb/internal/index/gbtree"
	"github.com/fenilsonani/motedb/internal/index/textdict"
)

const (
	// DefaultPendingTermLimit triggers an automatic flush when the pending
	// map grows past it, bounding peak memory.
	DefaultPendingTermLimit = 3000

	// docLengthMergeThreshold bounds the incremental doc-length file before
	// it is merged into the main one.
	docLengthMergeThreshold = 50000

	// maxShardIndex is the largest shard index that fits the packed key.
	maxShardIndex = 0xFF

	// termIDMask keeps the low 24 bits of a term id in the packed key.
	termIDMask = 0xFFFFFF

	postingsFile = "postings.gbtree"
	dictDir      = "dict.d"
	metaFile     = "index_meta.bin"
	docLenFile   = "doclengths.bin"
	docLenIncr   = "doclengths.incremental.bin"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Config tunes a full-text index.
type Config struct {
	// EnablePositions maintains per-term position lists, required for
	// phrase and proximity search. Costs roughly 40% extra memory.
	EnablePositions bool
	// Tokenizer splits documents into terms. Nil means
	// WhitespaceTokenizer.
	Tokenizer Tokenizer
	// PendingTermLimit overrides the auto-flush threshold. Zero means
	// DefaultPendingTermLimit.
	PendingTermLimit int
	// PageCacheSize is handed to the postings B+Tree.
	PageCacheSize int
	// Logger is optional; nil means zap.NewNop(). The index writes no log
	// events.
	Logger *zap.Logger
}

// Stats is a snapshot of index-wide counters.
type Stats struct {
	TotalDocs       uint64
	TotalTokens     uint64
	AvgDocLength    float64
	PendingTerms    int
	DeletedDocs     uint64
	IncrementalLens int
}

// ScoredDoc is one ranked search hit.
type ScoredDoc struct {
	DocID index.DocID
	Score float32
}

// Index is the full-text index over one text column.
type Index struct {
	dir       string
	tokenizer Tokenizer
	positions bool
	pendLimit int

	tree *gbtree.Tree[uint32]
	dict *textdict.Dictionary

	mu              sync.Mutex
	pending         map[index.TermID]*PostingList
	pendingDocLens  map[index.DocID]uint32
	shardCount      map[index.TermID]uint32 // next shard index, pending terms only
	docLens         map[index.DocID]uint32
	incrementalLens int // entries in the incremental doc-length file
	totalDocs       uint64
	totalTokens     uint64
	deletedDocs     *roaring64.Bitmap
	deletedTermDocs map[uint32]*roaring64.Bitmap

	log *zap.Logger
}

// Open opens or creates a full-text index rooted at dir.
func Open(dir string, cfg Config) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, index.IoError("create fts directory", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tok := cfg.Tokenizer
	if tok == nil {
		tok = WhitespaceTokenizer{}
	}
	limit := cfg.PendingTermLimit
	if limit <= 0 {
		limit = DefaultPendingTermLimit
	}

	tree, err := gbtree.Open[uint32](filepath.Join(dir, postingsFile), gbtree.Uint32Codec{}, gbtree.Config{
		CacheSize: cfg.PageCacheSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	dict, err := textdict.Open(filepath.Join(dir, dictDir), textdict.Config{Logger: logger})
	if err != nil {
		tree.Close()
		return nil, err
	}

	ix := &Index{
		dir:             dir,
		tokenizer:       tok,
		positions:       cfg.EnablePositions,
		pendLimit:       limit,
		tree:            tree,
		dict:            dict,
		pending:         make(map[index.TermID]*PostingList),
		pendingDocLens:  make(map[index.DocID]uint32),
		shardCount:      make(map[index.TermID]uint32),
		docLens:         make(map[index.DocID]uint32),
		deletedDocs:     roaring64.New(),
		deletedTermDocs: make(map[uint32]*roaring64.Bitmap),
		log:             logger.Named("fts"),
	}
	if err := ix.loadMeta(); err != nil {
		tree.Close()
		return nil, err
	}
	if err := ix.loadDocLengths(); err != nil {
		tree.Close()
		return nil, err
	}
	return ix, nil
}

// shardKey packs (shard index, term id) into the B+Tree key.
func shardKey(shard uint32, tid index.TermID) uint32 {
	return shard<<24 | uint32(tid)&termIDMask
}

// Insert indexes one document.
func (ix *Index) Insert(doc index.DocID, text string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.insertLocked(doc, text)
}

func (ix *Index) insertLocked(doc index.DocID, text string) error {
	tokens := ix.tokenizer.Tokenize(text)
	for _, tok := range tokens {
		tid, _, err := ix.dict.GetOrInsert(tok.Term)
		if err != nil {
			return err
		}
		if uint32(tid) > termIDMask {
			return index.InvalidDataf("term id %d exceeds the 24-bit key budget", tid)
		}
		pl := ix.pending[tid]
		if pl == nil {
			pl = &PostingList{}
			ix.pending[tid] = pl
		}
		pl.add(doc, tok.Position, ix.positions)
		// A re-indexed pair must escape its tombstone.
		if set, ok := ix.deletedTermDocs[uint32(tid)]; ok {
			set.Remove(uint64(doc))
		}
	}

	dl := uint32(len(tokens))
	ix.pendingDocLens[doc] = dl
	ix.docLens[doc] = dl
	ix.totalDocs++
	ix.totalTokens += uint64(dl)
	ix.deletedDocs.Remove(uint64(doc))
	return nil
}

// BatchInsert indexes many documents, flushing first if the pending map has
// outgrown its budget.
func (ix *Index) BatchInsert(docs []DocText) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.pending) > ix.pendLimit {
		if err := ix.flushLocked(); err != nil {
			return err
		}
	}
	for _, d := range docs {
		if err := ix.insertLocked(d.DocID, d.Text); err != nil {
			return err
		}
	}
	return nil
}

// DocText is one (document, text) input to batch insertion.
type DocText struct {
	DocID index.DocID
	Text  string
}

// Delete tombstones doc and scrubs it from pending postings. Persisted
// shards are not rewritten.
func (ix *Index) Delete(doc index.DocID, oldText string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deleteLocked(doc, oldText)
}

func (ix *Index) deleteLocked(doc index.DocID, oldText string) error {
	for _, tok := range ix.tokenizer.Tokenize(oldText) {
		tid, ok, err := ix.dict.Lookup(tok.Term)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if pl := ix.pending[tid]; pl != nil {
			pl.removeDoc(doc)
		}
	}
	ix.deletedDocs.Add(uint64(doc))
	if dl, ok := ix.docLens[doc]; ok {
		if ix.totalDocs > 0 {
			ix.totalDocs--
		}
		if ix.totalTokens >= uint64(dl) {
			ix.totalTokens -= uint64(dl)
		}
		delete(ix.docLens, doc)
	}
	delete(ix.pendingDocLens, doc)
	return nil
}

// Update replaces doc's text: old (term, doc) pairs are tombstoned and the
// new text is re-indexed under the same document id.
func (ix *Index) Update(doc index.DocID, oldText, newText string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, tok := range ix.tokenizer.Tokenize(oldText) {
		tid, ok, err := ix.dict.Lookup(tok.Term)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if pl := ix.pending[tid]; pl != nil {
			pl.removeDoc(doc)
		}
		set := ix.deletedTermDocs[uint32(tid)]
		if set == nil {
			set = roaring64.New()
			ix.deletedTermDocs[uint32(tid)] = set
		}
		set.Add(uint64(doc))
	}
	if dl, ok := ix.docLens[doc]; ok {
		if ix.totalDocs > 0 {
			ix.totalDocs--
		}
		if ix.totalTokens >= uint64(dl) {
			ix.totalTokens -= uint64(dl)
		}
	}
	return ix.insertLocked(doc, newText)
}

// shardCountFor returns the next shard index for tid, probing persisted
// shards when the counter was dropped at an earlier flush.
func (ix *Index) shardCountFor(tid index.TermID) (uint32, error) {
	if c, ok := ix.shardCount[tid]; ok {
		return c, nil
	}
	var s uint32
	for s = 0; s <= maxShardIndex; s++ {
		_, found, err := ix.tree.Get(shardKey(s, tid))
		if err != nil {
			return 0, err
		}
		if !found {
			break
		}
	}
	return s, nil
}

// readPostings reconstructs a term's full posting list: every persisted
// shard merged in order, then the pending list, then tombstone filters.
func (ix *Index) readPostings(tid index.TermID) (*PostingList, error) {
	count, err := ix.shardCountFor(tid)
	if err != nil {
		return nil, err
	}
	merged := &PostingList{}
	for s := uint32(0); s < count; s++ {
		blob, found, err := ix.tree.Get(shardKey(s, tid))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		shard, err := DecodePostingList(blob)
		if err != nil {
			return nil, err
		}
		merged.merge(shard)
	}
	if pl := ix.pending[tid]; pl != nil {
		merged.merge(pl)
	}
	merged.sortByDoc()

	// Apply the deleted-doc and deleted-(term, doc) filters.
	termDead := ix.deletedTermDocs[uint32(tid)]
	filtered := merged.Postings[:0]
	for _, p := range merged.Postings {
		if ix.deletedDocs.Contains(uint64(p.DocID)) {
			continue
		}
		if termDead != nil && termDead.Contains(uint64(p.DocID)) {
			continue
		}
		filtered = append(filtered, p)
	}
	merged.Postings = filtered
	return merged, nil
}

// lookupPostings resolves a token and reads its postings; an unknown token
// yields an empty list.
func (ix *Index) lookupPostings(term string) (*PostingList, error) {
	tid, ok, err := ix.dict.Lookup(term)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &PostingList{}, nil
	}
	return ix.readPostings(tid)
}

// Search returns the documents containing every query token.
func (ix *Index) Search(query string) ([]index.DocID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	terms := distinctTerms(ix.tokenizer.Tokenize(query))
	if len(terms) == 0 {
		return nil, nil
	}
	var result map[index.DocID]struct{}
	for _, term := range terms {
		pl, err := ix.lookupPostings(term)
		if err != nil {
			return nil, err
		}
		docs := make(map[index.DocID]struct{}, len(pl.Postings))
		for _, p := range pl.Postings {
			docs[p.DocID] = struct{}{}
		}
		if result == nil {
			result = docs
			continue
		}
		for d := range result {
			if _, ok := docs[d]; !ok {
				delete(result, d)
			}
		}
		if len(result) == 0 {
			return nil, nil
		}
	}
	out := make([]index.DocID, 0, len(result))
	for d := range result {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SearchRanked scores documents matching any query token with BM25 and
// returns the top k.
func (ix *Index) SearchRanked(query string, k int) ([]ScoredDoc, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	terms := distinctTerms(ix.tokenizer.Tokenize(query))
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}
	n := float64(ix.totalDocs)
	if n == 0 {
		return nil, nil
	}
	avgdl := ix.avgDocLength()

	scores := make(map[index.DocID]float64)
	for _, term := range terms {
		pl, err := ix.lookupPostings(term)
		if err != nil {
			return nil, err
		}
		df := float64(len(pl.Postings))
		if df == 0 {
			continue
		}
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		for _, p := range pl.Postings {
			tf := float64(p.Freq)
			dl := float64(ix.docLens[p.DocID])
			norm := bm25K1 * (1 - bm25B + bm25B*dl/avgdl)
			scores[p.DocID] += idf * tf * (bm25K1 + 1) / (tf + norm)
		}
	}

	ranked := make([]ScoredDoc, 0, len(scores))
	for d, s := range scores {
		ranked = append(ranked, ScoredDoc{DocID: d, Score: float32(s)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DocID < ranked[j].DocID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// avgDocLength is the rolling average document length.
func (ix *Index) avgDocLength() float64 {
	if ix.totalDocs == 0 {
		return 1
	}
	avg := float64(ix.totalTokens) / float64(ix.totalDocs)
	if avg <= 0 {
		return 1
	}
	return avg
}

// Stats returns a snapshot of index counters.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Stats{
		TotalDocs:       ix.totalDocs,
		TotalTokens:     ix.totalTokens,
		AvgDocLength:    ix.avgDocLength(),
		PendingTerms:    len(ix.pending),
		DeletedDocs:     ix.deletedDocs.GetCardinality(),
		IncrementalLens: ix.incrementalLens,
	}
}

// Flush moves pending postings into the B+Tree as fresh shards, persists
// doc lengths and metadata, and flushes the dictionary.
func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.flushLocked()
}

func (ix *Index) flushLocked() error {
	// Take ownership of the pending map (move, not copy). On a write error
	// the unwritten terms go back so a later flush retries them.
	pending := ix.pending
	ix.pending = make(map[index.TermID]*PostingList)

	tids := make([]index.TermID, 0, len(pending))
	for tid := range pending {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	restore := func(from int) {
		for _, tid := range tids[from:] {
			if pl := pending[tid]; pl != nil && len(pl.Postings) > 0 {
				ix.pending[tid] = pl
			}
		}
	}
	for i, tid := range tids {
		pl := pending[tid]
		if len(pl.Postings) == 0 {
			continue
		}
		s, err := ix.shardCountFor(tid)
		if err != nil {
			restore(i)
			return err
		}
		if s > maxShardIndex {
			restore(i + 1)
			return index.Indexf("term %d exhausted its %d shard slots", tid, maxShardIndex+1)
		}
		pl.sortByDoc()
		if _, _, err := ix.tree.Insert(shardKey(s, tid), pl.Encode(ix.positions)); err != nil {
			restore(i)
			return err
		}
		ix.shardCount[tid] = s + 1
	}
	if err := ix.tree.Flush(); err != nil {
		return err
	}

	// Retain shard counters only for terms still pending (none right after a
	// flush); the rest are reloadable from disk and would otherwise grow
	// with the vocabulary.
	ix.shardCount = make(map[index.TermID]uint32)

	if err := ix.appendDocLengths(); err != nil {
		return err
	}
	if err := ix.dict.Flush(); err != nil {
		return err
	}
	return ix.writeMeta()
}

// Close flushes and releases the index.
func (ix *Index) Close() error {
	if err := ix.Flush(); err != nil {
		return err
	}
	if err := ix.dict.Close(); err != nil {
		return err
	}
	return ix.tree.Close()
}

// distinctTerms returns the unique terms of a token stream in first-seen
// order.
func distinctTerms(tokens []Token) []string {
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, t := range tokens {
		if _, ok := seen[t.Term]; ok {
			continue
		}
		seen[t.Term] = struct{}{}
		out = append(out, t.Term)
	}
	return out
}
