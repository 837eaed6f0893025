package fts

import (
	"fmt"
	"testing"

	"github.com/fenilsonani/motedb/internal/index"
)

func openTemp(t *testing.T, cfg Config) *Index {
	t.Helper()
	ix, err := Open(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return ix
}

func docSet(docs []index.DocID) map[index.DocID]bool {
	out := make(map[index.DocID]bool, len(docs))
	for _, d := range docs {
		out[d] = true
	}
	return out
}

func TestBooleanSearch(t *testing.T) {
	ix := openTemp(t, Config{})
	defer ix.Close()

	ix.Insert(1, "rust programming")
	ix.Insert(2, "rust compiler")
	ix.Insert(3, "programming language")

	got, err := ix.Search("rust")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	set := docSet(got)
	if len(set) != 2 || !set[1] || !set[2] {
		t.Errorf("Search(rust) = %v, want {1, 2}", got)
	}

	got, _ = ix.Search("rust programming")
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Search(rust programming) = %v, want [1]", got)
	}

	got, _ = ix.Search("missingterm")
	if len(got) != 0 {
		t.Errorf("Search(missingterm) = %v, want empty", got)
	}
}

func TestSearchRankedBM25(t *testing.T) {
	ix := openTemp(t, Config{})
	defer ix.Close()

	ix.Insert(1, "rust programming")
	ix.Insert(2, "rust compiler")
	ix.Insert(3, "programming language")

	ranked, err := ix.SearchRanked("rust", 10)
	if err != nil {
		t.Fatalf("SearchRanked() error = %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("SearchRanked(rust) returned %d docs, want 2", len(ranked))
	}
	for _, r := range ranked {
		if r.DocID != 1 && r.DocID != 2 {
			t.Errorf("unexpected doc %d in results", r.DocID)
		}
		if r.Score <= 0 {
			t.Errorf("doc %d has score %f, want > 0", r.DocID, r.Score)
		}
	}
}

func TestBM25Monotonicity(t *testing.T) {
	// Holding N, df, avgdl fixed: score rises with tf, falls with dl.
	score := func(tf, dl, avgdl float64) float64 {
		norm := bm25K1 * (1 - bm25B + bm25B*dl/avgdl)
		return tf * (bm25K1 + 1) / (tf + norm)
	}
	prev := 0.0
	for tf := 1.0; tf <= 16; tf *= 2 {
		s := score(tf, 10, 10)
		if s <= prev {
			t.Errorf("score(tf=%v) = %v, not increasing past %v", tf, s, prev)
		}
		prev = s
	}
	prev = score(3, 1, 10)
	for dl := 2.0; dl <= 64; dl *= 2 {
		s := score(3, dl, 10)
		if s >= prev {
			t.Errorf("score(dl=%v) = %v, not decreasing from %v", dl, s, prev)
		}
		prev = s
	}
}

func TestPhraseSearch(t *testing.T) {
	ix := openTemp(t, Config{EnablePositions: true})
	defer ix.Close()

	ix.Insert(1, "rust programming")
	ix.Insert(2, "rust compiler")
	ix.Insert(3, "programming language")
	ix.Insert(4, "machine learning rocks")

	matches, err := ix.SearchPhrase("machine learning")
	if err != nil {
		t.Fatalf("SearchPhrase() error = %v", err)
	}
	if len(matches) != 1 || matches[0].DocID != 4 || matches[0].Count != 1 {
		t.Errorf("SearchPhrase(machine learning) = %v, want [(4, 1)]", matches)
	}

	// Reversed order is not a phrase match.
	matches, _ = ix.SearchPhrase("learning machine")
	if len(matches) != 0 {
		t.Errorf("SearchPhrase(learning machine) = %v, want empty", matches)
	}
}

func TestPhraseSearchRequiresPositions(t *testing.T) {
	ix := openTemp(t, Config{})
	defer ix.Close()
	ix.Insert(1, "a b")
	if _, err := ix.SearchPhrase("a b"); !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("SearchPhrase() without positions error = %v, want invalid data", err)
	}
}

func TestProximitySearch(t *testing.T) {
	ix := openTemp(t, Config{EnablePositions: true})
	defer ix.Close()

	ix.Insert(1, "alpha beta gamma delta")
	ix.Insert(2, "alpha one two three four five delta")

	got, err := ix.SearchProximity("alpha delta", 3)
	if err != nil {
		t.Fatalf("SearchProximity() error = %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("SearchProximity(alpha delta, 3) = %v, want [1]", got)
	}
	got, _ = ix.SearchProximity("alpha delta", 10)
	if len(got) != 2 {
		t.Errorf("SearchProximity(alpha delta, 10) = %v, want both docs", got)
	}
}

func TestFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := 1; i <= 50; i++ {
		ix.Insert(index.DocID(i), fmt.Sprintf("document number %d about databases", i))
	}
	ix.Insert(100, "unique snowflake")
	if err := ix.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Search("snowflake")
	if err != nil || len(got) != 1 || got[0] != 100 {
		t.Errorf("Search(snowflake) after reopen = (%v, %v), want [100]", got, err)
	}
	got, _ = reopened.Search("databases")
	if len(got) != 50 {
		t.Errorf("Search(databases) after reopen returned %d docs, want 50", len(got))
	}
	stats := reopened.Stats()
	if stats.TotalDocs != 51 {
		t.Errorf("TotalDocs = %d, want 51", stats.TotalDocs)
	}
}

func TestMultipleFlushesMergeShards(t *testing.T) {
	ix := openTemp(t, Config{})
	defer ix.Close()

	ix.Insert(1, "shard test term")
	if err := ix.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	ix.Insert(2, "shard test term")
	if err := ix.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	ix.Insert(3, "shard test term")

	got, err := ix.Search("shard")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	set := docSet(got)
	if len(set) != 3 || !set[1] || !set[2] || !set[3] {
		t.Errorf("Search(shard) = %v, want {1, 2, 3} across shards and pending", got)
	}
}

func TestDeleteAndUpdate(t *testing.T) {
	ix := openTemp(t, Config{})
	defer ix.Close()

	ix.Insert(1, "stale content here")
	ix.Insert(2, "fresh content there")
	ix.Flush()

	if err := ix.Delete(1, "stale content here"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, _ := ix.Search("content")
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("Search(content) after delete = %v, want [2]", got)
	}
	got, _ = ix.Search("stale")
	if len(got) != 0 {
		t.Errorf("Search(stale) after delete = %v, want empty", got)
	}

	if err := ix.Update(2, "fresh content there", "rewritten body now"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = ix.Search("content")
	if len(got) != 0 {
		t.Errorf("Search(content) after update = %v, want empty", got)
	}
	got, _ = ix.Search("rewritten")
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("Search(rewritten) = %v, want [2]", got)
	}
}

func TestAutoFlushOnBatchInsert(t *testing.T) {
	ix := openTemp(t, Config{PendingTermLimit: 10})
	defer ix.Close()

	// Push enough distinct terms to exceed the limit.
	var docs []DocText
	for i := 0; i < 30; i++ {
		docs = append(docs, DocText{DocID: index.DocID(i + 1), Text: fmt.Sprintf("unique%d word%d", i, i)})
	}
	if err := ix.BatchInsert(docs); err != nil {
		t.Fatalf("BatchInsert() error = %v", err)
	}
	// A second batch must flush the backlog first.
	if err := ix.BatchInsert([]DocText{{DocID: 1000, Text: "trigger flush now"}}); err != nil {
		t.Fatalf("BatchInsert() error = %v", err)
	}
	if got := ix.Stats().PendingTerms; got > 10 {
		t.Errorf("PendingTerms = %d after auto-flush, want <= 10", got)
	}
	got, _ := ix.Search("unique7")
	if len(got) != 1 {
		t.Errorf("Search(unique7) = %v, want one doc", got)
	}
}

func TestNGramTokenizer(t *testing.T) {
	tok := NGramTokenizer{N: 2}
	grams := tok.Tokenize("abc d")
	if len(grams) != 3 {
		t.Fatalf("Tokenize(abc d) = %d grams, want 3", len(grams))
	}
	if grams[0].Term != "ab" || grams[1].Term != "bc" || grams[2].Term != "cd" {
		t.Errorf("grams = %v", grams)
	}
}
