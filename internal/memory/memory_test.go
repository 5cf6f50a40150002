package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nightowlhq/aigate/internal/store"
)

type fakeEmbedder struct {
	vectors   map[string][]float32
	available bool
	model     string
}

func (f *fakeEmbedder) Available() bool { return f.available }

func (f *fakeEmbedder) Model() string {
	if f.model == "" {
		return "fake-embedding-model"
	}
	return f.model
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func openStore(t *testing.T, embedder Embedder) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "aigate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, embedder)
}

func TestAddRequiresTenantAndSummary(t *testing.T) {
	s := openStore(t, nil)
	if _, err := s.Add(context.Background(), Entry{Summary: "x"}); err == nil {
		t.Fatal("expected error for missing tenant id")
	}
	if _, err := s.Add(context.Background(), Entry{TenantID: "t1"}); err == nil {
		t.Fatal("expected error for missing summary")
	}
}

func TestAddAndList(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Add(ctx, Entry{TenantID: "t1", Summary: "likes coffee", Type: "preference"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add(ctx, Entry{TenantID: "t1", Summary: "works remotely"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	all, err := s.List(ctx, "t1", "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}

	prefs, err := s.List(ctx, "t1", "preference", 10, 0)
	if err != nil {
		t.Fatalf("list typed: %v", err)
	}
	if len(prefs) != 1 || prefs[0].ID != id {
		t.Fatalf("type filter failed: %+v", prefs)
	}
}

func TestRelevantScalarOrdering(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, e := range []Entry{
		{TenantID: "t1", Summary: "low", Importance: 1, UpdatedAt: base},
		{TenantID: "t1", Summary: "high-old", Importance: 5, UpdatedAt: base},
		{TenantID: "t1", Summary: "high-new", Importance: 5, UpdatedAt: base.Add(time.Hour)},
	} {
		if _, err := s.Add(ctx, e); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	got, err := s.Relevant(ctx, "t1", Query{Limit: 2})
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) != 2 || got[0].Summary != "high-new" || got[1].Summary != "high-old" {
		t.Fatalf("unexpected ordering: %+v", got)
	}
}

func TestRelevantMinImportance(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	s.Add(ctx, Entry{TenantID: "t1", Summary: "trivial", Importance: 0})
	s.Add(ctx, Entry{TenantID: "t1", Summary: "vital", Importance: 8})

	got, err := s.Relevant(ctx, "t1", Query{MinImportance: 5})
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "vital" {
		t.Fatalf("min importance filter failed: %+v", got)
	}
}

func TestExpiredEntriesNeverReturned(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	s.Add(ctx, Entry{
		TenantID:   "t1",
		Summary:    "expired but important",
		Importance: 100,
		ExpiresAt:  time.Now().Add(-time.Hour),
	})
	s.Add(ctx, Entry{TenantID: "t1", Summary: "alive", Importance: 1})

	got, err := s.Relevant(ctx, "t1", Query{})
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "alive" {
		t.Fatalf("expired entry leaked: %+v", got)
	}
}

func TestRelevantScoping(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	s.Add(ctx, Entry{TenantID: "t1", UserID: "alice", Summary: "alice-fact"})
	s.Add(ctx, Entry{TenantID: "t1", UserID: "bob", Summary: "bob-fact"})
	s.Add(ctx, Entry{TenantID: "t1", Summary: "global-fact"})
	s.Add(ctx, Entry{TenantID: "t2", Summary: "other-tenant"})

	summaries := func(entries []Entry) map[string]bool {
		out := make(map[string]bool, len(entries))
		for _, e := range entries {
			out[e.Summary] = true
		}
		return out
	}

	got, _ := s.Relevant(ctx, "t1", Query{UserID: "alice"})
	if want := summaries(got); len(got) != 1 || !want["alice-fact"] {
		t.Fatalf("user-only scope: %+v", got)
	}

	got, _ = s.Relevant(ctx, "t1", Query{UserID: "alice", IncludeGlobal: true})
	if want := summaries(got); len(got) != 2 || !want["alice-fact"] || !want["global-fact"] {
		t.Fatalf("user-or-global scope: %+v", got)
	}

	got, _ = s.Relevant(ctx, "t1", Query{IncludeGlobal: true})
	if want := summaries(got); len(got) != 1 || !want["global-fact"] {
		t.Fatalf("global-only scope: %+v", got)
	}

	got, _ = s.Relevant(ctx, "t1", Query{})
	if len(got) != 3 {
		t.Fatalf("unscoped should return all tenant entries: %+v", got)
	}
	if want := summaries(got); want["other-tenant"] {
		t.Fatal("cross-tenant read")
	}
}

func TestVectorSearchPath(t *testing.T) {
	emb := &fakeEmbedder{
		available: true,
		vectors: map[string][]float32{
			"coffee preferences": {1, 0, 0},
			"likes espresso":     {0.95, 0.05, 0},
			"owns a bicycle":     {0, 1, 0},
		},
	}
	s := openStore(t, emb)
	ctx := context.Background()

	s.Add(ctx, Entry{TenantID: "t1", Summary: "likes espresso", Importance: 0})
	s.Add(ctx, Entry{TenantID: "t1", Summary: "owns a bicycle", Importance: 9})

	got, err := s.Relevant(ctx, "t1", Query{Query: "coffee preferences", SimilarityThreshold: 0.75})
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "likes espresso" {
		t.Fatalf("vector path should rank by similarity, got %+v", got)
	}
}

func TestVectorZeroResultsFallsBackToScalar(t *testing.T) {
	emb := &fakeEmbedder{
		available: true,
		vectors: map[string][]float32{
			"unrelated query": {1, 0, 0},
			"owns a bicycle":  {0, 1, 0},
		},
	}
	s := openStore(t, emb)
	ctx := context.Background()

	s.Add(ctx, Entry{TenantID: "t1", Summary: "owns a bicycle", Importance: 3})

	got, err := s.Relevant(ctx, "t1", Query{Query: "unrelated query", SimilarityThreshold: 0.9})
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "owns a bicycle" {
		t.Fatalf("expected scalar fallback result, got %+v", got)
	}
}

func TestPruneAgeBeforeCap(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	// Older than the retention window and maximally important.
	s.Add(ctx, Entry{
		TenantID:   "t1",
		Summary:    "old-but-important",
		Importance: 100,
		UpdatedAt:  time.Now().AddDate(0, 0, -3),
	})
	for i := 0; i < 7; i++ {
		s.Add(ctx, Entry{
			TenantID:   "t1",
			Summary:    "recent",
			Importance: i,
			UpdatedAt:  time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}

	deleted, err := s.Prune(ctx, "t1", 1, 5)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deletions (1 by age, 2 by cap), got %d", deleted)
	}

	remaining, err := s.List(ctx, "t1", "", 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 5 {
		t.Fatalf("expected 5 survivors, got %d", len(remaining))
	}
	for _, e := range remaining {
		if e.Summary == "old-but-important" {
			t.Fatal("age rule must beat the cap rule")
		}
		if e.Importance < 2 {
			t.Fatalf("cap should keep top importance, kept %+v", e)
		}
	}
}

func TestDelete(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	id, err := s.Add(ctx, Entry{TenantID: "t1", Summary: "temp"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Delete(ctx, "t2", id); err == nil {
		t.Fatal("delete must be tenant scoped")
	}
	if err := s.Delete(ctx, "t1", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "t1", id); err == nil {
		t.Fatal("expected not found on second delete")
	}
}

func TestRecencyOrderingSubsecond(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	// Equal importance; only the sub-second fraction separates them.
	s.Add(ctx, Entry{TenantID: "t1", Summary: "whole-second", Importance: 3, UpdatedAt: base})
	s.Add(ctx, Entry{TenantID: "t1", Summary: "half-second-later", Importance: 3, UpdatedAt: base.Add(500 * time.Millisecond)})

	got, err := s.Relevant(ctx, "t1", Query{})
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) != 2 || got[0].Summary != "half-second-later" {
		t.Fatalf("recency order wrong: %+v", got)
	}

	listed, err := s.List(ctx, "t1", "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listed[0].Summary != "half-second-later" {
		t.Fatalf("list recency order wrong: %+v", listed)
	}
}

func TestPruneCapSubsecondRecency(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	s.Add(ctx, Entry{TenantID: "t1", Summary: "older", Importance: 1, UpdatedAt: base})
	s.Add(ctx, Entry{TenantID: "t1", Summary: "newer", Importance: 1, UpdatedAt: base.Add(250 * time.Millisecond)})

	if _, err := s.Prune(ctx, "t1", 0, 1); err != nil {
		t.Fatalf("prune: %v", err)
	}
	left, err := s.List(ctx, "t1", "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].Summary != "newer" {
		t.Fatalf("cap must keep the most recent entry: %+v", left)
	}
}

func TestAddRecordsEmbeddingModel(t *testing.T) {
	emb := &fakeEmbedder{
		available: true,
		model:     "embed-v2",
		vectors:   map[string][]float32{"likes tea": {1, 0, 0}},
	}
	s := openStore(t, emb)
	ctx := context.Background()

	if _, err := s.Add(ctx, Entry{TenantID: "t1", Summary: "likes tea"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.List(ctx, "t1", "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].EmbeddingModel != "embed-v2" {
		t.Fatalf("embedding model not recorded: %+v", got)
	}
}

func TestAddWithoutEmbedderLeavesModelEmpty(t *testing.T) {
	s := openStore(t, &fakeEmbedder{available: false, model: "embed-v2"})
	ctx := context.Background()

	if _, err := s.Add(ctx, Entry{TenantID: "t1", Summary: "no vector", EmbeddingModel: "stale-claim"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.List(ctx, "t1", "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got[0].EmbeddingModel != "" {
		t.Fatalf("rows without a vector must not claim a model: %q", got[0].EmbeddingModel)
	}
}
