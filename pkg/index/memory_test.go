package index

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_SearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	if err := EnsureCollection(ctx, idx, "tools", CollectionConfig{VectorSize: 2, Distance: DistanceCosine}); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	// Second call is a no-op.
	if err := EnsureCollection(ctx, idx, "tools", CollectionConfig{VectorSize: 2}); err != nil {
		t.Fatalf("EnsureCollection again: %v", err)
	}

	err := idx.Upsert(ctx, "tools", []Point{
		{ID: "x", Vector: []float32{1, 0}, Payload: map[string]any{"id": "X"}},
		{ID: "y", Vector: []float32{0, 1}, Payload: map[string]any{"id": "Y"}},
		{ID: "xy", Vector: []float32{1, 1}, Payload: map[string]any{"id": "XY"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := idx.Search(ctx, "tools", []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "x" || hits[1].ID != "xy" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("hits not in descending order")
	}
}

func TestMemory_UpsertReplacesAndCopies(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	_ = idx.CreateCollection(ctx, "agents", CollectionConfig{VectorSize: 1})

	payload := map[string]any{"name": "v1", "count": 3}
	if err := idx.Upsert(ctx, "agents", []Point{{ID: "a", Vector: []float32{1}, Payload: payload}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	payload["name"] = "mutated"

	recs, err := idx.Retrieve(ctx, "agents", []string{"a", "missing"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(recs) != 1 || recs[0].Payload["name"] != "v1" {
		t.Fatalf("expected stored copy, got %+v", recs)
	}
	if _, ok := recs[0].Payload["count"].(float64); !ok {
		t.Fatalf("expected JSON number shape, got %T", recs[0].Payload["count"])
	}

	if err := idx.Upsert(ctx, "agents", []Point{{ID: "a", Vector: []float32{1}, Payload: map[string]any{"name": "v2"}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	all, err := idx.Scroll(ctx, "agents")
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(all) != 1 || all[0].Payload["name"] != "v2" {
		t.Fatalf("expected single replaced record, got %+v", all)
	}
}

func TestMemory_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	_ = idx.CreateCollection(ctx, "agents", CollectionConfig{VectorSize: 1})
	payload := map[string]any{"name": "v1", "tags": []any{"a"}}
	if err := idx.Upsert(ctx, "agents", []Point{{ID: "a", Vector: []float32{1}, Payload: payload}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := idx.Search(ctx, "agents", []float32{1}, 1)
	if err != nil || len(hits) != 1 {
		t.Fatalf("Search: %v %+v", err, hits)
	}
	hits[0].Payload["name"] = "from search"
	hits[0].Payload["tags"].([]any)[0] = "z"

	recs, err := idx.Retrieve(ctx, "agents", []string{"a"})
	if err != nil || len(recs) != 1 {
		t.Fatalf("Retrieve: %v %+v", err, recs)
	}
	if recs[0].Payload["name"] != "v1" || recs[0].Payload["tags"].([]any)[0] != "a" {
		t.Fatalf("search result aliased stored payload: %+v", recs[0].Payload)
	}
	recs[0].Payload["name"] = "from retrieve"

	all, err := idx.Scroll(ctx, "agents")
	if err != nil || len(all) != 1 {
		t.Fatalf("Scroll: %v %+v", err, all)
	}
	if all[0].Payload["name"] != "v1" {
		t.Fatalf("retrieve result aliased stored payload: %+v", all[0].Payload)
	}
	delete(all[0].Payload, "name")

	again, _ := idx.Retrieve(ctx, "agents", []string{"a"})
	if again[0].Payload["name"] != "v1" {
		t.Fatalf("scroll result aliased stored payload: %+v", again[0].Payload)
	}
}

func TestMemory_Errors(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	if _, err := idx.Search(ctx, "nope", []float32{1}, 1); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
	_ = idx.CreateCollection(ctx, "c", CollectionConfig{VectorSize: 3})
	if err := idx.Upsert(ctx, "c", []Point{{ID: "p", Vector: []float32{1}}}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if err := idx.CreateCollection(ctx, "c", CollectionConfig{}); err == nil {
		t.Fatalf("expected duplicate collection error")
	}
}

func TestParseDistance(t *testing.T) {
	if d, err := ParseDistance(""); err != nil || d != DistanceCosine {
		t.Fatalf("expected cosine default, got %q %v", d, err)
	}
	if _, err := ParseDistance("manhattan"); err == nil {
		t.Fatalf("expected error for unknown metric")
	}
}
