package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	rerrors "github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/resilience"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashing_DeterministicAndNormalised(t *testing.T) {
	h := NewHashing(64)
	a, _ := h.Embed(context.Background(), "Echo\nechoes input")
	b, _ := h.Embed(context.Background(), "Echo\nechoes input")
	if len(a) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical vectors")
		}
	}
	if n := cosine(a, a); math.Abs(n-1) > 1e-5 {
		t.Fatalf("expected unit self similarity, got %f", n)
	}
}

func TestHashing_SharedWordsAreCloser(t *testing.T) {
	h := NewHashing(256)
	ctx := context.Background()
	echo, _ := h.Embed(ctx, "Echo\nechoes input")
	math1, _ := h.Embed(ctx, "MathSolverTool\nsolves symbolic integrals")
	query, _ := h.Embed(ctx, "echo")

	if cosine(query, echo) <= cosine(query, math1) {
		t.Fatalf("expected echo query to be closer to the echo tool")
	}
}

func TestHashing_EmptyText(t *testing.T) {
	vec, err := NewHashing(8).Embed(context.Background(), "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector, got %v", vec)
		}
	}
}

type countingEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (c *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	c.calls++
	return c.vec, c.err
}

func TestCached_HitsRedisOnSecondCall(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingEmbedder{vec: []float32{0.25, -0.5, 1}}
	c := NewCached(inner, client, CacheConfig{Model: "text-embedding-3-small", TTL: time.Minute})

	for i := 0; i < 3; i++ {
		vec, err := c.Embed(context.Background(), "Echo\nechoes input")
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if len(vec) != 3 || vec[1] != -0.5 {
			t.Fatalf("unexpected vector %v", vec)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one cache key, got %v", mr.Keys())
	}
	if ttl := mr.TTL(mr.Keys()[0]); ttl != time.Minute {
		t.Fatalf("expected ttl of one minute, got %s", ttl)
	}
}

func TestCached_FallsThroughWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	inner := &countingEmbedder{vec: []float32{1}}
	vec, err := NewCached(inner, client, CacheConfig{}).Embed(context.Background(), "x")
	if err != nil || len(vec) != 1 {
		t.Fatalf("expected fallthrough, got %v %v", vec, err)
	}
}

func TestCached_DoesNotStoreErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingEmbedder{err: errors.New("quota")}
	if _, err := NewCached(inner, client, CacheConfig{}).Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error")
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no cache entries, got %v", mr.Keys())
	}
}

func TestGuarded_DimensionMismatch(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2}}
	u := &resilience.Upstream{
		Name:  "embedding",
		Retry: resilience.DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(time.Millisecond),
	}
	_, err := NewGuarded(inner, u, 3).Embed(context.Background(), "x")
	if !rerrors.HasCode(err, rerrors.CodeUpstreamUnavailable) {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected two attempts, got %d", inner.calls)
	}
}

func TestGuarded_PassesVectors(t *testing.T) {
	u := resilience.NewUpstream("embedding", resilience.DefaultRetryConfig(), 0)
	vec, err := NewGuarded(EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	}), u, 3).Embed(context.Background(), "x")
	if err != nil || len(vec) != 3 {
		t.Fatalf("unexpected result %v %v", vec, err)
	}
}
