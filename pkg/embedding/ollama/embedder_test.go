package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "nomic-embed-text" || req.Prompt != "Echo\nechoes input" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{Embedding: []float64{0.5, -1}})
	}))
	defer srv.Close()

	vec, err := NewEmbedder(srv.URL, "").Embed(context.Background(), "Echo\nechoes input")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != -1 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestEmbed_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewEmbedder(srv.URL, "m").Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error on 503")
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	if _, err := NewEmbedder(srv.URL, "m").Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for empty embedding")
	}
}
