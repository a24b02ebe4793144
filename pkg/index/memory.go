package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrCollectionNotFound is returned for operations on a missing collection.
var ErrCollectionNotFound = errors.New("index: collection not found")

// Memory is an in-process Index with brute-force search. Payloads are
// copied through JSON on write so readers observe the same shapes a remote
// store would return.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	cfg    CollectionConfig
	order  []string
	points map[string]Point
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

// CollectionExists implements Index.
func (m *Memory) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// CreateCollection implements Index.
func (m *Memory) CreateCollection(_ context.Context, name string, cfg CollectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("index: collection %q already exists", name)
	}
	if cfg.Distance == "" {
		cfg.Distance = DistanceCosine
	}
	m.collections[name] = &memCollection{cfg: cfg, points: make(map[string]Point)}
	return nil
}

// Upsert implements Index.
func (m *Memory) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, p := range points {
		if c.cfg.VectorSize > 0 && uint64(len(p.Vector)) != c.cfg.VectorSize {
			return fmt.Errorf("index: vector dimension %d does not match collection size %d", len(p.Vector), c.cfg.VectorSize)
		}
	}
	for _, p := range points {
		payload, err := copyPayload(p.Payload)
		if err != nil {
			return fmt.Errorf("index: payload for %s: %w", p.ID, err)
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = Point{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: payload,
		}
	}
	return nil
}

// Search implements Index.
func (m *Memory) Search(_ context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	hits := make([]Hit, 0, len(c.points))
	for _, id := range c.order {
		p := c.points[id]
		payload, err := copyPayload(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("index: payload for %s: %w", id, err)
		}
		hits = append(hits, Hit{
			ID:      id,
			Score:   score(c.cfg.Distance, vector, p.Vector),
			Payload: payload,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Retrieve implements Index.
func (m *Memory) Retrieve(_ context.Context, collection string, ids []string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		p, ok := c.points[id]
		if !ok {
			continue
		}
		payload, err := copyPayload(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("index: payload for %s: %w", id, err)
		}
		out = append(out, Record{ID: id, Payload: payload})
	}
	return out, nil
}

// Scroll implements Index.
func (m *Memory) Scroll(_ context.Context, collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		payload, err := copyPayload(c.points[id].Payload)
		if err != nil {
			return nil, fmt.Errorf("index: payload for %s: %w", id, err)
		}
		out = append(out, Record{ID: id, Payload: payload})
	}
	return out, nil
}

func copyPayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func score(distance Distance, a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	switch distance {
	case DistanceDot:
		var dot float64
		for i := 0; i < n; i++ {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(dot)
	case DistanceEuclid:
		var sum float64
		for i := 0; i < n; i++ {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(-math.Sqrt(sum))
	default:
		var dot, na, nb float64
		for i := 0; i < n; i++ {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
	}
}
