package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/services"
)

// Memory is an in-process services.VectorStore ranking by cosine
// similarity. Contents are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	vector []float32
	norm   float64
	meta   map[string]any
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memoryRecord)}
}

// Upsert stores or replaces the record for id.
func (m *Memory) Upsert(_ context.Context, id string, emb domain.Embedding, metadata map[string]any) error {
	v := emb.Vector()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = memoryRecord{vector: v, norm: norm(v), meta: maps.Clone(metadata)}
	return nil
}

// Search scores every record that matches filter and returns the best topK.
func (m *Memory) Search(_ context.Context, query domain.Embedding, topK int, filter map[string]string) ([]services.VectorMatch, error) {
	if topK <= 0 {
		return []services.VectorMatch{}, nil
	}
	q := query.Vector()
	qn := norm(q)

	m.mu.RLock()
	out := make([]services.VectorMatch, 0, len(m.records))
	for id, r := range m.records {
		if !matches(r.meta, filter) || len(r.vector) != len(q) {
			continue
		}
		out = append(out, services.VectorMatch{
			ID:       id,
			Score:    cosine(q, qn, r.vector, r.norm),
			Metadata: maps.Clone(r.meta),
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Delete removes id; missing ids are ignored.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func matches(meta map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		v, ok := meta[k]
		if !ok {
			return false
		}
		if s, isStr := v.(string); isStr {
			if s != want {
				return false
			}
			continue
		}
		if fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
