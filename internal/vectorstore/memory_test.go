package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

func vec(v ...float32) domain.Embedding { return domain.NewEmbedding(v, "test", "") }

func TestMemory_SearchRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, "a", vec(1, 0), map[string]any{"user_id": "u1", "text": "A"}))
	require.NoError(t, m.Upsert(ctx, "b", vec(0.7, 0.7), map[string]any{"user_id": "u1", "text": "B"}))
	require.NoError(t, m.Upsert(ctx, "c", vec(1, 0), map[string]any{"user_id": "u2", "text": "C"}))
	require.NoError(t, m.Upsert(ctx, "d", vec(0, 1), map[string]any{"user_id": "u1", "chunk_index": 3}))

	got, err := m.Search(ctx, vec(1, 0), 2, map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, "A", got[0].Metadata["text"])

	got, err = m.Search(ctx, vec(0, 1), 5, map[string]string{"chunk_index": "3"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ID)

	got, err = m.Search(ctx, vec(1, 0), 10, nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestMemory_UpsertReplacesAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	meta := map[string]any{"text": "v1"}
	require.NoError(t, m.Upsert(ctx, "x", vec(1, 0), meta))
	meta["text"] = "mutated"
	require.NoError(t, m.Upsert(ctx, "y", vec(1, 0), nil))

	got, _ := m.Search(ctx, vec(1, 0), 1, map[string]string{"text": "v1"})
	require.Len(t, got, 1, "stored metadata must not alias the caller's map")

	require.NoError(t, m.Upsert(ctx, "x", vec(0, 1), map[string]any{"text": "v2"}))
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete(ctx, "x"))
	require.NoError(t, m.Delete(ctx, "missing"))
	assert.Equal(t, 1, m.Len())
}

func TestMemory_EdgeCases(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, "zero", vec(0, 0), nil))
	require.NoError(t, m.Upsert(ctx, "3d", vec(1, 0, 0), nil))

	got, err := m.Search(ctx, vec(1, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1, "vectors of a different dimension are skipped")
	assert.Equal(t, 0.0, got[0].Score)

	got, err = m.Search(ctx, vec(1, 0), 0, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
