package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot/internal/domain"
	"copilot/internal/vectorstore/memory"
)

func unit(idx int) domain.Vector {
	return domain.Vector{Indices: []int{idx}, Values: []float64{1}}
}

func TestStorage_Search(t *testing.T) {
	t.Parallel()

	t.Run("orders by descending score", func(t *testing.T) {
		t.Parallel()

		s := memory.NewStorage()
		require.NoError(t, s.Init(2))
		require.NoError(t, s.Upsert(
			[]domain.Chunk{{ChunkID: "a", Source: "a.txt", Text: "A"}, {ChunkID: "b", Source: "b.txt", Text: "B"}},
			[]domain.Vector{unit(0), {Indices: []int{0, 1}, Values: []float64{0.6, 0.8}}},
		))

		res, err := s.Search(domain.Vector{Indices: []int{1}, Values: []float64{1}}, 2)

		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "b", res[0].Chunk.ChunkID)
		assert.Equal(t, "b.txt", res[0].Source)
		assert.Equal(t, "B", res[0].Content)
		assert.InDelta(t, 0.8, res[0].Score, 1e-12)
		assert.Zero(t, res[1].Score)
	})

	t.Run("ties keep insertion order", func(t *testing.T) {
		t.Parallel()

		s := memory.NewStorage()
		require.NoError(t, s.Init(1))
		chunks := make([]domain.Chunk, 5)
		vectors := make([]domain.Vector, 5)
		for i := range chunks {
			chunks[i] = domain.Chunk{Index: i}
			vectors[i] = unit(0)
		}
		require.NoError(t, s.Upsert(chunks, vectors))

		res, err := s.Search(unit(0), 3)

		require.NoError(t, err)
		require.Len(t, res, 3)
		for i, r := range res {
			assert.Equal(t, i, r.Chunk.Index)
		}
	})

	t.Run("topK larger than rows", func(t *testing.T) {
		t.Parallel()

		s := memory.NewStorage()
		require.NoError(t, s.Init(2))
		require.NoError(t, s.Upsert([]domain.Chunk{{}, {}}, []domain.Vector{unit(0), unit(1)}))

		res, err := s.Search(unit(0), 10)

		require.NoError(t, err)
		assert.Len(t, res, 2)
	})

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		res, err := memory.NewStorage().Search(unit(0), 2)

		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestStorage_Upsert(t *testing.T) {
	t.Parallel()

	s := memory.NewStorage()
	assert.Error(t, s.Init(0))
	require.NoError(t, s.Init(2))

	assert.Error(t, s.Upsert([]domain.Chunk{{}}, nil))
	assert.Error(t, s.Upsert([]domain.Chunk{{}}, []domain.Vector{unit(5)}))
	require.NoError(t, s.Upsert([]domain.Chunk{{}}, []domain.Vector{unit(1)}))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, s.Dimension())

	require.NoError(t, s.Clear())
	assert.Zero(t, s.Len())
}
