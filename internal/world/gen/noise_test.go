package gen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

func TestNoiseGenerator_Deterministic(t *testing.T) {
	g1, err := New("noise", 99)
	require.NoError(t, err)
	g2, err := New("noise", 99)
	require.NoError(t, err)

	for _, coords := range []vec.ChunkPoint{{X: 0, Y: 0}, {X: -5, Y: 3}, {X: 17, Y: -17}} {
		a := g1.Generate(coords)
		b := g2.Generate(coords)
		assert.Equal(t, a.Tiles(), b.Tiles(), "чанк %v", coords)
	}
}

func TestNoiseGenerator_SeedChangesTerrain(t *testing.T) {
	g1, err := New("noise", 1)
	require.NoError(t, err)
	g2, err := New("noise", 2)
	require.NoError(t, err)

	same := 0
	for _, coords := range []vec.ChunkPoint{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}} {
		if g1.Generate(coords).Tiles() == g2.Generate(coords).Tiles() {
			same++
		}
	}
	assert.Less(t, same, 3, "разные сиды должны давать разный ландшафт")
}

func TestNoiseGenerator_TilesValid(t *testing.T) {
	g, err := New("noise", 424242)
	require.NoError(t, err)

	for cx := int32(-3); cx <= 3; cx++ {
		for cy := int32(-3); cy <= 3; cy++ {
			chunk := g.Generate(vec.ChunkPoint{X: cx, Y: cy})
			for _, tile := range chunk.Tiles() {
				require.True(t, tile.Valid(), "чанк %d_%d содержит мусорный тайл %d", cx, cy, tile)
			}
			assert.False(t, chunk.Dirty(), "сгенерированный чанк не считается изменённым")
		}
	}
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Names(), "noise")

	_, err := New("no-such-generator", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-generator")
}

func TestNoiseGenerator_Name(t *testing.T) {
	g, err := New("noise", 0)
	require.NoError(t, err)
	assert.Equal(t, "noise", g.Name())

	// Генератор выдаёт чанки полного размера.
	chunk := g.Generate(vec.ChunkPoint{})
	assert.Len(t, chunk.Serialize(), world.SerializedChunkSize)
}
