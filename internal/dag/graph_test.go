package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphAddNode(t *testing.T) {
	g := NewGraph()
	g.AddNode("a")
	g.AddNode("a")
	g.AddNode("b")
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []string{"a", "b"}, g.Nodes())
}

func TestGraphAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := NewGraph()
		g.AddNode("a")
		g.AddNode("b")
		g.AddNode("c")
		require.NoError(t, g.AddEdge("a", "c"))
		require.NoError(t, g.AddEdge("b", "c"))

		deps, err := g.Dependencies("c")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, deps)

		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := NewGraph()
		g.AddNode("a")

		assert.ErrorContains(t, g.AddEdge("dne", "a"), "source node not found")
		assert.ErrorContains(t, g.AddEdge("a", "dne"), "destination node not found")
		assert.ErrorContains(t, g.AddEdge("a", "a"), "self-referential edge")

		_, err := g.Dependents("dne")
		assert.ErrorContains(t, err, "node not found")
	})
}

func TestGraphDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, NewGraph().DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"a", "b", "c", "d"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c"))
		require.NoError(t, g.AddEdge("c", "d"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"a", "b", "x", "y", "z"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("x", "y"))
		require.NoError(t, g.AddEdge("y", "z"))
		require.NoError(t, g.AddEdge("z", "y"))
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})
}
