package treestore

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSnapshotImmutable(t *testing.T) {
	database := NewTreeDatabaseWithDefaults()
	ref := database.Reference("a")

	err := ref.SetValues(map[string]any{"x": 1, "y": "s"})
	assert.Equal(t, err, nil)

	snapshot := ref.Snapshot()
	assert.NotEqual(t, snapshot, nil)
	assert.Equal(t, snapshot.ToJson(), map[string]any{"x": float64(1), "y": "s"})

	// later mutation of the live tree never affects a taken snapshot
	err = ref.SetValues(map[string]any{"x": 2})
	assert.Equal(t, err, nil)
	assert.Equal(t, snapshot.ToJson(), map[string]any{"x": float64(1), "y": "s"})

	err = ref.Remove()
	assert.Equal(t, err, nil)
	assert.Equal(t, snapshot.ToJson(), map[string]any{"x": float64(1), "y": "s"})
}

func TestSnapshotChildren(t *testing.T) {
	database := NewTreeDatabaseWithDefaults()
	ref := database.Reference("a")

	ref.SetValues(map[string]any{
		"x": 1,
		"nested": map[string]any{
			"leaf": true,
		},
	})

	snapshot := ref.Snapshot()
	assert.Equal(t, snapshot.Key(), "a")
	assert.Equal(t, snapshot.Path(), "a")
	assert.Equal(t, snapshot.NumChildren(), 2)
	// internal node has no value
	assert.Equal(t, snapshot.Value(), nil)

	assert.Equal(t, snapshot.HasChild("x"), true)
	assert.Equal(t, snapshot.HasChild("nested/leaf"), true)
	assert.Equal(t, snapshot.HasChild("missing"), false)

	leaf := snapshot.Child("nested/leaf")
	assert.NotEqual(t, leaf, nil)
	assert.Equal(t, leaf.Key(), "leaf")
	assert.Equal(t, leaf.Path(), "a/nested/leaf")
	assert.Equal(t, leaf.Value(), true)
	assert.Equal(t, leaf.NumChildren(), 0)

	keys := []string{}
	snapshot.ForEachChild(func(child *TreeDataSnapshot) {
		keys = append(keys, child.Key())
	})
	assert.Equal(t, len(keys), 2)
	assert.Equal(t, len(snapshot.Children()), 2)
}

func TestSnapshotIsEqual(t *testing.T) {
	database := NewTreeDatabaseWithDefaults()

	database.Reference("a").SetValues(map[string]any{"x": 1, "y": 2})
	database.Reference("b").SetValues(map[string]any{"x": 1, "y": 2})
	database.Reference("c").SetValues(map[string]any{"x": 1, "y": 3})

	a := database.Reference("a").Snapshot()
	b := database.Reference("b").Snapshot()
	c := database.Reference("c").Snapshot()

	// structural equality ignores the path tag
	assert.Equal(t, a.IsEqual(b), true)
	assert.Equal(t, a.IsEqual(c), false)
	assert.Equal(t, a.IsEqual(nil), false)
}

func TestSnapshotRef(t *testing.T) {
	database := NewTreeDatabaseWithDefaults()
	database.Reference("a/b").SetValue("v")

	snapshot := database.Reference("a/b").Snapshot()
	ref := snapshot.Ref()
	assert.Equal(t, ref.Path(), "a/b")
	assert.Equal(t, ref.Key(), "b")
	assert.Equal(t, ref.Database(), database)
}

func TestSnapshotLeafProjection(t *testing.T) {
	database := NewTreeDatabaseWithDefaults()
	database.Reference("a/b").SetValue(42)

	snapshot := database.Reference("a/b").Snapshot()
	assert.Equal(t, snapshot.Value(), float64(42))
	assert.Equal(t, snapshot.ToJson(), float64(42))

	parent := database.Reference("a").Snapshot()
	assert.Equal(t, parent.ToJson(), map[string]any{"b": float64(42)})
}
