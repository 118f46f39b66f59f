package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type disposable struct {
	disposed int
}

func (d *disposable) Dispose() { d.disposed++ }

func TestResultCache_GetSet(t *testing.T) {
	c := New(zap.NewNop())

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, []string{"a"}, c.Keys())
}

func TestResultCache_DisposeOnOverwrite(t *testing.T) {
	c := New(zap.NewNop())
	old := &disposable{}

	c.Set("a", old)
	c.Set("a", &disposable{})
	assert.Equal(t, 1, old.disposed)
}

func TestResultCache_DisposeOnDelete(t *testing.T) {
	c := New(zap.NewNop())
	d := &disposable{}

	c.Set("a", d)
	c.Delete("a")
	assert.Equal(t, 1, d.disposed)
	_, ok := c.Get("a")
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	c.Delete("a")
	assert.Equal(t, 1, d.disposed)
}

func TestResultCache_DisposesValuesInsideOutputMaps(t *testing.T) {
	c := New(zap.NewNop())
	d := &disposable{}

	c.Set("step", map[string]any{"return": d})
	c.Delete("step")
	assert.Equal(t, 1, d.disposed)
}

func TestResultCache_Child(t *testing.T) {
	c := New(zap.NewNop())

	child := c.Child("sub")
	child.Set("inner", 42)

	// The same child comes back on repeated access.
	again := c.Child("sub")
	v, ok := again.Get("inner")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	// Child entries do not leak into the parent namespace.
	_, ok = c.Get("inner")
	assert.False(t, ok)

	// Deleting the parent key closes the scoped child.
	d := &disposable{}
	child.Set("res", d)
	c.Delete("sub")
	assert.Equal(t, 1, d.disposed)
}

func TestResultCache_Rename(t *testing.T) {
	c := New(zap.NewNop())
	c.Set("old", "value")
	c.Child("old").Set("inner", 7)

	assert.True(t, c.Rename("old", "new"))

	v, ok := c.Get("new")
	require.True(t, ok)
	assert.Equal(t, "value", v)
	_, ok = c.Get("old")
	assert.False(t, ok)

	inner, ok := c.Child("new").Get("inner")
	require.True(t, ok)
	assert.Equal(t, 7, inner)

	assert.False(t, c.Rename("ghost", "whatever"))
}

func TestResultCache_CloseIsIdempotentAndRecursive(t *testing.T) {
	c := New(zap.NewNop())
	top := &disposable{}
	nested := &disposable{}

	c.Set("a", top)
	c.Child("sub").Set("b", nested)

	c.Close()
	c.Close()

	assert.Equal(t, 1, top.disposed)
	assert.Equal(t, 1, nested.disposed)

	// A closed cache ignores further mutation.
	c.Set("x", 1)
	_, ok := c.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
