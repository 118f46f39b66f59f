package workspace_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/flowforge/flowforge/op"
	"github.com/flowforge/flowforge/types"
	"github.com/flowforge/flowforge/workspace"
)

func f(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		panic("not a number")
	}
}

type opCounts struct {
	add, scale int64
}

func testRegistry(t *testing.T, counts *opCounts) *op.Registry {
	t.Helper()
	reg := op.NewRegistry(nil)

	reg.MustRegister(
		op.NewDescriptor("flowforge.ops.add").
			Cacheable(true).
			Input("a", op.TypeFloat).Done().
			Input("b", op.TypeFloat).Done().
			Output("y", op.TypeFloat).Done().
			MustBuild(),
		func(ctx context.Context, in map[string]any) (any, error) {
			atomic.AddInt64(&counts.add, 1)
			return f(in["a"]) + f(in["b"]), nil
		})

	reg.MustRegister(
		op.NewDescriptor("flowforge.ops.scale").
			Cacheable(true).
			Input("factor", op.TypeFloat).Default(2.0).Done().
			Input("y", op.TypeFloat).Done().
			Output("b", op.TypeFloat).Done().
			MustBuild(),
		func(ctx context.Context, in map[string]any) (any, error) {
			atomic.AddInt64(&counts.scale, 1)
			return f(in["factor"]) * f(in["y"]), nil
		})

	reg.MustRegister(
		op.NewDescriptor("flowforge.ops.slow").
			Cacheable(true).
			Input("x", op.TypeFloat).Done().
			MustBuild(),
		func(ctx context.Context, in map[string]any) (any, error) {
			atomic.AddInt64(&counts.add, 1)
			time.Sleep(30 * time.Millisecond)
			return f(in["x"]), nil
		})

	return reg
}

func testWorkspace(t *testing.T, counts *opCounts) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Create(t.TempDir(), workspace.Options{Registry: testRegistry(t, counts)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestWorkspace_SetAndExecute(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)
	ctx := context.Background()

	name, err := ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", name)

	_, err = ws.SetResource("scale", map[string]any{"y": workspace.Source("r1.y")},
		workspace.SetOptions{Name: "r2"})
	require.NoError(t, err)

	out, err := ws.Execute(ctx, "r2", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 8.0}, out)
	assert.Equal(t, opCounts{add: 1, scale: 1}, counts)

	// Second execution is served entirely from cache.
	out, err = ws.Execute(ctx, "r2", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 8.0}, out)
	assert.Equal(t, opCounts{add: 1, scale: 1}, counts)

	assert.Equal(t, []string{"r1", "r2"}, ws.Resources())
}

func TestWorkspace_AutoNames(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)

	n1, err := ws.SetResource("add", map[string]any{"a": 1.0, "b": 2.0}, workspace.SetOptions{})
	require.NoError(t, err)
	n2, err := ws.SetResource("add", map[string]any{"a": 3.0, "b": 4.0}, workspace.SetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "res_1", n1)
	assert.Equal(t, "res_2", n2)
}

func TestWorkspace_OverwriteInvalidatesDependents(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)
	ctx := context.Background()

	_, err := ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1"})
	require.NoError(t, err)
	_, err = ws.SetResource("scale", map[string]any{"y": workspace.Source("r1.y")},
		workspace.SetOptions{Name: "r2"})
	require.NoError(t, err)

	_, err = ws.Execute(ctx, "r2", nil)
	require.NoError(t, err)
	assert.Equal(t, opCounts{add: 1, scale: 1}, counts)

	// Replacing r1 without the overwrite flag is rejected.
	_, err = ws.SetResource("add", map[string]any{"a": 5.0, "b": 1.0},
		workspace.SetOptions{Name: "r1"})
	assert.True(t, types.IsCode(err, types.ErrDuplicateStep))

	// With it, r1 and its dependents are invalidated together.
	_, err = ws.SetResource("add", map[string]any{"a": 5.0, "b": 1.0},
		workspace.SetOptions{Name: "r1", Overwrite: true})
	require.NoError(t, err)

	out, err := ws.Execute(ctx, "r2", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 12.0}, out)
	assert.Equal(t, opCounts{add: 2, scale: 2}, counts)
}

func TestWorkspace_SetExpression(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)
	ctx := context.Background()

	_, err := ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1"})
	require.NoError(t, err)

	_, err = ws.SetExpression("y * y + 1", map[string]any{"y": workspace.Source("r1.y")},
		workspace.SetOptions{Name: "sq"})
	require.NoError(t, err)

	out, err := ws.Execute(ctx, "sq", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"return": 17.0}, out)
}

func TestWorkspace_SelfReference(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)

	_, err := ws.SetResource("scale", map[string]any{"y": workspace.Source("r1.b")},
		workspace.SetOptions{Name: "r1"})
	assert.True(t, types.IsCode(err, types.ErrSelfConnection))
}

func TestWorkspace_SetResource_UnknownOperation(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)

	_, err := ws.SetResource("ghost", nil, workspace.SetOptions{Name: "r1"})
	assert.True(t, types.IsCode(err, types.ErrUnknownOperation))
	assert.Empty(t, ws.Resources())
}

func TestWorkspace_Validate(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)

	// Without validation a reference to a not-yet-created resource is
	// accepted and stays pending.
	_, err := ws.SetResource("scale", map[string]any{"y": workspace.Source("later.y")},
		workspace.SetOptions{Name: "r2"})
	require.NoError(t, err)

	// With validation it is rejected, and nothing is left behind.
	_, err = ws.SetResource("scale", map[string]any{"y": workspace.Source("ghost.y")},
		workspace.SetOptions{Name: "r3", Validate: true})
	assert.True(t, types.IsCode(err, types.ErrDanglingReference))
	assert.Equal(t, []string{"r2"}, ws.Resources())
}

func TestWorkspace_DeleteResource(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)
	ctx := context.Background()

	_, err := ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1"})
	require.NoError(t, err)
	_, err = ws.SetResource("scale", map[string]any{"y": workspace.Source("r1.y")},
		workspace.SetOptions{Name: "r2"})
	require.NoError(t, err)

	err = ws.DeleteResource(ctx, "r1")
	assert.True(t, types.IsCode(err, types.ErrDependentResource), "r2 still uses r1")

	require.NoError(t, ws.DeleteResource(ctx, "r2"))
	require.NoError(t, ws.DeleteResource(ctx, "r1"))
	assert.Empty(t, ws.Resources())

	err = ws.DeleteResource(ctx, "r1")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestWorkspace_RenameResource(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)
	ctx := context.Background()

	_, err := ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1"})
	require.NoError(t, err)
	_, err = ws.SetResource("scale", map[string]any{"y": workspace.Source("r1.y")},
		workspace.SetOptions{Name: "r2"})
	require.NoError(t, err)

	_, err = ws.Execute(ctx, "r2", nil)
	require.NoError(t, err)

	require.NoError(t, ws.RenameResource(ctx, "r1", "base"))
	assert.Equal(t, []string{"base", "r2"}, ws.Resources())

	// Cached results move with the rename: nothing recomputes.
	out, err := ws.Execute(ctx, "r2", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 8.0}, out)
	assert.Equal(t, opCounts{add: 1, scale: 1}, counts)

	err = ws.RenameResource(ctx, "ghost", "x")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
	err = ws.RenameResource(ctx, "base", "r2")
	assert.True(t, types.IsCode(err, types.ErrDuplicateStep))
}

func TestWorkspace_SaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var counts opCounts
	reg := testRegistry(t, &counts)
	ws, err := workspace.Create(dir, workspace.Options{Registry: reg})
	require.NoError(t, err)

	_, err = ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1", Persistent: true})
	require.NoError(t, err)
	_, err = ws.SetResource("scale", map[string]any{"y": workspace.Source("r1.y")},
		workspace.SetOptions{Name: "r2"})
	require.NoError(t, err)

	_, err = ws.Execute(ctx, "r2", nil)
	require.NoError(t, err)
	require.NoError(t, ws.Save(ctx))
	wsID := ws.ID()
	require.NoError(t, ws.Close())

	// A fresh session sees the structure and the persistent result.
	var counts2 opCounts
	ws2, err := workspace.Open(dir, workspace.Options{Registry: testRegistry(t, &counts2)})
	require.NoError(t, err)
	defer ws2.Close()

	assert.Equal(t, wsID, ws2.ID(), "workspace identity survives sessions")
	assert.Equal(t, []string{"r1", "r2"}, ws2.Resources())

	out, err := ws2.Execute(ctx, "r2", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 8.0}, out)
	assert.Equal(t, int64(0), counts2.add, "persistent result is restored, not recomputed")
	assert.Equal(t, int64(1), counts2.scale, "non-persistent results recompute")
}

func TestWorkspace_CloseDropsStaleResults(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var counts opCounts
	ws, err := workspace.Create(dir, workspace.Options{Registry: testRegistry(t, &counts)})
	require.NoError(t, err)

	_, err = ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1", Persistent: true})
	require.NoError(t, err)
	_, err = ws.Execute(ctx, "r1", nil)
	require.NoError(t, err)
	require.NoError(t, ws.Save(ctx))

	blobPath := filepath.Join(dir, ".flowforge", "blobs", "r1.blob")
	require.FileExists(t, blobPath)

	// Demoting the resource and closing removes its stored result even
	// without an intervening Save.
	_, err = ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1", Overwrite: true})
	require.NoError(t, err)
	require.NoError(t, ws.Close())
	assert.NoFileExists(t, blobPath)
}

func TestWorkspace_OpenMissing(t *testing.T) {
	var counts opCounts
	_, err := workspace.Open(t.TempDir(), workspace.Options{Registry: testRegistry(t, &counts)})
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestWorkspace_Closed(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)
	ctx := context.Background()

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close(), "close must be idempotent")

	_, err := ws.SetResource("add", nil, workspace.SetOptions{})
	assert.True(t, types.IsCode(err, types.ErrWorkspaceClosed))
	_, err = ws.Execute(ctx, "r1", nil)
	assert.True(t, types.IsCode(err, types.ErrWorkspaceClosed))
	err = ws.DeleteResource(ctx, "r1")
	assert.True(t, types.IsCode(err, types.ErrWorkspaceClosed))
	err = ws.Save(ctx)
	assert.True(t, types.IsCode(err, types.ErrWorkspaceClosed))
}

func TestWorkspace_ExecuteCancelled(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)

	_, err := ws.SetResource("add", map[string]any{"a": 3.0, "b": 1.0},
		workspace.SetOptions{Name: "r1"})
	require.NoError(t, err)

	monitor := &types.CancelMonitor{}
	monitor.Cancel()
	_, err = ws.Execute(context.Background(), "r1", monitor)
	assert.True(t, types.IsCode(err, types.ErrCancelled))
	assert.Zero(t, counts.add)
}

func TestWorkspace_ExecuteCollapsesConcurrentCalls(t *testing.T) {
	var counts opCounts
	ws := testWorkspace(t, &counts)
	ctx := context.Background()

	_, err := ws.SetResource("slow", map[string]any{"x": 1.0},
		workspace.SetOptions{Name: "r1"})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			out, err := ws.Execute(ctx, "r1", nil)
			if err != nil {
				return err
			}
			assert.Equal(t, 1.0, out["return"])
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), atomic.LoadInt64(&counts.add), "concurrent executions collapse into one")
}

func TestWorkspace_Delete(t *testing.T) {
	dir := t.TempDir()
	var counts opCounts
	reg := testRegistry(t, &counts)

	ws, err := workspace.Create(dir, workspace.Options{Registry: reg})
	require.NoError(t, err)
	require.NoError(t, ws.Delete())

	_, err = workspace.Open(dir, workspace.Options{Registry: reg})
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestCatalog(t *testing.T) {
	catalog, err := workspace.OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	defer catalog.Close()

	require.NoError(t, catalog.Register("/data/ws1", "first"))
	require.NoError(t, catalog.Register("/data/ws2", "second"))
	require.NoError(t, catalog.Register("/data/ws1", "first, updated"))

	entry, err := catalog.Resolve("/data/ws1")
	require.NoError(t, err)
	assert.Equal(t, "first, updated", entry.Description)

	path, err := catalog.Path(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "/data/ws1", path)
	_, err = catalog.Path(9999)
	assert.True(t, types.IsCode(err, types.ErrNotFound))

	entries, err := catalog.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/data/ws1", entries[0].Path)
	assert.Equal(t, "/data/ws2", entries[1].Path)

	require.NoError(t, catalog.Remove("/data/ws1"))
	_, err = catalog.Resolve("/data/ws1")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
	require.NoError(t, catalog.Remove("/data/ws1"), "removing an absent entry is not an error")
}

func TestWorkspace_CatalogIntegration(t *testing.T) {
	tmp := t.TempDir()
	catalog, err := workspace.OpenCatalog(filepath.Join(tmp, "catalog.db"), nil)
	require.NoError(t, err)
	defer catalog.Close()

	dir := filepath.Join(tmp, "ws")
	var counts opCounts
	ws, err := workspace.Create(dir, workspace.Options{
		Registry:    testRegistry(t, &counts),
		Catalog:     catalog,
		Description: "test workspace",
	})
	require.NoError(t, err)

	entry, err := catalog.Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, "test workspace", entry.Description)

	require.NoError(t, ws.Delete())
	_, err = catalog.Resolve(dir)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}
