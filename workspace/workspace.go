package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/flowforge/flowforge/cache"
	"github.com/flowforge/flowforge/internal/metrics"
	"github.com/flowforge/flowforge/op"
	"github.com/flowforge/flowforge/store"
	"github.com/flowforge/flowforge/types"
	"github.com/flowforge/flowforge/workflow"
)

const (
	metaDir      = ".flowforge"
	workflowFile = "workflow.json"
	blobsDir     = "blobs"

	headerWorkspaceID = "workspace_id"
	headerPersistent  = "persistent"
)

// Source marks a string argument as a port reference ("node.port",
// ".port" or "node") rather than a literal value.
type Source string

// Options configures a workspace.
type Options struct {
	// Registry resolves the operations behind resources. Required.
	Registry *op.Registry
	// Store holds persistent resource results. Defaults to a file store
	// under the workspace metadata directory.
	Store store.BlobStore
	// Catalog, when set, gets the workspace registered on Create and
	// removed on Delete.
	Catalog *Catalog
	// Description is stored in the catalog entry.
	Description string
	Metrics     *metrics.Collector
	Logger      *zap.Logger
}

// SetOptions configures one SetResource or SetExpression call.
type SetOptions struct {
	// Name of the resource; empty picks a fresh res_<n> name.
	Name string
	// Overwrite allows replacing an existing resource of the same name.
	Overwrite bool
	// Validate requires every reference to resolve before the edit is
	// accepted.
	Validate bool
	// Persistent marks the resource's results for storage across
	// sessions.
	Persistent bool
}

// Workspace binds a workflow, its result cache and a blob store to a
// directory. All structural edits take the workspace lock; execution
// computes steps outside it.
type Workspace struct {
	mu       sync.Mutex
	dir      string
	id       string
	wf       *workflow.Workflow
	cache    *cache.ResultCache
	registry *op.Registry
	blobs    store.BlobStore
	catalog  *Catalog
	metrics  *metrics.Collector
	logger   *zap.Logger
	group    singleflight.Group
	persist  map[string]bool
	nextID   int
	closed   bool
}

// Create initializes a new workspace in dir and writes its initial
// state, so a later Open finds it.
func Create(dir string, opts Options) (*Workspace, error) {
	ws, err := newWorkspace(dir, opts)
	if err != nil {
		return nil, err
	}

	ws.wf, err = workflow.New("flowforge.workspace", map[string]any{headerWorkspaceID: ws.id}, nil, nil)
	if err != nil {
		return nil, err
	}

	if ws.catalog != nil {
		if err := ws.catalog.Register(dir, opts.Description); err != nil {
			ws.logger.Warn("catalog registration failed", zap.Error(err))
		}
	}
	if err := ws.Save(context.Background()); err != nil {
		return nil, err
	}
	ws.logger.Info("workspace created", zap.String("dir", dir), zap.String("workspace_id", ws.id))
	return ws, nil
}

// Open loads the workspace persisted in dir: the workflow document plus
// the stored results of persistent resources.
func Open(dir string, opts Options) (*Workspace, error) {
	ws, err := newWorkspace(dir, opts)
	if err != nil {
		return nil, err
	}

	doc, err := workflow.LoadFromFile(filepath.Join(dir, metaDir, workflowFile))
	if os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrNotFound, "no workspace in %q", dir)
	}
	if err != nil {
		return nil, err
	}
	ws.wf, err = workflow.Decode(doc, workflow.DecodeOptions{
		Registry: opts.Registry,
		Loader:   workflow.FileLoader(dir),
	})
	if err != nil {
		return nil, err
	}

	if id, ok := ws.wf.Meta().Header[headerWorkspaceID].(string); ok {
		ws.id = id
	}
	for _, name := range headerStringList(ws.wf.Meta().Header[headerPersistent]) {
		ws.persist[name] = true
	}
	ws.loadPersistentResults(context.Background())
	ws.scanNextID()

	ws.metrics.SetResourceCount(len(ws.wf.Steps()))
	ws.logger.Info("workspace opened",
		zap.String("dir", dir),
		zap.Int("resources", len(ws.wf.Steps())),
		zap.Int("persistent", len(ws.persist)))
	return ws, nil
}

func newWorkspace(dir string, opts Options) (*Workspace, error) {
	if opts.Registry == nil {
		return nil, types.NewError(types.ErrValidation, "workspace needs an operation registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "workspace"), zap.String("dir", dir))

	if err := os.MkdirAll(filepath.Join(dir, metaDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	blobs := opts.Store
	if blobs == nil {
		var err error
		blobs, err = store.NewFileStore(filepath.Join(dir, metaDir, blobsDir), logger)
		if err != nil {
			return nil, err
		}
	}

	return &Workspace{
		dir:      dir,
		id:       uuid.NewString(),
		cache:    cache.New(logger),
		registry: opts.Registry,
		blobs:    blobs,
		catalog:  opts.Catalog,
		metrics:  opts.Metrics,
		logger:   logger,
		persist:  make(map[string]bool),
		nextID:   1,
	}, nil
}

// ID returns the workspace identity, stable across sessions.
func (ws *Workspace) ID() string { return ws.id }

// Dir returns the workspace directory.
func (ws *Workspace) Dir() string { return ws.dir }

// Resources returns the resource names in sorted order.
func (ws *Workspace) Resources() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	steps := ws.wf.Steps()
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.ID())
	}
	sort.Strings(names)
	return names
}

// SetResource adds (or with Overwrite, replaces) a resource computing
// the named operation. Arguments bind to the operation's inputs by
// name: Source values become port references, everything else literal
// values. The resource's cached result and everything downstream of it
// are invalidated. Returns the resource name.
func (ws *Workspace) SetResource(opName string, args map[string]any, opts SetOptions) (string, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return "", errClosed(ws.dir)
	}
	name, exists, err := ws.claimName(opts)
	if err != nil {
		return "", err
	}

	step, err := workflow.NewOperationStep(name, ws.registry, opName)
	if err != nil {
		return "", err
	}
	if err := wireArgs(step, name, args); err != nil {
		return "", err
	}
	return name, ws.install(step, exists, opts)
}

// SetExpression adds (or replaces) a resource evaluating a sandboxed
// expression over the given arguments.
func (ws *Workspace) SetExpression(expression string, args map[string]any, opts SetOptions) (string, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return "", errClosed(ws.dir)
	}
	name, exists, err := ws.claimName(opts)
	if err != nil {
		return "", err
	}

	inputs := make([]string, 0, len(args))
	for k := range args {
		inputs = append(inputs, k)
	}
	sort.Strings(inputs)

	step, err := workflow.NewExpressionStep(name, expression, inputs, "")
	if err != nil {
		return "", err
	}
	if err := wireArgs(step, name, args); err != nil {
		return "", err
	}
	return name, ws.install(step, exists, opts)
}

// claimName picks the resource name and checks the overwrite boundary.
func (ws *Workspace) claimName(opts SetOptions) (string, bool, error) {
	name := opts.Name
	if name == "" {
		for {
			name = fmt.Sprintf("res_%d", ws.nextID)
			ws.nextID++
			if _, taken := ws.wf.Step(name); !taken {
				break
			}
		}
		return name, false, nil
	}
	_, exists := ws.wf.Step(name)
	if exists && !opts.Overwrite {
		return "", false, types.Errorf(types.ErrDuplicateStep, "resource %q already exists", name)
	}
	return name, exists, nil
}

// wireArgs binds arguments to the step's input ports. A resource cannot
// reference itself.
func wireArgs(step workflow.Node, name string, args map[string]any) error {
	for k, v := range args {
		p, ok := step.InputPort(k)
		if !ok {
			return types.Errorf(types.ErrValidation, "resource %q has no input %q", name, k)
		}
		if src, ok := v.(Source); ok {
			raw := string(src)
			if raw == name || strings.HasPrefix(raw, name+".") {
				return types.Errorf(types.ErrSelfConnection, "resource %q cannot reference itself", name)
			}
			p.SetRawRef(raw, true)
		} else {
			p.SetValue(v)
		}
	}
	return nil
}

// install adds the built step to the workflow all-or-nothing and
// invalidates the cached results it shadows. Callers hold the lock.
func (ws *Workspace) install(step workflow.Node, exists bool, opts SetOptions) error {
	name := step.ID()
	var prev workflow.Node
	if exists {
		prev, _ = ws.wf.Step(name)
	}

	// AddStep backs itself out on failure; only a later validation
	// failure needs the workflow put back by hand.
	if err := ws.wf.AddStep(step, opts.Overwrite); err != nil {
		return err
	}
	if opts.Validate {
		if err := ws.wf.ResolveRefs(); err != nil {
			if exists {
				_ = ws.wf.AddStep(prev, true)
			} else {
				_, _ = ws.wf.RemoveStep(name, false)
			}
			return err
		}
	}

	invalidated := append([]string{name}, ws.wf.TransitiveDependents(name)...)
	for _, id := range invalidated {
		ws.cache.Delete(id)
	}
	ws.metrics.RecordInvalidations(len(invalidated))

	if opts.Persistent {
		ws.persist[name] = true
	} else {
		delete(ws.persist, name)
	}
	ws.metrics.SetResourceCount(len(ws.wf.Steps()))
	ws.logger.Info("resource set",
		zap.String("name", name),
		zap.Bool("overwrite", exists),
		zap.Int("invalidated", len(invalidated)))
	return nil
}

// DeleteResource removes a resource. A resource that other resources
// are wired to cannot be removed.
func (ws *Workspace) DeleteResource(ctx context.Context, name string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return errClosed(ws.dir)
	}
	if _, ok := ws.wf.Step(name); !ok {
		return types.Errorf(types.ErrNotFound, "resource %q does not exist", name)
	}
	if deps := ws.wf.DirectDependents(name); len(deps) > 0 {
		return types.Errorf(types.ErrDependentResource,
			"resource %q is used by %s", name, strings.Join(deps, ", "))
	}

	if _, err := ws.wf.RemoveStep(name, true); err != nil {
		return err
	}
	ws.cache.Delete(name)
	if ws.persist[name] {
		delete(ws.persist, name)
		if err := ws.blobs.Delete(ctx, name); err != nil {
			ws.logger.Warn("failed to delete persistent result", zap.String("name", name), zap.Error(err))
		}
	}
	ws.metrics.SetResourceCount(len(ws.wf.Steps()))
	ws.logger.Info("resource deleted", zap.String("name", name))
	return nil
}

// RenameResource gives a resource a new name, carrying cached and
// persistent results along and rewriting references.
func (ws *Workspace) RenameResource(ctx context.Context, oldName, newName string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return errClosed(ws.dir)
	}
	if err := ws.wf.RenameStep(oldName, newName); err != nil {
		return err
	}
	ws.cache.Rename(oldName, newName)

	if ws.persist[oldName] {
		delete(ws.persist, oldName)
		ws.persist[newName] = true
		if data, err := ws.blobs.Get(ctx, oldName); err == nil {
			if err := ws.blobs.Put(ctx, newName, data); err == nil {
				_ = ws.blobs.Delete(ctx, oldName)
			}
		}
	}
	ws.logger.Info("resource renamed", zap.String("from", oldName), zap.String("to", newName))
	return nil
}

// Execute computes the named resource and returns its outputs keyed by
// output name. Concurrent executions of the same resource are collapsed
// into one. The monitor, which may be nil, can cancel between steps;
// the running step always finishes.
func (ws *Workspace) Execute(ctx context.Context, name string, monitor types.Monitor) (map[string]any, error) {
	v, err, _ := ws.group.Do(name, func() (any, error) {
		return ws.execute(ctx, name, monitor)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func (ws *Workspace) execute(ctx context.Context, name string, monitor types.Monitor) (map[string]any, error) {
	if monitor == nil {
		monitor = types.NullMonitor{}
	}
	start := time.Now()

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil, errClosed(ws.dir)
	}
	required, err := ws.wf.RequiredSteps(name)
	ws.mu.Unlock()
	if err != nil {
		ws.metrics.RecordExecution("failed", time.Since(start))
		return nil, err
	}

	monitor.Start("resource "+name, len(required))
	defer monitor.Done()

	for _, step := range required {
		if monitor.Cancelled() {
			ws.metrics.RecordExecution("cancelled", time.Since(start))
			return nil, types.Errorf(types.ErrCancelled,
				"execution of %q cancelled before step %q", name, step.ID())
		}
		if err := ws.runStep(ctx, step.ID(), monitor); err != nil {
			ws.metrics.RecordExecution("failed", time.Since(start))
			return nil, err
		}
		monitor.Progress(1, step.ID())
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	step, ok := ws.wf.Step(name)
	if !ok {
		ws.metrics.RecordExecution("failed", time.Since(start))
		return nil, types.Errorf(types.ErrNotFound, "resource %q was removed during execution", name)
	}
	outputs := make(map[string]any)
	for _, p := range step.OutputPorts() {
		if v, ok := p.Value(ws.wf); ok {
			outputs[p.Name()] = v
		}
	}
	ws.metrics.RecordExecution("ok", time.Since(start))
	return outputs, nil
}

// runStep computes one step: inputs are captured under the lock, the
// computation runs outside it, and the result is written back only if
// the step is still the same object afterwards.
func (ws *Workspace) runStep(ctx context.Context, id string, monitor types.Monitor) error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return errClosed(ws.dir)
	}
	step, ok := ws.wf.Step(id)
	if !ok {
		ws.mu.Unlock()
		return types.Errorf(types.ErrNotFound, "step %q was removed during execution", id)
	}

	cacheable := step.Meta().Cacheable()
	if cacheable {
		if hit, ok := ws.cache.Get(id); ok {
			if outputs, ok := hit.(map[string]any); ok {
				workflow.AssignOutputs(step, outputs)
				ws.metrics.RecordCacheHit("result")
				ws.mu.Unlock()
				return nil
			}
		}
		ws.metrics.RecordCacheMiss("result")
	}

	inputs, err := workflow.GatherInputs(step, ws.wf)
	ws.mu.Unlock()
	if err != nil {
		return err
	}

	env := &workflow.Env{
		Registry: ws.registry,
		Cache:    ws.cache,
		Scope:    ws.wf,
		Monitor:  monitor,
		Logger:   ws.logger,
	}
	stepStart := time.Now()
	outputs, err := step.Compute(ctx, env, inputs)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	ws.metrics.RecordStepExecution(string(step.Kind()), status, time.Since(stepStart))
	if err != nil {
		return fmt.Errorf("step %q: %w", id, err)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return errClosed(ws.dir)
	}
	current, ok := ws.wf.Step(id)
	if !ok || current != step {
		return types.Errorf(types.ErrNotFound, "step %q changed during execution", id)
	}
	workflow.AssignOutputs(step, outputs)
	if cacheable {
		ws.cache.Set(id, outputs)
	}
	return nil
}

// Save writes the workflow document and the results of persistent
// resources. Result persistence is best effort: a failing blob write is
// logged, never fatal.
func (ws *Workspace) Save(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return errClosed(ws.dir)
	}

	names := make([]string, 0, len(ws.persist))
	for name := range ws.persist {
		names = append(names, name)
	}
	sort.Strings(names)
	ws.wf.Meta().Header[headerPersistent] = names

	doc, err := workflow.Encode(ws.wf)
	if err != nil {
		return err
	}
	data, err := doc.ToJSON()
	if err != nil {
		return err
	}
	path := filepath.Join(ws.dir, metaDir, workflowFile)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}

	for _, name := range names {
		v, ok := ws.cache.Get(name)
		if !ok {
			continue
		}
		blob, err := json.Marshal(v)
		if err != nil {
			ws.logger.Warn("persistent result not serializable", zap.String("name", name), zap.Error(err))
			continue
		}
		if err := ws.blobs.Put(ctx, name, blob); err != nil {
			ws.logger.Warn("failed to persist result", zap.String("name", name), zap.Error(err))
		}
	}

	ws.pruneStaleBlobs(ctx)

	ws.logger.Info("workspace saved", zap.Int("resources", len(ws.wf.Steps())), zap.Int("persistent", len(names)))
	return nil
}

// pruneStaleBlobs drops stored results of resources no longer marked
// persistent. Callers hold the lock.
func (ws *Workspace) pruneStaleBlobs(ctx context.Context) {
	stored, err := ws.blobs.List(ctx)
	if err != nil {
		return
	}
	for _, name := range stored {
		if ws.persist[name] {
			continue
		}
		if err := ws.blobs.Delete(ctx, name); err != nil {
			ws.logger.Warn("failed to drop stale result", zap.String("name", name), zap.Error(err))
		}
	}
}

// Close drops stored results of resources no longer marked persistent,
// then releases the cache and the blob store. Close is idempotent;
// every later operation fails with WORKSPACE_CLOSED.
func (ws *Workspace) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return nil
	}
	ws.closed = true
	ws.pruneStaleBlobs(context.Background())
	ws.cache.Close()
	if err := ws.blobs.Close(); err != nil {
		ws.logger.Warn("failed to close blob store", zap.Error(err))
	}
	ws.logger.Info("workspace closed")
	return nil
}

// Delete closes the workspace and removes its persisted state and
// catalog entry. The directory's own files are left alone.
func (ws *Workspace) Delete() error {
	if err := ws.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(ws.dir, metaDir)); err != nil {
		return fmt.Errorf("failed to delete workspace state: %w", err)
	}
	if ws.catalog != nil {
		if err := ws.catalog.Remove(ws.dir); err != nil {
			ws.logger.Warn("failed to remove catalog entry", zap.Error(err))
		}
	}
	return nil
}

// loadPersistentResults restores stored results into the cache.
func (ws *Workspace) loadPersistentResults(ctx context.Context) {
	for name := range ws.persist {
		data, err := ws.blobs.Get(ctx, name)
		if err != nil {
			ws.logger.Warn("failed to load persistent result", zap.String("name", name), zap.Error(err))
			continue
		}
		var outputs map[string]any
		if err := json.Unmarshal(data, &outputs); err != nil {
			ws.logger.Warn("corrupt persistent result", zap.String("name", name), zap.Error(err))
			continue
		}
		ws.cache.Set(name, outputs)
	}
}

// scanNextID advances the auto-name counter past existing res_<n> ids.
func (ws *Workspace) scanNextID() {
	for _, step := range ws.wf.Steps() {
		var n int
		if _, err := fmt.Sscanf(step.ID(), "res_%d", &n); err == nil && n >= ws.nextID {
			ws.nextID = n + 1
		}
	}
}

// headerStringList reads a header value that may come back from JSON as
// []any.
func headerStringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func errClosed(dir string) error {
	return types.Errorf(types.ErrWorkspaceClosed, "workspace %q is closed", dir)
}
