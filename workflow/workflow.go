package workflow

import (
	"context"
	"sort"
	"strings"

	"github.com/flowforge/flowforge/op"
	"github.com/flowforge/flowforge/types"
)

// Workflow owns an ordered set of steps and is itself a node: its input
// ports feed the steps, its output ports are wired to step outputs.
// Steps are addressed by id; ports reference each other by (node id,
// port name), never by pointer, so replacing a step under the same id
// transparently remaps existing references.
type Workflow struct {
	baseNode
	parent Scope
	steps  []Node
	index  map[string]int
}

// New creates an empty workflow with the given contract. Inputs and
// outputs become untyped ports in the given order.
func New(qualifiedName string, header map[string]any, inputs, outputs []string) (*Workflow, error) {
	b := op.NewDescriptor(qualifiedName)
	for k, v := range header {
		b.Header(k, v)
	}
	for _, name := range inputs {
		b.Input(name, op.TypeAny).Done()
	}
	for _, name := range outputs {
		b.Output(name, op.TypeAny).Done()
	}
	meta, err := b.BuildOpen()
	if err != nil {
		return nil, err
	}
	return &Workflow{
		baseNode: newBaseNode(qualifiedName, meta),
		index:    make(map[string]int),
	}, nil
}

// MustNew is New for statically known-good declarations.
func MustNew(qualifiedName string, header map[string]any, inputs, outputs []string) *Workflow {
	w, err := New(qualifiedName, header, inputs, outputs)
	if err != nil {
		panic(err)
	}
	return w
}

func (w *Workflow) Kind() StepKind { return KindWorkflow }

// SetParent chains the workflow into an enclosing scope so references
// can reach ancestor ports.
func (w *Workflow) SetParent(s Scope) { w.parent = s }

// FindNode resolves id to the workflow itself, one of its steps, or a
// node of an ancestor scope.
func (w *Workflow) FindNode(id string) (Node, bool) {
	if id == w.id {
		return w, true
	}
	if i, ok := w.index[id]; ok {
		return w.steps[i], true
	}
	if w.parent != nil {
		return w.parent.FindNode(id)
	}
	return nil, false
}

// Steps returns the steps in insertion order.
func (w *Workflow) Steps() []Node {
	return append([]Node(nil), w.steps...)
}

// Step returns the step with the given id.
func (w *Workflow) Step(id string) (Node, bool) {
	i, ok := w.index[id]
	if !ok {
		return nil, false
	}
	return w.steps[i], true
}

// AddStep inserts a step. An existing step with the same id fails with
// DUPLICATE_STEP unless allowReplace is set, in which case the new step
// takes the old one's position and references to the id now reach the
// new step. Textual references are resolved as far as the graph built
// so far allows; unresolvable ones stay pending. A failed resolution
// backs the insertion out, leaving the workflow as it was.
func (w *Workflow) AddStep(step Node, allowReplace bool) error {
	id := step.ID()
	i, exists := w.index[id]
	if exists && !allowReplace {
		return types.Errorf(types.ErrDuplicateStep, "step %q already exists", id)
	}
	if sub, ok := step.(*SubWorkflowStep); ok {
		sub.child.SetParent(w)
	}
	var replaced Node
	if exists {
		replaced = w.steps[i]
		w.steps[i] = step
	} else {
		w.index[id] = len(w.steps)
		w.steps = append(w.steps, step)
	}
	if err := w.resolveRefs(false); err != nil {
		if exists {
			w.steps[i] = replaced
		} else {
			w.steps = w.steps[:len(w.steps)-1]
			delete(w.index, id)
		}
		return err
	}
	if exists {
		w.removeOrphanedSources()
	}
	return nil
}

// RemoveStep removes the step with the given id and clears every port
// reference that pointed at it. A missing id fails with NOT_FOUND when
// mustExist is set and is a no-op otherwise.
func (w *Workflow) RemoveStep(id string, mustExist bool) (Node, error) {
	i, ok := w.index[id]
	if !ok {
		if mustExist {
			return nil, types.Errorf(types.ErrNotFound, "step %q does not exist", id)
		}
		return nil, nil
	}
	removed := w.steps[i]
	w.steps = append(w.steps[:i], w.steps[i+1:]...)
	delete(w.index, id)
	for j := i; j < len(w.steps); j++ {
		w.index[w.steps[j].ID()] = j
	}
	w.removeOrphanedSources()
	return removed, nil
}

// RenameStep gives a step a new id and rewrites every reference that
// pointed at the old one, textual spellings included. The new id must
// be free.
func (w *Workflow) RenameStep(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	i, ok := w.index[oldID]
	if !ok {
		return types.Errorf(types.ErrNotFound, "step %q does not exist", oldID)
	}
	if _, exists := w.index[newID]; exists || newID == w.id {
		return types.Errorf(types.ErrDuplicateStep, "step %q already exists", newID)
	}

	step := w.steps[i]
	step.base().id = newID
	for _, p := range nodePorts(step) {
		p.owner = newID
	}
	delete(w.index, oldID)
	w.index[newID] = i
	w.rewriteRefs(oldID, newID)
	return nil
}

// rewriteRefs updates references to a renamed node, recursing into
// nested workflows unless they shadow the name.
func (w *Workflow) rewriteRefs(oldID, newID string) {
	rewrite := func(n Node) {
		for _, p := range nodePorts(n) {
			if src := p.Source(); src != nil && src.Node == oldID {
				p.source = &PortRef{Node: newID, Port: src.Port}
			}
			switch {
			case p.rawRef == oldID:
				p.rawRef = newID
			case strings.HasPrefix(p.rawRef, oldID+"."):
				p.rawRef = newID + strings.TrimPrefix(p.rawRef, oldID)
			}
		}
	}
	rewrite(w)
	for _, step := range w.steps {
		rewrite(step)
		if sub, ok := step.(*SubWorkflowStep); ok {
			if _, shadowed := sub.child.index[oldID]; !shadowed && sub.child.id != oldID {
				sub.child.rewriteRefs(oldID, newID)
			}
		}
	}
}

// ResolveRefs resolves every pending textual reference in the workflow
// and its nested workflows. Unresolvable references fail with
// DANGLING_REFERENCE.
func (w *Workflow) ResolveRefs() error {
	return w.resolveRefs(true)
}

// resolveRefs resolves pending textual references. In lenient mode
// dangling references stay pending; ambiguity and self-connection are
// always errors.
func (w *Workflow) resolveRefs(strict bool) error {
	resolveNode := func(n Node) error {
		for _, p := range nodePorts(n) {
			if p.RawRef() == "" || p.Source() != nil {
				continue
			}
			ref, err := w.resolveRaw(n, p)
			if err != nil {
				if !strict && types.IsCode(err, types.ErrDanglingReference) {
					continue
				}
				return err
			}
			if err := p.SetSource(ref); err != nil {
				return err
			}
		}
		return nil
	}

	if err := resolveNode(w); err != nil {
		return err
	}
	for _, step := range w.steps {
		if err := resolveNode(step); err != nil {
			return err
		}
		if sub, ok := step.(*SubWorkflowStep); ok {
			if err := sub.child.resolveRefs(strict); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveRaw resolves one textual reference owned by node n against the
// workflow scope. Three spellings are supported:
//
//	"node.port"  port of a named node visible from this workflow
//	".port"      port of the owner node, else of an enclosing workflow
//	"node"       the sole output of a named node
func (w *Workflow) resolveRaw(n Node, p *Port) (PortRef, error) {
	raw := p.RawRef()
	switch {
	case strings.HasPrefix(raw, "."):
		name := raw[1:]
		for _, candidate := range w.refChain(n) {
			if found, ok := portOnNode(candidate, name); ok && found != p {
				return found.Ref(), nil
			}
		}
		return PortRef{}, types.Errorf(types.ErrDanglingReference,
			"reference %q of port %s matches no port of the owner or an enclosing workflow", raw, p.Ref())

	case strings.Contains(raw, "."):
		parts := strings.SplitN(raw, ".", 2)
		node, ok := w.FindNode(parts[0])
		if !ok {
			return PortRef{}, types.Errorf(types.ErrDanglingReference,
				"reference %q of port %s names unknown node %q", raw, p.Ref(), parts[0])
		}
		if _, ok := portOnNode(node, parts[1]); !ok {
			return PortRef{}, types.Errorf(types.ErrDanglingReference,
				"reference %q of port %s names unknown port %q of node %q", raw, p.Ref(), parts[1], parts[0])
		}
		return PortRef{Node: node.ID(), Port: parts[1]}, nil

	default:
		node, ok := w.FindNode(raw)
		if !ok {
			return PortRef{}, types.Errorf(types.ErrDanglingReference,
				"reference %q of port %s names unknown node", raw, p.Ref())
		}
		outs := node.OutputPorts()
		if len(outs) != 1 {
			return PortRef{}, types.Errorf(types.ErrAmbiguousOutput,
				"reference %q of port %s needs a sole output, node has %d", raw, p.Ref(), len(outs))
		}
		return outs[0].Ref(), nil
	}
}

// refChain returns the candidates for a ".port" reference owned by n:
// the owner node itself, then this workflow, then ancestor workflows.
func (w *Workflow) refChain(n Node) []Node {
	chain := []Node{n}
	if n != Node(w) {
		chain = append(chain, w)
	}
	parent := w.parent
	for parent != nil {
		pw, ok := parent.(*Workflow)
		if !ok {
			break
		}
		chain = append(chain, pw)
		parent = pw.parent
	}
	return chain
}

// portOnNode looks a port up by name, outputs first.
func portOnNode(n Node, name string) (*Port, bool) {
	if p, ok := n.OutputPort(name); ok {
		return p, true
	}
	if p, ok := n.InputPort(name); ok {
		return p, true
	}
	return nil, false
}

// nodePorts returns all ports of a node, inputs then outputs.
func nodePorts(n Node) []*Port {
	all := append([]*Port(nil), n.InputPorts()...)
	return append(all, n.OutputPorts()...)
}

// removeOrphanedSources clears every resolved reference whose target
// node is no longer visible, recursing into nested workflows.
func (w *Workflow) removeOrphanedSources() {
	clearNode := func(n Node) {
		for _, p := range nodePorts(n) {
			src := p.Source()
			if src == nil {
				continue
			}
			if _, ok := w.FindNode(src.Node); !ok {
				p.Clear()
			}
		}
	}
	clearNode(w)
	for _, step := range w.steps {
		clearNode(step)
		if sub, ok := step.(*SubWorkflowStep); ok {
			sub.child.removeOrphanedSources()
		}
	}
}

// DirectDependents returns the ids of steps with a port wired directly
// to the node with the given id, in sorted order.
func (w *Workflow) DirectDependents(id string) []string {
	seen := map[string]bool{}
	for _, step := range w.steps {
		if step.ID() == id {
			continue
		}
		for _, p := range nodePorts(step) {
			if src := p.Source(); src != nil && src.Node == id {
				seen[step.ID()] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TransitiveDependents returns the ids of every step downstream of the
// node with the given id, in sorted order.
func (w *Workflow) TransitiveDependents(id string) []string {
	closure := map[string]bool{}
	frontier := []string{id}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, dep := range w.DirectDependents(next) {
			if !closure[dep] {
				closure[dep] = true
				frontier = append(frontier, dep)
			}
		}
	}
	out := make([]string, 0, len(closure))
	for k := range closure {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// dependencies returns the ids of steps the given step is wired to,
// restricted to steps of this workflow.
func (w *Workflow) dependencies(step Node) []string {
	var deps []string
	seen := map[string]bool{}
	for _, p := range nodePorts(step) {
		src := p.Source()
		if src == nil || src.Node == step.ID() {
			continue
		}
		if _, ok := w.index[src.Node]; !ok {
			continue
		}
		if !seen[src.Node] {
			seen[src.Node] = true
			deps = append(deps, src.Node)
		}
	}
	return deps
}

// Visit colors for the dependency walk.
const (
	colorWhite = iota
	colorGrey
	colorBlack
)

// RequiredSteps returns the steps that must run to produce the outputs
// of the named targets, predecessors first and each step exactly once.
// Pending references are resolved first; a dependency cycle fails with
// CYCLE.
func (w *Workflow) RequiredSteps(targets ...string) ([]Node, error) {
	if err := w.ResolveRefs(); err != nil {
		return nil, err
	}

	color := make(map[string]int, len(w.steps))
	var order []Node

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case colorBlack:
			return nil
		case colorGrey:
			return types.Errorf(types.ErrCycle, "cyclic dependency through step %q", id)
		}
		color[id] = colorGrey
		step := w.steps[w.index[id]]
		for _, dep := range w.dependencies(step) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = colorBlack
		order = append(order, step)
		return nil
	}

	for _, id := range targets {
		if _, ok := w.index[id]; !ok {
			return nil, types.Errorf(types.ErrNotFound, "step %q does not exist", id)
		}
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// targetSteps returns the ids of the steps feeding the workflow's own
// output ports; with no wired outputs every step is a target.
func (w *Workflow) targetSteps() []string {
	var targets []string
	seen := map[string]bool{}
	for _, p := range w.OutputPorts() {
		src := p.Source()
		if src == nil {
			continue
		}
		if _, ok := w.index[src.Node]; ok && !seen[src.Node] {
			seen[src.Node] = true
			targets = append(targets, src.Node)
		}
	}
	if len(targets) == 0 && len(w.OutputPorts()) == 0 {
		for _, step := range w.steps {
			targets = append(targets, step.ID())
		}
	}
	return targets
}

// Invoke runs the steps needed to produce the workflow's outputs, in
// dependency order against the environment's cache. Cancellation via
// the monitor stops before the next not-yet-started step.
func (w *Workflow) Invoke(ctx context.Context, env *Env) error {
	env = env.normalized()
	scoped := *env
	scoped.Scope = w

	required, err := w.RequiredSteps(w.targetSteps()...)
	if err != nil {
		return err
	}

	scoped.Monitor.Start("workflow "+w.id, len(required))
	defer scoped.Monitor.Done()

	for _, step := range required {
		if scoped.Monitor.Cancelled() {
			return types.Errorf(types.ErrCancelled, "workflow %q cancelled before step %q", w.id, step.ID())
		}
		if err := InvokeNode(ctx, &scoped, step); err != nil {
			return err
		}
		scoped.Monitor.Progress(1, step.ID())
	}
	return nil
}

// Compute runs the workflow as a node: inputs are written to the input
// ports, the graph is invoked, and the wired output values are returned.
func (w *Workflow) Compute(ctx context.Context, env *Env, inputs map[string]any) (map[string]any, error) {
	for name, v := range inputs {
		if p, ok := w.InputPort(name); ok {
			p.SetValue(v)
		}
	}
	if err := w.Invoke(ctx, env); err != nil {
		return nil, err
	}
	outputs := make(map[string]any)
	for _, p := range w.OutputPorts() {
		if v, ok := p.Value(w); ok {
			outputs[p.Name()] = v
		}
	}
	return outputs, nil
}

var _ Node = (*Workflow)(nil)
var _ Scope = (*Workflow)(nil)
