package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/cache"
	"github.com/flowforge/flowforge/op"
	"github.com/flowforge/flowforge/types"
)

// StepKind discriminates the closed set of node kinds.
type StepKind string

const (
	KindOperation   StepKind = "operation"
	KindExpression  StepKind = "expression"
	KindSubWorkflow StepKind = "sub_workflow"
	KindNoOp        StepKind = "no_op"
	KindSubProcess  StepKind = "sub_process"
	KindWorkflow    StepKind = "workflow"
)

// Node is a unit of the workflow graph: a step or the workflow itself.
// All implementations live in this package; the set of kinds is closed.
type Node interface {
	// ID returns the node id, unique within its owning workflow.
	ID() string
	// Kind returns the node kind.
	Kind() StepKind
	// Meta returns the contract the node computes against.
	Meta() *op.Descriptor

	InputPort(name string) (*Port, bool)
	OutputPort(name string) (*Port, bool)
	// InputPorts returns the input ports in declaration order.
	InputPorts() []*Port
	// OutputPorts returns the output ports in declaration order.
	OutputPorts() []*Port

	// Compute runs the node against already gathered inputs and returns
	// its outputs keyed by output name. Compute does not touch ports.
	Compute(ctx context.Context, env *Env, inputs map[string]any) (map[string]any, error)

	// base keeps the set of node kinds closed to this package.
	base() *baseNode
}

// Env carries the collaborators of one invocation.
type Env struct {
	Registry *op.Registry
	Cache    *cache.ResultCache
	Scope    Scope
	Monitor  types.Monitor
	Logger   *zap.Logger
}

// normalized returns a copy with nil collaborators replaced by no-ops.
func (e *Env) normalized() *Env {
	out := *e
	if out.Monitor == nil {
		out.Monitor = types.NullMonitor{}
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// baseNode carries the identity, contract and ports shared by all step
// kinds. Ports exist for every non-deferred input and every output of
// the contract.
type baseNode struct {
	id      string
	meta    *op.Descriptor
	inputs  map[string]*Port
	outputs map[string]*Port
	inOrder []string
	outOrd  []string
}

func newBaseNode(id string, meta *op.Descriptor) baseNode {
	n := baseNode{
		id:      id,
		meta:    meta,
		inputs:  make(map[string]*Port),
		outputs: make(map[string]*Port),
	}
	for _, in := range meta.Inputs {
		if in.Deferred {
			continue
		}
		n.inputs[in.Name] = newPort(id, in.Name)
		n.inOrder = append(n.inOrder, in.Name)
	}
	for _, name := range meta.OutputNames() {
		n.outputs[name] = newPort(id, name)
		n.outOrd = append(n.outOrd, name)
	}
	return n
}

func (n *baseNode) ID() string           { return n.id }
func (n *baseNode) Meta() *op.Descriptor { return n.meta }
func (n *baseNode) base() *baseNode      { return n }

func (n *baseNode) InputPort(name string) (*Port, bool) {
	p, ok := n.inputs[name]
	return p, ok
}

func (n *baseNode) OutputPort(name string) (*Port, bool) {
	p, ok := n.outputs[name]
	return p, ok
}

func (n *baseNode) InputPorts() []*Port {
	out := make([]*Port, 0, len(n.inOrder))
	for _, name := range n.inOrder {
		out = append(out, n.inputs[name])
	}
	return out
}

func (n *baseNode) OutputPorts() []*Port {
	out := make([]*Port, 0, len(n.outOrd))
	for _, name := range n.outOrd {
		out = append(out, n.outputs[name])
	}
	return out
}

// GatherInputs collects the effective value of every non-deferred input
// port of n, following references through the scope and falling back to
// declared defaults. A required input with no value anywhere fails.
func GatherInputs(n Node, s Scope) (map[string]any, error) {
	inputs := make(map[string]any)
	for _, p := range n.InputPorts() {
		if v, ok := p.Value(s); ok {
			inputs[p.Name()] = v
			continue
		}
		spec := n.Meta().Input(p.Name())
		if spec != nil && spec.HasDefault {
			inputs[p.Name()] = spec.Default
			continue
		}
		return nil, types.Errorf(types.ErrValidation, "input %q of step %q has no value", p.Name(), n.ID())
	}
	return inputs, nil
}

// AssignOutputs writes computed outputs back onto the node's output
// ports. Outputs the node did not produce keep their wiring.
func AssignOutputs(n Node, outputs map[string]any) {
	for name, v := range outputs {
		if p, ok := n.OutputPort(name); ok {
			p.SetValue(v)
		}
	}
}

// InvokeNode runs one node: gather inputs, consult the cache for
// cacheable contracts, compute on a miss, then write outputs back to
// the ports and the cache.
func InvokeNode(ctx context.Context, env *Env, n Node) error {
	env = env.normalized()

	cacheable := n.Meta().Cacheable() && env.Cache != nil
	if cacheable {
		if hit, ok := env.Cache.Get(n.ID()); ok {
			if outputs, ok := hit.(map[string]any); ok {
				AssignOutputs(n, outputs)
				return nil
			}
		}
	}

	inputs, err := GatherInputs(n, env.Scope)
	if err != nil {
		return err
	}

	outputs, err := n.Compute(ctx, env, inputs)
	if err != nil {
		return err
	}

	AssignOutputs(n, outputs)
	if cacheable {
		env.Cache.Set(n.ID(), outputs)
	}
	return nil
}
