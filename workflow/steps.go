package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/flowforge/flowforge/cache"
	"github.com/flowforge/flowforge/expr"
	"github.com/flowforge/flowforge/op"
	"github.com/flowforge/flowforge/types"
)

// OperationStep invokes a registered operation. Its ports mirror the
// operation contract at construction time.
type OperationStep struct {
	baseNode
	opName string
}

// NewOperationStep resolves opName in the registry and creates a step
// whose ports mirror the operation's non-deferred inputs and outputs.
func NewOperationStep(id string, registry *op.Registry, opName string) (*OperationStep, error) {
	reg, err := registry.Lookup(opName)
	if err != nil {
		return nil, err
	}
	return &OperationStep{
		baseNode: newBaseNode(id, reg.Desc),
		opName:   reg.Desc.QualifiedName,
	}, nil
}

func (s *OperationStep) Kind() StepKind { return KindOperation }

// Operation returns the qualified name of the invoked operation.
func (s *OperationStep) Operation() string { return s.opName }

func (s *OperationStep) Compute(ctx context.Context, env *Env, inputs map[string]any) (map[string]any, error) {
	if env.Registry == nil {
		return nil, types.Errorf(types.ErrValidation, "step %q needs an operation registry", s.id)
	}
	return env.Registry.Invoke(ctx, s.opName, nil, inputs, env.Monitor)
}

// ExpressionStep evaluates a sandboxed expression over its input ports
// and assigns the result to its single output.
type ExpressionStep struct {
	baseNode
	expression string
	output     string
}

// NewExpressionStep parses the expression and creates a step with one
// untyped input port per name in inputs and a single output port.
// An empty output name means the unnamed "return" output.
func NewExpressionStep(id, expression string, inputs []string, output string) (*ExpressionStep, error) {
	if err := expr.Validate(expression); err != nil {
		return nil, types.Errorf(types.ErrValidation, "step %q: %v", id, err)
	}
	if output == "" {
		output = op.ReturnOutput
	}
	b := op.NewDescriptor("flowforge.steps.expression")
	for _, name := range inputs {
		b.Input(name, op.TypeAny).Done()
	}
	b.Output(output, op.TypeAny).Done()
	meta, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &ExpressionStep{
		baseNode:   newBaseNode(id, meta),
		expression: expression,
		output:     output,
	}, nil
}

func (s *ExpressionStep) Kind() StepKind { return KindExpression }

// Expression returns the expression text.
func (s *ExpressionStep) Expression() string { return s.expression }

func (s *ExpressionStep) Compute(ctx context.Context, env *Env, inputs map[string]any) (map[string]any, error) {
	v, err := expr.Eval(s.expression, inputs)
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "step %q: %v", s.id, err)
	}
	return map[string]any{s.output: v}, nil
}

// SubWorkflowStep embeds another workflow as a single step. The step's
// ports mirror the child workflow's inputs and outputs; child results
// are cached in a nested scope keyed by the step id.
type SubWorkflowStep struct {
	baseNode
	child    *Workflow
	resource string
}

// NewSubWorkflowStep wraps child as a step. resource is the document
// location the child was loaded from, kept for re-serialization.
func NewSubWorkflowStep(id string, child *Workflow, resource string) *SubWorkflowStep {
	meta := child.Meta().Clone()
	return &SubWorkflowStep{
		baseNode: newBaseNode(id, meta),
		child:    child,
		resource: resource,
	}
}

func (s *SubWorkflowStep) Kind() StepKind { return KindSubWorkflow }

// Child returns the embedded workflow.
func (s *SubWorkflowStep) Child() *Workflow { return s.child }

// Resource returns the document location of the embedded workflow.
func (s *SubWorkflowStep) Resource() string { return s.resource }

func (s *SubWorkflowStep) Compute(ctx context.Context, env *Env, inputs map[string]any) (map[string]any, error) {
	var childCache *cache.ResultCache
	if env.Cache != nil {
		childCache = env.Cache.Child(s.id)
	}
	childEnv := &Env{
		Registry: env.Registry,
		Cache:    childCache,
		Scope:    s.child,
		Monitor:  env.Monitor,
		Logger:   env.Logger,
	}
	return s.child.Compute(ctx, childEnv, inputs)
}

// NoOpStep computes nothing. Its output ports are wired to other ports
// (typically its own inputs) so it acts as a renaming or fan-out point
// in the graph.
type NoOpStep struct {
	baseNode
}

// NewNoOpStep creates a pass-through step with the given untyped ports.
func NewNoOpStep(id string, inputs, outputs []string) (*NoOpStep, error) {
	b := op.NewDescriptor("flowforge.steps.no_op")
	for _, name := range inputs {
		b.Input(name, op.TypeAny).Nullable().Default(nil).Done()
	}
	for _, name := range outputs {
		b.Output(name, op.TypeAny).Done()
	}
	meta, err := b.BuildOpen()
	if err != nil {
		return nil, err
	}
	return &NoOpStep{baseNode: newBaseNode(id, meta)}, nil
}

func (s *NoOpStep) Kind() StepKind { return KindNoOp }

// Compute returns no outputs, leaving the output port wiring intact.
func (s *NoOpStep) Compute(ctx context.Context, env *Env, inputs map[string]any) (map[string]any, error) {
	return nil, nil
}

// SubProcessStep runs an external command. Argument templates of the
// form {name} are substituted with the step's input values; the exit
// code, stdout and stderr become the outputs.
type SubProcessStep struct {
	baseNode
	args    []string
	workDir string
	envVars map[string]string
}

// NewSubProcessStep creates a step running args[0] with the remaining
// arguments, after substituting {name} placeholders from inputs.
func NewSubProcessStep(id string, args []string, inputs []string, workDir string, envVars map[string]string) (*SubProcessStep, error) {
	if len(args) == 0 {
		return nil, types.Errorf(types.ErrValidation, "step %q declares no command arguments", id)
	}
	b := op.NewDescriptor("flowforge.steps.sub_process")
	for _, name := range inputs {
		b.Input(name, op.TypeAny).Done()
	}
	b.Output(op.ReturnOutput, op.TypeInt).Done()
	b.Output("stdout", op.TypeStr).Done()
	b.Output("stderr", op.TypeStr).Done()
	meta, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &SubProcessStep{
		baseNode: newBaseNode(id, meta),
		args:     append([]string(nil), args...),
		workDir:  workDir,
		envVars:  envVars,
	}, nil
}

func (s *SubProcessStep) Kind() StepKind { return KindSubProcess }

// Arguments returns the raw argument templates.
func (s *SubProcessStep) Arguments() []string {
	return append([]string(nil), s.args...)
}

func (s *SubProcessStep) Compute(ctx context.Context, env *Env, inputs map[string]any) (map[string]any, error) {
	argv := make([]string, len(s.args))
	for i, arg := range s.args {
		argv[i] = substituteArg(arg, inputs)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.workDir
	if len(s.envVars) > 0 {
		cmd.Env = os.Environ()
		for k, v := range s.envVars {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("step %q: sub-process failed to start: %w", s.id, err)
		}
		exitCode = exitErr.ExitCode()
	}
	return map[string]any{
		op.ReturnOutput: exitCode,
		"stdout":        stdout.String(),
		"stderr":        stderr.String(),
	}, nil
}

// substituteArg replaces {name} placeholders with rendered input values.
func substituteArg(arg string, inputs map[string]any) string {
	for name, v := range inputs {
		placeholder := "{" + name + "}"
		if !strings.Contains(arg, placeholder) {
			continue
		}
		rendered, ok := v.(string)
		if !ok {
			rendered = fmt.Sprintf("%v", v)
		}
		arg = strings.ReplaceAll(arg, placeholder, rendered)
	}
	return arg
}

var (
	_ Node = (*OperationStep)(nil)
	_ Node = (*ExpressionStep)(nil)
	_ Node = (*SubWorkflowStep)(nil)
	_ Node = (*NoOpStep)(nil)
	_ Node = (*SubProcessStep)(nil)
)
