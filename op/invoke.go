package op

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/types"
)

// Invoke binds, validates and runs a registered operation.
//
// Positional arguments bind to inputs by declared position; named
// arguments bind by name; missing inputs fall back to declared defaults.
// Every bound value is validated against its input spec. The monitor is
// injected only when the descriptor declares a deferred monitor input.
// Declared outputs are defaulted and validated; outputs flagged as
// history-carrying get a deterministic provenance entry appended.
func (r *Registry) Invoke(ctx context.Context, name string, args []any, kwargs map[string]any, monitor types.Monitor) (map[string]any, error) {
	reg, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	desc := reg.Desc
	if monitor == nil {
		monitor = types.NullMonitor{}
	}

	bound, defaulted, err := bindInputs(desc, args, kwargs, monitor)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("invoking operation",
		zap.String("operation", desc.QualifiedName),
		zap.Int("bound_inputs", len(bound)),
	)

	result, err := reg.Fn(ctx, bound)
	if err != nil {
		// Surface the original error, augmented with the operation name
		// when it is not already one of ours.
		if _, ok := err.(*types.Error); ok {
			return nil, err
		}
		return nil, types.Errorf(types.ErrValidation, "operation failed: %v", err).
			WithOperation(desc.QualifiedName).WithCause(err)
	}

	outputs, err := shapeOutputs(desc, result)
	if err != nil {
		return nil, err
	}

	for _, spec := range desc.Outputs() {
		value, present := outputs[spec.Name]
		if !present || value == nil {
			if spec.HasDefault {
				outputs[spec.Name] = spec.Default
				value = spec.Default
			} else if !present {
				return nil, types.Errorf(types.ErrValidation, "operation returned no value for output %q", spec.Name).
					WithOperation(desc.QualifiedName)
			}
		}
		if err := validateOutput(desc.QualifiedName, spec, value); err != nil {
			return nil, err
		}
		if spec.AddsHistory {
			carrier, ok := value.(HistoryCarrier)
			if !ok {
				return nil, types.Errorf(types.ErrUnsupportedProvenanceTarget,
					"output %q of type %T cannot carry provenance", spec.Name, value).
					WithOperation(desc.QualifiedName)
			}
			carrier.AppendHistory(desc.ProvenanceEntry(bound, defaulted))
		}
	}

	return outputs, nil
}

// bindInputs merges positional and named arguments with declared defaults
// and validates each bound value. It reports which inputs were defaulted
// so provenance can render supplied vs. defaulted inputs.
func bindInputs(desc *Descriptor, args []any, kwargs map[string]any, monitor types.Monitor) (map[string]any, map[string]bool, error) {
	positional := make([]*InputSpec, 0, len(desc.Inputs))
	for _, spec := range desc.Inputs {
		if !spec.Deferred {
			positional = append(positional, spec)
		}
	}
	if len(args) > len(positional) {
		return nil, nil, types.Errorf(types.ErrValidation, "too many positional arguments: got %d, operation takes %d",
			len(args), len(positional)).WithOperation(desc.QualifiedName)
	}

	bound := make(map[string]any, len(desc.Inputs))
	defaulted := make(map[string]bool)

	for i, value := range args {
		bound[positional[i].Name] = value
	}
	for name, value := range kwargs {
		spec := desc.Input(name)
		if spec == nil {
			return nil, nil, types.NewError(types.ErrValidation, "unknown input").
				WithOperation(desc.QualifiedName).WithInput(name)
		}
		if _, dup := bound[name]; dup {
			return nil, nil, types.NewError(types.ErrValidation, "input bound both positionally and by name").
				WithOperation(desc.QualifiedName).WithInput(name)
		}
		bound[name] = value
	}

	for _, spec := range desc.Inputs {
		if spec.Deferred {
			// Context-derived inputs are injected, never caller-bound.
			if spec.DataType == TypeMonitor {
				bound[spec.Name] = monitor
			}
			continue
		}
		value, present := bound[spec.Name]
		if !present {
			if !spec.HasDefault {
				return nil, nil, types.NewError(types.ErrValidation, "required input is missing").
					WithOperation(desc.QualifiedName).WithInput(spec.Name)
			}
			value = spec.Default
			defaulted[spec.Name] = true
		}
		validated, err := validateInput(desc.QualifiedName, spec, value)
		if err != nil {
			return nil, nil, err
		}
		bound[spec.Name] = validated
	}

	return bound, defaulted, nil
}

// shapeOutputs normalizes a callable's result into a map keyed by output
// name. Single-output operations return the value directly; multi-output
// operations must return a map[string]any.
func shapeOutputs(desc *Descriptor, result any) (map[string]any, error) {
	if _, single := desc.SingleOutput(); single {
		name := desc.OutputNames()[0]
		if m, ok := result.(map[string]any); ok {
			if v, has := m[name]; has && len(m) == 1 {
				return map[string]any{name: v}, nil
			}
		}
		return map[string]any{name: result}, nil
	}

	m, ok := result.(map[string]any)
	if !ok {
		return nil, types.Errorf(types.ErrValidation,
			"multi-output operation must return map[string]any, got %T", result).
			WithOperation(desc.QualifiedName)
	}
	outputs := make(map[string]any, len(m))
	for name, value := range m {
		if desc.Output(name) == nil {
			return nil, types.Errorf(types.ErrValidation, "operation returned undeclared output %q", name).
				WithOperation(desc.QualifiedName)
		}
		outputs[name] = value
	}
	return outputs, nil
}
