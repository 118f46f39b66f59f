package op

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/types"
)

// Func is the callable side of a registered operation. Inputs arrive
// bound, defaulted and validated under their declared names. A single
// unnamed output is returned directly; a multi-output operation returns
// a map[string]any keyed by output name.
type Func func(ctx context.Context, inputs map[string]any) (any, error)

// Registration pairs a descriptor with its callable.
type Registration struct {
	Desc *Descriptor
	Fn   Func
}

// Registry maps qualified operation names to registrations.
type Registry struct {
	mu     sync.RWMutex
	ops    map[string]*Registration
	logger *zap.Logger
}

// NewRegistry creates an empty operation registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		ops:    make(map[string]*Registration),
		logger: logger.With(zap.String("component", "op_registry")),
	}
}

// Register adds an operation under its descriptor's qualified name.
// Registering an already registered name fails with DUPLICATE_OPERATION
// unless allowReplace is set.
func (r *Registry) Register(desc *Descriptor, fn Func, allowReplace bool) error {
	if desc == nil {
		return types.NewError(types.ErrValidation, "descriptor is required")
	}
	if err := desc.validate(); err != nil {
		return err
	}
	if fn == nil {
		return types.NewError(types.ErrValidation, "operation callable is required").
			WithOperation(desc.QualifiedName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[desc.QualifiedName]; exists && !allowReplace {
		return types.Errorf(types.ErrDuplicateOperation, "operation already registered").
			WithOperation(desc.QualifiedName)
	}
	r.ops[desc.QualifiedName] = &Registration{Desc: desc, Fn: fn}

	r.logger.Debug("operation registered",
		zap.String("operation", desc.QualifiedName),
		zap.Int("inputs", len(desc.Inputs)),
		zap.Int("outputs", len(desc.outputOrder)),
	)
	return nil
}

// MustRegister is Register for statically known-good registrations.
func (r *Registry) MustRegister(desc *Descriptor, fn Func) {
	if err := r.Register(desc, fn, false); err != nil {
		panic(err)
	}
}

// Lookup resolves a qualified or short name to its registration, failing
// with UNKNOWN_OPERATION if absent.
func (r *Registry) Lookup(name string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.ops[name]; ok {
		return reg, nil
	}
	if reg, ok := r.ops[Namespace+name]; ok {
		return reg, nil
	}
	return nil, types.NewError(types.ErrUnknownOperation, "operation is not registered").
		WithOperation(name)
}

// Names returns the qualified names of all registrations.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	return names
}

// PropertyPatch is an open map of spec properties merged by Augment.
// Recognized input keys: "data_type", "default", "nullable", "value_set",
// "value_range", "deferred", "convert". Recognized output keys:
// "data_type", "default", "adds_history".
type PropertyPatch map[string]any

// Patch carries caller-supplied metadata merged into a registered
// descriptor. Explicit patch values win over declared values.
type Patch struct {
	Header  map[string]any
	Inputs  map[string]PropertyPatch
	Outputs map[string]PropertyPatch
}

// Augment merges a metadata patch into a registered operation's
// descriptor. The operation must already be registered; the registry's
// declaration API leaves nothing to introspect for an unseen callable.
func (r *Registry) Augment(name string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.ops[name]
	if !ok {
		if reg, ok = r.ops[Namespace+name]; !ok {
			return types.NewError(types.ErrUnknownOperation, "operation is not registered").
				WithOperation(name)
		}
	}

	desc := reg.Desc.Clone()
	for k, v := range patch.Header {
		desc.Header[k] = v
	}
	for inputName, props := range patch.Inputs {
		spec := desc.Input(inputName)
		if spec == nil {
			return types.Errorf(types.ErrValidation, "patch names unknown input").
				WithOperation(desc.QualifiedName).WithInput(inputName)
		}
		if err := applyInputPatch(spec, props); err != nil {
			return types.Errorf(types.ErrValidation, "%v", err).
				WithOperation(desc.QualifiedName).WithInput(inputName)
		}
	}
	for outputName, props := range patch.Outputs {
		spec := desc.Output(outputName)
		if spec == nil {
			return types.Errorf(types.ErrValidation, "patch names unknown output").
				WithOperation(desc.QualifiedName).WithInput(outputName)
		}
		if err := applyOutputPatch(spec, props); err != nil {
			return types.Errorf(types.ErrValidation, "%v", err).
				WithOperation(desc.QualifiedName).WithInput(outputName)
		}
	}

	reg.Desc = desc
	return nil
}

func applyInputPatch(spec *InputSpec, props PropertyPatch) error {
	for key, value := range props {
		switch key {
		case "data_type":
			dt, ok := value.(DataType)
			if !ok {
				s, sok := value.(string)
				if !sok {
					return errBadPatchValue(key, value)
				}
				dt = DataType(s)
			}
			spec.DataType = dt
		case "default":
			spec.Default = value
			spec.HasDefault = true
		case "nullable":
			b, ok := value.(bool)
			if !ok {
				return errBadPatchValue(key, value)
			}
			spec.Nullable = b
		case "value_set":
			set, ok := value.([]any)
			if !ok {
				return errBadPatchValue(key, value)
			}
			spec.ValueSet = set
		case "value_range":
			rng, ok := value.(*Range)
			if !ok {
				r, rok := value.(Range)
				if !rok {
					return errBadPatchValue(key, value)
				}
				rng = &r
			}
			spec.ValueRange = rng
		case "deferred":
			b, ok := value.(bool)
			if !ok {
				return errBadPatchValue(key, value)
			}
			spec.Deferred = b
		case "convert":
			fn, ok := value.(ConvertFunc)
			if !ok {
				return errBadPatchValue(key, value)
			}
			spec.Convert = fn
		default:
			return errUnknownPatchKey(key)
		}
	}
	return nil
}

func applyOutputPatch(spec *OutputSpec, props PropertyPatch) error {
	for key, value := range props {
		switch key {
		case "data_type":
			dt, ok := value.(DataType)
			if !ok {
				s, sok := value.(string)
				if !sok {
					return errBadPatchValue(key, value)
				}
				dt = DataType(s)
			}
			spec.DataType = dt
		case "default":
			spec.Default = value
			spec.HasDefault = true
		case "adds_history":
			b, ok := value.(bool)
			if !ok {
				return errBadPatchValue(key, value)
			}
			spec.AddsHistory = b
		default:
			return errUnknownPatchKey(key)
		}
	}
	return nil
}

func errBadPatchValue(key string, value any) error {
	return types.Errorf(types.ErrValidation, "patch key %q has incompatible value of type %T", key, value)
}

func errUnknownPatchKey(key string) error {
	return types.Errorf(types.ErrValidation, "unknown patch key %q", key)
}
