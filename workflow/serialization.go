package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/flowforge/op"
	"github.com/flowforge/flowforge/types"
)

// PortDoc is the document form of one port: a reference to another
// port, a literal value, or nothing. Reference and value are mutually
// exclusive. A reference spelled as a bare string keeps that spelling
// when re-serialized.
type PortDoc struct {
	Source    string
	Shorthand bool
	Value     any
	HasValue  bool
}

// MarshalJSON renders the port as a bare string, a {"source": ...}
// object, a {"value": ...} object, or {} when unwired.
func (p PortDoc) MarshalJSON() ([]byte, error) {
	switch {
	case p.Source != "" && p.Shorthand:
		return json.Marshal(p.Source)
	case p.Source != "":
		return json.Marshal(struct {
			Source string `json:"source"`
		}{p.Source})
	case p.HasValue:
		return json.Marshal(struct {
			Value any `json:"value"`
		}{p.Value})
	default:
		return []byte("{}"), nil
	}
}

func (p *PortDoc) UnmarshalJSON(data []byte) error {
	*p = PortDoc{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		p.Source = s
		p.Shorthand = true
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	src, hasSrc := raw["source"]
	val, hasVal := raw["value"]
	if hasSrc && hasVal {
		return types.NewError(types.ErrValidation, "port declares both source and value")
	}
	if hasSrc {
		return json.Unmarshal(src, &p.Source)
	}
	if hasVal {
		p.HasValue = true
		return json.Unmarshal(val, &p.Value)
	}
	return nil
}

// MarshalYAML mirrors the JSON forms.
func (p PortDoc) MarshalYAML() (any, error) {
	switch {
	case p.Source != "" && p.Shorthand:
		return p.Source, nil
	case p.Source != "":
		return map[string]any{"source": p.Source}, nil
	case p.HasValue:
		return map[string]any{"value": p.Value}, nil
	default:
		return map[string]any{}, nil
	}
}

func (p *PortDoc) UnmarshalYAML(node *yaml.Node) error {
	*p = PortDoc{}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		p.Source = node.Value
		p.Shorthand = true
		return nil
	}

	var aux struct {
		Source *string `yaml:"source"`
		Value  *any    `yaml:"value"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.Source != nil && aux.Value != nil {
		return types.NewError(types.ErrValidation, "port declares both source and value")
	}
	if aux.Source != nil {
		p.Source = *aux.Source
	}
	if aux.Value != nil {
		p.Value = *aux.Value
		p.HasValue = true
	}
	return nil
}

// StepDoc is the document form of one step. Exactly one of the kind
// markers (op, expression, workflow, no_op, sub_process_arguments) must
// be present.
type StepDoc struct {
	ID                  string             `json:"id" yaml:"id"`
	Op                  string             `json:"op,omitempty" yaml:"op,omitempty"`
	Expression          string             `json:"expression,omitempty" yaml:"expression,omitempty"`
	Workflow            string             `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	NoOp                bool               `json:"no_op,omitempty" yaml:"no_op,omitempty"`
	SubProcessArguments []string           `json:"sub_process_arguments,omitempty" yaml:"sub_process_arguments,omitempty"`
	WorkDir             string             `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	Env                 map[string]string  `json:"env,omitempty" yaml:"env,omitempty"`
	Inputs              map[string]PortDoc `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs             map[string]PortDoc `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Document is the serialized form of a workflow.
type Document struct {
	QualifiedName string             `json:"qualified_name" yaml:"qualified_name"`
	Header        map[string]any     `json:"header,omitempty" yaml:"header,omitempty"`
	Inputs        map[string]PortDoc `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs       map[string]PortDoc `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Steps         []StepDoc          `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// ToJSON renders the document as indented JSON.
func (d *Document) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// DocumentFromJSON parses a JSON document.
func DocumentFromJSON(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}
	return &d, nil
}

// ToYAML renders the document as YAML.
func (d *Document) ToYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// DocumentFromYAML parses a YAML document.
func DocumentFromYAML(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}
	return &d, nil
}

// SaveToFile writes the document to path, as YAML for .yaml/.yml and
// JSON otherwise.
func (d *Document) SaveToFile(path string) error {
	var data []byte
	var err error
	if isYAMLPath(path) {
		data, err = d.ToYAML()
	} else {
		data, err = d.ToJSON()
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFromFile reads a document from path, as YAML for .yaml/.yml and
// JSON otherwise.
func LoadFromFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow document: %w", err)
	}
	if isYAMLPath(path) {
		return DocumentFromYAML(data)
	}
	return DocumentFromJSON(data)
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// WorkflowLoader resolves a nested workflow resource to its document.
type WorkflowLoader func(resource string) (*Document, error)

// FileLoader returns a loader reading documents from files, resolving
// relative resources against baseDir.
func FileLoader(baseDir string) WorkflowLoader {
	return func(resource string) (*Document, error) {
		if !filepath.IsAbs(resource) {
			resource = filepath.Join(baseDir, resource)
		}
		return LoadFromFile(resource)
	}
}

// DecodeOptions carries the collaborators needed to reconstruct a
// workflow from its document.
type DecodeOptions struct {
	// Registry resolves operation steps. Required when the document
	// contains any.
	Registry *op.Registry
	// Loader resolves nested workflow resources. Required when the
	// document contains sub-workflow steps.
	Loader WorkflowLoader
}

// Decode reconstructs a workflow from its document and resolves all
// port references. Step kind is discriminated by the marker fields; a
// step with zero or several markers is invalid.
func Decode(doc *Document, opts DecodeOptions) (*Workflow, error) {
	w, err := New(doc.QualifiedName, doc.Header, sortedKeys(doc.Inputs), sortedKeys(doc.Outputs))
	if err != nil {
		return nil, err
	}
	if err := wireNode(w, doc.Inputs, doc.Outputs); err != nil {
		return nil, err
	}

	for _, sd := range doc.Steps {
		step, err := decodeStep(&sd, opts)
		if err != nil {
			return nil, err
		}
		if err := wireNode(step, sd.Inputs, sd.Outputs); err != nil {
			return nil, err
		}
		if err := w.AddStep(step, false); err != nil {
			return nil, err
		}
	}

	if err := w.ResolveRefs(); err != nil {
		return nil, err
	}
	return w, nil
}

func decodeStep(sd *StepDoc, opts DecodeOptions) (Node, error) {
	markers := 0
	for _, present := range []bool{
		sd.Op != "", sd.Expression != "", sd.Workflow != "", sd.NoOp, len(sd.SubProcessArguments) > 0,
	} {
		if present {
			markers++
		}
	}
	if markers != 1 {
		return nil, types.Errorf(types.ErrValidation, "step %q must declare exactly one kind, has %d", sd.ID, markers)
	}

	switch {
	case sd.Op != "":
		if opts.Registry == nil {
			return nil, types.Errorf(types.ErrValidation, "step %q needs an operation registry to decode", sd.ID)
		}
		return NewOperationStep(sd.ID, opts.Registry, sd.Op)

	case sd.Expression != "":
		output := ""
		switch names := sortedKeys(sd.Outputs); len(names) {
		case 0:
		case 1:
			output = names[0]
		default:
			return nil, types.Errorf(types.ErrValidation, "expression step %q declares %d outputs, want one", sd.ID, len(names))
		}
		return NewExpressionStep(sd.ID, sd.Expression, sortedKeys(sd.Inputs), output)

	case sd.Workflow != "":
		if opts.Loader == nil {
			return nil, types.Errorf(types.ErrValidation, "step %q needs a workflow loader to decode", sd.ID)
		}
		childDoc, err := opts.Loader(sd.Workflow)
		if err != nil {
			return nil, fmt.Errorf("step %q: failed to load workflow %q: %w", sd.ID, sd.Workflow, err)
		}
		child, err := Decode(childDoc, opts)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", sd.ID, err)
		}
		return NewSubWorkflowStep(sd.ID, child, sd.Workflow), nil

	case sd.NoOp:
		return NewNoOpStep(sd.ID, sortedKeys(sd.Inputs), sortedKeys(sd.Outputs))

	default:
		return NewSubProcessStep(sd.ID, sd.SubProcessArguments, sortedKeys(sd.Inputs), sd.WorkDir, sd.Env)
	}
}

// wireNode applies port documents to a node's ports.
func wireNode(n Node, inputs, outputs map[string]PortDoc) error {
	for name, pd := range inputs {
		p, ok := n.InputPort(name)
		if !ok {
			return types.Errorf(types.ErrValidation, "node %q has no input %q", n.ID(), name)
		}
		wirePort(p, pd)
	}
	for name, pd := range outputs {
		p, ok := n.OutputPort(name)
		if !ok {
			return types.Errorf(types.ErrValidation, "node %q has no output %q", n.ID(), name)
		}
		wirePort(p, pd)
	}
	return nil
}

func wirePort(p *Port, pd PortDoc) {
	switch {
	case pd.Source != "":
		p.SetRawRef(pd.Source, pd.Shorthand)
	case pd.HasValue:
		p.SetValue(pd.Value)
	}
}

// Encode renders the workflow structure as a document. Input ports keep
// their wiring and literal values; output ports keep only their wiring,
// since output values are runtime state, not structure. The workflow's
// own ports define its contract, so they survive even when unwired.
func Encode(w *Workflow) (*Document, error) {
	doc := &Document{
		QualifiedName: w.Meta().QualifiedName,
		Inputs:        encodeAllPorts(w.InputPorts(), true),
		Outputs:       encodeAllPorts(w.OutputPorts(), false),
	}
	if len(w.Meta().Header) > 0 {
		doc.Header = make(map[string]any, len(w.Meta().Header))
		for k, v := range w.Meta().Header {
			doc.Header[k] = v
		}
	}

	for _, step := range w.Steps() {
		sd := StepDoc{
			ID:      step.ID(),
			Inputs:  encodePorts(step.InputPorts(), true),
			Outputs: encodePorts(step.OutputPorts(), false),
		}
		switch s := step.(type) {
		case *OperationStep:
			sd.Op = s.opName
		case *ExpressionStep:
			sd.Expression = s.expression
			// A custom output name is structure, wired or not.
			if s.output != op.ReturnOutput && len(sd.Outputs) == 0 {
				sd.Outputs = map[string]PortDoc{s.output: {}}
			}
		case *SubWorkflowStep:
			sd.Workflow = s.resource
			// Outputs are derived from the child workflow's contract.
			sd.Outputs = nil
		case *NoOpStep:
			// Port names define the node shape, so unwired ports are
			// kept as empty documents.
			sd.NoOp = true
			sd.Inputs = encodeAllPorts(step.InputPorts(), true)
			sd.Outputs = encodeAllPorts(step.OutputPorts(), false)
		case *SubProcessStep:
			// Input names define the substitution slots.
			sd.SubProcessArguments = s.Arguments()
			sd.WorkDir = s.workDir
			sd.Env = s.envVars
			sd.Inputs = encodeAllPorts(step.InputPorts(), true)
		default:
			return nil, types.Errorf(types.ErrValidation, "step %q has kind %q, which has no document form", step.ID(), step.Kind())
		}
		doc.Steps = append(doc.Steps, sd)
	}
	return doc, nil
}

func encodePorts(ports []*Port, includeValue bool) map[string]PortDoc {
	out := make(map[string]PortDoc)
	for _, p := range ports {
		switch {
		case p.RawRef() != "":
			out[p.Name()] = PortDoc{Source: p.RawRef(), Shorthand: p.refShorthand}
		case p.Source() != nil:
			out[p.Name()] = PortDoc{Source: p.Source().String(), Shorthand: true}
		case includeValue && p.hasValue:
			out[p.Name()] = PortDoc{Value: p.value, HasValue: true}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// encodeAllPorts is encodePorts with unwired ports kept as empty
// documents, for step kinds whose port names are part of the structure.
func encodeAllPorts(ports []*Port, includeValue bool) map[string]PortDoc {
	out := encodePorts(ports, includeValue)
	if out == nil {
		out = make(map[string]PortDoc)
	}
	for _, p := range ports {
		if _, ok := out[p.Name()]; !ok {
			out[p.Name()] = PortDoc{}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(m map[string]PortDoc) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
