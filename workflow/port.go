package workflow

import (
	"github.com/flowforge/flowforge/types"
)

// PortRef identifies a port by owning node id and port name.
type PortRef struct {
	Node string
	Port string
}

// String renders the reference in source grammar form.
func (r PortRef) String() string {
	return r.Node + "." + r.Port
}

// Scope resolves node ids to nodes. A workflow is a scope; nested
// workflows chain to their parent so references can reach ancestors.
type Scope interface {
	// FindNode returns the node with the given id: the scope's own node,
	// one of its steps, or a node of an ancestor scope.
	FindNode(id string) (Node, bool)
}

// findPort resolves a reference to a live port within a scope. Output
// ports shadow input ports of the same name.
func findPort(s Scope, ref PortRef) (*Port, bool) {
	node, ok := s.FindNode(ref.Node)
	if !ok {
		return nil, false
	}
	if p, ok := node.OutputPort(ref.Port); ok {
		return p, true
	}
	if p, ok := node.InputPort(ref.Port); ok {
		return p, true
	}
	return nil, false
}

// Port is a named slot on a node holding at most one of: a literal
// value, a resolved reference to another port, or an unresolved textual
// reference pending resolution. Value and reference are mutually
// exclusive; setting one clears the other.
type Port struct {
	owner    string
	name     string
	value    any
	hasValue bool
	source   *PortRef
	// rawRef keeps the textual spelling ("node.port", ".port", "node")
	// until resolution, and afterwards for faithful re-serialization.
	rawRef string
	// refShorthand records whether the document encoded the reference as
	// a bare string rather than a {"source": ...} object.
	refShorthand bool
}

func newPort(owner, name string) *Port {
	return &Port{owner: owner, name: name}
}

// Name returns the port name.
func (p *Port) Name() string { return p.name }

// Owner returns the id of the owning node.
func (p *Port) Owner() string { return p.owner }

// Ref returns the (owner, name) reference identifying this port.
func (p *Port) Ref() PortRef { return PortRef{Node: p.owner, Port: p.name} }

// SetValue stores v as the literal value and clears any reference.
func (p *Port) SetValue(v any) {
	p.value = v
	p.hasValue = true
	p.source = nil
	p.rawRef = ""
	p.refShorthand = false
}

// SetSource stores a resolved reference and clears any literal value.
// A port cannot reference itself.
func (p *Port) SetSource(ref PortRef) error {
	if ref == p.Ref() {
		return types.Errorf(types.ErrSelfConnection, "port %s cannot be connected to itself", p.Ref())
	}
	p.source = &ref
	p.value = nil
	p.hasValue = false
	return nil
}

// SetRawRef stores an unresolved textual reference, clearing any literal
// value and any previously resolved reference.
func (p *Port) SetRawRef(raw string, shorthand bool) {
	p.rawRef = raw
	p.refShorthand = shorthand
	p.source = nil
	p.value = nil
	p.hasValue = false
}

// Clear resets the port to the absent state: no value, no reference.
func (p *Port) Clear() {
	p.value = nil
	p.hasValue = false
	p.source = nil
	p.rawRef = ""
	p.refShorthand = false
}

// Source returns the resolved reference, or nil.
func (p *Port) Source() *PortRef { return p.source }

// RawRef returns the unresolved textual reference, or "".
func (p *Port) RawRef() string { return p.rawRef }

// Value returns the port's effective value, following references
// through the scope. The second result is false when no value is set
// anywhere along the chain.
func (p *Port) Value(s Scope) (any, bool) {
	visited := map[PortRef]bool{}
	current := p
	for {
		if current.source == nil {
			if current.hasValue {
				return current.value, true
			}
			return nil, false
		}
		ref := *current.source
		if visited[current.Ref()] {
			return nil, false
		}
		visited[current.Ref()] = true
		next, ok := findPort(s, ref)
		if !ok {
			return nil, false
		}
		current = next
	}
}

// HasValue reports whether a value exists after following references.
func (p *Port) HasValue(s Scope) bool {
	_, ok := p.Value(s)
	return ok
}
