package flowtype

import "sort"

// Annotation marks a flow type as initiating a counterparty protocol.
type Annotation struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// Declaration is a flow type as written by its author.
type Declaration struct {
	Name        string      `json:"name"`
	Extends     string      `json:"extends,omitempty"`
	InitiatedBy *Annotation `json:"initiated_by,omitempty"`
}

// Fact is the resolved initiating-flow information for one flow type.
type Fact struct {
	Name       string `json:"name"`
	Initiating bool   `json:"initiating"`
	Protocol   string `json:"protocol,omitempty"`
	Version    int    `json:"version,omitempty"`
	// DeclaredOn is the type in the parent chain carrying the annotation.
	DeclaredOn string `json:"declared_on,omitempty"`
}

// Resolver looks up the resolved Fact for a flow type name.
// Implemented by *Registry; tests may substitute a map-backed resolver.
type Resolver interface {
	Resolve(name string) (Fact, bool)
}

// Registry is an immutable table of resolved flow type facts.
// Safe for concurrent use once constructed.
type Registry struct {
	facts map[string]Fact
}

// NewRegistry resolves every declaration by walking its parent chain until
// an initiatedBy annotation is found or the chain ends.
//
// The declaration set must pass Validate; the first problem found is
// returned otherwise.
func NewRegistry(decls ...Declaration) (*Registry, error) {
	if errs := Validate(decls); len(errs) > 0 {
		return nil, errs[0]
	}

	byName := make(map[string]Declaration, len(decls))
	for _, d := range decls {
		byName[d.Name] = d
	}

	facts := make(map[string]Fact, len(byName))
	for name := range byName {
		facts[name] = resolve(name, byName)
	}
	return &Registry{facts: facts}, nil
}

// resolve walks a validated, acyclic parent chain.
func resolve(name string, byName map[string]Declaration) Fact {
	for current := name; current != ""; current = byName[current].Extends {
		if ann := byName[current].InitiatedBy; ann != nil {
			return Fact{
				Name:       name,
				Initiating: true,
				Protocol:   ann.Protocol,
				Version:    ann.Version,
				DeclaredOn: current,
			}
		}
	}
	return Fact{Name: name}
}

// Empty returns a registry with no flow types; every flow resolves as
// non-initiating.
func Empty() *Registry {
	return &Registry{facts: map[string]Fact{}}
}

// Resolve returns the fact for name. Unknown names report ok=false; callers
// treat them as non-initiating.
func (r *Registry) Resolve(name string) (Fact, bool) {
	if r == nil {
		return Fact{}, false
	}
	f, ok := r.facts[name]
	return f, ok
}

// Facts returns every resolved fact ordered by flow type name.
func (r *Registry) Facts() []Fact {
	out := make([]Fact, 0, len(r.facts))
	for _, name := range sortedNames(r.facts) {
		out = append(out, r.facts[name])
	}
	return out
}

// Len returns the number of registered flow types.
func (r *Registry) Len() int {
	return len(r.facts)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
