// Package scope provides the hierarchical variable store owned by a process execution.
//
// A Scope holds tagged values (string, number, boolean, timestamp) and an optional
// parent. Reads fall back to the parent chain when a name is not set locally;
// writes target the local scope unless SetGlobal is used, which writes to the
// root-most scope of the chain.
package scope

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Kind tags the type of a stored value.
type Kind string

const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBoolean   Kind = "boolean"
	KindTimestamp Kind = "timestamp"
)

// Variable is one entry of a snapshot.
type Variable struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Value any    `json:"value"`
}

// Scope is safe for concurrent use.
type Scope struct {
	mu     sync.RWMutex
	parent *Scope
	vars   map[string]any
}

// New creates a root scope.
func New() *Scope {
	return &Scope{vars: make(map[string]any)}
}

// FromMap creates a root scope seeded with the given variables.
func FromMap(vars map[string]any) *Scope {
	s := New()
	s.Merge(vars)

	return s
}

// Child creates a scope whose reads fall back to s.
func (s *Scope) Child() *Scope {
	return &Scope{parent: s, vars: make(map[string]any)}
}

// Parent returns the enclosing scope, or nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Get resolves name through the scope chain. The boolean is false when the
// name is unset everywhere.
func (s *Scope) Get(name string) (any, bool) {
	for current := s; current != nil; current = current.parent {
		current.mu.RLock()
		value, ok := current.vars[name]
		current.mu.RUnlock()

		if ok {
			return value, true
		}
	}

	return nil, false
}

// GetString is Get narrowed to strings. Non-string values are reported as absent.
func (s *Scope) GetString(name string) (string, bool) {
	value, ok := s.Get(name)
	if !ok {
		return "", false
	}

	str, ok := value.(string)

	return str, ok
}

// Has reports whether name resolves anywhere in the chain.
func (s *Scope) Has(name string) bool {
	_, ok := s.Get(name)

	return ok
}

// Set writes name into this scope only.
func (s *Scope) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vars[name] = coerce(value)
}

// SetGlobal writes name into the root-most scope reachable from s.
func (s *Scope) SetGlobal(name string, value any) {
	s.Root().Set(name, value)
}

// Delete removes name from this scope only.
func (s *Scope) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.vars, name)
}

// Merge writes every entry of vars into this scope.
func (s *Scope) Merge(vars map[string]any) {
	if len(vars) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, value := range vars {
		s.vars[name] = coerce(value)
	}
}

// Root returns the root-most scope of the chain.
func (s *Scope) Root() *Scope {
	root := s
	for root.parent != nil {
		root = root.parent
	}

	return root
}

// Local returns a copy of the variables set directly on this scope.
func (s *Scope) Local() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.vars)
}

// Map returns the flattened view of the chain; closer scopes shadow their parents.
func (s *Scope) Map() map[string]any {
	chain := make([]*Scope, 0, 4)
	for current := s; current != nil; current = current.parent {
		chain = append(chain, current)
	}

	flat := make(map[string]any)

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		maps.Copy(flat, chain[i].vars)
		chain[i].mu.RUnlock()
	}

	return flat
}

// Snapshot returns the flattened view ordered by name.
func (s *Scope) Snapshot() []Variable {
	flat := s.Map()
	names := slices.Sorted(maps.Keys(flat))

	snapshot := make([]Variable, 0, len(names))
	for _, name := range names {
		value := flat[name]
		kind, _ := KindOf(value)
		snapshot = append(snapshot, Variable{Name: name, Kind: kind, Value: value})
	}

	return snapshot
}

// KindOf reports the kind of an already normalized value.
func KindOf(value any) (Kind, bool) {
	switch value.(type) {
	case string:
		return KindString, true
	case float64:
		return KindNumber, true
	case bool:
		return KindBoolean, true
	case time.Time:
		return KindTimestamp, true
	default:
		return "", false
	}
}

// Normalize converts value into one of the supported kinds. Every Go numeric
// type becomes a float64.
func Normalize(value any) (any, error) {
	switch v := value.(type) {
	case string, bool, float64:
		return v, nil
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return nil, ErrUnsupportedValue
		}

		return *v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}

// coerce stores unsupported values by their string form so a write never fails.
// A nil value is kept as an explicit null.
func coerce(value any) any {
	if value == nil {
		return nil
	}

	normalized, err := Normalize(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return normalized
}
