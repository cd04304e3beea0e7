package bus

import (
	"fmt"
	"sync"
)

// Registry is a process-wide lookup of subjects by topic name, shared by
// every component so that e.g. the radio decoder can publish on
// "radio-decoder.status" while an unrelated CLI subscriber attaches to the
// same topic without either side importing the other's package.
type Registry struct {
	mu    sync.RWMutex
	table map[string]any
}

// NewRegistry creates an empty registry. cmd/nfclab does not construct
// one; no worker in this module receives a Registry.
func NewRegistry() *Registry {
	return &Registry{table: make(map[string]any)}
}

// Lookup looks up or creates the named subject with element type T. A
// second call with the same name but a different T panics, which is a
// programmer error per spec.md §7 (internal invariant violation).
func Lookup[T any](r *Registry, name string) *Subject[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.table[name]; ok {
		s, ok := existing.(*Subject[T])
		if !ok {
			panic(fmt.Sprintf("bus: subject %q already registered with a different type", name))
		}
		return s
	}
	s := NewSubject[T](name)
	r.table[name] = s
	return s
}
