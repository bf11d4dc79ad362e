package rest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Operation describes one logical API endpoint: the HTTP method, a path
// template with {param} placeholders, and a human-readable description.
type Operation struct {
	Name   string `toml:"name"`
	Method string `toml:"method"`
	Path   string `toml:"path"`
	Desc   string `toml:"desc"`
}

// Expand substitutes {param} placeholders in the path template. Every
// placeholder must be supplied; unused params are rejected so typos in
// callers surface immediately. Placeholders are found by scanning the
// template, so parameter values may contain braces.
func (op Operation) Expand(params map[string]string) (string, error) {
	var b strings.Builder

	rest := op.Path
	used := make(map[string]bool, len(params))

	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)

			break
		}

		b.WriteString(rest[:open])
		rest = rest[open:]

		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return "", fmt.Errorf("rest: operation %s: unresolved placeholder in %s", op.Name, op.Path)
		}

		name := rest[1:end]

		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("rest: operation %s: unresolved placeholder in %s", op.Name, op.Path)
		}

		b.WriteString(value)
		used[name] = true
		rest = rest[end+1:]
	}

	for key := range params {
		if !used[key] {
			return "", fmt.Errorf("rest: operation %s: unknown parameter %q", op.Name, key)
		}
	}

	return b.String(), nil
}

// Registry maps logical operation names to Operations. Safe for concurrent
// lookups after registration.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds an operation, failing on duplicate names or missing fields.
func (r *Registry) Register(op Operation) error {
	if op.Name == "" || op.Method == "" || op.Path == "" {
		return fmt.Errorf("rest: operation requires name, method, and path: %+v", op)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.Name]; exists {
		return fmt.Errorf("rest: operation %q already registered", op.Name)
	}

	r.ops[op.Name] = op

	return nil
}

// Lookup returns the operation by name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[name]

	return op, ok
}

// Names returns all registered operation names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// registryFile is the on-disk TOML shape for operation sets:
//
//	[[operation]]
//	name = "get_user"
//	method = "GET"
//	path = "/api/v1/users/{id}"
//	desc = "fetch one user"
type registryFile struct {
	Operations []Operation `toml:"operation"`
}

// LoadFile registers all operations from a TOML file.
func (r *Registry) LoadFile(path string) error {
	var rf registryFile
	if _, err := toml.DecodeFile(path, &rf); err != nil {
		return fmt.Errorf("rest: parsing registry file %s: %w", path, err)
	}

	for _, op := range rf.Operations {
		if err := r.Register(op); err != nil {
			return err
		}
	}

	return nil
}
