package definition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no definition matches a reference.
var ErrNotFound = errors.New("definition: not found")

// Registry is a read-mostly collection of workflow definitions. It is safe
// for concurrent use.
type Registry struct {
	mu   deadlock.RWMutex
	defs map[string]*Definition
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates the definition and adds it to the registry, replacing
// any previous definition with the same id.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition: cannot register nil definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
	return nil
}

// LoadDir reads every .yaml/.yml file in dir as a workflow definition and
// registers it. Returns the number of definitions loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read definitions dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		def, err := LoadFile(path)
		if err != nil {
			return loaded, err
		}
		if err := r.Register(def); err != nil {
			return loaded, fmt.Errorf("register %s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}

// LoadFile parses a single YAML definition file and validates it.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse definition %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Get returns the definition with the exact id, or ErrNotFound.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

// Resolve looks a definition up by reference. Matching runs in priority
// order: exact id, exact name, then case-insensitive substring over id,
// name, and description. When a fuzzy pass matches several definitions the
// lexicographically smallest id wins, so resolution is deterministic.
func (r *Registry) Resolve(ref string) (*Definition, error) {
	if ref == "" {
		return nil, ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.defs[ref]; ok {
		return def, nil
	}

	for _, id := range r.sortedIDs() {
		if r.defs[id].Name == ref {
			return r.defs[id], nil
		}
	}

	needle := strings.ToLower(ref)
	for _, id := range r.sortedIDs() {
		def := r.defs[id]
		haystack := strings.ToLower(def.ID + " " + def.Name + " " + def.Description)
		if strings.Contains(haystack, needle) {
			return def, nil
		}
	}

	return nil, ErrNotFound
}

// Stages returns the ordered stage list of the definition with the given
// workflow id.
func (r *Registry) Stages(workflowID string) ([]Stage, error) {
	def, err := r.Get(workflowID)
	if err != nil {
		return nil, err
	}
	stages := make([]Stage, len(def.Stages))
	copy(stages, def.Stages)
	return stages, nil
}

// List returns all registered definitions ordered by id.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, id := range r.sortedIDs() {
		out = append(out, r.defs[id])
	}
	return out
}

// sortedIDs returns registry keys in lexical order. Callers must hold at
// least a read lock.
func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
