package sequence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/testcase"
)

// manifestFile is the on-disk YAML shape of a sequence manifest. Limit
// predicates are executable Go code, not data, so they are registered
// separately through RegisterLimits rather than appearing here.
type manifestFile struct {
	Tests      []string       `yaml:"tests"`
	Skip       []string       `yaml:"skip"`
	Parameters map[string]any `yaml:"parameters"`
	Duts       int            `yaml:"duts"`
}

// CaseFactory constructs a fresh Case for one (position, case) pair, given
// the Base the orchestrator has already populated for this run.
type CaseFactory func(base *testcase.Base) testcase.Case

// Registry is the startup-time replacement for resolving sequence and case
// modules by name at run time: every sequence manifest and every case
// factory is published here once, before the orchestrator's first run.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
	cases     map[string]CaseFactory // shared pool, keyed by case name
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		manifests: make(map[string]*Manifest),
		cases:     make(map[string]CaseFactory),
	}
}

// LoadDir reads every *.yaml/*.yml file in dir as a sequence manifest, one
// sequence per file, named after the file's base name.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading sequence directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ext)

		path := filepath.Join(dir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading sequence manifest %s: %w", path, err)
		}

		var mf manifestFile
		if err := yaml.Unmarshal(raw, &mf); err != nil {
			return fmt.Errorf("parsing sequence manifest %s: %w", path, err)
		}

		skip := make(map[string]bool, len(mf.Skip))
		for _, s := range mf.Skip {
			skip[s] = true
		}

		r.Register(&Manifest{
			Name:       name,
			Tokens:     ParseTokens(mf.Tests),
			Skip:       skip,
			Parameters: mf.Parameters,
			Duts:       mf.Duts,
		})
	}

	return nil
}

// Register publishes a sequence manifest under its Name, overwriting any
// prior manifest with the same name.
func (r *Registry) Register(m *Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.manifests[m.Name] = m
}

// RegisterLimits attaches a limit table to an already-registered manifest.
// Returns control.ErrUnknownSequence if name has no manifest yet.
func (r *Registry) RegisterLimits(name string, limits testcase.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.manifests[name]
	if !ok {
		return fmt.Errorf("%w: %s", control.ErrUnknownSequence, name)
	}

	m.Limits = limits

	return nil
}

// RegisterCase publishes a case factory into the shared cross-sequence
// pool, keyed by case name.
func (r *Registry) RegisterCase(name string, factory CaseFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cases[name] = factory
}

// Resolve returns the manifest published under name.
func (r *Registry) Resolve(name string) (*Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manifests[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", control.ErrUnknownSequence, name)
	}

	return m, nil
}

// CaseFactory returns the registered factory for caseName.
func (r *Registry) CaseFactory(caseName string) (CaseFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.cases[caseName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", control.ErrUnknownCase, caseName)
	}

	return f, nil
}

// SequenceNames returns every registered sequence name, in indeterminate
// order; used to populate the progress snapshot's test_sequences field.
func (r *Registry) SequenceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.manifests))
	for name := range r.manifests {
		names = append(names, name)
	}

	return names
}

// DutsFor reports the DUT count a registered sequence expects, satisfying
// intake.SequenceDuts so the registry can be handed directly to
// config.BuildIntake.
func (r *Registry) DutsFor(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manifests[name]
	if !ok {
		return 0, false
	}

	return m.Duts, true
}
