package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/TheLazyLemur/agentorch/internal/core"
)

// BackendInfo maps a backend identifier to the executable that serves it.
type BackendInfo struct {
	Name       string
	Executable string
	Label      string
}

// Registry is a read-only backend table. Insertion order is the auto-detect
// preference order.
type Registry struct {
	order   []string
	entries map[string]BackendInfo
}

// NewRegistry builds a registry; earlier entries win auto-detection.
func NewRegistry(backends ...BackendInfo) *Registry {
	r := &Registry{entries: make(map[string]BackendInfo, len(backends))}
	for _, b := range backends {
		if _, dup := r.entries[b.Name]; dup {
			continue
		}
		r.order = append(r.order, b.Name)
		r.entries[b.Name] = b
	}
	return r
}

// DefaultRegistry prefers Claude Code and falls back to Cursor Agent.
func DefaultRegistry() *Registry {
	return NewRegistry(
		BackendInfo{Name: "claude", Executable: "claude", Label: "Claude Code CLI"},
		BackendInfo{Name: "cursor", Executable: "agent", Label: "Cursor Agent CLI"},
	)
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (BackendInfo, bool) {
	b, ok := r.entries[name]
	return b, ok
}

// Backends returns all entries in preference order.
func (r *Registry) Backends() []BackendInfo {
	out := make([]BackendInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Names returns backend identifiers in preference order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// CheckName accepts "", "auto" and registered names. It never looks at the
// search path, so a batch can be checked before anything is scheduled.
func (r *Registry) CheckName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == core.BackendAuto {
		return nil
	}
	if _, ok := r.entries[name]; !ok {
		return core.NewInvocationError(core.KindInvalidBackend, "",
			"invalid backend %q: must be one of %s", name,
			strings.Join(append(r.Names(), core.BackendAuto), ", "))
	}
	return nil
}

// LookupFunc finds an executable on the search path, like exec.LookPath.
type LookupFunc func(file string) (string, error)

// Resolver picks the executable for a request. It only probes the search
// path and never runs anything.
type Resolver struct {
	registry *Registry
	lookPath LookupFunc
}

// NewResolver creates a resolver. A nil lookPath uses exec.LookPath.
func NewResolver(registry *Registry, lookPath LookupFunc) *Resolver {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return &Resolver{registry: registry, lookPath: lookPath}
}

// Resolve returns the backend serving name. An empty name or "auto" probes
// the registry in preference order.
func (r *Resolver) Resolve(name string) (BackendInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == core.BackendAuto {
		return r.autoDetect()
	}

	if err := r.registry.CheckName(name); err != nil {
		return BackendInfo{}, err
	}
	b, _ := r.registry.Lookup(name)
	if !r.discoverable(b) {
		return BackendInfo{}, core.NewInvocationError(core.KindInvalidBackend, "",
			"%s backend (%s) not found on PATH", b.Name, b.Executable)
	}
	return b, nil
}

func (r *Resolver) autoDetect() (BackendInfo, error) {
	var probed []string
	for _, b := range r.registry.Backends() {
		if r.discoverable(b) {
			return b, nil
		}
		probed = append(probed, fmt.Sprintf("%s (%s)", b.Name, b.Executable))
	}
	return BackendInfo{}, core.NewInvocationError(core.KindBackendNotFound, "",
		"no agent CLI found on PATH, probed %s", strings.Join(probed, ", "))
}

func (r *Resolver) discoverable(b BackendInfo) bool {
	_, err := r.lookPath(b.Executable)
	return err == nil
}

// Availability reports whether a backend's executable is on the search path.
type Availability struct {
	BackendInfo
	Path      string
	Available bool
}

// Available probes every registered backend.
func (r *Resolver) Available() []Availability {
	var out []Availability
	for _, b := range r.registry.Backends() {
		path, err := r.lookPath(b.Executable)
		out = append(out, Availability{BackendInfo: b, Path: path, Available: err == nil})
	}
	return out
}
