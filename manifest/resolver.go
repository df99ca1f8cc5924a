package manifest

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
)

// ResolvedDep is a dependency resolved to the unit files it contributes.
type ResolvedDep struct {
	Name     string    // dependency name
	Path     string    // absolute path of the file or directory
	Units    []string  // unit files, in load order
	Manifest *Manifest // the dependency's own manifest (nil for a unit file)
}

// Resolver resolves [dependencies] into unit files.
type Resolver struct {
	manifest *Manifest
	visiting map[string]bool
	resolved map[string]bool
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{
		manifest: m,
		visiting: make(map[string]bool),
		resolved: make(map[string]bool),
	}
}

// Resolve resolves all dependencies and returns them in load order
// (topologically sorted: dependencies before dependents). A dependency
// reachable along several paths appears once.
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	r.visiting[r.manifest.Dir] = true
	defer delete(r.visiting, r.manifest.Dir)
	return r.resolveAll(r.manifest)
}

// resolveAll resolves the dependencies of m recursively, by name.
func (r *Resolver) resolveAll(m *Manifest) ([]ResolvedDep, error) {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	slices.Sort(names)

	var order []ResolvedDep
	for _, name := range names {
		rd, err := r.resolveOne(m, name, m.Dependencies[name])
		if err != nil {
			return nil, errors.Wrapf(err, "resolving %s", name)
		}
		if r.resolved[rd.Path] {
			continue
		}
		if r.visiting[rd.Path] {
			return nil, errors.Errorf("dependency cycle through %s", rd.Path)
		}

		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			r.visiting[rd.Path] = true
			transitive, err := r.resolveAll(rd.Manifest)
			delete(r.visiting, rd.Path)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}

		r.resolved[rd.Path] = true
		order = append(order, *rd)
	}
	return order, nil
}

// resolveOne resolves a single dependency of m.
func (r *Resolver) resolveOne(m *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	if dep.Path == "" {
		return nil, errors.Errorf("dependency %q has no path specified", name)
	}
	localPath, err := filepath.Abs(m.path(dep.Path))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid path %q", dep.Path)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "local dependency %q not found at %s", name, localPath)
	}
	if !info.IsDir() {
		return &ResolvedDep{Name: name, Path: localPath, Units: []string{localPath}}, nil
	}

	depManifest, err := Load(localPath)
	if err != nil {
		return nil, err
	}
	units := depManifest.UnitPaths()
	if entry := depManifest.EntryPath(); entry != "" {
		units = append(units, entry)
	}
	if len(units) == 0 {
		return nil, errors.Errorf("dependency %q at %s declares no units", name, localPath)
	}
	return &ResolvedDep{Name: name, Path: localPath, Units: units, Manifest: depManifest}, nil
}

// LoadOrder returns every unit file to load for m: dependencies first, then
// [run] units, then the entry unit.
func (m *Manifest) LoadOrder() ([]string, error) {
	deps, err := NewResolver(m).Resolve()
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, d := range deps {
		paths = append(paths, d.Units...)
	}
	paths = append(paths, m.UnitPaths()...)
	if entry := m.EntryPath(); entry != "" {
		paths = append(paths, entry)
	}
	return paths, nil
}
