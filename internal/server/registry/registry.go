// Package registry holds the static, ordered catalog of tenant schema
// migrations. Each entry is applied to a schema by the runner package.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
)

// Kind distinguishes migrations applied exactly once from safety checks
// that are re-run on every pass.
type Kind int

const (
	// KindOrdinary runs once per schema and is recorded in schema_migrations.
	KindOrdinary Kind = iota
	// KindEnsure must be idempotent; it runs on first application like any
	// other entry and again after every subsequent pass.
	KindEnsure
)

func (k Kind) String() string {
	switch k {
	case KindOrdinary:
		return "ordinary"
	case KindEnsure:
		return "ensure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ApplyFunc applies a migration to schema using db. Implementations must
// qualify every object with the schema they are given.
type ApplyFunc func(ctx context.Context, db dbx.DBTX, schema string) error

// Definition is one registry entry.
type Definition struct {
	Version int64
	Name    string
	Kind    Kind
	Apply   ApplyFunc
}

// Registry is an immutable list of definitions sorted by ascending version.
type Registry struct {
	defs []Definition
}

var (
	errDuplicateVersion = errors.New("duplicate migration version")
	errInvalidEntry     = errors.New("invalid migration definition")
)

// New validates defs and returns them as a Registry. Versions must be
// positive and unique; every entry needs a name and an Apply func.
func New(defs ...Definition) (*Registry, error) {
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for i, d := range sorted {
		if d.Version <= 0 || d.Name == "" || d.Apply == nil {
			return nil, fmt.Errorf("%w: version=%d name=%q", errInvalidEntry, d.Version, d.Name)
		}
		if d.Kind != KindOrdinary && d.Kind != KindEnsure {
			return nil, fmt.Errorf("%w: %s has %s", errInvalidEntry, d.Name, d.Kind)
		}
		if i > 0 && sorted[i-1].Version == d.Version {
			return nil, fmt.Errorf("%w: %d (%s, %s)", errDuplicateVersion, d.Version, sorted[i-1].Name, d.Name)
		}
	}

	return &Registry{defs: sorted}, nil
}

// MustNew is New that panics on an invalid registry.
func MustNew(defs ...Definition) *Registry {
	r, err := New(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// All returns every definition in ascending version order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Ensure returns the KindEnsure definitions in ascending version order.
func (r *Registry) Ensure() []Definition {
	var out []Definition
	for _, d := range r.defs {
		if d.Kind == KindEnsure {
			out = append(out, d)
		}
	}
	return out
}

// Pending returns the definitions whose version is not in applied.
func (r *Registry) Pending(applied map[int64]bool) []Definition {
	var out []Definition
	for _, d := range r.defs {
		if !applied[d.Version] {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.defs) }
