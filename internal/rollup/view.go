package rollup

import (
	"errors"
	"fmt"

	"kpitrack/internal/kpi"
)

// ErrUnknownEntity is returned when a scope names a person or department
// that is not in the view.
var ErrUnknownEntity = errors.New("unknown entity")

// View is an indexed, read-only snapshot. Department membership is resolved
// from each person's current DepartmentID, so reassigning a person moves
// their whole history with them.
type View struct {
	ds  *kpi.Dataset
	idx *kpi.Index
}

// NewView indexes ds. The caller must not mutate ds afterwards.
func NewView(ds *kpi.Dataset) *View {
	if ds == nil {
		ds = &kpi.Dataset{}
	}
	return &View{ds: ds, idx: kpi.NewIndex(ds)}
}

// Dataset returns the underlying snapshot.
func (v *View) Dataset() *kpi.Dataset {
	return v.ds
}

// Kpi looks up a KPI by id.
func (v *View) Kpi(id string) (kpi.Kpi, bool) {
	return v.idx.Kpi(id)
}

// CheckScope verifies that a person or department scope refers to a known entity.
func (v *View) CheckScope(scope kpi.Scope) error {
	switch scope.Kind() {
	case kpi.ScopePerson:
		if _, ok := v.idx.Person(scope.ID()); !ok {
			return fmt.Errorf("person %q: %w", scope.ID(), ErrUnknownEntity)
		}
	case kpi.ScopeDepartment:
		if _, ok := v.idx.Department(scope.ID()); !ok {
			return fmt.Errorf("department %q: %w", scope.ID(), ErrUnknownEntity)
		}
	case kpi.ScopeOrganization:
	default:
		return fmt.Errorf("scope is not set: %w", ErrUnknownEntity)
	}
	return nil
}

// EntriesForScope returns the entries attributed to scope, optionally
// restricted to those recorded for a period. Input order is preserved.
func (v *View) EntriesForScope(scope kpi.Scope, period *kpi.Period) []kpi.Entry {
	var out []kpi.Entry
	for _, e := range v.ds.Entries {
		if period != nil && !period.Contains(e.Period) {
			continue
		}
		if v.attributed(e, scope) {
			out = append(out, e)
		}
	}
	return out
}

func (v *View) attributed(e kpi.Entry, scope kpi.Scope) bool {
	switch scope.Kind() {
	case kpi.ScopeOrganization:
		return true
	case kpi.ScopePerson:
		return e.Scope == scope
	case kpi.ScopeDepartment:
		if e.Scope == scope {
			return true
		}
		if e.Scope.Kind() != kpi.ScopePerson {
			return false
		}
		p, ok := v.idx.Person(e.Scope.ID())
		return ok && p.DepartmentID == scope.ID()
	default:
		return false
	}
}

// ApplicableKpis returns the KPIs evaluated for scope, in catalog order.
//
// A department tracks its KpiIDs. A person tracks their department's KpiIDs
// plus any KPI they have entries for. The organization tracks every KPI.
// Ids that do not resolve to a KPI are skipped.
func (v *View) ApplicableKpis(scope kpi.Scope) []kpi.Kpi {
	wanted := make(map[string]struct{})
	switch scope.Kind() {
	case kpi.ScopeOrganization:
		return append([]kpi.Kpi(nil), v.ds.Kpis...)
	case kpi.ScopeDepartment:
		if d, ok := v.idx.Department(scope.ID()); ok {
			for _, id := range d.KpiIDs {
				wanted[id] = struct{}{}
			}
		}
	case kpi.ScopePerson:
		if p, ok := v.idx.Person(scope.ID()); ok {
			if d, ok := v.idx.Department(p.DepartmentID); ok {
				for _, id := range d.KpiIDs {
					wanted[id] = struct{}{}
				}
			}
		}
		for _, e := range v.ds.Entries {
			if e.Scope == scope {
				wanted[e.KpiID] = struct{}{}
			}
		}
	}

	var out []kpi.Kpi
	for _, k := range v.ds.Kpis {
		if _, ok := wanted[k.ID]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (v *View) members(departmentID string) []kpi.Person {
	var out []kpi.Person
	for _, p := range v.ds.People {
		if p.DepartmentID == departmentID {
			out = append(out, p)
		}
	}
	return out
}
