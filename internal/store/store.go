// Package store persists KPI definitions, people, departments, and data
// entries. Rollups read consistent snapshots from it; they never see a
// partially applied write.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kpitrack/internal/kpi"
)

// ErrNotFound is returned by Get* and Delete* for unknown ids.
var ErrNotFound = errors.New("not found")

// EntryFilter narrows ListEntries. Zero fields match everything.
//
// PersonID matches person-scoped entries and DepartmentID matches
// department-scoped entries only; attributing a member's entries to their
// department is the rollup's job.
type EntryFilter struct {
	KpiID        string
	PersonID     string
	DepartmentID string
	Period       *kpi.Period
}

// Match reports whether e passes the filter.
func (f EntryFilter) Match(e kpi.Entry) bool {
	if f.KpiID != "" && e.KpiID != f.KpiID {
		return false
	}
	if f.PersonID != "" && (e.Scope.Kind() != kpi.ScopePerson || e.Scope.ID() != f.PersonID) {
		return false
	}
	if f.DepartmentID != "" && (e.Scope.Kind() != kpi.ScopeDepartment || e.Scope.ID() != f.DepartmentID) {
		return false
	}
	if f.Period != nil && !f.Period.Contains(e.Period) {
		return false
	}
	return true
}

// Reader is the read side consumed by the rollup.
type Reader interface {
	ListKpis(ctx context.Context) ([]kpi.Kpi, error)
	ListDepartments(ctx context.Context) ([]kpi.Department, error)
	ListPeople(ctx context.Context) ([]kpi.Person, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]kpi.Entry, error)
	// Snapshot returns a copy of all four collections taken at one instant.
	Snapshot(ctx context.Context) (*kpi.Dataset, error)
}

// Writer edits records. Save* upserts by id, assigning a new id when empty.
type Writer interface {
	GetKpi(ctx context.Context, id string) (kpi.Kpi, error)
	GetPerson(ctx context.Context, id string) (kpi.Person, error)
	GetDepartment(ctx context.Context, id string) (kpi.Department, error)
	GetEntry(ctx context.Context, id string) (kpi.Entry, error)

	SaveKpi(ctx context.Context, k kpi.Kpi) (kpi.Kpi, error)
	SavePerson(ctx context.Context, p kpi.Person) (kpi.Person, error)
	SaveDepartment(ctx context.Context, d kpi.Department) (kpi.Department, error)
	SaveEntry(ctx context.Context, e kpi.Entry) (kpi.Entry, error)

	DeleteKpi(ctx context.Context, id string) error
	DeletePerson(ctx context.Context, id string) error
	DeleteDepartment(ctx context.Context, id string) error
	DeleteEntry(ctx context.Context, id string) error

	// ReplaceAll swaps in ds wholesale. When ds carries no entries the
	// existing entries are kept.
	ReplaceAll(ctx context.Context, ds *kpi.Dataset) error
	// Reset removes every record.
	Reset(ctx context.Context) error
}

// Store is a full repository.
type Store interface {
	Reader
	Writer
	Close() error
}

func prepareKpi(k kpi.Kpi) kpi.Kpi {
	if k.ID == "" {
		k.ID = kpi.NewID()
	}
	return cloneKpi(k)
}

func preparePerson(p kpi.Person) kpi.Person {
	if p.ID == "" {
		p.ID = kpi.NewID()
	}
	return p
}

func prepareDepartment(d kpi.Department) kpi.Department {
	if d.ID == "" {
		d.ID = kpi.NewID()
	}
	return cloneDepartment(d)
}

func prepareEntry(e kpi.Entry, now time.Time) (kpi.Entry, error) {
	if e.Scope.Kind() != kpi.ScopePerson && e.Scope.Kind() != kpi.ScopeDepartment {
		return kpi.Entry{}, fmt.Errorf("entry %q must be scoped to a person or a department", e.ID)
	}
	if e.ID == "" {
		e.ID = kpi.NewID()
	}
	if e.DateRecorded.IsZero() {
		e.DateRecorded = now.UTC()
	}
	return e.Clone(), nil
}

func cloneKpi(k kpi.Kpi) kpi.Kpi {
	if k.Variables != nil {
		k.Variables = append([]kpi.Variable(nil), k.Variables...)
	}
	return k
}

func cloneDepartment(d kpi.Department) kpi.Department {
	if d.KpiIDs != nil {
		d.KpiIDs = append([]string(nil), d.KpiIDs...)
	}
	return d
}
