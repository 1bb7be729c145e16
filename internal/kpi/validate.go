package kpi

import (
	"fmt"
	"strings"

	"kpitrack/internal/formula"
)

// ValidationError captures a single field-specific validation issue.
type ValidationError struct {
	Source  string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

// ValidateKpi checks a KPI definition at authoring time. Evaluation never
// depends on it: a malformed formula only fails per entry.
func ValidateKpi(k Kpi, fieldPath, source string) ValidationErrors {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Source: source, Field: joinField(fieldPath, field), Message: msg})
	}

	if strings.TrimSpace(k.ID) == "" {
		add("id", "id is required")
	}
	if strings.TrimSpace(k.Name) == "" {
		add("name", "name is required")
	}
	if !k.OptimumType.IsValid() {
		add("optimumType", fmt.Sprintf("invalid optimum type %q (expected higher, lower, or target)", k.OptimumType))
	}

	declared := make(map[string]struct{}, len(k.Variables))
	for i, v := range k.Variables {
		field := fmt.Sprintf("variables[%d].name", i)
		switch {
		case v.Name == "":
			add(field, "variable name is required")
		case !formula.IsIdentifier(v.Name):
			add(field, fmt.Sprintf("variable name %q is not a valid identifier", v.Name))
		default:
			if _, dup := declared[v.Name]; dup {
				add(field, fmt.Sprintf("duplicate variable name %q", v.Name))
			}
			declared[v.Name] = struct{}{}
		}
	}

	if strings.TrimSpace(k.Formula) == "" {
		add("formula", "formula is required")
		return errs
	}
	compiled, err := formula.Compile(k.Formula)
	if err != nil {
		add("formula", err.Error())
		return errs
	}
	for _, name := range compiled.Identifiers() {
		if _, ok := declared[name]; !ok {
			add("formula", fmt.Sprintf("formula references undeclared variable %q", name))
		}
	}
	return errs
}

// ValidateEntry checks an entry against the catalog lookups in idx.
func ValidateEntry(e Entry, fieldPath, source string, idx *Index) ValidationErrors {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Source: source, Field: joinField(fieldPath, field), Message: msg})
	}

	if e.ID == "" {
		add("id", "id is required")
	}
	if _, ok := idx.Kpi(e.KpiID); !ok {
		add("kpiId", fmt.Sprintf("unknown kpi %q", e.KpiID))
	}
	switch e.Scope.Kind() {
	case ScopePerson:
		if _, ok := idx.Person(e.Scope.ID()); !ok {
			add("personId", fmt.Sprintf("unknown person %q", e.Scope.ID()))
		}
	case ScopeDepartment:
		if _, ok := idx.Department(e.Scope.ID()); !ok {
			add("departmentId", fmt.Sprintf("unknown department %q", e.Scope.ID()))
		}
	default:
		add("", "entry must be scoped to a person or a department")
	}
	if e.Period.Year <= 0 {
		add("period.year", "year is required")
	}
	if e.Period.Month < 0 || e.Period.Month > 12 {
		add("period.month", "must be between 1 and 12")
	}
	if e.Period.Quarter < 0 || e.Period.Quarter > 4 {
		add("period.quarter", "must be between 1 and 4")
	}
	return errs
}

// Validate checks a whole dataset: per-record rules, id uniqueness, and
// references between collections.
func Validate(ds *Dataset, source string) ValidationErrors {
	if ds == nil {
		return ValidationErrors{{Source: source, Message: "dataset is empty"}}
	}
	var errs ValidationErrors
	idx := NewIndex(ds)

	kpiIDs := make(map[string]struct{})
	for i, k := range ds.Kpis {
		path := fmt.Sprintf("kpis[%d]", i)
		errs = append(errs, ValidateKpi(k, path, source)...)
		errs = append(errs, checkUnique(kpiIDs, k.ID, path, source)...)
	}

	deptIDs := make(map[string]struct{})
	for i, d := range ds.Departments {
		path := fmt.Sprintf("departments[%d]", i)
		if strings.TrimSpace(d.ID) == "" {
			errs = append(errs, ValidationError{Source: source, Field: path + ".id", Message: "id is required"})
		}
		if strings.TrimSpace(d.Name) == "" {
			errs = append(errs, ValidationError{Source: source, Field: path + ".name", Message: "name is required"})
		}
		errs = append(errs, checkUnique(deptIDs, d.ID, path, source)...)
		for j, kpiID := range d.KpiIDs {
			if _, ok := idx.Kpi(kpiID); !ok {
				errs = append(errs, ValidationError{
					Source:  source,
					Field:   fmt.Sprintf("%s.kpiIds[%d]", path, j),
					Message: fmt.Sprintf("unknown kpi %q", kpiID),
				})
			}
		}
	}

	personIDs := make(map[string]struct{})
	for i, p := range ds.People {
		path := fmt.Sprintf("people[%d]", i)
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, ValidationError{Source: source, Field: path + ".id", Message: "id is required"})
		}
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, ValidationError{Source: source, Field: path + ".name", Message: "name is required"})
		}
		errs = append(errs, checkUnique(personIDs, p.ID, path, source)...)
		if p.DepartmentID != "" {
			if _, ok := idx.Department(p.DepartmentID); !ok {
				errs = append(errs, ValidationError{
					Source:  source,
					Field:   path + ".departmentId",
					Message: fmt.Sprintf("unknown department %q", p.DepartmentID),
				})
			}
		}
	}

	entryIDs := make(map[string]struct{})
	for i, e := range ds.Entries {
		path := fmt.Sprintf("kpiDataEntries[%d]", i)
		errs = append(errs, ValidateEntry(e, path, source, idx)...)
		errs = append(errs, checkUnique(entryIDs, e.ID, path, source)...)
	}
	return errs
}

func checkUnique(seen map[string]struct{}, id, path, source string) ValidationErrors {
	if id == "" {
		return nil
	}
	if _, dup := seen[id]; dup {
		return ValidationErrors{{Source: source, Field: path + ".id", Message: fmt.Sprintf("duplicate id %q", id)}}
	}
	seen[id] = struct{}{}
	return nil
}

func joinField(base, field string) string {
	switch {
	case base == "":
		return field
	case field == "":
		return base
	default:
		return base + "." + field
	}
}
