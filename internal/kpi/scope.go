package kpi

import (
	"fmt"
	"strings"
)

// ScopeKind is the organizational level of a Scope.
type ScopeKind string

const (
	ScopePerson       ScopeKind = "person"
	ScopeDepartment   ScopeKind = "department"
	ScopeOrganization ScopeKind = "organization"
)

// Scope is a tagged variant: Person(id), Department(id), or Organization.
// The zero value is not a valid scope.
type Scope struct {
	kind ScopeKind
	id   string
}

// PersonScope scopes to a single person.
func PersonScope(id string) Scope {
	return Scope{kind: ScopePerson, id: id}
}

// DepartmentScope scopes to a department and, during rollup, its members.
func DepartmentScope(id string) Scope {
	return Scope{kind: ScopeDepartment, id: id}
}

// OrganizationScope covers every entry.
func OrganizationScope() Scope {
	return Scope{kind: ScopeOrganization}
}

// Kind returns the scope level.
func (s Scope) Kind() ScopeKind {
	return s.kind
}

// ID returns the person or department id; empty for Organization.
func (s Scope) ID() string {
	return s.id
}

// IsZero reports whether s was never set.
func (s Scope) IsZero() bool {
	return s.kind == ""
}

// String renders the form accepted by ParseScope.
func (s Scope) String() string {
	switch s.kind {
	case ScopeOrganization:
		return "all"
	case "":
		return ""
	default:
		return string(s.kind) + ":" + s.id
	}
}

// ParseScope parses "person:<id>", "department:<id>", or "all".
func ParseScope(value string) (Scope, error) {
	value = strings.TrimSpace(value)
	switch value {
	case "", "all", "org", "organization":
		return OrganizationScope(), nil
	}
	kind, id, ok := strings.Cut(value, ":")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return Scope{}, fmt.Errorf("invalid scope %q (expected person:<id>, department:<id>, or all)", value)
	}
	switch ScopeKind(strings.TrimSpace(kind)) {
	case ScopePerson:
		return PersonScope(id), nil
	case ScopeDepartment, "dept":
		return DepartmentScope(id), nil
	default:
		return Scope{}, fmt.Errorf("invalid scope kind %q", kind)
	}
}
