package kpi

import (
	"time"

	"github.com/google/uuid"
)

// OptimumType declares which raw values are desirable for a KPI.
type OptimumType string

const (
	OptimumHigher OptimumType = "higher"
	OptimumLower  OptimumType = "lower"
	OptimumTarget OptimumType = "target"
)

// ValidOptimumTypes lists every recognized optimum type.
var ValidOptimumTypes = []OptimumType{OptimumHigher, OptimumLower, OptimumTarget}

// IsValid reports whether o is a recognized optimum type.
func (o OptimumType) IsValid() bool {
	for _, v := range ValidOptimumTypes {
		if o == v {
			return true
		}
	}
	return false
}

// Variable declares one named input a formula may reference.
type Variable struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
}

// Kpi is a KPI definition. Variable names are unique within a Kpi.
type Kpi struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Unit        string      `json:"unit" yaml:"unit"`
	OptimumType OptimumType `json:"optimumType" yaml:"optimumType"`
	Variables   []Variable  `json:"variables" yaml:"variables"`
	Formula     string      `json:"formula" yaml:"formula"`
}

// VariableNames returns the declared variable names in declaration order.
func (k Kpi) VariableNames() []string {
	names := make([]string, 0, len(k.Variables))
	for _, v := range k.Variables {
		names = append(names, v.Name)
	}
	return names
}

// Person is read-only lookup context for person-scoped entries.
type Person struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Email        string `json:"email" yaml:"email"`
	DepartmentID string `json:"departmentId" yaml:"departmentId"`
}

// Department lists the KPIs applicable to its members.
type Department struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	KpiIDs []string `json:"kpiIds" yaml:"kpiIds"`
}

// HasKpi reports whether the department tracks kpiID.
func (d Department) HasKpi(kpiID string) bool {
	for _, id := range d.KpiIDs {
		if id == kpiID {
			return true
		}
	}
	return false
}

// Entry is one recorded observation of a KPI's variables. It is serialized
// with the personId/departmentId pair; see entry.go.
type Entry struct {
	ID             string
	KpiID          string
	Scope          Scope
	Period         Period
	VariableValues map[string]float64
	DateRecorded   time.Time
}

// Clone returns a copy of e that shares no mutable state.
func (e Entry) Clone() Entry {
	if e.VariableValues != nil {
		values := make(map[string]float64, len(e.VariableValues))
		for k, v := range e.VariableValues {
			values[k] = v
		}
		e.VariableValues = values
	}
	return e
}

// Dataset holds the four collections: an export document, an import payload,
// or a consistent store snapshot.
type Dataset struct {
	People      []Person     `json:"people" yaml:"people"`
	Departments []Department `json:"departments" yaml:"departments"`
	Kpis        []Kpi        `json:"kpis" yaml:"kpis"`
	Entries     []Entry      `json:"kpiDataEntries,omitempty" yaml:"kpiDataEntries,omitempty"`
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}
