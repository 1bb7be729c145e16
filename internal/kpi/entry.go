package kpi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// entryRecord is the persisted shape of an Entry: exactly one of PersonID or
// DepartmentID is expected to be set.
type entryRecord struct {
	ID             string             `json:"id" yaml:"id"`
	PersonID       string             `json:"personId,omitempty" yaml:"personId,omitempty"`
	DepartmentID   string             `json:"departmentId,omitempty" yaml:"departmentId,omitempty"`
	KpiID          string             `json:"kpiId" yaml:"kpiId"`
	Period         Period             `json:"period" yaml:"period"`
	VariableValues map[string]float64 `json:"variableValues" yaml:"variableValues"`
	DateRecorded   string             `json:"dateRecorded" yaml:"dateRecorded"`
}

func (e Entry) record() entryRecord {
	rec := entryRecord{
		ID:             e.ID,
		KpiID:          e.KpiID,
		Period:         e.Period,
		VariableValues: e.VariableValues,
	}
	if rec.VariableValues == nil {
		rec.VariableValues = map[string]float64{}
	}
	if !e.DateRecorded.IsZero() {
		rec.DateRecorded = e.DateRecorded.UTC().Format(time.RFC3339Nano)
	}
	switch e.Scope.Kind() {
	case ScopePerson:
		rec.PersonID = e.Scope.ID()
	case ScopeDepartment:
		rec.DepartmentID = e.Scope.ID()
	}
	return rec
}

// A record carrying both ids is person-scoped: the department is derived from
// the person at aggregation time. A record with neither keeps a zero Scope,
// which validation rejects.
func (rec entryRecord) entry() (Entry, error) {
	e := Entry{
		ID:             strings.TrimSpace(rec.ID),
		KpiID:          strings.TrimSpace(rec.KpiID),
		Period:         rec.Period,
		VariableValues: rec.VariableValues,
	}
	personID := strings.TrimSpace(rec.PersonID)
	departmentID := strings.TrimSpace(rec.DepartmentID)
	switch {
	case personID != "":
		e.Scope = PersonScope(personID)
	case departmentID != "":
		e.Scope = DepartmentScope(departmentID)
	}
	if rec.DateRecorded != "" {
		ts, err := ParseTimestamp(rec.DateRecorded)
		if err != nil {
			return Entry{}, fmt.Errorf("entry %q: dateRecorded: %w", rec.ID, err)
		}
		e.DateRecorded = ts
	}
	return e, nil
}

// MarshalJSON encodes the entry with personId/departmentId fields.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.record())
}

// UnmarshalJSON decodes the personId/departmentId form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var rec entryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	decoded, err := rec.entry()
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// MarshalYAML encodes the entry with personId/departmentId fields.
func (e Entry) MarshalYAML() (any, error) {
	return e.record(), nil
}

// UnmarshalYAML decodes the personId/departmentId form.
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	var rec entryRecord
	if err := value.Decode(&rec); err != nil {
		return err
	}
	decoded, err := rec.entry()
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// ParseTimestamp accepts RFC3339 (with or without fractional seconds) or a bare date.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be ISO-8601 date or datetime, got %q", value)
	}
	return ts, nil
}
