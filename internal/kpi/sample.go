package kpi

import "time"

// SampleDataset returns a small starter catalog with one entry per person
// recorded in the month containing now.
func SampleDataset(now time.Time) *Dataset {
	now = now.UTC()
	sales := Department{ID: NewID(), Name: "Sales"}
	marketing := Department{ID: NewID(), Name: "Marketing"}

	salesKpi := Kpi{
		ID:          NewID(),
		Name:        "Sales Target Achievement",
		Description: "Percentage of sales target achieved",
		Unit:        "%",
		OptimumType: OptimumHigher,
		Variables: []Variable{
			{Name: "actual", Label: "Actual Sales"},
			{Name: "target", Label: "Sales Target"},
		},
		Formula: "(actual / target) * 100",
	}
	customerKpi := Kpi{
		ID:          NewID(),
		Name:        "Customer Satisfaction",
		Description: "Average customer satisfaction score (1-10)",
		Unit:        "points",
		OptimumType: OptimumHigher,
		Variables: []Variable{
			{Name: "score", Label: "Satisfaction Score"},
			{Name: "responses", Label: "Number of Responses"},
		},
		Formula: "score / responses",
	}
	sales.KpiIDs = []string{salesKpi.ID, customerKpi.ID}
	marketing.KpiIDs = []string{customerKpi.ID}

	john := Person{ID: NewID(), Name: "John Doe", Email: "john.doe@example.com", DepartmentID: sales.ID}
	jane := Person{ID: NewID(), Name: "Jane Smith", Email: "jane.smith@example.com", DepartmentID: marketing.ID}

	period := PeriodOf(now)
	return &Dataset{
		People:      []Person{john, jane},
		Departments: []Department{sales, marketing},
		Kpis:        []Kpi{salesKpi, customerKpi},
		Entries: []Entry{
			{
				ID:             NewID(),
				KpiID:          salesKpi.ID,
				Scope:          PersonScope(john.ID),
				Period:         period,
				VariableValues: map[string]float64{"actual": 85000, "target": 100000},
				DateRecorded:   now,
			},
			{
				ID:             NewID(),
				KpiID:          customerKpi.ID,
				Scope:          PersonScope(jane.ID),
				Period:         period,
				VariableValues: map[string]float64{"score": 450, "responses": 50},
				DateRecorded:   now,
			},
		},
	}
}
