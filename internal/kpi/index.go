package kpi

// Index provides id lookups over a Dataset. It does not copy the dataset and
// must not outlive changes to it.
type Index struct {
	kpis        map[string]Kpi
	people      map[string]Person
	departments map[string]Department
}

// NewIndex builds lookups for ds. Later duplicates of an id win.
func NewIndex(ds *Dataset) *Index {
	idx := &Index{
		kpis:        make(map[string]Kpi),
		people:      make(map[string]Person),
		departments: make(map[string]Department),
	}
	if ds == nil {
		return idx
	}
	for _, k := range ds.Kpis {
		idx.kpis[k.ID] = k
	}
	for _, p := range ds.People {
		idx.people[p.ID] = p
	}
	for _, d := range ds.Departments {
		idx.departments[d.ID] = d
	}
	return idx
}

// Kpi returns the KPI with id, if present.
func (idx *Index) Kpi(id string) (Kpi, bool) {
	k, ok := idx.kpis[id]
	return k, ok
}

// Person returns the person with id, if present.
func (idx *Index) Person(id string) (Person, bool) {
	p, ok := idx.people[id]
	return p, ok
}

// Department returns the department with id, if present.
func (idx *Index) Department(id string) (Department, bool) {
	d, ok := idx.departments[id]
	return d, ok
}
