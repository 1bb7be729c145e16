package store

import (
	"context"
	"sync"
	"time"

	"kpitrack/internal/kpi"
)

// MemoryStore is an in-process Store. Records keep insertion order and every
// read returns deep copies.
type MemoryStore struct {
	mu          sync.RWMutex
	kpis        []kpi.Kpi
	people      []kpi.Person
	departments []kpi.Department
	entries     []kpi.Entry
	now         func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// NewMemoryStoreFrom returns a MemoryStore seeded with a copy of ds.
func NewMemoryStoreFrom(ds *kpi.Dataset) *MemoryStore {
	m := NewMemoryStore()
	if ds != nil {
		m.load(ds, true)
	}
	return m
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) ListKpis(_ context.Context) ([]kpi.Kpi, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kpi.Kpi, 0, len(m.kpis))
	for _, k := range m.kpis {
		out = append(out, cloneKpi(k))
	}
	return out, nil
}

func (m *MemoryStore) ListDepartments(_ context.Context) ([]kpi.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kpi.Department, 0, len(m.departments))
	for _, d := range m.departments {
		out = append(out, cloneDepartment(d))
	}
	return out, nil
}

func (m *MemoryStore) ListPeople(_ context.Context) ([]kpi.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]kpi.Person{}, m.people...), nil
}

func (m *MemoryStore) ListEntries(_ context.Context, filter EntryFilter) ([]kpi.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []kpi.Entry{}
	for _, e := range m.entries {
		if filter.Match(e) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (*kpi.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds := &kpi.Dataset{
		People:      append([]kpi.Person{}, m.people...),
		Departments: make([]kpi.Department, 0, len(m.departments)),
		Kpis:        make([]kpi.Kpi, 0, len(m.kpis)),
		Entries:     make([]kpi.Entry, 0, len(m.entries)),
	}
	for _, d := range m.departments {
		ds.Departments = append(ds.Departments, cloneDepartment(d))
	}
	for _, k := range m.kpis {
		ds.Kpis = append(ds.Kpis, cloneKpi(k))
	}
	for _, e := range m.entries {
		ds.Entries = append(ds.Entries, e.Clone())
	}
	return ds, nil
}

func (m *MemoryStore) GetKpi(_ context.Context, id string) (kpi.Kpi, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.kpis {
		if k.ID == id {
			return cloneKpi(k), nil
		}
	}
	return kpi.Kpi{}, ErrNotFound
}

func (m *MemoryStore) GetPerson(_ context.Context, id string) (kpi.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.people {
		if p.ID == id {
			return p, nil
		}
	}
	return kpi.Person{}, ErrNotFound
}

func (m *MemoryStore) GetDepartment(_ context.Context, id string) (kpi.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.departments {
		if d.ID == id {
			return cloneDepartment(d), nil
		}
	}
	return kpi.Department{}, ErrNotFound
}

func (m *MemoryStore) GetEntry(_ context.Context, id string) (kpi.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e.Clone(), nil
		}
	}
	return kpi.Entry{}, ErrNotFound
}

func (m *MemoryStore) SaveKpi(_ context.Context, k kpi.Kpi) (kpi.Kpi, error) {
	k = prepareKpi(k)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kpis = upsert(m.kpis, k, func(x kpi.Kpi) string { return x.ID })
	return cloneKpi(k), nil
}

func (m *MemoryStore) SavePerson(_ context.Context, p kpi.Person) (kpi.Person, error) {
	p = preparePerson(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people = upsert(m.people, p, func(x kpi.Person) string { return x.ID })
	return p, nil
}

func (m *MemoryStore) SaveDepartment(_ context.Context, d kpi.Department) (kpi.Department, error) {
	d = prepareDepartment(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.departments = upsert(m.departments, d, func(x kpi.Department) string { return x.ID })
	return cloneDepartment(d), nil
}

func (m *MemoryStore) SaveEntry(_ context.Context, e kpi.Entry) (kpi.Entry, error) {
	e, err := prepareEntry(e, m.now())
	if err != nil {
		return kpi.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = upsert(m.entries, e, func(x kpi.Entry) string { return x.ID })
	return e.Clone(), nil
}

func (m *MemoryStore) DeleteKpi(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.kpis, ok = remove(m.kpis, id, func(x kpi.Kpi) string { return x.ID })
	return found(ok)
}

func (m *MemoryStore) DeletePerson(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.people, ok = remove(m.people, id, func(x kpi.Person) string { return x.ID })
	return found(ok)
}

func (m *MemoryStore) DeleteDepartment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.departments, ok = remove(m.departments, id, func(x kpi.Department) string { return x.ID })
	return found(ok)
}

func (m *MemoryStore) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	m.entries, ok = remove(m.entries, id, func(x kpi.Entry) string { return x.ID })
	return found(ok)
}

func (m *MemoryStore) ReplaceAll(_ context.Context, ds *kpi.Dataset) error {
	if ds == nil {
		ds = &kpi.Dataset{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load(ds, len(ds.Entries) > 0)
	return nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kpis, m.people, m.departments, m.entries = nil, nil, nil, nil
	return nil
}

func (m *MemoryStore) load(ds *kpi.Dataset, withEntries bool) {
	m.kpis = make([]kpi.Kpi, 0, len(ds.Kpis))
	for _, k := range ds.Kpis {
		m.kpis = append(m.kpis, cloneKpi(k))
	}
	m.people = append([]kpi.Person{}, ds.People...)
	m.departments = make([]kpi.Department, 0, len(ds.Departments))
	for _, d := range ds.Departments {
		m.departments = append(m.departments, cloneDepartment(d))
	}
	if !withEntries {
		return
	}
	m.entries = make([]kpi.Entry, 0, len(ds.Entries))
	for _, e := range ds.Entries {
		m.entries = append(m.entries, e.Clone())
	}
}

func upsert[T any](items []T, item T, id func(T) string) []T {
	for i := range items {
		if id(items[i]) == id(item) {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func remove[T any](items []T, target string, id func(T) string) ([]T, bool) {
	for i := range items {
		if id(items[i]) == target {
			return append(items[:i], items[i+1:]...), true
		}
	}
	return items, false
}

func found(ok bool) error {
	if !ok {
		return ErrNotFound
	}
	return nil
}
