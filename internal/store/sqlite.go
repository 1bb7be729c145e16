package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kpitrack/internal/kpi"
)

// SQLiteStore persists records in a single SQLite database file.
type SQLiteStore struct {
	DBPath string
	db     *sql.DB
	now    func() time.Time
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens or creates the store database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// One connection serializes writers; SQLite allows only one at a time anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{DBPath: absPath, db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS kpis (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	unit TEXT NOT NULL DEFAULT '',
	optimum_type TEXT NOT NULL,
	formula TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kpi_variables (
	kpi_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (kpi_id, position)
);

CREATE TABLE IF NOT EXISTS departments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS department_kpis (
	department_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	kpi_id TEXT NOT NULL,
	PRIMARY KEY (department_id, position)
);

CREATE TABLE IF NOT EXISTS people (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	department_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	kpi_id TEXT NOT NULL,
	scope_kind TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	year INTEGER NOT NULL,
	month INTEGER NOT NULL DEFAULT 0,
	quarter INTEGER NOT NULL DEFAULT 0,
	values_json TEXT NOT NULL,
	date_recorded TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_kpi_period ON entries(kpi_id, year, month);
CREATE INDEX IF NOT EXISTS idx_entries_scope ON entries(scope_kind, scope_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create store schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListKpis(ctx context.Context) ([]kpi.Kpi, error) {
	return listKpis(ctx, s.db)
}

func (s *SQLiteStore) ListDepartments(ctx context.Context) ([]kpi.Department, error) {
	return listDepartments(ctx, s.db)
}

func (s *SQLiteStore) ListPeople(ctx context.Context) ([]kpi.Person, error) {
	return listPeople(ctx, s.db)
}

func (s *SQLiteStore) ListEntries(ctx context.Context, filter EntryFilter) ([]kpi.Entry, error) {
	return listEntries(ctx, s.db, filter)
}

// Snapshot reads all four collections inside one transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*kpi.Dataset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	ds := &kpi.Dataset{}
	if ds.Kpis, err = listKpis(ctx, tx); err != nil {
		return nil, err
	}
	if ds.Departments, err = listDepartments(ctx, tx); err != nil {
		return nil, err
	}
	if ds.People, err = listPeople(ctx, tx); err != nil {
		return nil, err
	}
	if ds.Entries, err = listEntries(ctx, tx, EntryFilter{}); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *SQLiteStore) GetKpi(ctx context.Context, id string) (kpi.Kpi, error) {
	var k kpi.Kpi
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, unit, optimum_type, formula
		FROM kpis WHERE id = ?
	`, id).Scan(&k.ID, &k.Name, &k.Description, &k.Unit, &k.OptimumType, &k.Formula)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.Kpi{}, fmt.Errorf("kpi %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return kpi.Kpi{}, fmt.Errorf("get kpi: %w", err)
	}
	vars, err := listVariables(ctx, s.db, id)
	if err != nil {
		return kpi.Kpi{}, err
	}
	k.Variables = vars[id]
	return k, nil
}

func (s *SQLiteStore) GetPerson(ctx context.Context, id string) (kpi.Person, error) {
	var p kpi.Person
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, department_id FROM people WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Email, &p.DepartmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.Person{}, fmt.Errorf("person %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return kpi.Person{}, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetDepartment(ctx context.Context, id string) (kpi.Department, error) {
	var d kpi.Department
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM departments WHERE id = ?", id).Scan(&d.ID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.Department{}, fmt.Errorf("department %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return kpi.Department{}, fmt.Errorf("get department: %w", err)
	}
	links, err := listDepartmentKpis(ctx, s.db, id)
	if err != nil {
		return kpi.Department{}, err
	}
	d.KpiIDs = links[id]
	if d.KpiIDs == nil {
		d.KpiIDs = []string{}
	}
	return d, nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (kpi.Entry, error) {
	rows, err := s.db.QueryContext(ctx, entrySelect+" WHERE id = ?", id)
	if err != nil {
		return kpi.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return kpi.Entry{}, err
	}
	if len(entries) == 0 {
		return kpi.Entry{}, fmt.Errorf("entry %q: %w", id, ErrNotFound)
	}
	return entries[0], nil
}

func (s *SQLiteStore) SaveKpi(ctx context.Context, k kpi.Kpi) (kpi.Kpi, error) {
	k = prepareKpi(k)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return insertKpi(ctx, tx, k)
	})
	if err != nil {
		return kpi.Kpi{}, err
	}
	return k, nil
}

func (s *SQLiteStore) SavePerson(ctx context.Context, p kpi.Person) (kpi.Person, error) {
	p = preparePerson(p)
	if err := insertPerson(ctx, s.db, p); err != nil {
		return kpi.Person{}, err
	}
	return p, nil
}

func (s *SQLiteStore) SaveDepartment(ctx context.Context, d kpi.Department) (kpi.Department, error) {
	d = prepareDepartment(d)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return insertDepartment(ctx, tx, d)
	})
	if err != nil {
		return kpi.Department{}, err
	}
	return d, nil
}

func (s *SQLiteStore) SaveEntry(ctx context.Context, e kpi.Entry) (kpi.Entry, error) {
	e, err := prepareEntry(e, s.now())
	if err != nil {
		return kpi.Entry{}, err
	}
	if err := insertEntry(ctx, s.db, e); err != nil {
		return kpi.Entry{}, err
	}
	return e, nil
}

func (s *SQLiteStore) DeleteKpi(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kpi_variables WHERE kpi_id = ?", id); err != nil {
			return fmt.Errorf("delete kpi variables: %w", err)
		}
		return deleteByID(ctx, tx, "kpis", id)
	})
}

func (s *SQLiteStore) DeletePerson(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "people", id)
}

func (s *SQLiteStore) DeleteDepartment(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM department_kpis WHERE department_id = ?", id); err != nil {
			return fmt.Errorf("delete department kpis: %w", err)
		}
		return deleteByID(ctx, tx, "departments", id)
	})
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "entries", id)
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, ds *kpi.Dataset) error {
	if ds == nil {
		ds = &kpi.Dataset{}
	}
	replaceEntries := len(ds.Entries) > 0
	return s.inTx(ctx, func(tx *sql.Tx) error {
		tables := []string{"kpis", "kpi_variables", "departments", "department_kpis", "people"}
		if replaceEntries {
			tables = append(tables, "entries")
		}
		if err := clearTables(ctx, tx, tables); err != nil {
			return err
		}
		for _, k := range ds.Kpis {
			if err := insertKpi(ctx, tx, k); err != nil {
				return err
			}
		}
		for _, d := range ds.Departments {
			if err := insertDepartment(ctx, tx, d); err != nil {
				return err
			}
		}
		for _, p := range ds.People {
			if err := insertPerson(ctx, tx, p); err != nil {
				return err
			}
		}
		if !replaceEntries {
			return nil
		}
		for _, e := range ds.Entries {
			prepared, err := prepareEntry(e, s.now())
			if err != nil {
				return err
			}
			if err := insertEntry(ctx, tx, prepared); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return clearTables(ctx, tx, []string{"kpis", "kpi_variables", "departments", "department_kpis", "people", "entries"})
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func clearTables(ctx context.Context, q dbtx, tables []string) error {
	for _, table := range tables {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func deleteByID(ctx context.Context, q dbtx, table, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s row %q: %w", table, id, ErrNotFound)
	}
	return nil
}

func insertKpi(ctx context.Context, q dbtx, k kpi.Kpi) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO kpis (id, name, description, unit, optimum_type, formula)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			unit = excluded.unit,
			optimum_type = excluded.optimum_type,
			formula = excluded.formula
	`, k.ID, k.Name, k.Description, k.Unit, string(k.OptimumType), k.Formula)
	if err != nil {
		return fmt.Errorf("upsert kpi %q: %w", k.ID, err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM kpi_variables WHERE kpi_id = ?", k.ID); err != nil {
		return fmt.Errorf("replace kpi variables: %w", err)
	}
	for i, v := range k.Variables {
		_, err := q.ExecContext(ctx,
			"INSERT INTO kpi_variables (kpi_id, position, name, label) VALUES (?, ?, ?, ?)",
			k.ID, i, v.Name, v.Label,
		)
		if err != nil {
			return fmt.Errorf("insert kpi variable: %w", err)
		}
	}
	return nil
}

func insertDepartment(ctx context.Context, q dbtx, d kpi.Department) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO departments (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, d.ID, d.Name)
	if err != nil {
		return fmt.Errorf("upsert department %q: %w", d.ID, err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM department_kpis WHERE department_id = ?", d.ID); err != nil {
		return fmt.Errorf("replace department kpis: %w", err)
	}
	for i, kpiID := range d.KpiIDs {
		_, err := q.ExecContext(ctx,
			"INSERT INTO department_kpis (department_id, position, kpi_id) VALUES (?, ?, ?)",
			d.ID, i, kpiID,
		)
		if err != nil {
			return fmt.Errorf("insert department kpi: %w", err)
		}
	}
	return nil
}

func insertPerson(ctx context.Context, q dbtx, p kpi.Person) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO people (id, name, email, department_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department_id = excluded.department_id
	`, p.ID, p.Name, p.Email, p.DepartmentID)
	if err != nil {
		return fmt.Errorf("upsert person %q: %w", p.ID, err)
	}
	return nil
}

func insertEntry(ctx context.Context, q dbtx, e kpi.Entry) error {
	valuesJSON, err := json.Marshal(e.VariableValues)
	if err != nil {
		return fmt.Errorf("marshal variable values: %w", err)
	}
	if e.VariableValues == nil {
		valuesJSON = []byte("{}")
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO entries (id, kpi_id, scope_kind, scope_id, year, month, quarter, values_json, date_recorded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kpi_id = excluded.kpi_id,
			scope_kind = excluded.scope_kind,
			scope_id = excluded.scope_id,
			year = excluded.year,
			month = excluded.month,
			quarter = excluded.quarter,
			values_json = excluded.values_json,
			date_recorded = excluded.date_recorded
	`, e.ID, e.KpiID, string(e.Scope.Kind()), e.Scope.ID(),
		e.Period.Year, e.Period.Month, e.Period.Quarter,
		string(valuesJSON), e.DateRecorded.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert entry %q: %w", e.ID, err)
	}
	return nil
}

func listKpis(ctx context.Context, q dbtx) ([]kpi.Kpi, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, description, unit, optimum_type, formula
		FROM kpis ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("query kpis: %w", err)
	}
	defer rows.Close()

	kpis := []kpi.Kpi{}
	for rows.Next() {
		var k kpi.Kpi
		if err := rows.Scan(&k.ID, &k.Name, &k.Description, &k.Unit, &k.OptimumType, &k.Formula); err != nil {
			return nil, fmt.Errorf("scan kpi: %w", err)
		}
		kpis = append(kpis, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kpis: %w", err)
	}
	rows.Close()

	vars, err := listVariables(ctx, q, "")
	if err != nil {
		return nil, err
	}
	for i := range kpis {
		kpis[i].Variables = vars[kpis[i].ID]
		if kpis[i].Variables == nil {
			kpis[i].Variables = []kpi.Variable{}
		}
	}
	return kpis, nil
}

// listVariables returns variables grouped by kpi id; an empty kpiID loads all.
func listVariables(ctx context.Context, q dbtx, kpiID string) (map[string][]kpi.Variable, error) {
	query := "SELECT kpi_id, name, label FROM kpi_variables"
	var args []any
	if kpiID != "" {
		query += " WHERE kpi_id = ?"
		args = append(args, kpiID)
	}
	query += " ORDER BY kpi_id, position"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query kpi variables: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]kpi.Variable)
	for rows.Next() {
		var id string
		var v kpi.Variable
		if err := rows.Scan(&id, &v.Name, &v.Label); err != nil {
			return nil, fmt.Errorf("scan kpi variable: %w", err)
		}
		out[id] = append(out[id], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kpi variables: %w", err)
	}
	return out, nil
}

func listDepartments(ctx context.Context, q dbtx) ([]kpi.Department, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name FROM departments ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	defer rows.Close()

	departments := []kpi.Department{}
	for rows.Next() {
		var d kpi.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	rows.Close()

	links, err := listDepartmentKpis(ctx, q, "")
	if err != nil {
		return nil, err
	}
	for i := range departments {
		departments[i].KpiIDs = links[departments[i].ID]
		if departments[i].KpiIDs == nil {
			departments[i].KpiIDs = []string{}
		}
	}
	return departments, nil
}

func listDepartmentKpis(ctx context.Context, q dbtx, departmentID string) (map[string][]string, error) {
	query := "SELECT department_id, kpi_id FROM department_kpis"
	var args []any
	if departmentID != "" {
		query += " WHERE department_id = ?"
		args = append(args, departmentID)
	}
	query += " ORDER BY department_id, position"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query department kpis: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var deptID, kpiID string
		if err := rows.Scan(&deptID, &kpiID); err != nil {
			return nil, fmt.Errorf("scan department kpi: %w", err)
		}
		out[deptID] = append(out[deptID], kpiID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate department kpis: %w", err)
	}
	return out, nil
}

func listPeople(ctx context.Context, q dbtx) ([]kpi.Person, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name, email, department_id FROM people ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	people := []kpi.Person{}
	for rows.Next() {
		var p kpi.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.DepartmentID); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return people, nil
}

const entrySelect = `
	SELECT id, kpi_id, scope_kind, scope_id, year, month, quarter, values_json, date_recorded
	FROM entries`

func listEntries(ctx context.Context, q dbtx, filter EntryFilter) ([]kpi.Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.KpiID != "" {
		clauses = append(clauses, "kpi_id = ?")
		args = append(args, filter.KpiID)
	}
	if filter.PersonID != "" {
		clauses = append(clauses, "scope_kind = ? AND scope_id = ?")
		args = append(args, string(kpi.ScopePerson), filter.PersonID)
	}
	if filter.DepartmentID != "" {
		clauses = append(clauses, "scope_kind = ? AND scope_id = ?")
		args = append(args, string(kpi.ScopeDepartment), filter.DepartmentID)
	}
	if filter.Period != nil {
		clauses = append(clauses, "year = ?")
		args = append(args, filter.Period.Year)
		if filter.Period.Month > 0 {
			clauses = append(clauses, "month = ?")
			args = append(args, filter.Period.Month)
		}
	}
	query := entrySelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if filter.Period == nil || filter.Period.Quarter == 0 {
		return entries, nil
	}
	// Quarter may be derived from month, so it is matched in Go.
	matched := entries[:0]
	for _, e := range entries {
		if filter.Match(e) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func scanEntries(rows *sql.Rows) ([]kpi.Entry, error) {
	entries := []kpi.Entry{}
	for rows.Next() {
		var (
			e            kpi.Entry
			scopeKind    string
			scopeID      string
			valuesJSON   string
			dateRecorded string
		)
		err := rows.Scan(&e.ID, &e.KpiID, &scopeKind, &scopeID,
			&e.Period.Year, &e.Period.Month, &e.Period.Quarter,
			&valuesJSON, &dateRecorded)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		switch kpi.ScopeKind(scopeKind) {
		case kpi.ScopePerson:
			e.Scope = kpi.PersonScope(scopeID)
		case kpi.ScopeDepartment:
			e.Scope = kpi.DepartmentScope(scopeID)
		}
		if err := json.Unmarshal([]byte(valuesJSON), &e.VariableValues); err != nil {
			return nil, fmt.Errorf("decode values for entry %q: %w", e.ID, err)
		}
		if e.DateRecorded, err = time.Parse(time.RFC3339Nano, dateRecorded); err != nil {
			return nil, fmt.Errorf("decode date for entry %q: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
