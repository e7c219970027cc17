package localdb

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestDeviceMappingRoundTrip(t *testing.T) {
	m := NewDeviceMappings(setupTestDB(t))

	if _, _, ok, err := m.Lookup("XYZPrinter"); err != nil || ok {
		t.Fatalf("empty lookup = ok:%v err:%v, want miss", ok, err)
	}

	if err := m.Save("XYZPrinter", "M260", 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	model, width, ok, err := m.Lookup("XYZPrinter")
	if err != nil || !ok {
		t.Fatalf("lookup after save = ok:%v err:%v", ok, err)
	}
	if model != "M260" || width != 0 {
		t.Fatalf("lookup = %s/%d, want M260/0", model, width)
	}

	// Re-saving replaces the previous choice.
	if err := m.Save("XYZPrinter", "P12", 15); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	model, width, _, _ = m.Lookup("XYZPrinter")
	if model != "P12" || width != 15 {
		t.Fatalf("lookup after re-save = %s/%d, want P12/15", model, width)
	}

	if err := m.Delete("XYZPrinter"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, ok, _ := m.Lookup("XYZPrinter"); ok {
		t.Fatal("mapping survived delete")
	}
}

func TestJobLogLifecycle(t *testing.T) {
	l := NewJobLog(setupTestDB(t))

	if err := l.Start("job1", "M260_AABB", "M260", 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Finish("job1", "failed", 2, errors.New("write failed")); err != nil {
		t.Fatalf("finish: %v", err)
	}

	jobs, err := l.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	j := jobs[0]
	if j.ID != "job1" || j.Status != "failed" || j.RecordsDone != 2 || j.RecordsTotal != 5 {
		t.Fatalf("job = %+v", j)
	}
	if j.Error != "write failed" {
		t.Fatalf("job error = %q", j.Error)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	if _, ok, err := GetSetting(db, "density"); err != nil || ok {
		t.Fatalf("unset setting = ok:%v err:%v", ok, err)
	}
	if err := SetSetting(db, "density", "5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := GetSetting(db, "density")
	if err != nil || !ok || v != "5" {
		t.Fatalf("get = %q/%v/%v", v, ok, err)
	}
}
