package localdb

import (
	"database/sql"
	"fmt"
	"time"
)

// JobRecord is one row of print job history.
type JobRecord struct {
	ID           string
	DeviceName   string
	Model        string
	RecordsTotal int
	RecordsDone  int
	Status       string // running / done / failed / cancelled
	Error        string
	StartedAt    time.Time
}

// JobLog persists print job history.
type JobLog struct {
	db *sql.DB
}

func NewJobLog(db *sql.DB) *JobLog {
	return &JobLog{db: db}
}

// Start records a new running job.
func (l *JobLog) Start(id, deviceName, model string, recordsTotal int) error {
	_, err := l.db.Exec(
		`INSERT INTO print_jobs (id, device_name, model, records_total) VALUES (?, ?, ?, ?)`,
		id, deviceName, model, recordsTotal,
	)
	if err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}
	return nil
}

// Finish marks a job's final state.
func (l *JobLog) Finish(id, status string, recordsDone int, jobErr error) error {
	errText := ""
	if jobErr != nil {
		errText = jobErr.Error()
	}
	_, err := l.db.Exec(
		`UPDATE print_jobs SET status = ?, records_done = ?, error = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, recordsDone, errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record job finish: %w", err)
	}
	return nil
}

// Recent returns the latest jobs, newest first.
func (l *JobLog) Recent(limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(
		`SELECT id, COALESCE(device_name,''), COALESCE(model,''), records_total, records_done, status, COALESCE(error,''), started_at
		 FROM print_jobs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query print jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var r JobRecord
		if err := rows.Scan(&r.ID, &r.DeviceName, &r.Model, &r.RecordsTotal, &r.RecordsDone, &r.Status, &r.Error, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan print job row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
