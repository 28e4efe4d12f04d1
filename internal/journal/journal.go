// Package journal is the local SQLite record of processed files, uploads
// and purchase-order validations. Uploads are keyed by content hash so a
// file re-processed after a crash is not attached twice.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id TEXT PRIMARY KEY,
	folder TEXT NOT NULL,
	source_path TEXT NOT NULL,
	final_path TEXT,
	state TEXT NOT NULL,
	reason TEXT,
	segments INTEGER NOT NULL DEFAULT 0,
	uploads INTEGER NOT NULL DEFAULT 0,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_recorded ON outcomes(recorded_at);

CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL,
	order_id INTEGER NOT NULL,
	report_type TEXT NOT NULL,
	file_name TEXT NOT NULL,
	work_order TEXT,
	source_path TEXT,
	recorded_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_uploads_dedupe ON uploads(content_hash, order_id, report_type);

CREATE TABLE IF NOT EXISTS validations (
	id TEXT PRIMARY KEY,
	folder TEXT,
	document_name TEXT NOT NULL,
	order_id INTEGER NOT NULL,
	po_number TEXT,
	status TEXT NOT NULL,
	outcome TEXT,
	result_json TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validations_recorded ON validations(recorded_at);
`

// Journal wraps the SQLite database.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal at path. ":memory:" is accepted.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Outcome is one file's terminal record.
type Outcome struct {
	ID         string    `json:"id"`
	Folder     string    `json:"folder"`
	SourcePath string    `json:"source_path"`
	FinalPath  string    `json:"final_path,omitempty"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Segments   int       `json:"segments"`
	Uploads    int       `json:"uploads"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordOutcome stores o, assigning an id and timestamp when empty.
func (j *Journal) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = j.now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO outcomes (id, folder, source_path, final_path, state, reason, segments, uploads, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Folder, o.SourcePath, o.FinalPath, o.State, o.Reason, o.Segments, o.Uploads, o.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (j *Journal) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, folder, source_path, COALESCE(final_path, ''), state, COALESCE(reason, ''), segments, uploads, recorded_at
		FROM outcomes ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var ts int64
		if err := rows.Scan(&o.ID, &o.Folder, &o.SourcePath, &o.FinalPath, &o.State, &o.Reason, &o.Segments, &o.Uploads, &ts); err != nil {
			return nil, err
		}
		o.RecordedAt = time.UnixMilli(ts).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// Upload is a document attached to a service order.
type Upload struct {
	ContentHash string    `json:"content_hash"`
	OrderID     int64     `json:"order_id"`
	ReportType  string    `json:"report_type"`
	FileName    string    `json:"file_name"`
	WorkOrder   string    `json:"work_order,omitempty"`
	SourcePath  string    `json:"source_path,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// RecordUpload stores u. A repeat of the same content, order and report
// type keeps the first record.
func (j *Journal) RecordUpload(ctx context.Context, u *Upload) error {
	if u.RecordedAt.IsZero() {
		u.RecordedAt = j.now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO uploads (content_hash, order_id, report_type, file_name, work_order, source_path, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ContentHash, u.OrderID, u.ReportType, u.FileName, u.WorkOrder, u.SourcePath, u.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// FindUpload returns the earlier upload of the same content to the same
// order and report type, if any.
func (j *Journal) FindUpload(ctx context.Context, hash string, orderID int64, reportType string) (*Upload, bool, error) {
	u := Upload{ContentHash: hash, OrderID: orderID, ReportType: reportType}
	var ts int64
	err := j.db.QueryRowContext(ctx, `
		SELECT file_name, COALESCE(work_order, ''), COALESCE(source_path, ''), recorded_at
		FROM uploads WHERE content_hash = ? AND order_id = ? AND report_type = ?`,
		hash, orderID, reportType).Scan(&u.FileName, &u.WorkOrder, &u.SourcePath, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find upload: %w", err)
	}
	u.RecordedAt = time.UnixMilli(ts).UTC()
	return &u, true, nil
}

// Validation is a stored purchase-order validation.
type Validation struct {
	ID         string            `json:"id"`
	Folder     string            `json:"folder,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	Result     povalidate.Result `json:"result"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// RecordValidation stores v.
func (j *Journal) RecordValidation(ctx context.Context, v *Validation) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = j.now().UTC()
	}
	raw, err := json.Marshal(v.Result)
	if err != nil {
		return fmt.Errorf("encode validation: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO validations (id, folder, document_name, order_id, po_number, status, outcome, result_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Folder, v.Result.DocumentName, v.Result.OrderID, v.Result.PONumber, string(v.Result.Status), v.Outcome, string(raw), v.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	return nil
}

// ValidationFilter narrows Validations. Zero fields match everything.
type ValidationFilter struct {
	Since  time.Time
	Status povalidate.Status
	Limit  int
}

// Validations returns stored validations, newest first.
func (j *Journal) Validations(ctx context.Context, f ValidationFilter) ([]Validation, error) {
	query := `SELECT id, COALESCE(folder, ''), COALESCE(outcome, ''), result_json, recorded_at FROM validations WHERE recorded_at >= ?`
	args := []any{f.Since.UnixMilli()}
	if f.Since.IsZero() {
		args[0] = int64(0)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY recorded_at DESC, rowid DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query validations: %w", err)
	}
	defer rows.Close()

	var out []Validation
	for rows.Next() {
		var v Validation
		var raw string
		var ts int64
		if err := rows.Scan(&v.ID, &v.Folder, &v.Outcome, &raw, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &v.Result); err != nil {
			return nil, fmt.Errorf("decode validation %s: %w", v.ID, err)
		}
		v.RecordedAt = time.UnixMilli(ts).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
