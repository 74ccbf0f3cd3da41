package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nutrition_report (
    id                 TEXT PRIMARY KEY,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'UNANALYZED',
    patient_id         TEXT NOT NULL,
    global_patient_id  TEXT NOT NULL,
    reporter_id        TEXT,
    global_reporter_id TEXT,
    height             TEXT,
    weight             TEXT,
    muac               TEXT,
    oedema             INTEGER,
    age_in_months      INTEGER,
    weight4age         TEXT,
    height4age         TEXT,
    weight4height      TEXT,
    raw_text           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_nutrition_report_global_patient
    ON nutrition_report (global_patient_id, created_at);
CREATE INDEX IF NOT EXISTS idx_nutrition_report_status ON nutrition_report (status);
`

// EnsureSQLiteSchema creates the report table if it does not exist.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

type reportRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewReportRepoSQLite(db *sql.DB) Repository {
	return &reportRepoSQLite{db: db, now: time.Now}
}

func (r *reportRepoSQLite) timestamp() (time.Time, string) {
	t := r.now().UTC()
	return t, t.Format(sqliteTimeFormat)
}

func (r *reportRepoSQLite) scanReport(row interface{ Scan(...interface{}) error }) (*Report, error) {
	var rp Report
	var created, updated, status string
	var reporter, globalReporter sql.NullString
	var height, weight, muac, wfa, hfa, wfh decimal.NullDecimal
	var oedema sql.NullBool
	var age sql.NullInt64
	err := row.Scan(&rp.ID, &created, &updated, &status, &rp.PatientID, &rp.GlobalPatientID,
		&reporter, &globalReporter, &height, &weight, &muac, &oedema,
		&age, &wfa, &hfa, &wfh, &rp.RawText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rp.CreatedAt, err = time.Parse(sqliteTimeFormat, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rp.UpdatedAt, err = time.Parse(sqliteTimeFormat, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	rp.Status = Status(status)
	if reporter.Valid {
		rp.ReporterID = &reporter.String
	}
	if globalReporter.Valid {
		rp.GlobalReporterID = &globalReporter.String
	}
	if oedema.Valid {
		rp.Oedema = &oedema.Bool
	}
	if age.Valid {
		a := int(age.Int64)
		rp.AgeInMonths = &a
	}
	rp.Height, rp.Weight, rp.MUAC = fromNull(height), fromNull(weight), fromNull(muac)
	rp.WeightForAge, rp.HeightForAge, rp.WeightForHeight = fromNull(wfa), fromNull(hfa), fromNull(wfh)
	return &rp, nil
}

func (r *reportRepoSQLite) Create(ctx context.Context, rp *Report) error {
	rp.ID = uuid.New()
	t, ts := r.timestamp()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nutrition_report (id, created_at, updated_at, status, patient_id, global_patient_id,
			reporter_id, global_reporter_id, height, weight, muac, oedema,
			age_in_months, weight4age, height4age, weight4height, raw_text)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rp.ID.String(), ts, ts, string(rp.Status), rp.PatientID, rp.GlobalPatientID,
		rp.ReporterID, rp.GlobalReporterID, toNull(rp.Height), toNull(rp.Weight), toNull(rp.MUAC), rp.Oedema,
		rp.AgeInMonths, toNull(rp.WeightForAge), toNull(rp.HeightForAge), toNull(rp.WeightForHeight), rp.RawText)
	if err != nil {
		return err
	}
	rp.CreatedAt, rp.UpdatedAt = t, t
	return nil
}

func (r *reportRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return r.scanReport(r.db.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM nutrition_report WHERE id = ?`, id.String()))
}

func (r *reportRepoSQLite) Update(ctx context.Context, rp *Report) error {
	t, ts := r.timestamp()
	res, err := r.db.ExecContext(ctx, `
		UPDATE nutrition_report SET status=?, age_in_months=?, weight4age=?,
			height4age=?, weight4height=?, updated_at=?
		WHERE id = ?`,
		string(rp.Status), rp.AgeInMonths, toNull(rp.WeightForAge), toNull(rp.HeightForAge), toNull(rp.WeightForHeight),
		ts, rp.ID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	rp.UpdatedAt = t
	return nil
}

func (r *reportRepoSQLite) List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
	order, err := OrderClause(f.OrderBy)
	if err != nil {
		return nil, 0, err
	}
	where, args := sqliteWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nutrition_report`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportCols+` FROM nutrition_report`+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rp, err := r.scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rp)
	}
	return items, total, rows.Err()
}

func (r *reportRepoSQLite) Latest(ctx context.Context, globalPatientID string, reporterID *string) (*Report, error) {
	f := Filter{GlobalPatientID: globalPatientID}
	if reporterID != nil {
		f.ReporterID = *reporterID
	}
	where, args := sqliteWhere(f)
	return r.scanReport(r.db.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM nutrition_report`+where+` ORDER BY created_at DESC, rowid DESC LIMIT 1`, args...))
}

func sqliteWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.PatientID != "" {
		conds = append(conds, "patient_id = ?")
		args = append(args, f.PatientID)
	}
	if f.GlobalPatientID != "" {
		conds = append(conds, "global_patient_id = ?")
		args = append(args, f.GlobalPatientID)
	}
	if f.ReporterID != "" {
		conds = append(conds, "(reporter_id = ? OR global_reporter_id = ?)")
		args = append(args, f.ReporterID, f.ReporterID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.CreatedFrom != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.CreatedFrom.UTC().Format(sqliteTimeFormat))
	}
	if f.CreatedTo != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, f.CreatedTo.UTC().Format(sqliteTimeFormat))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
