package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nutrition/nutrition/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) Repository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reportCols = `id, created_at, updated_at, status, patient_id, global_patient_id,
	reporter_id, global_reporter_id, height, weight, muac, oedema,
	age_in_months, weight4age, height4age, weight4height, raw_text`

func (r *reportRepoPG) scanReport(row pgx.Row) (*Report, error) {
	var rp Report
	var height, weight, muac, wfa, hfa, wfh decimal.NullDecimal
	err := row.Scan(&rp.ID, &rp.CreatedAt, &rp.UpdatedAt, &rp.Status, &rp.PatientID, &rp.GlobalPatientID,
		&rp.ReporterID, &rp.GlobalReporterID, &height, &weight, &muac, &rp.Oedema,
		&rp.AgeInMonths, &wfa, &hfa, &wfh, &rp.RawText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rp.Height, rp.Weight, rp.MUAC = fromNull(height), fromNull(weight), fromNull(muac)
	rp.WeightForAge, rp.HeightForAge, rp.WeightForHeight = fromNull(wfa), fromNull(hfa), fromNull(wfh)
	return &rp, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rp *Report) error {
	rp.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO nutrition_report (id, status, patient_id, global_patient_id,
			reporter_id, global_reporter_id, height, weight, muac, oedema,
			age_in_months, weight4age, height4age, weight4height, raw_text)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		rp.ID, rp.Status, rp.PatientID, rp.GlobalPatientID,
		rp.ReporterID, rp.GlobalReporterID, toNull(rp.Height), toNull(rp.Weight), toNull(rp.MUAC), rp.Oedema,
		rp.AgeInMonths, toNull(rp.WeightForAge), toNull(rp.HeightForAge), toNull(rp.WeightForHeight), rp.RawText,
	).Scan(&rp.CreatedAt, &rp.UpdatedAt)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return r.scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM nutrition_report WHERE id = $1`, id))
}

func (r *reportRepoPG) Update(ctx context.Context, rp *Report) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE nutrition_report SET status=$2, age_in_months=$3, weight4age=$4,
			height4age=$5, weight4height=$6, updated_at=NOW()
		WHERE id = $1`,
		rp.ID, rp.Status, rp.AgeInMonths, toNull(rp.WeightForAge), toNull(rp.HeightForAge), toNull(rp.WeightForHeight))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return r.conn(ctx).QueryRow(ctx, `SELECT updated_at FROM nutrition_report WHERE id = $1`, rp.ID).Scan(&rp.UpdatedAt)
}

func (r *reportRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
	order, err := OrderClause(f.OrderBy)
	if err != nil {
		return nil, 0, err
	}
	where, args := pgWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM nutrition_report`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM nutrition_report%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		reportCols, where, order, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
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

func (r *reportRepoPG) Latest(ctx context.Context, globalPatientID string, reporterID *string) (*Report, error) {
	f := Filter{GlobalPatientID: globalPatientID}
	if reporterID != nil {
		f.ReporterID = *reporterID
	}
	where, args := pgWhere(f)
	return r.scanReport(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reportCols+` FROM nutrition_report`+where+` ORDER BY created_at DESC, id DESC LIMIT 1`, args...))
}

func pgWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.GlobalPatientID != "" {
		add("global_patient_id = $%d", f.GlobalPatientID)
	}
	if f.ReporterID != "" {
		add("(reporter_id = $%[1]d OR global_reporter_id = $%[1]d)", f.ReporterID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at < $%d", *f.CreatedTo)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func toNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNull(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
