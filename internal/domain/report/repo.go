package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no report matches.
var ErrNotFound = errors.New("report not found")

// Filter narrows a report listing. Zero values do not filter.
type Filter struct {
	PatientID       string
	GlobalPatientID string
	ReporterID      string
	Status          Status
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	OrderBy         string
}

// orderColumns whitelists sortable columns. A leading "-" sorts descending.
var orderColumns = map[string]string{
	"created_at":  "created_at",
	"-created_at": "created_at DESC",
	"updated_at":  "updated_at",
	"-updated_at": "updated_at DESC",
	"patient_id":  "patient_id",
	"-patient_id": "patient_id DESC",
	"status":      "status",
	"-status":     "status DESC",
}

const defaultOrder = "-created_at"

// OrderClause returns the SQL ORDER BY expression for an order key.
func OrderClause(order string) (string, error) {
	if order == "" {
		order = defaultOrder
	}
	clause, ok := orderColumns[order]
	if !ok {
		return "", fmt.Errorf("invalid order: %s", order)
	}
	return clause + ", id", nil
}

// Repository persists reports. Create, Update and the analysis/cancel
// writes are separate atomic statements.
type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	// Update writes only status, derived values, age and updated_at.
	Update(ctx context.Context, r *Report) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error)
	// Latest returns the newest report by created_at for a global patient
	// id, optionally limited to one reporter.
	Latest(ctx context.Context, globalPatientID string, reporterID *string) (*Report, error)
}
