package report

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the analysis state of a report.
type Status string

const (
	StatusUnanalyzed Status = "UNANALYZED"
	StatusAnalyzed   Status = "ANALYZED"
	StatusCancelled  Status = "CANCELLED"
	StatusSuspect    Status = "SUSPECT"
	StatusIncomplete Status = "INCOMPLETE"
	// StatusError marks a report whose analysis failed for a reason other
	// than the measurements themselves.
	StatusError Status = "ERROR"
)

var validStatuses = map[Status]bool{
	StatusUnanalyzed: true, StatusAnalyzed: true, StatusCancelled: true,
	StatusSuspect: true, StatusIncomplete: true, StatusError: true,
}

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, validStatuses[st]
}

// Report is one anthropometric submission for one patient.
type Report struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
	Status           Status           `db:"status" json:"status"`
	PatientID        string           `db:"patient_id" json:"patient_id"`
	GlobalPatientID  string           `db:"global_patient_id" json:"global_patient_id"`
	ReporterID       *string          `db:"reporter_id" json:"reporter_id,omitempty"`
	GlobalReporterID *string          `db:"global_reporter_id" json:"global_reporter_id,omitempty"`
	Height           *decimal.Decimal `db:"height" json:"height,omitempty"`
	Weight           *decimal.Decimal `db:"weight" json:"weight,omitempty"`
	MUAC             *decimal.Decimal `db:"muac" json:"muac,omitempty"`
	Oedema           *bool            `db:"oedema" json:"oedema,omitempty"`
	AgeInMonths      *int             `db:"age_in_months" json:"age_in_months,omitempty"`
	WeightForAge     *decimal.Decimal `db:"weight4age" json:"weight4age,omitempty"`
	HeightForAge     *decimal.Decimal `db:"height4age" json:"height4age,omitempty"`
	WeightForHeight  *decimal.Decimal `db:"weight4height" json:"weight4height,omitempty"`
	RawText          string           `db:"raw_text" json:"raw_text"`
}

// Indicators holds the validated raw measurements of a submission.
type Indicators struct {
	Height *decimal.Decimal
	Weight *decimal.Decimal
	MUAC   *decimal.Decimal
	Oedema *bool
}

func (r *Report) Indicators() Indicators {
	return Indicators{Height: r.Height, Weight: r.Weight, MUAC: r.MUAC, Oedema: r.Oedema}
}

func (r *Report) clearDerived() {
	r.AgeInMonths = nil
	r.WeightForAge = nil
	r.HeightForAge = nil
	r.WeightForHeight = nil
}

// HasDerived reports whether any z-score is set.
func (r *Report) HasDerived() bool {
	return r.WeightForAge != nil || r.HeightForAge != nil || r.WeightForHeight != nil
}
