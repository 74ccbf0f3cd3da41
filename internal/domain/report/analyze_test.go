package report

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nutrition/nutrition/internal/growth"
	"github.com/nutrition/nutrition/internal/registry"
)

var reportDate = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func patientAged(days int, sex string) *registry.Patient {
	birth := reportDate.AddDate(0, 0, -days)
	return &registry.Patient{ID: "g-1", Status: registry.StatusActive, BirthDate: &birth, Sex: sex}
}

func newCalc(t *testing.T) *growth.Calculator {
	t.Helper()
	c, err := growth.NewDefaultCalculator()
	if err != nil {
		t.Fatalf("load tables: %v", err)
	}
	return c
}

// stubCalc returns fixed scores or a fixed error.
type stubCalc struct {
	err   error
	calls int
}

func (s *stubCalc) WeightForAge(decimal.Decimal, int, growth.Sex) (decimal.Decimal, error) {
	s.calls++
	return decimal.RequireFromString("0.5"), s.err
}

func (s *stubCalc) HeightForAge(decimal.Decimal, int, growth.Sex) (decimal.Decimal, error) {
	s.calls++
	return decimal.RequireFromString("-1.25"), s.err
}

func (s *stubCalc) WeightForHeight(decimal.Decimal, int, growth.Sex, decimal.Decimal) (decimal.Decimal, error) {
	s.calls++
	return decimal.RequireFromString("1"), s.err
}

func TestAgeInMonths(t *testing.T) {
	tests := []struct {
		days int
		want int
	}{
		{0, 0},
		{30, 0},
		{31, 1},
		{731, 23},
		{732, 24},
		{761, 24},
		{762, 25},
	}
	for _, tt := range tests {
		birth := reportDate.AddDate(0, 0, -tt.days)
		if got := AgeInMonths(reportDate, birth); got != tt.want {
			t.Errorf("AgeInMonths(%d days) = %d, want %d", tt.days, got, tt.want)
		}
	}
}

func TestAnalyze_Complete(t *testing.T) {
	rp := &Report{CreatedAt: reportDate, Weight: dec("9.6"), Height: dec("75.7")}
	if err := rp.Analyze(patientAged(366, "M"), newCalc(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rp.Status != StatusAnalyzed {
		t.Errorf("status = %s", rp.Status)
	}
	if rp.AgeInMonths == nil || *rp.AgeInMonths != 12 {
		t.Errorf("age = %v", rp.AgeInMonths)
	}
	if rp.WeightForAge == nil || rp.HeightForAge == nil || rp.WeightForHeight == nil {
		t.Fatal("expected all indicators")
	}
	if rp.WeightForAge.Abs().GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("weight-for-age near the median should be near zero, got %s", rp.WeightForAge)
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	calc := newCalc(t)
	patient := patientAged(400, "F")
	rp := &Report{CreatedAt: reportDate, Weight: dec("8.1"), Height: dec("70.2")}

	if err := rp.Analyze(patient, calc); err != nil {
		t.Fatal(err)
	}
	first := *rp
	if err := rp.Analyze(patient, calc); err != nil {
		t.Fatal(err)
	}
	if rp.Status != first.Status || !rp.WeightForAge.Equal(*first.WeightForAge) ||
		!rp.HeightForAge.Equal(*first.HeightForAge) || !rp.WeightForHeight.Equal(*first.WeightForHeight) {
		t.Errorf("second analysis differs: %+v vs %+v", rp, first)
	}
}

func TestAnalyze_LengthHeightDispatch(t *testing.T) {
	calc := newCalc(t)

	// 50 cm is inside the length table and outside the height table.
	at24 := &Report{CreatedAt: reportDate, Weight: dec("10"), Height: dec("50")}
	if err := at24.Analyze(patientAged(732, "M"), calc); err != nil {
		t.Fatalf("24 months: %v", err)
	}
	if at24.Status != StatusAnalyzed {
		t.Errorf("24 months: status = %s", at24.Status)
	}

	at25 := &Report{CreatedAt: reportDate, Weight: dec("10"), Height: dec("50")}
	err := at25.Analyze(patientAged(762, "M"), calc)
	if !errors.Is(err, growth.ErrInvalidMeasurement) {
		t.Fatalf("25 months: expected invalid measurement, got %v", err)
	}
	if at25.Status != StatusSuspect || at25.HasDerived() {
		t.Errorf("25 months: status = %s derived = %v", at25.Status, at25.HasDerived())
	}
}

func TestAnalyze_Incomplete(t *testing.T) {
	tests := []struct {
		name    string
		report  Report
		patient *registry.Patient
		derived bool
	}{
		{"no patient", Report{Weight: dec("10"), Height: dec("75")}, nil, false},
		{"no birth date", Report{Weight: dec("10")}, &registry.Patient{ID: "g", Sex: "M"}, false},
		{"no sex", Report{Weight: dec("10")}, patientAged(300, ""), false},
		{"unknown sex", Report{Weight: dec("10")}, patientAged(300, "?"), false},
		{"weight only", Report{Weight: dec("10")}, patientAged(300, "M"), true},
		{"height only", Report{Height: dec("70")}, patientAged(300, "F"), true},
		{"muac and oedema only", Report{MUAC: dec("12"), Oedema: boolPtr(true)}, patientAged(300, "F"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp := tt.report
			rp.CreatedAt = reportDate
			rp.WeightForHeight = dec("9")
			if err := rp.Analyze(tt.patient, &stubCalc{}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rp.Status != StatusIncomplete {
				t.Errorf("status = %s", rp.Status)
			}
			if rp.HasDerived() != tt.derived {
				t.Errorf("derived = %v, want %v", rp.HasDerived(), tt.derived)
			}
			if rp.WeightForHeight != nil {
				t.Error("weight-for-height needs both measurements")
			}
		})
	}
}

func TestAnalyze_Errors(t *testing.T) {
	invalid := &growth.InvalidMeasurementError{Indicator: growth.WeightForAge, Message: "bad"}
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"invalid measurement", invalid, StatusSuspect},
		{"unexpected", errors.New("table missing"), StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp := &Report{CreatedAt: reportDate, Weight: dec("10"), Height: dec("75")}
			err := rp.Analyze(patientAged(300, "M"), &stubCalc{err: tt.err})
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			if rp.Status != tt.want {
				t.Errorf("status = %s, want %s", rp.Status, tt.want)
			}
			if rp.HasDerived() {
				t.Error("derived values should be cleared")
			}
		})
	}
}

func TestCancel_KeepsDerived(t *testing.T) {
	rp := &Report{Status: StatusAnalyzed, WeightForAge: dec("0.5")}
	rp.Cancel()
	if rp.Status != StatusCancelled || rp.WeightForAge == nil {
		t.Errorf("got %+v", rp)
	}
}
