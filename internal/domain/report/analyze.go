package report

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nutrition/nutrition/internal/growth"
	"github.com/nutrition/nutrition/internal/registry"
)

// DaysPerMonth is the fixed average month length used for age.
const DaysPerMonth = 30.475

// GrowthCalculator scores raw measurements. *growth.Calculator implements it.
type GrowthCalculator interface {
	WeightForAge(weight decimal.Decimal, ageMonths int, sex growth.Sex) (decimal.Decimal, error)
	HeightForAge(height decimal.Decimal, ageMonths int, sex growth.Sex) (decimal.Decimal, error)
	WeightForHeight(weight decimal.Decimal, ageMonths int, sex growth.Sex, height decimal.Decimal) (decimal.Decimal, error)
}

// AgeInMonths counts whole months between the calendar dates of birth and at.
func AgeInMonths(at, birth time.Time) int {
	a := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(birth.Year(), birth.Month(), birth.Day(), 0, 0, 0, 0, time.UTC)
	days := math.Round(a.Sub(b).Hours() / 24)
	return int(math.Floor(days / DaysPerMonth))
}

// Analyze recomputes age and z-scores from the raw measurements and sets
// the status. The patient is resolved by the caller; nil means unresolved.
//
// All derived values are cleared first, so running Analyze twice on the
// same report gives the same result. An invalid measurement leaves the
// report SUSPECT with no z-scores and is returned. Any other calculator
// failure leaves it in ERROR and is returned.
func (r *Report) Analyze(patient *registry.Patient, calc GrowthCalculator) error {
	r.clearDerived()

	if patient == nil || patient.BirthDate == nil || patient.Sex == "" {
		r.Status = StatusIncomplete
		return nil
	}
	sex, err := growth.ParseSex(patient.Sex)
	if err != nil {
		r.Status = StatusIncomplete
		return nil
	}
	age := AgeInMonths(r.CreatedAt, *patient.BirthDate)
	r.AgeInMonths = &age

	var wfa, hfa, wfh *decimal.Decimal
	if r.Weight != nil {
		z, err := calc.WeightForAge(*r.Weight, age, sex)
		if err != nil {
			return r.fail(err)
		}
		wfa = &z
	}
	if r.Height != nil {
		z, err := calc.HeightForAge(*r.Height, age, sex)
		if err != nil {
			return r.fail(err)
		}
		hfa = &z
	}
	if r.Weight != nil && r.Height != nil {
		z, err := calc.WeightForHeight(*r.Weight, age, sex, *r.Height)
		if err != nil {
			return r.fail(err)
		}
		wfh = &z
	}

	r.WeightForAge, r.HeightForAge, r.WeightForHeight = wfa, hfa, wfh
	if wfa != nil && hfa != nil && wfh != nil {
		r.Status = StatusAnalyzed
	} else {
		r.Status = StatusIncomplete
	}
	return nil
}

func (r *Report) fail(err error) error {
	r.WeightForAge, r.HeightForAge, r.WeightForHeight = nil, nil, nil
	if errors.Is(err, growth.ErrInvalidMeasurement) {
		r.Status = StatusSuspect
	} else {
		r.Status = StatusError
	}
	return err
}

// Cancel marks the report cancelled. Derived values are kept.
func (r *Report) Cancel() {
	r.Status = StatusCancelled
}
