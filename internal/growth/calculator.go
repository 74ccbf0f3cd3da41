package growth

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MinAgeMonths = 0
	MaxAgeMonths = 60

	// LengthAgeCutoff is the oldest age, in months, scored against the
	// recumbent length table.
	LengthAgeCutoff = 24

	MinLength = 45.0
	MaxLength = 110.0
	MinHeight = 65.0
	MaxHeight = 120.0
)

// maxScore is the first magnitude that no longer fits a 4-digit,
// 2-decimal column.
var maxScore = decimal.NewFromInt(100)

// Calculator scores measurements against a fixed set of reference tables.
// It holds no mutable state.
type Calculator struct {
	tables *Tables
}

func NewCalculator(tables *Tables) *Calculator {
	return &Calculator{tables: tables}
}

// NewDefaultCalculator uses the embedded tables.
func NewDefaultCalculator() (*Calculator, error) {
	t, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	return NewCalculator(t), nil
}

// WeightForAge returns the weight-for-age z-score of weight in kg.
func (c *Calculator) WeightForAge(weight decimal.Decimal, ageMonths int, sex Sex) (decimal.Decimal, error) {
	if err := checkAge(WeightForAge, ageMonths); err != nil {
		return decimal.Decimal{}, err
	}
	if err := checkPositive(WeightForAge, "weight", weight); err != nil {
		return decimal.Decimal{}, err
	}
	return c.score(WeightForAge, sex, float64(ageMonths), weight, true)
}

// HeightForAge returns the length/height-for-age z-score of height in cm.
func (c *Calculator) HeightForAge(height decimal.Decimal, ageMonths int, sex Sex) (decimal.Decimal, error) {
	if err := checkAge(LengthHeightForAge, ageMonths); err != nil {
		return decimal.Decimal{}, err
	}
	if err := checkPositive(LengthHeightForAge, "height", height); err != nil {
		return decimal.Decimal{}, err
	}
	return c.score(LengthHeightForAge, sex, float64(ageMonths), height, false)
}

// WeightForHeight scores weight against the weight-for-length table up to
// and including 24 months, and the weight-for-height table after.
func (c *Calculator) WeightForHeight(weight decimal.Decimal, ageMonths int, sex Sex, height decimal.Decimal) (decimal.Decimal, error) {
	ind := TableForAge(ageMonths)
	if err := checkAge(ind, ageMonths); err != nil {
		return decimal.Decimal{}, err
	}
	if err := checkPositive(ind, "weight", weight); err != nil {
		return decimal.Decimal{}, err
	}
	if err := checkPositive(ind, "height", height); err != nil {
		return decimal.Decimal{}, err
	}

	h := height.InexactFloat64()
	lo, hi, unit := MinHeight, MaxHeight, "height"
	if ind == WeightForLength {
		lo, hi, unit = MinLength, MaxLength, "length"
	}
	if h < lo || h > hi {
		return decimal.Decimal{}, invalid(ind, "%s of %s cm is outside the %s range (%g-%g cm).",
			capitalize(unit), height.StringFixed(1), ind, lo, hi)
	}
	return c.score(ind, sex, h, weight, true)
}

// TableForAge picks the weight-for-length or weight-for-height table.
func TableForAge(ageMonths int) Indicator {
	if ageMonths <= LengthAgeCutoff {
		return WeightForLength
	}
	return WeightForHeight
}

func (c *Calculator) score(ind Indicator, sex Sex, key float64, x decimal.Decimal, restricted bool) (decimal.Decimal, error) {
	table, err := c.tables.Get(ind, sex)
	if err != nil {
		return decimal.Decimal{}, err
	}
	lms, ok := table.At(key)
	if !ok {
		lo, hi := table.Range()
		return decimal.Decimal{}, invalid(ind, "No %s reference data for %g (range %g-%g).", ind, key, lo, hi)
	}

	v := x.InexactFloat64()
	z := lms.Z(v)
	if restricted {
		z = lms.RestrictedZ(v)
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return decimal.Decimal{}, invalid(ind, "The %s z-score could not be calculated.", ind)
	}

	score := decimal.NewFromFloat(z).Round(2)
	if score.Abs().GreaterThanOrEqual(maxScore) {
		return decimal.Decimal{}, invalid(ind, "The %s z-score of %s is not plausible.", ind, score.StringFixed(2))
	}
	return score, nil
}

func checkAge(ind Indicator, ageMonths int) error {
	if ageMonths < MinAgeMonths || ageMonths > MaxAgeMonths {
		return invalid(ind, "Age of %d months is outside the supported range (%d-%d months).",
			ageMonths, MinAgeMonths, MaxAgeMonths)
	}
	return nil
}

func checkPositive(ind Indicator, name string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid(ind, "%s must be greater than zero.", capitalize(name))
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
