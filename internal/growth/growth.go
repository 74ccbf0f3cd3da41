// Package growth computes WHO child growth standard z-scores from LMS
// reference tables.
package growth

import (
	"errors"
	"fmt"
	"strings"
)

// Sex selects the reference population.
type Sex string

const (
	Male   Sex = "M"
	Female Sex = "F"
)

// ParseSex accepts the registry spellings of sex.
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male", "boy":
		return Male, nil
	case "f", "female", "girl":
		return Female, nil
	}
	return "", fmt.Errorf("unknown sex %q", s)
}

// Indicator names a reference table.
type Indicator string

const (
	WeightForAge       Indicator = "wfa"
	LengthHeightForAge Indicator = "lhfa"
	WeightForLength    Indicator = "wfl"
	WeightForHeight    Indicator = "wfh"
)

var indicatorNames = map[Indicator]string{
	WeightForAge:       "weight-for-age",
	LengthHeightForAge: "height-for-age",
	WeightForLength:    "weight-for-length",
	WeightForHeight:    "weight-for-height",
}

func (i Indicator) String() string {
	if name, ok := indicatorNames[i]; ok {
		return name
	}
	return string(i)
}

// ErrInvalidMeasurement matches every InvalidMeasurementError via errors.Is.
var ErrInvalidMeasurement = errors.New("invalid measurement")

// InvalidMeasurementError reports input outside the range the reference
// tables can score.
type InvalidMeasurementError struct {
	Indicator Indicator
	Message   string
}

func (e *InvalidMeasurementError) Error() string {
	return e.Message
}

func (e *InvalidMeasurementError) Is(target error) bool {
	return target == ErrInvalidMeasurement
}

func invalid(ind Indicator, format string, args ...interface{}) error {
	return &InvalidMeasurementError{Indicator: ind, Message: fmt.Sprintf(format, args...)}
}
