package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Vocabulary maps oedema answers and null sentinels. Matching ignores case
// and surrounding whitespace.
type Vocabulary struct {
	True  []string
	False []string
	Null  []string
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		True:  []string{"y", "yes", "1", "true", "oui", "o"},
		False: []string{"n", "no", "0", "false", "non"},
		Null:  []string{"x", "xx", "xxx"},
	}
}

// IsNull reports whether tok means "deliberately not measured". The empty
// token is always null.
func (v Vocabulary) IsNull(tok string) bool {
	tok = strings.TrimSpace(tok)
	return tok == "" || contains(v.Null, tok)
}

func contains(list []string, tok string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), tok) {
			return true
		}
	}
	return false
}

// ValidationError carries the user-facing message for one field. Field is
// empty for errors that do not belong to a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Field is implemented by every field variant so a form can validate them
// in a fixed order.
type Field interface {
	FieldName() string
	clean(raw string) (interface{}, error)
}

const DefaultMaxDigits = 4

// plainDecimal admits digits with an optional fractional part. Exponent
// notation is refused before any arithmetic runs on the value.
var plainDecimal = regexp.MustCompile(`^(?:\d+\.?\d*|\.\d+)$`)

// NumericField accepts a non-negative decimal measurement.
type NumericField struct {
	Name          string
	Message       string
	MaxDigits     int
	DecimalPlaces int32
	Vocabulary    Vocabulary
}

func (f NumericField) FieldName() string { return f.Name }

// Validate rounds half-up to DecimalPlaces before checking precision, so
// 10.55 is stored as 10.6. A null token returns nil without error.
func (f NumericField) Validate(raw string) (*decimal.Decimal, error) {
	tok := strings.TrimSpace(raw)
	if f.Vocabulary.IsNull(tok) {
		return nil, nil
	}
	if !plainDecimal.MatchString(tok) {
		return nil, &ValidationError{Field: f.Name, Message: f.Message}
	}
	d, err := decimal.NewFromString(tok)
	if err != nil || d.IsNegative() {
		return nil, &ValidationError{Field: f.Name, Message: f.Message}
	}
	d = d.Round(f.DecimalPlaces)

	maxDigits := f.MaxDigits
	if maxDigits <= 0 {
		maxDigits = DefaultMaxDigits
	}
	if integerDigits(d)+int(f.DecimalPlaces) > maxDigits {
		return nil, &ValidationError{Field: f.Name, Message: precisionMessage(maxDigits, f.DecimalPlaces)}
	}
	return &d, nil
}

func (f NumericField) clean(raw string) (interface{}, error) {
	return f.Validate(raw)
}

func integerDigits(d decimal.Decimal) int {
	whole := d.Abs().Truncate(0)
	if whole.IsZero() {
		return 0
	}
	return len(whole.String())
}

func precisionMessage(maxDigits int, places int32) string {
	return fmt.Sprintf("Nutrition report measurements must have no more than %d digits, with at most %d after the decimal point.",
		maxDigits, places)
}

// TriStateField accepts a yes/no/unknown answer.
type TriStateField struct {
	Name       string
	Message    string
	Vocabulary Vocabulary
}

func (f TriStateField) FieldName() string { return f.Name }

func (f TriStateField) Validate(raw string) (*bool, error) {
	tok := strings.TrimSpace(raw)
	switch {
	case f.Vocabulary.IsNull(tok):
		return nil, nil
	case contains(f.Vocabulary.True, tok):
		v := true
		return &v, nil
	case contains(f.Vocabulary.False, tok):
		v := false
		return &v, nil
	}
	return nil, &ValidationError{Field: f.Name, Message: f.Message}
}

func (f TriStateField) clean(raw string) (interface{}, error) {
	return f.Validate(raw)
}

// IdentifierField accepts any non-empty token.
type IdentifierField struct {
	Name    string
	Message string
}

func (f IdentifierField) FieldName() string { return f.Name }

func (f IdentifierField) Validate(raw string) (string, error) {
	tok := strings.TrimSpace(raw)
	if tok == "" {
		return "", &ValidationError{Field: f.Name, Message: f.Message}
	}
	return tok, nil
}

func (f IdentifierField) clean(raw string) (interface{}, error) {
	return f.Validate(raw)
}
