package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nutrition/nutrition/internal/registry"
)

// User-facing field messages.
const (
	MsgPatientID        = "Please send the patient's identifier."
	MsgWeight           = "Please send a positive value (in kg) for weight."
	MsgHeight           = "Please send a positive value (in cm) for height."
	MsgMUAC             = "Please send a positive value (in cm) for mid-upper arm circumference."
	MsgOedema           = "Please send Y or N to indicate whether the patient has oedema."
	MsgInactivePatient  = "Nutrition reports must be for a patient who is registered and active."
	MsgInactiveReporter = "Nutrition reports must be submitted by a health worker who is registered and active."
)

// FormConfig holds the configurable parts of report validation.
type FormConfig struct {
	Vocabulary                Vocabulary
	MaxDigits                 int
	RequireRegisteredReporter bool
}

// FormErrors collects one error per failing field. Error returns the first
// in declared field order, then any non-field error.
type FormErrors struct {
	Fields   map[string]*ValidationError
	NonField []*ValidationError
	order    []string
}

func (e *FormErrors) add(ve *ValidationError) {
	if ve.Field == "" {
		e.NonField = append(e.NonField, ve)
		return
	}
	if e.Fields == nil {
		e.Fields = make(map[string]*ValidationError)
	}
	if _, ok := e.Fields[ve.Field]; !ok {
		e.Fields[ve.Field] = ve
	}
}

func (e *FormErrors) empty() bool {
	return len(e.Fields) == 0 && len(e.NonField) == 0
}

// First returns the error shown to the user.
func (e *FormErrors) First() *ValidationError {
	for _, name := range e.order {
		if ve, ok := e.Fields[name]; ok {
			return ve
		}
	}
	if len(e.NonField) > 0 {
		return e.NonField[0]
	}
	return nil
}

func (e *FormErrors) Error() string {
	if first := e.First(); first != nil {
		return first.Message
	}
	return "validation failed"
}

// Unwrap exposes the first error to errors.As.
func (e *FormErrors) Unwrap() error {
	if first := e.First(); first != nil {
		return first
	}
	return nil
}

// Form validates a complete submission. Fields run in a fixed order:
// patient_id, weight, height, muac, oedema.
type Form struct {
	fields          []Field
	registry        registry.Gateway
	requireReporter bool
}

func NewForm(cfg FormConfig, reg registry.Gateway) *Form {
	places := int32(1)
	return &Form{
		fields: []Field{
			IdentifierField{Name: FieldPatientID, Message: MsgPatientID},
			NumericField{Name: FieldWeight, Message: MsgWeight, MaxDigits: cfg.MaxDigits, DecimalPlaces: places, Vocabulary: cfg.Vocabulary},
			NumericField{Name: FieldHeight, Message: MsgHeight, MaxDigits: cfg.MaxDigits, DecimalPlaces: places, Vocabulary: cfg.Vocabulary},
			NumericField{Name: FieldMUAC, Message: MsgMUAC, MaxDigits: cfg.MaxDigits, DecimalPlaces: places, Vocabulary: cfg.Vocabulary},
			TriStateField{Name: FieldOedema, Message: MsgOedema, Vocabulary: cfg.Vocabulary},
		},
		registry:        reg,
		requireReporter: cfg.RequireRegisteredReporter,
	}
}

// Cleaned is a validated submission with its resolved registry records.
type Cleaned struct {
	PatientID        string
	Patient          *registry.Patient
	ReporterID       *string
	GlobalReporterID *string
	Reporter         *registry.Provider
	Indicators       Indicators
}

// Validate checks raw field tokens and resolves the patient and the sending
// identity. Validation problems are returned as *FormErrors; registry
// outages are returned as ordinary errors.
func (f *Form) Validate(ctx context.Context, raw map[string]string, identity string) (*Cleaned, error) {
	errs := &FormErrors{order: f.order()}
	out := &Cleaned{}

	for _, field := range f.fields {
		v, err := field.clean(raw[field.FieldName()])
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				errs.add(ve)
				continue
			}
			return nil, err
		}
		switch field.FieldName() {
		case FieldPatientID:
			out.PatientID = v.(string)
		case FieldWeight:
			out.Indicators.Weight = v.(*decimal.Decimal)
		case FieldHeight:
			out.Indicators.Height = v.(*decimal.Decimal)
		case FieldMUAC:
			out.Indicators.MUAC = v.(*decimal.Decimal)
		case FieldOedema:
			out.Indicators.Oedema = v.(*bool)
		}
	}

	if out.PatientID != "" {
		patient, err := f.resolvePatient(ctx, out.PatientID)
		if err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				return nil, err
			}
			errs.add(ve)
		}
		out.Patient = patient
	}

	if err := f.resolveReporter(ctx, identity, out); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		errs.add(ve)
	}

	if !errs.empty() {
		return nil, errs
	}
	return out, nil
}

// ValidateCancel checks the single patient identifier of a cancel command.
func (f *Form) ValidateCancel(ctx context.Context, patientID, identity string) (*Cleaned, error) {
	errs := &FormErrors{order: []string{FieldPatientID}}
	out := &Cleaned{}

	id, err := IdentifierField{Name: FieldPatientID, Message: MsgPatientID}.Validate(patientID)
	if err != nil {
		errs.add(err.(*ValidationError))
		return nil, errs
	}
	out.PatientID = id

	patient, err := f.resolvePatient(ctx, id)
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		errs.add(ve)
	}
	out.Patient = patient

	if err := f.resolveReporter(ctx, identity, out); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		errs.add(ve)
	}

	if !errs.empty() {
		return nil, errs
	}
	return out, nil
}

func (f *Form) order() []string {
	names := make([]string, len(f.fields))
	for i, field := range f.fields {
		names[i] = field.FieldName()
	}
	return names
}

func (f *Form) resolvePatient(ctx context.Context, id string) (*registry.Patient, error) {
	patient, err := f.registry.LookupPatient(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, &ValidationError{Field: FieldPatientID, Message: MsgInactivePatient}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve patient %s: %w", id, err)
	}
	if !patient.IsActive() {
		return nil, &ValidationError{Field: FieldPatientID, Message: MsgInactivePatient}
	}
	return patient, nil
}

// resolveReporter looks up the sending identity. An empty identity is an
// anonymous submission. An unknown identity is kept as the local reporter id
// unless registration is required.
func (f *Form) resolveReporter(ctx context.Context, identity string, out *Cleaned) error {
	if identity == "" {
		if f.requireReporter {
			return &ValidationError{Message: MsgInactiveReporter}
		}
		return nil
	}

	provider, err := f.registry.LookupProvider(ctx, identity)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		if f.requireReporter {
			return &ValidationError{Message: MsgInactiveReporter}
		}
		local := identity
		out.ReporterID = &local
		return nil
	case err != nil:
		return fmt.Errorf("resolve reporter %s: %w", identity, err)
	case !provider.IsActive():
		return &ValidationError{Message: MsgInactiveReporter}
	}

	local, global := identity, provider.ID
	out.ReporterID = &local
	out.GlobalReporterID = &global
	out.Reporter = provider
	return nil
}
