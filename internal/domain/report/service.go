package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutrition/nutrition/internal/registry"
)

// ErrCancelled is returned when analysis is requested for a cancelled report.
var ErrCancelled = errors.New("report is cancelled")

// Metrics receives report workflow events. A nil Metrics is allowed.
type Metrics interface {
	ReportSubmitted(outcome string)
	ReportAnalyzed(status string)
	ReportCancelled()
}

type nopMetrics struct{}

func (nopMetrics) ReportSubmitted(string) {}
func (nopMetrics) ReportAnalyzed(string)  {}
func (nopMetrics) ReportCancelled()       {}

// Submission outcomes recorded by Metrics.
const (
	OutcomeCreated     = "created"
	OutcomeFormatError = "format_error"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
)

// ServiceConfig carries the optional collaborators of a Service.
type ServiceConfig struct {
	Form    FormConfig
	Mode    Mode
	Metrics Metrics
	Logger  zerolog.Logger
}

// Service runs the submission, analysis and cancellation workflows.
type Service struct {
	repo     Repository
	registry registry.Gateway
	calc     GrowthCalculator
	form     *Form
	parser   *Parser
	metrics  Metrics
	logger   zerolog.Logger
}

func NewService(repo Repository, reg registry.Gateway, calc GrowthCalculator, cfg ServiceConfig) *Service {
	m := cfg.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	if len(cfg.Form.Vocabulary.True) == 0 && len(cfg.Form.Vocabulary.False) == 0 && len(cfg.Form.Vocabulary.Null) == 0 {
		cfg.Form.Vocabulary = DefaultVocabulary()
	}
	return &Service{
		repo:     repo,
		registry: reg,
		calc:     calc,
		form:     NewForm(cfg.Form, reg),
		parser:   NewParser(cfg.Mode),
		metrics:  m,
		logger:   cfg.Logger,
	}
}

// Parser returns the grammar used for report text.
func (s *Service) Parser() *Parser { return s.parser }

// Submission is one inbound report. Fields, when set, skip parsing Text.
type Submission struct {
	Identity string
	Text     string
	Fields   map[string]string
}

// CancelRequest asks to cancel the newest report of a patient.
type CancelRequest struct {
	Identity  string
	PatientID string
}

// Result is a persisted report with the registry records it was built from.
type Result struct {
	Report   *Report
	Patient  *registry.Patient
	Reporter *registry.Provider
}

// Submit validates, persists and analyzes one report. Nothing is stored
// when parsing or validation fails. An analysis failure is returned along
// with the stored, downgraded report.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	fields := sub.Fields
	if fields == nil {
		parsed, err := s.parser.Parse(sub.Text)
		if err != nil {
			s.metrics.ReportSubmitted(OutcomeFormatError)
			return nil, err
		}
		fields = parsed
	}

	cleaned, err := s.form.Validate(ctx, fields, sub.Identity)
	if err != nil {
		var fe *FormErrors
		if errors.As(err, &fe) {
			s.metrics.ReportSubmitted(OutcomeInvalid)
		} else {
			s.metrics.ReportSubmitted(OutcomeError)
		}
		return nil, err
	}

	rp := &Report{
		Status:           StatusUnanalyzed,
		PatientID:        cleaned.PatientID,
		GlobalPatientID:  cleaned.Patient.ID,
		ReporterID:       cleaned.ReporterID,
		GlobalReporterID: cleaned.GlobalReporterID,
		Height:           cleaned.Indicators.Height,
		Weight:           cleaned.Indicators.Weight,
		MUAC:             cleaned.Indicators.MUAC,
		Oedema:           cleaned.Indicators.Oedema,
		RawText:          sub.Text,
	}
	if err := s.repo.Create(ctx, rp); err != nil {
		s.metrics.ReportSubmitted(OutcomeError)
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.metrics.ReportSubmitted(OutcomeCreated)

	res := &Result{Report: rp, Patient: cleaned.Patient, Reporter: cleaned.Reporter}
	analyzeErr := s.analyze(ctx, rp, cleaned.Patient)
	return res, analyzeErr
}

// Analyze recomputes a stored report. The patient is looked up once by
// global id; an unknown patient leaves the report INCOMPLETE.
func (s *Service) Analyze(ctx context.Context, id uuid.UUID) (*Report, error) {
	rp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rp.Status == StatusCancelled {
		return rp, ErrCancelled
	}
	patient, err := s.registry.LookupPatientByGlobalID(ctx, rp.GlobalPatientID)
	if errors.Is(err, registry.ErrNotFound) {
		patient = nil
	} else if err != nil {
		return nil, fmt.Errorf("resolve patient %s: %w", rp.GlobalPatientID, err)
	}
	return rp, s.analyze(ctx, rp, patient)
}

// analyze runs the state machine and persists the outcome. A persistence
// failure takes precedence over the analysis error.
func (s *Service) analyze(ctx context.Context, rp *Report, patient *registry.Patient) error {
	analyzeErr := rp.Analyze(patient, s.calc)
	if err := s.repo.Update(ctx, rp); err != nil {
		return fmt.Errorf("update report %s: %w", rp.ID, err)
	}
	s.metrics.ReportAnalyzed(string(rp.Status))

	ev := s.logger.Info()
	if analyzeErr != nil {
		ev = s.logger.Warn().Err(analyzeErr)
	}
	ev.Str("report_id", rp.ID.String()).
		Str("patient_id", rp.GlobalPatientID).
		Str("status", string(rp.Status)).
		Msg("report analyzed")
	return analyzeErr
}

// CancelLatest cancels the newest report of a patient.
//
// The lookup and the update are separate statements. A report created
// between them is not the one cancelled.
func (s *Service) CancelLatest(ctx context.Context, req CancelRequest) (*Result, error) {
	cleaned, err := s.form.ValidateCancel(ctx, req.PatientID, req.Identity)
	if err != nil {
		return nil, err
	}
	rp, err := s.repo.Latest(ctx, cleaned.Patient.ID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.cancel(ctx, rp); err != nil {
		return nil, err
	}
	return &Result{Report: rp, Patient: cleaned.Patient, Reporter: cleaned.Reporter}, nil
}

// Cancel cancels one report by id.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Report, error) {
	rp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cancel(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

func (s *Service) cancel(ctx context.Context, rp *Report) error {
	rp.Cancel()
	if err := s.repo.Update(ctx, rp); err != nil {
		return fmt.Errorf("update report %s: %w", rp.ID, err)
	}
	s.metrics.ReportCancelled()
	s.logger.Info().Str("report_id", rp.ID.String()).Str("patient_id", rp.GlobalPatientID).Msg("report cancelled")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
	if f.Status != "" {
		if _, ok := ParseStatus(string(f.Status)); !ok {
			return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
		}
	}
	return s.repo.List(ctx, f, limit, offset)
}

// LookupPatient exposes the registry for presentation of stored reports.
func (s *Service) LookupPatient(ctx context.Context, globalID string) (*registry.Patient, error) {
	return s.registry.LookupPatientByGlobalID(ctx, globalID)
}

// LookupProvider exposes the registry for presentation of stored reports.
func (s *Service) LookupProvider(ctx context.Context, globalID string) (*registry.Provider, error) {
	return s.registry.LookupProviderByGlobalID(ctx, globalID)
}
