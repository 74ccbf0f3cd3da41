package report

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockRepo struct {
	reports   map[uuid.UUID]*Report
	clock     time.Time
	updates   int
	updateErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{reports: make(map[uuid.UUID]*Report), clock: reportDate}
}

func (m *mockRepo) Create(_ context.Context, r *Report) error {
	r.ID = uuid.New()
	m.clock = m.clock.Add(time.Second)
	r.CreatedAt, r.UpdatedAt = m.clock, m.clock
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, r *Report) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.reports[r.ID]
	if !ok {
		return ErrNotFound
	}
	m.updates++
	stored.Status, stored.AgeInMonths = r.Status, r.AgeInMonths
	stored.WeightForAge, stored.HeightForAge, stored.WeightForHeight = r.WeightForAge, r.HeightForAge, r.WeightForHeight
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
	var all []*Report
	for _, r := range m.reports {
		if f.GlobalPatientID != "" && r.GlobalPatientID != f.GlobalPatientID {
			continue
		}
		if f.PatientID != "" && r.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) Latest(ctx context.Context, globalPatientID string, _ *string) (*Report, error) {
	items, _, _ := m.List(ctx, Filter{GlobalPatientID: globalPatientID}, 1, 0)
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// -- Metrics recorder --

type recordedMetrics struct {
	submitted map[string]int
	analyzed  map[string]int
	cancelled int
}

func newRecordedMetrics() *recordedMetrics {
	return &recordedMetrics{submitted: map[string]int{}, analyzed: map[string]int{}}
}

func (m *recordedMetrics) ReportSubmitted(outcome string) { m.submitted[outcome]++ }
func (m *recordedMetrics) ReportAnalyzed(status string)   { m.analyzed[status]++ }
func (m *recordedMetrics) ReportCancelled()               { m.cancelled++ }

func newTestService(t *testing.T) (*Service, *mockRepo, *recordedMetrics) {
	t.Helper()
	repo := newMockRepo()
	metrics := newRecordedMetrics()
	svc := NewService(repo, newTestRegistry(t), newCalc(t), ServiceConfig{Metrics: metrics, Logger: zerolog.Nop()})
	return svc, repo, metrics
}

func TestService_Submit(t *testing.T) {
	svc, repo, metrics := newTestService(t)

	res, err := svc.Submit(context.Background(), Submission{Identity: "555", Text: "asdf w 10.55 h 75.2 m 14 o n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rp := res.Report
	if rp.Status != StatusAnalyzed {
		t.Errorf("status = %s", rp.Status)
	}
	if rp.Weight.String() != "10.6" || rp.RawText != "asdf w 10.55 h 75.2 m 14 o n" {
		t.Errorf("report = %+v", rp)
	}
	if rp.GlobalPatientID != "g-asdf" || res.Patient.Name != "Baraka" || res.Reporter.Name != "Joe" {
		t.Errorf("result = %+v", res)
	}
	stored, _ := repo.GetByID(context.Background(), rp.ID)
	if stored.Status != StatusAnalyzed || stored.WeightForAge == nil {
		t.Errorf("stored = %+v", stored)
	}
	if metrics.submitted[OutcomeCreated] != 1 || metrics.analyzed[string(StatusAnalyzed)] != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestService_Submit_NothingStoredOnFailure(t *testing.T) {
	svc, repo, metrics := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, Submission{Text: "asdf w"})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected ParseError, got %v", err)
	}
	_, err = svc.Submit(ctx, Submission{Text: "asdf w abc"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != FieldWeight {
		t.Errorf("expected weight ValidationError, got %v", err)
	}
	if len(repo.reports) != 0 {
		t.Errorf("stored %d reports", len(repo.reports))
	}
	if metrics.submitted[OutcomeFormatError] != 1 || metrics.submitted[OutcomeInvalid] != 1 {
		t.Errorf("metrics = %+v", metrics.submitted)
	}
}

func TestService_Submit_Fields(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.Submit(context.Background(), Submission{Fields: map[string]string{FieldPatientID: "asdf", FieldMUAC: "12"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Report.Status != StatusIncomplete || res.Report.HasDerived() {
		t.Errorf("report = %+v", res.Report)
	}
}

func TestService_Submit_SuspectIsStored(t *testing.T) {
	svc, repo, _ := newTestService(t)

	res, err := svc.Submit(context.Background(), Submission{Text: "asdf w 10 h 20"})
	if err == nil {
		t.Fatal("expected invalid measurement error")
	}
	if res == nil || res.Report.Status != StatusSuspect {
		t.Fatalf("result = %+v", res)
	}
	stored, _ := repo.GetByID(context.Background(), res.Report.ID)
	if stored.Status != StatusSuspect || stored.HasDerived() {
		t.Errorf("stored = %+v", stored)
	}
}

func TestService_Submit_UpdateFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.updateErr = errors.New("disk full")

	_, err := svc.Submit(context.Background(), Submission{Text: "asdf w 10"})
	if err == nil || !errors.Is(err, repo.updateErr) {
		t.Errorf("error = %v", err)
	}
}

func TestService_Analyze(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Submit(ctx, Submission{Text: "asdf w 9 h 74"})
	before := repo.updates

	rp, err := svc.Analyze(ctx, res.Report.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rp.Status != StatusAnalyzed || !rp.WeightForAge.Equal(*res.Report.WeightForAge) {
		t.Errorf("re-analysis differs: %+v", rp)
	}
	if repo.updates != before+1 {
		t.Errorf("updates = %d, want %d", repo.updates, before+1)
	}

	if _, err := svc.Analyze(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing report: %v", err)
	}
}

func TestService_Analyze_UnknownPatientIsIncomplete(t *testing.T) {
	svc, repo, _ := newTestService(t)
	rp := &Report{Status: StatusUnanalyzed, PatientID: "ghost", GlobalPatientID: "g-ghost", Weight: dec("9")}
	repo.Create(context.Background(), rp)

	got, err := svc.Analyze(context.Background(), rp.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusIncomplete {
		t.Errorf("status = %s", got.Status)
	}
}

func TestService_Analyze_Cancelled(t *testing.T) {
	svc, repo, _ := newTestService(t)
	rp := &Report{Status: StatusCancelled, PatientID: "asdf", GlobalPatientID: "g-asdf", Weight: dec("9")}
	repo.Create(context.Background(), rp)

	got, err := svc.Analyze(context.Background(), rp.ID)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
}

func TestService_CancelLatest(t *testing.T) {
	svc, repo, metrics := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Submit(ctx, Submission{Text: "asdf w 9"})
	second, _ := svc.Submit(ctx, Submission{Text: "asdf w 9.5"})

	res, err := svc.CancelLatest(ctx, CancelRequest{Identity: "555", PatientID: "asdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Report.ID != second.Report.ID {
		t.Errorf("cancelled %s, want newest %s", res.Report.ID, second.Report.ID)
	}
	older, _ := repo.GetByID(ctx, first.Report.ID)
	if older.Status == StatusCancelled {
		t.Error("older report should not be cancelled")
	}
	newer, _ := repo.GetByID(ctx, second.Report.ID)
	if newer.Status != StatusCancelled || newer.WeightForAge == nil {
		t.Errorf("newer = %+v", newer)
	}
	if metrics.cancelled != 1 {
		t.Errorf("cancelled metric = %d", metrics.cancelled)
	}
}

func TestService_CancelLatest_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CancelLatest(ctx, CancelRequest{PatientID: "asdf"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("no reports: %v", err)
	}
	if _, err := svc.CancelLatest(ctx, CancelRequest{PatientID: "gone"}); err == nil || err.Error() != MsgInactivePatient {
		t.Errorf("inactive patient: %v", err)
	}
}

func TestService_List_RejectsStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, _, err := svc.List(context.Background(), Filter{Status: "DONE"}, 10, 0); err == nil {
		t.Error("expected invalid status error")
	}
}
