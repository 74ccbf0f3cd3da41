package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrition/nutrition/internal/config"
	"github.com/nutrition/nutrition/internal/domain/report"
	"github.com/nutrition/nutrition/internal/messaging"
	"github.com/nutrition/nutrition/internal/registry"
)

// ---------------------------------------------------------------------------
// vocabulary
// ---------------------------------------------------------------------------

func TestVocabulary_Defaults(t *testing.T) {
	got := vocabulary(&config.Config{})
	want := report.DefaultVocabulary()
	if strings.Join(got.True, ",") != strings.Join(want.True, ",") {
		t.Errorf("True = %v, want %v", got.True, want.True)
	}
	if strings.Join(got.Null, ",") != strings.Join(want.Null, ",") {
		t.Errorf("Null = %v, want %v", got.Null, want.Null)
	}
}

func TestVocabulary_Overrides(t *testing.T) {
	got := vocabulary(&config.Config{NullTokens: []string{"-"}, TrueTokens: []string{"si"}})
	if !got.IsNull("-") {
		t.Error("expected '-' to be a null token")
	}
	if got.IsNull("x") {
		t.Error("expected default null tokens to be replaced")
	}
	if len(got.True) != 1 || got.True[0] != "si" {
		t.Errorf("True = %v, want [si]", got.True)
	}
	if len(got.False) == 0 {
		t.Error("expected default False tokens to be kept")
	}
}

// ---------------------------------------------------------------------------
// export helpers
// ---------------------------------------------------------------------------

func TestExportWriter(t *testing.T) {
	for _, format := range []string{"csv", "CSV", "xlsx"} {
		if _, err := exportWriter(format); err != nil {
			t.Errorf("exportWriter(%q) error: %v", format, err)
		}
	}
	if _, err := exportWriter("pdf"); err == nil {
		t.Error("expected error for pdf")
	}
}

func TestExportOptions_Filter(t *testing.T) {
	f, err := exportOptions{
		status:      "analyzed",
		patientID:   "asdf",
		createdFrom: "2024-01-01",
		orderBy:     "-created_at",
	}.filter()
	if err != nil {
		t.Fatalf("filter() error: %v", err)
	}
	if f.Status != report.StatusAnalyzed {
		t.Errorf("Status = %q, want %q", f.Status, report.StatusAnalyzed)
	}
	if f.PatientID != "asdf" {
		t.Errorf("PatientID = %q, want asdf", f.PatientID)
	}
	if f.CreatedFrom == nil || !f.CreatedFrom.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedFrom = %v", f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		t.Errorf("CreatedTo = %v, want nil", f.CreatedTo)
	}
}

func TestExportOptions_FilterErrors(t *testing.T) {
	tests := []struct {
		name string
		opts exportOptions
	}{
		{"status", exportOptions{status: "done"}},
		{"from", exportOptions{createdFrom: "01/02/2024"}},
		{"to", exportOptions{createdTo: "yesterday"}},
		{"order", exportOptions{orderBy: "raw_text"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.filter(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMigrationsDir(t *testing.T) {
	cfg := &config.Config{MigrationsDir: "./migrations"}
	if got := migrationsDir("", cfg); got != "./migrations" {
		t.Errorf("migrationsDir() = %q, want ./migrations", got)
	}
	if got := migrationsDir("/tmp/m", cfg); got != "/tmp/m" {
		t.Errorf("migrationsDir() = %q, want /tmp/m", got)
	}
}

func TestPoolConfig(t *testing.T) {
	pc := poolConfig(&config.Config{
		DatabaseURL:        "postgres://localhost/nutrition",
		DBMaxConns:         20,
		DBMinConns:         2,
		DBStatementTimeout: 30 * time.Second,
	})
	if pc.URL != "postgres://localhost/nutrition" || pc.MaxConns != 20 || pc.MinConns != 2 {
		t.Errorf("poolConfig() = %+v", pc)
	}
	if pc.StatementTimeout != 30*time.Second || pc.ApplicationName != "nutrition-server" {
		t.Errorf("poolConfig() = %+v", pc)
	}
}

func TestJoinArgs(t *testing.T) {
	if got := joinArgs([]string{"nutrition", "report", "asdf ", "w", "10"}); got != "nutrition report asdf  w 10" {
		t.Errorf("joinArgs() = %q", got)
	}
}

// ---------------------------------------------------------------------------
// wiring
// ---------------------------------------------------------------------------

func TestOpenRegistry_DefaultsToEmptyMemory(t *testing.T) {
	reg, err := openRegistry(&config.Config{})
	if err != nil {
		t.Fatalf("openRegistry() error: %v", err)
	}
	if _, ok := reg.(*registry.Memory); !ok {
		t.Errorf("openRegistry() = %T, want *registry.Memory", reg)
	}
}

func TestOpenRegistry_HTTP(t *testing.T) {
	reg, err := openRegistry(&config.Config{RegistryURL: "http://registry.local", RegistrySource: "nutrition", RegistryTimeout: time.Second})
	if err != nil {
		t.Fatalf("openRegistry() error: %v", err)
	}
	if _, ok := reg.(*registry.HTTPGateway); !ok {
		t.Errorf("openRegistry() = %T, want *registry.HTTPGateway", reg)
	}
}

func TestOpenRegistry_MissingSeed(t *testing.T) {
	_, err := openRegistry(&config.Config{RegistrySeedFile: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	if _, _, _, err := openStore(context.Background(), &config.Config{StoreDriver: "mysql"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func writeSeed(t *testing.T) string {
	t.Helper()
	birth := time.Now().AddDate(-1, 0, 0).Format("2006-01-02")
	content := `patients:
  - id: g-asdf
    status: A
    sex: F
    name: Amina
    birth_date: ` + birth + `
    aliases: [asdf]
providers:
  - id: hw-1
    status: A
    name: Joe
    aliases: ["+25570000001"]
`
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{
		Env:              "development",
		StoreDriver:      "sqlite",
		SQLitePath:       ":memory:",
		MessagePrefix:    "nutrition",
		ParserMode:       "tagged",
		MaxDigits:        4,
		RegistrySeedFile: writeSeed(t),
	}
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestApp_MessageAndExport(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	reply, handled := a.router.Dispatch(ctx, messaging.TransportCLI, messaging.Message{
		Identity: "+25570000001",
		Text:     "nutrition report asdf w 10 h 75 m 14 o N",
	})
	if !handled {
		t.Fatal("expected message to be handled")
	}
	if !strings.HasPrefix(reply.Text, "Thanks Joe.") {
		t.Errorf("reply = %q, want prefix %q", reply.Text, "Thanks Joe.")
	}

	items, total, err := a.svc.List(ctx, report.Filter{}, 10, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if items[0].Status != report.StatusAnalyzed {
		t.Errorf("Status = %q, want %q", items[0].Status, report.StatusAnalyzed)
	}

	rows, err := a.svc.ExportRows(ctx, report.Filter{})
	if err != nil {
		t.Fatalf("ExportRows() error: %v", err)
	}
	write, _ := exportWriter("csv")
	var buf bytes.Buffer
	if err := write(&buf, rows); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if !strings.Contains(buf.String(), "Amina (asdf)") {
		t.Errorf("csv missing patient column:\n%s", buf.String())
	}
}

func TestApp_UnhandledMessage(t *testing.T) {
	a := newTestApp(t)
	if _, handled := a.router.Dispatch(context.Background(), messaging.TransportCLI, messaging.Message{Text: "hello"}); handled {
		t.Error("expected unrelated text to be unhandled")
	}
}

func TestApp_PingSQLite(t *testing.T) {
	a := newTestApp(t)
	if err := a.pinger.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
