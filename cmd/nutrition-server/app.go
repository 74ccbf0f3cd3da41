package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrition/nutrition/internal/config"
	"github.com/nutrition/nutrition/internal/domain/report"
	"github.com/nutrition/nutrition/internal/growth"
	"github.com/nutrition/nutrition/internal/messaging"
	"github.com/nutrition/nutrition/internal/platform/db"
	"github.com/nutrition/nutrition/internal/platform/metrics"
	"github.com/nutrition/nutrition/internal/registry"
)

// app holds the collaborators shared by serve, message and export.
type app struct {
	svc     *report.Service
	router  *messaging.Router
	metrics *metrics.Metrics
	pinger  db.Pinger
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}

	repo, pinger, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.pinger = pinger
	a.closers = append(a.closers, closeStore)

	reg, err := openRegistry(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	calc, err := openCalculator(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	mode := report.Mode(cfg.ParserMode)
	a.svc = report.NewService(repo, reg, calc, report.ServiceConfig{
		Form: report.FormConfig{
			Vocabulary:                vocabulary(cfg),
			MaxDigits:                 cfg.MaxDigits,
			RequireRegisteredReporter: cfg.RequireRegisteredReporter,
		},
		Mode:    mode,
		Metrics: a.metrics,
		Logger:  logger.With().Str("component", "report").Logger(),
	})

	msgLogger := logger.With().Str("component", "messaging").Logger()
	a.router = messaging.NewRouter(cfg.MessagePrefix, a.metrics, msgLogger,
		messaging.NewReportHandler(a.svc, cfg.MessagePrefix, mode, msgLogger),
		messaging.NewCancelHandler(a.svc, cfg.MessagePrefix, msgLogger),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (report.Repository, db.Pinger, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := report.EnsureSQLiteSchema(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, nil, err
		}
		return report.NewReportRepoSQLite(sqlDB), db.SQLPinger{DB: sqlDB}, func() { sqlDB.Close() }, nil
	case "postgres":
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return report.NewReportRepoPG(pool), pool, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
		ApplicationName:  "nutrition-server",
	}
}

// openRegistry prefers the remote registry, then a seed file. Development
// falls back to an empty in-memory registry.
func openRegistry(cfg *config.Config) (registry.Gateway, error) {
	switch {
	case cfg.RegistryURL != "":
		return registry.NewHTTPGateway(cfg.RegistryURL, cfg.RegistrySource, cfg.RegistryTimeout), nil
	case cfg.RegistrySeedFile != "":
		m, err := registry.NewMemoryFromFile(cfg.RegistrySeedFile)
		if err != nil {
			return nil, fmt.Errorf("load registry seed: %w", err)
		}
		return m, nil
	default:
		return registry.NewMemory(), nil
	}
}

func openCalculator(cfg *config.Config) (*growth.Calculator, error) {
	if cfg.GrowthTablesDir == "" {
		return growth.NewDefaultCalculator()
	}
	tables, err := growth.LoadTables(cfg.GrowthTablesDir)
	if err != nil {
		return nil, fmt.Errorf("load growth tables: %w", err)
	}
	return growth.NewCalculator(tables), nil
}

// vocabulary overrides each default token list that is configured.
func vocabulary(cfg *config.Config) report.Vocabulary {
	v := report.DefaultVocabulary()
	if len(cfg.TrueTokens) > 0 {
		v.True = cfg.TrueTokens
	}
	if len(cfg.FalseTokens) > 0 {
		v.False = cfg.FalseTokens
	}
	if len(cfg.NullTokens) > 0 {
		v.Null = cfg.NullTokens
	}
	return v
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func exportWriter(format string) (func(io.Writer, [][]string) error, error) {
	switch strings.ToLower(format) {
	case "csv":
		return report.WriteCSV, nil
	case "xlsx":
		return report.WriteXLSX, nil
	default:
		return nil, fmt.Errorf("unknown export format %q, want csv or xlsx", format)
	}
}

type exportOptions struct {
	status      string
	patientID   string
	reporterID  string
	createdFrom string
	createdTo   string
	orderBy     string
}

func (o exportOptions) filter() (report.Filter, error) {
	f := report.Filter{
		PatientID:  o.patientID,
		ReporterID: o.reporterID,
		OrderBy:    o.orderBy,
	}
	if o.status != "" {
		st, ok := report.ParseStatus(strings.ToUpper(o.status))
		if !ok {
			return f, fmt.Errorf("invalid status: %s", o.status)
		}
		f.Status = st
	}
	var err error
	if f.CreatedFrom, err = parseDay(o.createdFrom); err != nil {
		return f, fmt.Errorf("invalid --from: %w", err)
	}
	if f.CreatedTo, err = parseDay(o.createdTo); err != nil {
		return f, fmt.Errorf("invalid --to: %w", err)
	}
	if _, err := report.OrderClause(f.OrderBy); err != nil {
		return f, err
	}
	return f, nil
}

func parseDay(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
