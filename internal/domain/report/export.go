package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/nutrition/nutrition/internal/registry"
)

// ExportColumns is the header row of every export.
var ExportColumns = []string{
	"Id", "Created", "Updated", "Reporter", "Patient", "Age", "Sex",
	"Height", "Weight", "Muac", "Oedema", "Weight4age", "Height4age", "Weight4height", "Status",
}

const exportPageSize = 100

// ExportRows renders every report matching f, header first. Registry
// lookups are cached for the duration of one export.
func (s *Service) ExportRows(ctx context.Context, f Filter) ([][]string, error) {
	rows := [][]string{ExportColumns}
	patients := map[string]*registry.Patient{}
	providers := map[string]*registry.Provider{}

	for offset := 0; ; offset += exportPageSize {
		items, total, err := s.List(ctx, f, exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, rp := range items {
			patient, err := s.cachedPatient(ctx, patients, rp.GlobalPatientID)
			if err != nil {
				return nil, err
			}
			var provider *registry.Provider
			if rp.GlobalReporterID != nil {
				if provider, err = s.cachedProvider(ctx, providers, *rp.GlobalReporterID); err != nil {
					return nil, err
				}
			}
			rows = append(rows, exportRow(rp, patient, provider))
		}
		if offset+exportPageSize >= total || len(items) == 0 {
			break
		}
	}
	return rows, nil
}

func (s *Service) cachedPatient(ctx context.Context, cache map[string]*registry.Patient, id string) (*registry.Patient, error) {
	if p, ok := cache[id]; ok {
		return p, nil
	}
	p, err := s.registry.LookupPatientByGlobalID(ctx, id)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("resolve patient %s: %w", id, err)
	}
	cache[id] = p
	return p, nil
}

func (s *Service) cachedProvider(ctx context.Context, cache map[string]*registry.Provider, id string) (*registry.Provider, error) {
	if p, ok := cache[id]; ok {
		return p, nil
	}
	p, err := s.registry.LookupProviderByGlobalID(ctx, id)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("resolve reporter %s: %w", id, err)
	}
	cache[id] = p
	return p, nil
}

func exportRow(rp *Report, patient *registry.Patient, provider *registry.Provider) []string {
	reporter := ""
	if rp.ReporterID != nil {
		reporter = *rp.ReporterID
		if provider != nil && provider.Name != "" {
			reporter = fmt.Sprintf("%s (%s)", provider.Name, reporter)
		}
	}
	patientCol, sex := rp.PatientID, ""
	if patient != nil {
		if patient.Name != "" {
			patientCol = fmt.Sprintf("%s (%s)", patient.Name, rp.PatientID)
		}
		sex = patient.Sex
	}
	age := ""
	if rp.AgeInMonths != nil {
		age = strconv.Itoa(*rp.AgeInMonths)
	}
	return []string{
		rp.ID.String(),
		rp.CreatedAt.UTC().Format(time.RFC3339),
		rp.UpdatedAt.UTC().Format(time.RFC3339),
		reporter,
		patientCol,
		age,
		sex,
		formatDecimal(rp.Height),
		formatDecimal(rp.Weight),
		formatDecimal(rp.MUAC),
		formatOedema(rp.Oedema),
		formatDecimal(rp.WeightForAge),
		formatDecimal(rp.HeightForAge),
		formatDecimal(rp.WeightForHeight),
		string(rp.Status),
	}
}

func formatDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func formatOedema(b *bool) string {
	switch {
	case b == nil:
		return "Unknown"
	case *b:
		return "Yes"
	default:
		return "No"
	}
}

// WriteCSV writes rows as RFC 4180 CSV.
func WriteCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

const exportSheet = "Nutrition Reports"

// WriteXLSX writes rows to a single-sheet workbook with a frozen,
// bold header row.
func WriteXLSX(w io.Writer, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if len(rows) > 0 {
		last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
		if err := f.SetPanes(exportSheet, &excelize.Panes{
			Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
		}); err != nil {
			return fmt.Errorf("freeze header: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
