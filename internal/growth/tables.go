package growth

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

//go:embed data/*.csv
var embedded embed.FS

type tableKey struct {
	indicator Indicator
	sex       Sex
}

var sexFileNames = map[Sex]string{Male: "boys", Female: "girls"}

// Tables holds one reference table per indicator and sex. It is read-only
// after loading and safe for concurrent use.
type Tables struct {
	tables map[tableKey]*Table
}

// DefaultTables loads the abridged reference tables compiled into the binary.
// They keep a subset of the WHO LMS rows, widening to 3 to 6 month age steps
// and 5 cm length steps, and Table.At interpolates linearly between rows.
// Scores therefore differ from the full WHO tables by a few hundredths. Set
// GROWTH_TABLES_DIR to load the full tables through LoadTables.
func DefaultTables() (*Tables, error) {
	t := &Tables{tables: make(map[tableKey]*Table)}
	for key, name := range tableFileNames() {
		f, err := embedded.Open("data/" + name + ".csv")
		if err != nil {
			return nil, fmt.Errorf("open embedded table %s: %w", name, err)
		}
		table, err := readCSVTable(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("embedded table %s: %w", name, err)
		}
		t.tables[key] = table
	}
	return t, nil
}

// LoadTables starts from the embedded tables and replaces any for which dir
// holds a <indicator>_<boys|girls>.csv or .xlsx file. An empty dir returns
// the defaults.
func LoadTables(dir string) (*Tables, error) {
	t, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return t, nil
	}
	for key, name := range tableFileNames() {
		table, err := loadTableFile(dir, name)
		if err != nil {
			return nil, err
		}
		if table != nil {
			t.tables[key] = table
		}
	}
	return t, nil
}

// Get returns the table for an indicator and sex.
func (t *Tables) Get(ind Indicator, sex Sex) (*Table, error) {
	table, ok := t.tables[tableKey{indicator: ind, sex: sex}]
	if !ok {
		return nil, fmt.Errorf("no %s table for sex %q", ind, sex)
	}
	return table, nil
}

func tableFileNames() map[tableKey]string {
	names := make(map[tableKey]string)
	for _, ind := range []Indicator{WeightForAge, LengthHeightForAge, WeightForLength, WeightForHeight} {
		for sex, suffix := range sexFileNames {
			names[tableKey{indicator: ind, sex: sex}] = string(ind) + "_" + suffix
		}
	}
	return names
}

func loadTableFile(dir, name string) (*Table, error) {
	csvPath := filepath.Join(dir, name+".csv")
	if f, err := os.Open(csvPath); err == nil {
		defer f.Close()
		table, err := readCSVTable(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", csvPath, err)
		}
		return table, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open %s: %w", csvPath, err)
	}

	xlsxPath := filepath.Join(dir, name+".xlsx")
	if _, err := os.Stat(xlsxPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", xlsxPath, err)
	}
	f, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", xlsxPath, err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", xlsxPath, err)
	}
	table, err := tableFromRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", xlsxPath, err)
	}
	return table, nil
}

func readCSVTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return tableFromRows(rows)
}

// tableFromRows reads a header row naming the key column (key, month, age,
// length or height) plus L, M and S. Other columns such as the SD curves in
// the published WHO workbooks are ignored.
func tableFromRows(rows [][]string) (*Table, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("expected a header and at least one row")
	}
	cols := map[string]int{}
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "key", "month", "months", "age", "length", "height", "lorh":
			if _, ok := cols["key"]; !ok {
				cols["key"] = i
			}
		case "l":
			cols["l"] = i
		case "m":
			cols["m"] = i
		case "s":
			cols["s"] = i
		}
	}
	for _, c := range []string{"key", "l", "m", "s"} {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("missing %q column", c)
		}
	}

	points := make([]Point, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if len(strings.Join(row, "")) == 0 {
			continue
		}
		var vals [4]float64
		for i, c := range []string{"key", "l", "m", "s"} {
			idx := cols[c]
			if idx >= len(row) {
				return nil, fmt.Errorf("row %d: missing %s", n+2, c)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", n+2, c, err)
			}
			vals[i] = v
		}
		points = append(points, Point{Key: vals[0], LMS: LMS{L: vals[1], M: vals[2], S: vals[3]}})
	}
	return NewTable(points)
}
