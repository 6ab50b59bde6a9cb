package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hpi-forecast/pkg/indicators"
)

// fileSpec maps one transformed statistical extract onto wide-table columns.
type fileSpec struct {
	filename string
	columns  map[string]string // CSV header -> table column
}

var fileSpecs = []fileSpec{
	{"transformed_MonthlyUnemploymentTotal.csv", map[string]string{
		"unemployment_value": "unemployment_value",
		"labour_force_value": "labour_force_value",
		"unemployment_rate":  "unemployment_rate",
	}},
	{"transformed_MonthlyHousingPriceIndexTotal.csv", map[string]string{"VALUE": "housing_price_index_value"}},
	{"transformed_MonthlyCPIDataTotal.csv", map[string]string{"VALUE": "monthly_cpi_value"}},
	{"transformed_MonthlyBuildingPermitsToronto.csv", map[string]string{"VALUE": "building_permits_value"}},
	{"transformed_WeeklyIncomeOntario.csv", map[string]string{"VALUE": "weekly_income_value"}},
	{"transformed_HousingSCUTotal.csv", map[string]string{
		"housing_starts":             "housing_starts_value",
		"housing_under_construction": "housing_under_construction_value",
		"housing_completions":        "housing_completions_value",
	}},
}

// normalizeRefDate turns YYYY-MM (or YYYY-MM-DD) into first-of-month form.
func normalizeRefDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 7: // YYYY-MM
		return s + "-01", nil
	case 10: // YYYY-MM-DD
		return s[:7] + "-01", nil
	}
	return "", fmt.Errorf("unrecognized REF_DATE: %q", s)
}

// loadFile reads one transformed CSV and merges its mapped columns into the
// wide row map keyed by ref_date.
func loadFile(path string, spec fileSpec, merged map[string]map[string]float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	colIdx := map[string]int{}
	for i, c := range header {
		colIdx[strings.TrimSpace(c)] = i
	}
	refIdx, ok := colIdx["REF_DATE"]
	if !ok {
		return 0, fmt.Errorf("%s has no REF_DATE column", spec.filename)
	}

	count := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("csv read err in %s: %v", spec.filename, err)
			continue
		}
		refDate, err := normalizeRefDate(rec[refIdx])
		if err != nil {
			log.Printf("skipping row in %s: %v", spec.filename, err)
			continue
		}
		row, ok := merged[refDate]
		if !ok {
			row = map[string]float64{}
			merged[refDate] = row
		}
		for csvCol, tableCol := range spec.columns {
			i, ok := colIdx[csvCol]
			if !ok || i >= len(rec) || rec[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				continue
			}
			row[tableCol] = v
		}
		count++
	}
	return count, nil
}

func main() {
	dir := flag.String("dir", "Data/Transformed_CSVs", "directory holding the transformed CSV extracts")
	dsn := flag.String("dsn", "", "Postgres DSN (env PG_DSN used if empty)")
	table := flag.String("table", "housing_econ_wide", "wide indicator table name")
	dry := flag.Bool("dry", false, "parse and report only, do not write to DB")
	batch := flag.Int("batch", 500, "upsert batch size")
	flag.Parse()

	merged := map[string]map[string]float64{}
	allColumns := map[string]struct{}{}
	for _, spec := range fileSpecs {
		path := filepath.Join(*dir, spec.filename)
		n, err := loadFile(path, spec, merged)
		if err != nil {
			log.Printf("skipping %s: %v", spec.filename, err)
			continue
		}
		for _, tableCol := range spec.columns {
			allColumns[tableCol] = struct{}{}
		}
		log.Printf("loaded %d rows from %s", n, spec.filename)
	}
	if len(merged) == 0 {
		log.Fatalf("no rows loaded from %s", *dir)
	}

	dates := make([]string, 0, len(merged))
	for d := range merged {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	columns := make([]string, 0, len(allColumns))
	for c := range allColumns {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	rows := make([]indicators.Row, len(dates))
	for i, d := range dates {
		rows[i] = indicators.Row{RefDate: d, Values: merged[d]}
	}
	log.Printf("merged wide table: %d rows (%s to %s), %d columns", len(rows), dates[0], dates[len(dates)-1], len(columns))

	if *dry {
		log.Printf("dry-run, not writing to DB")
		return
	}

	dsnVal := *dsn
	if dsnVal == "" {
		dsnVal = os.Getenv("PG_DSN")
		if dsnVal == "" {
			dsnVal = "host=localhost user=postgres password=postgres dbname=housing sslmode=disable"
		}
	}
	store, err := indicators.Open(dsnVal, *table)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for start := 0; start < len(rows); start += *batch {
		end := start + *batch
		if end > len(rows) {
			end = len(rows)
		}
		if err := store.UpsertRows(ctx, rows[start:end], columns); err != nil {
			log.Fatalf("upsert batch %d-%d: %v", start, end, err)
		}
		log.Printf("upserted rows %d-%d", start, end)
	}
	log.Printf("done: upserted %d rows into %s", len(rows), *table)
}
