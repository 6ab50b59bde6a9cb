package dataset

import (
	"fmt"
	"math"
	"testing"

	"github.com/hpi-forecast/pkg/indicators"
)

const target = "housing_price_index_value"

// monthlyRows builds n contiguous monthly rows with hpi = 100 + i and one
// extra indicator column.
func monthlyRows(n int) []indicators.Row {
	rows := make([]indicators.Row, n)
	for i := 0; i < n; i++ {
		year := 2000 + i/12
		month := i%12 + 1
		rows[i] = indicators.Row{
			RefDate: fmt.Sprintf("%04d-%02d-01", year, month),
			Values: map[string]float64{
				target:              100 + float64(i),
				"monthly_cpi_value": 50 + float64(i)*0.5,
			},
		}
	}
	return rows
}

func TestBuildExampleCount(t *testing.T) {
	for _, tc := range []struct {
		n, horizon, want int
	}{
		{40, 3, 37},
		{40, 1, 39},
		{40, 36, 4},
		{10, 10, 0},
		{10, 12, 0},
		{0, 1, 0},
	} {
		ds := Build(monthlyRows(tc.n), target, tc.horizon)
		if ds.Len() != tc.want {
			t.Errorf("n=%d h=%d: expected %d examples, got %d", tc.n, tc.horizon, tc.want, ds.Len())
		}
	}
}

func TestBuildTargetAlignment(t *testing.T) {
	rows := monthlyRows(40)
	horizon := 3
	ds := Build(rows, target, horizon)
	for i := 0; i < ds.Len(); i++ {
		want := rows[i+horizon].Values[target]
		if ds.Y[i] != want {
			t.Fatalf("example %d: target %v, want row[%d] value %v", i, ds.Y[i], i+horizon, want)
		}
		if ds.Dates[i] != rows[i].RefDate {
			t.Fatalf("example %d: source date %s, want %s", i, ds.Dates[i], rows[i].RefDate)
		}
	}
}

func TestBuildFeatureSchemaExcludesTarget(t *testing.T) {
	ds := Build(monthlyRows(10), target, 1)
	if len(ds.FeatureNames) != 1 || ds.FeatureNames[0] != "monthly_cpi_value" {
		t.Fatalf("unexpected feature schema: %v", ds.FeatureNames)
	}
}

func TestBuildFeatureSchemaIsSorted(t *testing.T) {
	rows := monthlyRows(10)
	for i := range rows {
		rows[i].Values["building_permits_value"] = float64(i)
		rows[i].Values["unemployment_rate"] = 5.0
	}
	ds := Build(rows, target, 1)
	want := []string{"building_permits_value", "monthly_cpi_value", "unemployment_rate"}
	if len(ds.FeatureNames) != len(want) {
		t.Fatalf("expected %v, got %v", want, ds.FeatureNames)
	}
	for i := range want {
		if ds.FeatureNames[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ds.FeatureNames)
		}
	}
}

func TestBuildMissingFeatureIsNaN(t *testing.T) {
	rows := monthlyRows(5)
	delete(rows[2].Values, "monthly_cpi_value")
	ds := Build(rows, target, 1)
	if !math.IsNaN(ds.X[2][0]) {
		t.Fatalf("expected NaN for missing value, got %v", ds.X[2][0])
	}
	if math.IsNaN(ds.X[1][0]) {
		t.Fatalf("expected present value, got NaN")
	}
}

func TestBuildSkipsNullTargets(t *testing.T) {
	rows := monthlyRows(10)
	delete(rows[5].Values, target)
	ds := Build(rows, target, 1)
	// Row 4's target month (row 5) has no index value, so it is dropped.
	if ds.Len() != 8 {
		t.Fatalf("expected 8 examples, got %d", ds.Len())
	}
	for _, d := range ds.Dates {
		if d == rows[4].RefDate {
			t.Fatalf("example with null target was not dropped")
		}
	}
}
