package dataset

import (
	"math"
	"sort"

	"github.com/hpi-forecast/pkg/indicators"
)

// Dataset is one horizon's supervised training set: each feature vector is
// paired with the target column value Horizon months later. Examples are
// ordered by source ref_date ascending.
type Dataset struct {
	Horizon      int
	TargetColumn string
	FeatureNames []string
	X            [][]float64
	Y            []float64
	Dates        []string
}

func (d *Dataset) Len() int {
	return len(d.Y)
}

// Build pairs row i with row i+horizon's target. Alignment is purely
// positional: the table is assumed to hold one row per month with no gaps.
// Rows whose target month is past the end of the table are dropped, as are
// rows whose target value is null. Feature values absent from a row are NaN.
func Build(rows []indicators.Row, targetColumn string, horizon int) *Dataset {
	ds := &Dataset{
		Horizon:      horizon,
		TargetColumn: targetColumn,
		FeatureNames: featureSchema(rows, targetColumn),
	}
	if horizon <= 0 || horizon >= len(rows) {
		return ds
	}

	for i := 0; i+horizon < len(rows); i++ {
		target, ok := rows[i+horizon].Values[targetColumn]
		if !ok {
			continue
		}
		vec := make([]float64, len(ds.FeatureNames))
		for j, name := range ds.FeatureNames {
			if v, present := rows[i].Values[name]; present {
				vec[j] = v
			} else {
				vec[j] = math.NaN()
			}
		}
		ds.X = append(ds.X, vec)
		ds.Y = append(ds.Y, target)
		ds.Dates = append(ds.Dates, rows[i].RefDate)
	}
	return ds
}

// featureSchema collects every numeric column seen across the table except
// the target, sorted so the schema does not depend on SQL column order.
func featureSchema(rows []indicators.Row, targetColumn string) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for col := range r.Values {
			if col != targetColumn {
				seen[col] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for col := range seen {
		names = append(names, col)
	}
	sort.Strings(names)
	return names
}
