package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/hpi-forecast/pkg/indicators"
)

const valetBase = "https://www.bankofcanada.ca/valet/observations"

// Bank of Canada Valet series for the two rate columns.
var rateSeries = map[string]string{
	"interest_rate": "V122530", // overnight money market financing rate, monthly
	"bond_yield":    "V122538", // Government of Canada 5-year bond yield, monthly
}

type valetResponse struct {
	Observations []map[string]json.RawMessage `json:"observations"`
}

type observation struct {
	date  time.Time
	value float64
}

// fetchSeries pulls one Valet series and returns its observations in date
// order.
func fetchSeries(client *http.Client, seriesID, start string) ([]observation, error) {
	u, err := url.Parse(fmt.Sprintf("%s/%s/json", valetBase, seriesID))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("start_date", start)
	q.Set("end_date", time.Now().Format("2006-01-02"))
	u.RawQuery = q.Encode()

	log.Printf("GET %s", u.String())
	resp, err := client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("valet API returned %s for series %s", resp.Status, seriesID)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var vr valetResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	obs := make([]observation, 0, len(vr.Observations))
	for _, entry := range vr.Observations {
		var dateStr string
		if raw, ok := entry["d"]; ok {
			if err := json.Unmarshal(raw, &dateStr); err != nil {
				continue
			}
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		raw, ok := entry[seriesID]
		if !ok {
			continue
		}
		var wrapped struct {
			V string `json:"v"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			continue
		}
		v, err := strconv.ParseFloat(wrapped.V, 64)
		if err != nil {
			continue
		}
		obs = append(obs, observation{date: date, value: v})
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].date.Before(obs[j].date) })
	log.Printf("series %s: %d valid observations", seriesID, len(obs))
	return obs, nil
}

// monthlyLast resamples observations to one value per month, keeping the
// last observation of each month, keyed by first-of-month ref_date.
func monthlyLast(obs []observation) map[string]float64 {
	out := map[string]float64{}
	for _, o := range obs {
		refDate := o.date.Format("2006-01") + "-01"
		out[refDate] = o.value
	}
	return out
}

func main() {
	start := flag.String("start", "1900-01-01", "start date (YYYY-MM-DD)")
	dsn := flag.String("dsn", "", "Postgres DSN (env PG_DSN used if empty)")
	table := flag.String("table", "housing_econ_wide", "wide indicator table name")
	dry := flag.Bool("dry", false, "fetch and report only, do not write to DB")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	merged := map[string]map[string]float64{}
	columns := make([]string, 0, len(rateSeries))
	for col := range rateSeries {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		obs, err := fetchSeries(client, rateSeries[col], *start)
		if err != nil {
			log.Fatalf("fetch %s: %v", col, err)
		}
		for refDate, v := range monthlyLast(obs) {
			row, ok := merged[refDate]
			if !ok {
				row = map[string]float64{}
				merged[refDate] = row
			}
			row[col] = v
		}
	}
	if len(merged) == 0 {
		log.Fatalf("no observations fetched")
	}

	dates := make([]string, 0, len(merged))
	for d := range merged {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	rows := make([]indicators.Row, len(dates))
	for i, d := range dates {
		rows[i] = indicators.Row{RefDate: d, Values: merged[d]}
	}
	log.Printf("monthly rates: %d months (%s to %s)", len(rows), dates[0], dates[len(dates)-1])

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

	if err := store.UpsertRows(context.Background(), rows, columns); err != nil {
		log.Fatalf("upsert: %v", err)
	}
	log.Printf("done: upserted %d rows into %s", len(rows), *table)
}
