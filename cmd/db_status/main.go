package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dsn := flag.String("dsn", "", "Postgres DSN (env PG_DSN used if empty)")
	table := flag.String("table", "housing_econ_wide", "wide indicator table name")
	target := flag.String("target", "housing_price_index_value", "target column")
	flag.Parse()

	dsnVal := *dsn
	if dsnVal == "" {
		dsnVal = os.Getenv("PG_DSN")
		if dsnVal == "" {
			dsnVal = "host=localhost user=postgres password=postgres dbname=housing sslmode=disable"
		}
	}

	db, err := sql.Open("postgres", dsnVal)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, *table)).Scan(&count); err != nil {
		log.Fatalf("count: %v", err)
	}

	var minDate, maxDate sql.NullString
	if err := db.QueryRow(fmt.Sprintf(`SELECT MIN(ref_date)::text, MAX(ref_date)::text FROM %s`, *table)).Scan(&minDate, &maxDate); err != nil {
		log.Fatalf("date range: %v", err)
	}

	var latestTarget sql.NullFloat64
	err = db.QueryRow(fmt.Sprintf(`SELECT %s FROM %s ORDER BY ref_date DESC LIMIT 1`, *target, *table)).Scan(&latestTarget)
	if err != nil && err != sql.ErrNoRows {
		log.Fatalf("latest target: %v", err)
	}

	fmt.Printf("table:       %s\n", *table)
	fmt.Printf("rows:        %d\n", count)
	fmt.Printf("date range:  %s to %s\n", minDate.String, maxDate.String)
	if latestTarget.Valid {
		fmt.Printf("latest %s: %.2f\n", *target, latestTarget.Float64)
	} else {
		fmt.Printf("latest %s: NULL\n", *target)
	}
}
