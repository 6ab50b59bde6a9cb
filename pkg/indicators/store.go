package indicators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/hpi-forecast/pkg/metrics"
)

// RefDateColumn is the primary key of the wide indicator table. Every other
// column is assumed to be a nullable numeric indicator.
const RefDateColumn = "ref_date"

// ErrEmptyTable is returned when the indicator table has no rows.
var ErrEmptyTable = errors.New("indicator table is empty")

// Row is one calendar month of indicator values. Values holds only the
// columns that are non-null for that month.
type Row struct {
	RefDate string
	Values  map[string]float64
}

// Store reads and upserts the wide indicator table in Postgres.
type Store struct {
	db    *sql.DB
	table string
}

func Open(dsn, table string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Low-concurrency workload: one trainer or a handful of API requests.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, table: table}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AllRows returns the entire table ordered by ref_date ascending.
func (s *Store) AllRows(ctx context.Context) ([]Row, error) {
	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s ASC`, s.table, RefDateColumn)
	return s.queryRows(ctx, "all_rows", query)
}

// LatestRow returns the most recent row by ref_date.
func (s *Store) LatestRow(ctx context.Context) (Row, error) {
	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s DESC LIMIT 1`, s.table, RefDateColumn)
	rows, err := s.queryRows(ctx, "latest_row", query)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, ErrEmptyTable
	}
	return rows[0], nil
}

// LastNRows returns the n most recent rows, reordered ascending by ref_date
// so callers receive oldest-first series. Fewer than n rows may be returned.
func (s *Store) LastNRows(ctx context.Context, n int) ([]Row, error) {
	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s DESC LIMIT %d`, s.table, RefDateColumn, n)
	rows, err := s.queryRows(ctx, "last_n_rows", query)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (s *Store) queryRows(ctx context.Context, operation, query string) ([]Row, error) {
	start := time.Now()
	defer func() {
		metrics.StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		dest := make([]interface{}, len(columns))
		var refDate sql.NullTime
		values := make([]sql.NullFloat64, len(columns))
		for i, col := range columns {
			if col == RefDateColumn {
				dest[i] = &refDate
			} else {
				dest[i] = &values[i]
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", s.table, err)
		}
		if !refDate.Valid {
			continue
		}
		r := Row{RefDate: refDate.Time.Format("2006-01-02"), Values: make(map[string]float64)}
		for i, col := range columns {
			if col == RefDateColumn {
				continue
			}
			if values[i].Valid {
				r.Values[col] = values[i].Float64
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRows writes rows keyed by ref_date, overwriting the given columns on
// conflict. Missing values are written as NULL. Used by the loader tools.
func (s *Store) UpsertRows(ctx context.Context, rows []Row, columns []string) error {
	if len(rows) == 0 {
		return nil
	}

	setClauses := make([]string, len(columns))
	placeholders := make([]string, len(columns)+1)
	placeholders[0] = "$1"
	for i, col := range columns {
		setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
		placeholders[i+1] = fmt.Sprintf("$%d", i+2)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		s.table, RefDateColumn, strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		RefDateColumn, strings.Join(setClauses, ", "),
	)

	start := time.Now()
	defer func() {
		metrics.StoreQueryDuration.WithLabelValues("upsert").Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]interface{}, 0, len(columns)+1)
		args = append(args, row.RefDate)
		for _, col := range columns {
			if v, ok := row.Values[col]; ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert row %s: %w", row.RefDate, err)
		}
	}
	return tx.Commit()
}
