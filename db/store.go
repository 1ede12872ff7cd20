package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"github.com/vulndb/nvd-cve-db/nvd"
)

// ErrNotFound is returned by QueryByID when no row matches.
var ErrNotFound = xerrors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS cves (
	cve_id TEXT PRIMARY KEY,
	year INTEGER NOT NULL,
	published_date TEXT,
	last_modified_date TEXT,
	description TEXT,
	type TEXT NOT NULL,
	v2_score REAL,
	v2_severity TEXT,
	v2_vector TEXT,
	v3_score REAL,
	v3_severity TEXT,
	v3_vector TEXT
);

CREATE INDEX IF NOT EXISTS idx_cves_year ON cves(year);

CREATE TABLE IF NOT EXISTS fetch_cache (
	resource TEXT PRIMARY KEY,
	last_fetch TEXT NOT NULL
);
`

const upsertSQL = `
INSERT INTO cves (
	cve_id, year, published_date, last_modified_date, description, type,
	v2_score, v2_severity, v2_vector, v3_score, v3_severity, v3_vector
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(cve_id) DO UPDATE SET
	year = excluded.year,
	published_date = excluded.published_date,
	last_modified_date = excluded.last_modified_date,
	description = excluded.description,
	type = excluded.type,
	v2_score = excluded.v2_score,
	v2_severity = excluded.v2_severity,
	v2_vector = excluded.v2_vector,
	v3_score = excluded.v3_score,
	v3_severity = excluded.v3_severity,
	v3_vector = excluded.v3_vector
`

// staleAfter is the feed freshness threshold.
const staleAfter = 24 * time.Hour

// Store owns all persisted state: normalized CVE rows and the per-feed
// fetch cache.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, xerrors.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, xerrors.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, xerrors.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, xerrors.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or fully overwrites the row for the record's ID.
// Calling it again with the same record is a no-op.
func (s *Store) Upsert(record nvd.Record) error {
	if _, err := s.db.Exec(upsertSQL, upsertArgs(record)...); err != nil {
		return xerrors.Errorf("failed to upsert %s: %w", record.ID, err)
	}
	return nil
}

// UpsertMany applies the whole batch in one transaction so a failed
// feed import never leaves a half-applied feed.
func (s *Store) UpsertMany(records []nvd.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return xerrors.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		return xerrors.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.Exec(upsertArgs(record)...); err != nil {
			return xerrors.Errorf("failed to upsert %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

const selectColumns = `
	cve_id, year, published_date, last_modified_date, description, type,
	v2_score, v2_severity, v2_vector, v3_score, v3_severity, v3_vector
`

func (s *Store) QueryByYear(year int) ([]nvd.Record, error) {
	rows, err := s.db.Query(
		"SELECT "+selectColumns+" FROM cves WHERE year = ? ORDER BY cve_id", year)
	if err != nil {
		return nil, xerrors.Errorf("failed to query year %d: %w", year, err)
	}
	defer rows.Close()

	var records []nvd.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) QueryByID(cveID string) (nvd.Record, error) {
	row := s.db.QueryRow("SELECT "+selectColumns+" FROM cves WHERE cve_id = ?", cveID)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nvd.Record{}, ErrNotFound
	}
	if err != nil {
		return nvd.Record{}, xerrors.Errorf("failed to query %s: %w", cveID, err)
	}
	return record, nil
}

// allSeveritySQL buckets each row by its highest available severity
// across the two models. The CASE order encodes the precedence
// CRITICAL > HIGH > MEDIUM > LOW; v2 never produces CRITICAL.
const allSeveritySQL = `
CASE
	WHEN v2_severity IS NULL AND v3_severity IS NULL THEN NULL
	WHEN v3_severity = 'CRITICAL' THEN 'CRITICAL'
	WHEN v3_severity = 'HIGH' OR v2_severity = 'HIGH' THEN 'HIGH'
	WHEN v3_severity = 'MEDIUM' OR v2_severity = 'MEDIUM' THEN 'MEDIUM'
	ELSE 'LOW'
END
`

// QuerySeverityCounts returns severity bucket counts for one CVSS
// model, or for the highest available severity per record when the
// model is ALL. A year of 0 means all years.
func (s *Store) QuerySeverityCounts(model nvd.Model, year int) (map[nvd.Severity]int, error) {
	var column string
	switch model {
	case nvd.ModelV2:
		column = "v2_severity"
	case nvd.ModelV3:
		column = "v3_severity"
	case nvd.ModelAll:
		column = allSeveritySQL
	default:
		return nil, xerrors.Errorf("unknown severity model %q", model)
	}

	query := "SELECT " + column + " AS sev, COUNT(*) FROM cves"
	var args []interface{}
	if year != 0 {
		query += " WHERE year = ?"
		args = append(args, year)
	}
	query += " GROUP BY sev"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, xerrors.Errorf("failed to count severities: %w", err)
	}
	defer rows.Close()

	counts := map[nvd.Severity]int{}
	for rows.Next() {
		var severity sql.NullString
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, xerrors.Errorf("failed to scan severity count: %w", err)
		}
		if !severity.Valid {
			// Rows without any severity data stay out of the buckets.
			continue
		}
		counts[nvd.Severity(severity.String)] = count
	}
	return counts, rows.Err()
}

// YearCount aggregates one year of stored records, with the breakdown
// by record type.
type YearCount struct {
	Year     int
	Total    int
	Rejected int
	Disputed int
	Reserved int
}

// YearCounts returns per-year aggregates, ascending by year.
func (s *Store) YearCounts() ([]YearCount, error) {
	rows, err := s.db.Query(`
		SELECT year,
		       COUNT(*),
		       SUM(type = 'REJECT'),
		       SUM(type = 'DISPUTED'),
		       SUM(type = 'RESERVED')
		FROM cves
		GROUP BY year
		ORDER BY year`)
	if err != nil {
		return nil, xerrors.Errorf("failed to count years: %w", err)
	}
	defer rows.Close()

	var counts []YearCount
	for rows.Next() {
		var yc YearCount
		if err := rows.Scan(&yc.Year, &yc.Total, &yc.Rejected, &yc.Disputed, &yc.Reserved); err != nil {
			return nil, xerrors.Errorf("failed to scan year count: %w", err)
		}
		counts = append(counts, yc)
	}
	return counts, rows.Err()
}

// NeedsRefresh reports whether a feed resource has never been fetched
// or its last successful fetch is older than 24 hours.
func (s *Store) NeedsRefresh(resource string, now time.Time) (bool, error) {
	var lastFetch string
	err := s.db.QueryRow(
		"SELECT last_fetch FROM fetch_cache WHERE resource = ?", resource).Scan(&lastFetch)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, xerrors.Errorf("failed to read fetch cache: %w", err)
	}

	t, err := time.Parse(time.RFC3339, lastFetch)
	if err != nil {
		return false, xerrors.Errorf("failed to parse fetch time %q: %w", lastFetch, err)
	}
	return now.Sub(t) >= staleAfter, nil
}

// RecordSuccess unconditionally updates the stored fetch timestamp.
func (s *Store) RecordSuccess(resource string, fetchedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO fetch_cache (resource, last_fetch) VALUES (?, ?)
		ON CONFLICT(resource) DO UPDATE SET last_fetch = excluded.last_fetch`,
		resource, fetchedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return xerrors.Errorf("failed to record fetch time: %w", err)
	}
	return nil
}

func upsertArgs(record nvd.Record) []interface{} {
	args := []interface{}{
		record.ID,
		record.Year,
		timeArg(record.PublishedDate),
		timeArg(record.LastModifiedDate),
		record.Description,
		record.Type,
	}
	args = append(args, metricArgs(record.CVSSV2)...)
	args = append(args, metricArgs(record.CVSSV3)...)
	return args
}

func timeArg(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func metricArgs(m *nvd.Metric) []interface{} {
	if m == nil {
		return []interface{}{nil, nil, nil}
	}
	return []interface{}{m.BaseScore, string(m.Severity), m.Vector}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (nvd.Record, error) {
	var record nvd.Record
	var published, modified sql.NullString
	var v2Score, v3Score sql.NullFloat64
	var v2Severity, v2Vector, v3Severity, v3Vector sql.NullString

	err := row.Scan(
		&record.ID, &record.Year, &published, &modified, &record.Description, &record.Type,
		&v2Score, &v2Severity, &v2Vector, &v3Score, &v3Severity, &v3Vector,
	)
	if err == sql.ErrNoRows {
		return record, err
	}
	if err != nil {
		return record, xerrors.Errorf("failed to scan record: %w", err)
	}

	if published.Valid {
		record.PublishedDate, _ = time.Parse(time.RFC3339, published.String)
	}
	if modified.Valid {
		record.LastModifiedDate, _ = time.Parse(time.RFC3339, modified.String)
	}
	if v2Score.Valid {
		record.CVSSV2 = &nvd.Metric{
			BaseScore: v2Score.Float64,
			Severity:  nvd.Severity(v2Severity.String),
			Vector:    v2Vector.String,
		}
	}
	if v3Score.Valid {
		record.CVSSV3 = &nvd.Metric{
			BaseScore: v3Score.Float64,
			Severity:  nvd.Severity(v3Severity.String),
			Vector:    v3Vector.String,
		}
	}
	return record, nil
}
