// Package catalog persists the record collection of the current search in
// SQLite so separate CLI invocations can list, filter and download it.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/patrickjm/imgscout/internal/record"
)

const createSearchesTable = `
CREATE TABLE IF NOT EXISTS searches (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS records (
	search_id        TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	id               TEXT NOT NULL,
	position         INTEGER NOT NULL,
	title            TEXT,
	size             TEXT,
	file_type        TEXT,
	source_domain    TEXT,
	source_image_url TEXT,
	age_text         TEXT,
	age_days         INTEGER,
	date_text        TEXT,
	parsed_date      TEXT,
	thumbnail        BLOB,
	downloaded_path  TEXT,
	PRIMARY KEY (search_id, id)
)`

const insertRecord = `INSERT OR IGNORE INTO records (
	search_id, id, position, title, size, file_type, source_domain, source_image_url,
	age_text, age_days, date_text, parsed_date, thumbnail, downloaded_path
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecords = `SELECT id, title, size, file_type, source_domain, source_image_url,
	age_text, age_days, date_text, parsed_date, thumbnail, downloaded_path
FROM records WHERE search_id = ? ORDER BY position`

var ErrNoSearch = errors.New("no search yet; run search first")

type Search struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
}

type Catalog struct {
	conn *sql.DB
}

func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := conn.Exec(createSearchesTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create searches schema: %w", err)
	}
	if _, err := conn.Exec(createRecordsTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create records schema: %w", err)
	}
	return &Catalog{conn: conn}, nil
}

func (c *Catalog) Close() error {
	return c.conn.Close()
}

// Replace discards every stored search and starts a new one holding records.
func (c *Catalog) Replace(query string, records []record.Record) (Search, error) {
	s := Search{ID: uuid.NewString(), Query: query, CreatedAt: time.Now().UTC()}
	tx, err := c.conn.Begin()
	if err != nil {
		return Search{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM records"); err != nil {
		return Search{}, fmt.Errorf("failed to clear records: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM searches"); err != nil {
		return Search{}, fmt.Errorf("failed to clear searches: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO searches (id, query, created_at) VALUES (?, ?, ?)", s.ID, s.Query, s.CreatedAt.Format(time.RFC3339)); err != nil {
		return Search{}, fmt.Errorf("failed to insert search: %w", err)
	}
	if _, err := insertRecords(tx, s.ID, 0, records); err != nil {
		return Search{}, err
	}
	return s, tx.Commit()
}

// Append adds the records whose id is not stored yet and returns how many
// were added.
func (c *Catalog) Append(records []record.Record) (int, error) {
	s, err := c.Current()
	if err != nil {
		return 0, err
	}
	tx, err := c.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	var next int
	if err := tx.QueryRow("SELECT COALESCE(MAX(position) + 1, 0) FROM records WHERE search_id = ?", s.ID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to read position: %w", err)
	}
	added, err := insertRecords(tx, s.ID, next, records)
	if err != nil {
		return 0, err
	}
	return added, tx.Commit()
}

func (c *Catalog) Current() (Search, error) {
	var s Search
	var created string
	err := c.conn.QueryRow("SELECT id, query, created_at FROM searches ORDER BY created_at DESC LIMIT 1").Scan(&s.ID, &s.Query, &created)
	if err == sql.ErrNoRows {
		return Search{}, ErrNoSearch
	}
	if err != nil {
		return Search{}, fmt.Errorf("failed to load search: %w", err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return s, nil
}

func (c *Catalog) Records() (Search, []record.Record, error) {
	s, err := c.Current()
	if err != nil {
		return Search{}, nil, err
	}
	rows, err := c.conn.Query(selectRecords, s.ID)
	if err != nil {
		return Search{}, nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	records := []record.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return Search{}, nil, err
		}
		records = append(records, r)
	}
	return s, records, rows.Err()
}

func (c *Catalog) SetDownloaded(id string, path string) error {
	s, err := c.Current()
	if err != nil {
		return err
	}
	res, err := c.conn.Exec("UPDATE records SET downloaded_path = ? WHERE search_id = ? AND id = ?", path, s.ID, id)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

func insertRecords(tx *sql.Tx, searchID string, position int, records []record.Record) (int, error) {
	stmt, err := tx.Prepare(insertRecord)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()
	added := 0
	for _, r := range records {
		res, err := stmt.Exec(
			searchID, r.ID, position,
			nullable(r.Title), nullable(r.Size), nullable(r.FileType), nullable(r.SourceDomain), nullable(r.SourceImageURL),
			nullable(r.AgeText), ageValue(r.AgeDays), nullable(r.DateText), dateValue(r.ParsedDate),
			r.Thumbnail, nullable(r.DownloadedPath),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
			position++
		}
	}
	return added, nil
}

func scanRecord(rows *sql.Rows) (record.Record, error) {
	var r record.Record
	var title, size, fileType, domain, src, ageText, dateText, parsed, downloaded sql.NullString
	var ageDays sql.NullInt64
	if err := rows.Scan(&r.ID, &title, &size, &fileType, &domain, &src, &ageText, &ageDays, &dateText, &parsed, &r.Thumbnail, &downloaded); err != nil {
		return record.Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	r.Title, r.Size, r.FileType = title.String, size.String, fileType.String
	r.SourceDomain, r.SourceImageURL = domain.String, src.String
	r.AgeText, r.DateText, r.DownloadedPath = ageText.String, dateText.String, downloaded.String
	if ageDays.Valid {
		days := int(ageDays.Int64)
		r.AgeDays = &days
	}
	if parsed.Valid {
		if d, err := time.Parse("2006-01-02", parsed.String); err == nil {
			r.ParsedDate = &d
		}
	}
	return r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ageValue(days *int) sql.NullInt64 {
	if days == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*days), Valid: true}
}

func dateValue(d *time.Time) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Format("2006-01-02"), Valid: true}
}
