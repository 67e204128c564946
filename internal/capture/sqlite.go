package capture

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite persists capture entries beyond the in-memory ring.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open capture db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		subdomain TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status INTEGER NOT NULL,
		request_headers TEXT,
		request_body TEXT,
		response_headers TEXT,
		response_body TEXT,
		duration_ns INTEGER NOT NULL,
		ts INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create captures table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_captures_subdomain_ts ON captures(subdomain, ts)`); err != nil {
		return nil, fmt.Errorf("create captures index: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Add(e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO captures (id, subdomain, method, path, status, request_headers, request_body, response_headers, response_body, duration_ns, ts)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Subdomain, e.Method, e.Path, e.Status,
		marshalHeaders(e.RequestHeaders), e.RequestBody,
		marshalHeaders(e.ResponseHeaders), e.ResponseBody,
		int64(e.Duration), e.Timestamp.UnixNano())
	return err
}

// All returns persisted entries, newest first. Subdomain filters when
// non-empty; limit <= 0 means no limit.
func (s *SQLite) All(subdomain string, limit int) ([]Entry, error) {
	query := `SELECT id, subdomain, method, path, status, request_headers, request_body, response_headers, response_body, duration_ns, ts
		FROM captures`
	args := []any{}
	if subdomain != "" {
		query += ` WHERE subdomain = ?`
		args = append(args, subdomain)
	}
	query += ` ORDER BY ts DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var reqHeaders, respHeaders string
		var durationNS, ts int64
		if err := rows.Scan(&e.ID, &e.Subdomain, &e.Method, &e.Path, &e.Status,
			&reqHeaders, &e.RequestBody, &respHeaders, &e.ResponseBody, &durationNS, &ts); err != nil {
			return nil, err
		}
		e.RequestHeaders = unmarshalHeaders(reqHeaders)
		e.ResponseHeaders = unmarshalHeaders(respHeaders)
		e.Duration = time.Duration(durationNS)
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one persisted entry by ID.
func (s *SQLite) Get(id string) (Entry, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, subdomain, method, path, status, request_headers, request_body, response_headers, response_body, duration_ns, ts
		 FROM captures WHERE id = ?`, id)

	var e Entry
	var reqHeaders, respHeaders string
	var durationNS, ts int64
	err := row.Scan(&e.ID, &e.Subdomain, &e.Method, &e.Path, &e.Status,
		&reqHeaders, &e.RequestBody, &respHeaders, &e.ResponseBody, &durationNS, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.RequestHeaders = unmarshalHeaders(reqHeaders)
	e.ResponseHeaders = unmarshalHeaders(respHeaders)
	e.Duration = time.Duration(durationNS)
	e.Timestamp = time.Unix(0, ts)
	return e, true, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func marshalHeaders(h map[string]string) string {
	b, _ := json.Marshal(h)
	return string(b)
}

func unmarshalHeaders(s string) map[string]string {
	var h map[string]string
	_ = json.Unmarshal([]byte(s), &h)
	return h
}
