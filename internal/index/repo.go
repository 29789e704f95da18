package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/vault/internal/models"
)

// HighlightRow represents a row in the highlights table.
type HighlightRow struct {
	ID        string
	Position  int
	Text      string
	URL       string
	Title     string
	Checksum  string
	IndexedAt time.Time
}

// Highlight converts the row back to the domain type.
func (r HighlightRow) Highlight() models.Highlight {
	return models.Highlight{ID: r.ID, Text: r.Text, URL: r.URL, Title: r.Title}
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertHighlight inserts or replaces a highlight and its FTS entry within a transaction.
func (db *DB) UpsertHighlight(r HighlightRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if r.IndexedAt.IsZero() {
		r.IndexedAt = time.Now()
	}
	_, err = tx.Exec(`
		INSERT INTO highlights (id, position, text, url, title, checksum, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position   = excluded.position,
			text       = excluded.text,
			url        = excluded.url,
			title      = excluded.title,
			checksum   = excluded.checksum,
			indexed_at = excluded.indexed_at
	`, r.ID, r.Position, r.Text, r.URL, r.Title, r.Checksum, r.IndexedAt)
	if err != nil {
		return fmt.Errorf("index: upsert highlight: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, r.ID, r.Text, r.Title, r.URL); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteHighlight removes a highlight and its FTS entry.
func (db *DB) DeleteHighlight(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	if _, err := tx.Exec(`DELETE FROM highlights WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete highlight: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a highlight, or empty string if not found.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM highlights WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetHighlight returns the indexed row for id. ok is false when it is not indexed.
func (db *DB) GetHighlight(id string) (row HighlightRow, ok bool, err error) {
	err = db.conn.QueryRow(
		`SELECT id, position, text, url, title, checksum FROM highlights WHERE id = ?`, id,
	).Scan(&row.ID, &row.Position, &row.Text, &row.URL, &row.Title, &row.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return HighlightRow{}, false, nil
	}
	if err != nil {
		return HighlightRow{}, false, fmt.Errorf("index: get highlight: %w", err)
	}
	return row, true, nil
}

// AllChecksums returns id → checksum for every indexed highlight.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM highlights`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

// ListByURL returns the highlights saved from url, in save order.
func (db *DB) ListByURL(url string) ([]HighlightRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, position, text, url, title, checksum, indexed_at
		FROM highlights
		WHERE url = ?
		ORDER BY position
	`, url)
	if err != nil {
		return nil, fmt.Errorf("index: list by url: %w", err)
	}
	defer rows.Close()

	var out []HighlightRow
	for rows.Next() {
		var r HighlightRow
		if err := rows.Scan(&r.ID, &r.Position, &r.Text, &r.URL, &r.Title, &r.Checksum, &r.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of indexed highlights.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM highlights`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}
