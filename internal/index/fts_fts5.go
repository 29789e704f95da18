//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS highlights_fts USING fts5(
			id UNINDEXED,
			text,
			title,
			url,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, text, title, url string) error {
	_, _ = tx.Exec(`DELETE FROM highlights_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO highlights_fts (id, text, title, url) VALUES (?, ?, ?, ?)`,
		id, text, title, url)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM highlights_fts WHERE id = ?`, id)
}

// Search performs an FTS5 full-text search and returns matching results with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT highlights_fts.id,
		       h.text,
		       h.url,
		       h.title,
		       snippet(highlights_fts, 1, '<b>', '</b>', '...', 32)
		FROM highlights_fts
		JOIN highlights h ON h.id = highlights_fts.id
		WHERE highlights_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Text, &r.URL, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
