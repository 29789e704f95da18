package index

import (
	"context"
	"log/slog"

	"github.com/starford/vault/internal/checksum"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/storage"
)

// EventCallback is called after an index change with the highlight as it is
// now, or as it was last indexed for "deleted".
type EventCallback func(kind string, h models.Highlight)

// Sync reads the collection and brings the index up to date:
//   - new/changed highlights are upserted
//   - highlights no longer in the store are deleted from the index
func Sync(ctx context.Context, db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) error {
	hs, err := store.Get(ctx)
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	stored := make(map[string]struct{}, len(hs))
	for pos, h := range hs {
		stored[h.ID] = struct{}{}

		cs := highlightChecksum(pos, h)
		old, known := checksums[h.ID]
		if old == cs {
			continue
		}
		row := HighlightRow{ID: h.ID, Position: pos, Text: h.Text, URL: h.URL, Title: h.Title, Checksum: cs}
		if err := db.UpsertHighlight(row); err != nil {
			logger.Warn("sync: index failed", slog.String("id", h.ID), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("id", h.ID))
		if cb != nil {
			if known {
				cb("updated", h)
			} else {
				cb("created", h)
			}
		}
	}

	// Remove stale entries.
	for id := range checksums {
		if _, ok := stored[id]; ok {
			continue
		}
		gone := models.Highlight{ID: id}
		if cb != nil {
			if row, ok, err := db.GetHighlight(id); err == nil && ok {
				gone = row.Highlight()
			}
		}
		if err := db.DeleteHighlight(id); err != nil {
			logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("id", id))
		if cb != nil {
			cb("deleted", gone)
		}
	}

	return nil
}

// highlightChecksum covers every indexed column, position included.
func highlightChecksum(pos int, h models.Highlight) string {
	return checksum.Row(pos, h.ID, h.Text, h.URL, h.Title)
}
