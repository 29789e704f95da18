// Package storage persists the highlight collection.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starford/vault/internal/models"
)

// Provider stores the whole collection as one value. There is no partial
// update: callers read, modify and write back the full list.
type Provider interface {
	// Get returns the stored highlights in save order, or an empty list when
	// nothing has been stored yet.
	Get(ctx context.Context) ([]models.Highlight, error)
	// Set replaces the stored collection.
	Set(ctx context.Context, hs []models.Highlight) error
}

func encode(hs []models.Highlight) ([]byte, error) {
	if hs == nil {
		hs = []models.Highlight{}
	}
	data, err := json.MarshalIndent(models.Collection{Highlights: hs}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte) ([]models.Highlight, error) {
	if len(data) == 0 {
		return []models.Highlight{}, nil
	}
	var c models.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("storage: decode: %w", err)
	}
	if c.Highlights == nil {
		c.Highlights = []models.Highlight{}
	}
	return c.Highlights, nil
}
