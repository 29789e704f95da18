package index

// HighlightIndex defines the interface for highlight indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type HighlightIndex interface {
	UpsertHighlight(r HighlightRow) error
	DeleteHighlight(id string) error
	GetChecksum(id string) (string, error)
	AllChecksums() (map[string]string, error)
	ListByURL(url string) ([]HighlightRow, error)
	Count() (int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies HighlightIndex at compile time.
var _ HighlightIndex = (*DB)(nil)
