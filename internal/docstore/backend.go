package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Query carries the constraints shared by both search paths: a
// positional namespace prefix, equality filters on top-level value
// keys, and skip/limit paging applied after ranking.
type Query struct {
	Prefix Namespace
	Filter map[string]any
	Limit  int
	Offset int
}

// Backend is the persistence layer the store delegates to. It owns
// write ordering and read consistency; the store adds no locking of
// its own. Implementations must be safe for concurrent use.
type Backend interface {
	// Insert durably adds a new physical row. No existing row is
	// touched. The embedding may be nil; fulltext feeds the text index.
	Insert(ctx context.Context, rec *Record, embedding []float32, fulltext string) error

	// GetLatest returns the most recently created live record for the
	// exact namespace and logical key, or nil when none matches.
	GetLatest(ctx context.Context, ns Namespace, key string) (*Record, error)

	// SetExpiration rewrites the expiration of a single physical row.
	SetExpiration(ctx context.Context, storageKey string, exp time.Time) error

	// Delete removes every row for the namespace and logical key.
	// Deleting a non-existent record is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// VectorSearch ranks live records by similarity to the given
	// embedding, most similar first, honoring the query constraints.
	VectorSearch(ctx context.Context, embedding []float32, q Query) ([]SearchResult, error)

	// TextSearch ranks live records by text relevance against query,
	// or by recency when query is empty.
	TextSearch(ctx context.Context, query string, q Query) ([]SearchResult, error)

	// Namespaces returns the distinct namespaces of live records
	// matching the prefix. An empty prefix matches everything.
	Namespaces(ctx context.Context, prefix Namespace) ([]Namespace, error)

	// Close releases the backend connection.
	Close() error
}

// matchesFilter applies top-level equality filters to a value. Values
// are compared after JSON normalization so that, e.g., an int filter
// matches a float64 decoded from storage.
func matchesFilter(value Value, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := value[k]
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
