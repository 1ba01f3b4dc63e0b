// Package tools defines the interfaces and data structures
// for the AgentStore MCP service.
package tools

import "encoding/json"

const (
	// ToolMemoryPut is the name of the memory_put MCP tool
	ToolMemoryPut = "memory_put"

	// ToolMemoryGet is the name of the memory_get MCP tool
	ToolMemoryGet = "memory_get"

	// ToolMemoryDelete is the name of the memory_delete MCP tool
	ToolMemoryDelete = "memory_delete"

	// ToolMemorySearch is the name of the memory_search MCP tool
	ToolMemorySearch = "memory_search"

	// ToolListNamespaces is the name of the list_namespaces MCP tool
	ToolListNamespaces = "list_namespaces"

	// DefaultSearchLimit is the default number of results to return
	// when no limit is specified in a memory_search request
	DefaultSearchLimit = 10
)

// MemoryPutRequest defines the input schema for memory_put tool
type MemoryPutRequest struct {
	// Namespace is the hierarchical location of the record, e.g.
	// "agents/alice/notes". Segments are separated by "/".
	Namespace string `json:"namespace"`

	// Key is the logical key of the record within the namespace
	Key string `json:"key"`

	// Value is the JSON document to store. Omitting it deletes the key.
	Value map[string]interface{} `json:"value,omitempty"`

	// IndexFields overrides the configured embedding field paths for
	// this write. A single "false" entry disables indexing.
	IndexFields []string `json:"index_fields,omitempty"`

	// TTLMinutes sets the record's lifetime. Zero means already
	// expired, null explicitly clears any expiration, omitted sets
	// none.
	TTLMinutes TTLField `json:"ttl_minutes,omitzero"`
}

// TTLField is the wire form of the three-state TTL parameter. It keeps
// JSON null (clear expiration) distinguishable from an omitted field
// (no expiration), which a plain *float64 cannot.
type TTLField struct {
	Provided bool
	Clear    bool
	Minutes  float64
}

// IsZero reports an omitted field, so omitzero drops it from output.
func (t TTLField) IsZero() bool { return !t.Provided }

func (t *TTLField) UnmarshalJSON(data []byte) error {
	*t = TTLField{Provided: true}
	if string(data) == "null" {
		t.Clear = true
		return nil
	}
	return json.Unmarshal(data, &t.Minutes)
}

func (t TTLField) MarshalJSON() ([]byte, error) {
	if t.Clear {
		return []byte("null"), nil
	}
	return json.Marshal(t.Minutes)
}

// MemoryPutResponse defines the output schema for memory_put tool
type MemoryPutResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}

// MemoryGetRequest defines the input schema for memory_get tool
type MemoryGetRequest struct {
	// Namespace is the exact namespace of the record
	Namespace string `json:"namespace"`

	// Key is the logical key of the record
	Key string `json:"key"`

	// RefreshTTL extends the record's expiration on read
	RefreshTTL bool `json:"refresh_ttl,omitempty"`
}

// MemoryGetResponse defines the output schema for memory_get tool
type MemoryGetResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Found reports whether a live record exists for the key
	Found bool `json:"found"`

	// Value is the stored document when Found is true
	Value map[string]interface{} `json:"value,omitempty"`

	// CreatedAt is the record's creation time in RFC 3339 format
	CreatedAt string `json:"created_at,omitempty"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}

// MemoryDeleteRequest defines the input schema for memory_delete tool
type MemoryDeleteRequest struct {
	// Namespace is the exact namespace of the record
	Namespace string `json:"namespace"`

	// Key is the logical key of the record to delete
	Key string `json:"key"`
}

// MemoryDeleteResponse defines the output schema for memory_delete tool
type MemoryDeleteResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}

// MemorySearchRequest defines the input schema for memory_search tool
type MemorySearchRequest struct {
	// NamespacePrefix restricts the search to namespaces under this
	// prefix, e.g. "agents/alice". Empty searches everything.
	NamespacePrefix string `json:"namespace_prefix,omitempty"`

	// Query is the natural-language search text. Empty returns
	// records by recency.
	Query string `json:"query,omitempty"`

	// Filter restricts results to documents whose top-level fields
	// equal these values.
	Filter map[string]interface{} `json:"filter,omitempty"`

	// Limit is the maximum number of results to return.
	// If not specified, DefaultSearchLimit will be used.
	Limit int `json:"limit,omitempty"`

	// Offset skips this many results for pagination
	Offset int `json:"offset,omitempty"`

	// RefreshTTL extends the expiration of every returned record
	RefreshTTL bool `json:"refresh_ttl,omitempty"`
}

// MemorySearchResult is one entry of a memory_search response
type MemorySearchResult struct {
	// Namespace is the record's namespace path
	Namespace string `json:"namespace"`

	// Key is the record's logical key
	Key string `json:"key"`

	// Value is the stored document
	Value map[string]interface{} `json:"value"`

	// Score is the relevance score; zero for recency-only matches
	Score float64 `json:"score"`
}

// MemorySearchResponse defines the output schema for memory_search tool
type MemorySearchResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Results contains the matching records, best first
	Results []MemorySearchResult `json:"results"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}

// ListNamespacesRequest defines the input schema for list_namespaces tool
type ListNamespacesRequest struct {
	// Prefix keeps only namespaces starting with these segments
	Prefix string `json:"prefix,omitempty"`

	// Suffix keeps only namespaces ending with these segments
	Suffix string `json:"suffix,omitempty"`

	// MaxDepth truncates reported namespaces to this many segments
	MaxDepth int `json:"max_depth,omitempty"`

	// Limit is the maximum number of namespaces to return
	Limit int `json:"limit,omitempty"`

	// Offset skips this many namespaces for pagination
	Offset int `json:"offset,omitempty"`
}

// ListNamespacesResponse defines the output schema for list_namespaces tool
type ListNamespacesResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Namespaces contains the distinct namespace paths, sorted
	Namespaces []string `json:"namespaces"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}
