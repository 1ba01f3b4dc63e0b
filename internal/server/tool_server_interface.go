// Package server provides the MCP server implementation for the AgentStore service.
package server

import (
	"context"

	"github.com/localrivet/agentstore/internal/docstore"
)

// MemoryStore is the subset of store operations the tool server
// dispatches to. *docstore.Store satisfies it.
type MemoryStore interface {
	// Put writes a record, assigning a fresh storage key.
	Put(ctx context.Context, ns docstore.Namespace, key string, value docstore.Value, index docstore.IndexOption, ttl docstore.TTL) error

	// Get fetches the latest live record for a logical key, or nil.
	Get(ctx context.Context, ns docstore.Namespace, key string, refreshTTL bool) (*docstore.Record, error)

	// Delete removes every record stored under the logical key.
	Delete(ctx context.Context, ns docstore.Namespace, key string) error

	// Search runs a hybrid search under a namespace prefix.
	Search(ctx context.Context, prefix docstore.Namespace, req docstore.SearchRequest) ([]docstore.SearchResult, error)

	// ListNamespaces enumerates distinct namespaces.
	ListNamespaces(ctx context.Context, req docstore.ListNamespacesRequest) ([]docstore.Namespace, error)
}

// MemoryToolServer defines the interface for the MCP server that handles
// memory-related tool calls from MCP clients.
type MemoryToolServer interface {
	// Initialize initializes the server with dependencies and configurations.
	Initialize() error

	// Start starts the MCP server on the specified transport.
	Start() error

	// Stop gracefully shuts down the MCP server.
	Stop() error
}
