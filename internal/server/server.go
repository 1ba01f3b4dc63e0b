package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/localrivet/gomcp/server"

	"github.com/localrivet/agentstore/internal/docstore"
	"github.com/localrivet/agentstore/internal/errortypes"
	"github.com/localrivet/agentstore/internal/tools"
)

// Common server error types
var (
	ErrServerNotInitialized = errors.New("server not initialized")
	ErrMissingDependencies  = errors.New("one or more required dependencies are nil")
)

// MCPMemoryToolServer implements the MemoryToolServer interface for
// handling MCP tool calls against the document store.
type MCPMemoryToolServer struct {
	store     MemoryStore
	mcpServer server.Server
}

// NewMemoryToolServer creates a new MCPMemoryToolServer instance.
func NewMemoryToolServer(store MemoryStore) *MCPMemoryToolServer {
	return &MCPMemoryToolServer{
		store: store,
	}
}

// Initialize initializes the server with dependencies and configurations.
func (s *MCPMemoryToolServer) Initialize() error {
	slog.Info("Initializing MCP Memory Tool Server")

	if s.store == nil {
		return errortypes.ConfigError(ErrMissingDependencies, "server initialization failed")
	}

	// Create the MCP server
	srv := server.NewServer("agentstore")

	// Register memory_put tool
	srv = srv.Tool(tools.ToolMemoryPut, "Save a document to the persistent memory store",
		s.handleMemoryPut)

	// Register memory_get tool
	srv = srv.Tool(tools.ToolMemoryGet, "Fetch a document by namespace and key",
		s.handleMemoryGet)

	// Register memory_delete tool
	srv = srv.Tool(tools.ToolMemoryDelete, "Delete a document by namespace and key",
		s.handleMemoryDelete)

	// Register memory_search tool
	srv = srv.Tool(tools.ToolMemorySearch, "Search stored documents by relevance under a namespace prefix",
		s.handleMemorySearch)

	// Register list_namespaces tool
	srv = srv.Tool(tools.ToolListNamespaces, "Enumerate the distinct namespaces in the store",
		s.handleListNamespaces)

	s.mcpServer = srv
	slog.Info("MCP Memory Tool Server initialized successfully", "tool_count", 5)
	return nil
}

// Start starts the MCP server on the specified transport.
func (s *MCPMemoryToolServer) Start() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(ErrServerNotInitialized, "cannot start server")
	}

	slog.Info("Starting MCP Memory Tool Server")

	// Start the server using stdio transport
	stdioServer := s.mcpServer.AsStdio()
	return stdioServer.Run()
}

// Stop gracefully shuts down the MCP server.
func (s *MCPMemoryToolServer) Stop() error {
	slog.Info("Stopping MCP Memory Tool Server")
	// The server will exit when stdin is closed
	return nil
}

// parseIndexOption maps the wire form of the index override onto the
// store's option: omitted uses the configured fields, a single "false"
// opts out of indexing, anything else is a field list.
func parseIndexOption(fields []string) docstore.IndexOption {
	if len(fields) == 0 {
		return docstore.IndexOption{}
	}
	if len(fields) == 1 && fields[0] == "false" {
		return docstore.NoIndex()
	}
	return docstore.IndexFields(fields...)
}

// handleMemoryPut handles the memory_put MCP tool call.
func (s *MCPMemoryToolServer) handleMemoryPut(ctx *server.Context, req tools.MemoryPutRequest) (tools.MemoryPutResponse, error) {
	slog.Info("Processing memory_put request", "namespace", req.Namespace, "key", req.Key)

	response := tools.MemoryPutResponse{
		Status: "success",
	}

	ns := docstore.ParseNamespace(req.Namespace)

	if req.Key == "" {
		err := errortypes.ValidationError(errors.New("key cannot be empty"), "invalid memory_put request")
		errortypes.LogError(nil, err)
		response.Status = "error"
		response.Error = err.Error()
		return response, nil
	}

	var ttl docstore.TTL
	switch {
	case !req.TTLMinutes.Provided:
		// Leave expiration unset.
	case req.TTLMinutes.Clear:
		ttl = docstore.NoTTL()
	default:
		ttl = docstore.TTLMinutes(req.TTLMinutes.Minutes)
	}

	var err error
	if req.Value == nil {
		slog.Debug("memory_put without value, deleting key", "namespace", req.Namespace, "key", req.Key)
		err = s.store.Delete(context.Background(), ns, req.Key)
	} else {
		err = s.store.Put(context.Background(), ns, req.Key, docstore.Value(req.Value), parseIndexOption(req.IndexFields), ttl)
	}
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to store document").
			WithField("namespace", req.Namespace).
			WithField("key", req.Key)
		errortypes.LogError(nil, err)

		response.Status = "error"
		response.Error = err.Error()
		return response, nil
	}

	slog.Info("Successfully stored document", "namespace", req.Namespace, "key", req.Key)

	// Return response
	return response, nil
}

// handleMemoryGet handles the memory_get MCP tool call.
func (s *MCPMemoryToolServer) handleMemoryGet(ctx *server.Context, req tools.MemoryGetRequest) (tools.MemoryGetResponse, error) {
	slog.Info("Processing memory_get request", "namespace", req.Namespace, "key", req.Key)

	response := tools.MemoryGetResponse{
		Status: "success",
	}

	ns := docstore.ParseNamespace(req.Namespace)

	rec, err := s.store.Get(context.Background(), ns, req.Key, req.RefreshTTL)
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to fetch document").
			WithField("namespace", req.Namespace).
			WithField("key", req.Key)
		errortypes.LogError(nil, err)

		response.Status = "error"
		response.Error = err.Error()
		return response, nil
	}

	if rec == nil {
		slog.Debug("memory_get found no record", "namespace", req.Namespace, "key", req.Key)
		return response, nil
	}

	response.Found = true
	response.Value = rec.Value
	response.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	slog.Info("Successfully fetched document", "namespace", req.Namespace, "key", req.Key)

	// Return response
	return response, nil
}

// handleMemoryDelete handles the memory_delete MCP tool call.
func (s *MCPMemoryToolServer) handleMemoryDelete(ctx *server.Context, req tools.MemoryDeleteRequest) (tools.MemoryDeleteResponse, error) {
	slog.Info("Processing memory_delete request", "namespace", req.Namespace, "key", req.Key)

	response := tools.MemoryDeleteResponse{
		Status: "success",
	}

	ns := docstore.ParseNamespace(req.Namespace)

	err := s.store.Delete(context.Background(), ns, req.Key)
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to delete document").
			WithField("namespace", req.Namespace).
			WithField("key", req.Key)
		errortypes.LogError(nil, err)

		response.Status = "error"
		response.Error = err.Error()
		return response, nil
	}

	slog.Info("Successfully deleted document", "namespace", req.Namespace, "key", req.Key)

	// Return response
	return response, nil
}

// handleMemorySearch handles the memory_search MCP tool call.
func (s *MCPMemoryToolServer) handleMemorySearch(ctx *server.Context, req tools.MemorySearchRequest) (tools.MemorySearchResponse, error) {
	slog.Info("Processing memory_search request", "prefix", req.NamespacePrefix, "query", req.Query, "limit", req.Limit)

	response := tools.MemorySearchResponse{
		Status:  "success",
		Results: []tools.MemorySearchResult{},
	}

	// Set default limit if not specified
	limit := req.Limit
	if limit <= 0 {
		limit = tools.DefaultSearchLimit
		slog.Debug("Using default limit for memory_search", "limit", limit)
	}

	prefix := docstore.ParseNamespace(req.NamespacePrefix)

	results, err := s.store.Search(context.Background(), prefix, docstore.SearchRequest{
		Query:      req.Query,
		Filter:     req.Filter,
		Limit:      limit,
		Offset:     req.Offset,
		RefreshTTL: req.RefreshTTL,
	})
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to search document store").
			WithField("prefix", req.NamespacePrefix).
			WithField("limit", limit)
		errortypes.LogError(nil, err)

		response.Status = "error"
		response.Error = err.Error()
		return response, nil
	}

	for _, res := range results {
		response.Results = append(response.Results, tools.MemorySearchResult{
			Namespace: res.Namespace.String(),
			Key:       res.Key,
			Value:     res.Value,
			Score:     res.Score,
		})
	}
	slog.Info("Successfully retrieved search results", "count", len(response.Results))

	// Return response
	return response, nil
}

// handleListNamespaces handles the list_namespaces MCP tool call.
func (s *MCPMemoryToolServer) handleListNamespaces(ctx *server.Context, req tools.ListNamespacesRequest) (tools.ListNamespacesResponse, error) {
	slog.Info("Processing list_namespaces request", "prefix", req.Prefix, "suffix", req.Suffix)

	response := tools.ListNamespacesResponse{
		Status:     "success",
		Namespaces: []string{},
	}

	namespaces, err := s.store.ListNamespaces(context.Background(), docstore.ListNamespacesRequest{
		Prefix:   docstore.ParseNamespace(req.Prefix),
		Suffix:   docstore.ParseNamespace(req.Suffix),
		MaxDepth: req.MaxDepth,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		err = errortypes.DatabaseError(err, "failed to list namespaces").
			WithField("prefix", req.Prefix)
		errortypes.LogError(nil, err)

		response.Status = "error"
		response.Error = err.Error()
		return response, nil
	}

	for _, ns := range namespaces {
		response.Namespaces = append(response.Namespaces, ns.String())
	}
	slog.Info("Successfully listed namespaces", "count", len(response.Namespaces))

	// Return response
	return response, nil
}
