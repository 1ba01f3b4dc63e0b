// Package agentstore exposes the namespaced agent memory store as an
// embeddable library and as an MCP tool server.
package agentstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/localrivet/agentstore/internal/config"
	"github.com/localrivet/agentstore/internal/docstore"
	"github.com/localrivet/agentstore/internal/errortypes"
	"github.com/localrivet/agentstore/internal/server"
	"github.com/localrivet/agentstore/internal/telemetry"
	"github.com/localrivet/agentstore/internal/vector"
)

// Config represents the configuration for the AgentStore service.
type Config = config.Config

// Re-exported store types so embedders don't need to import the
// internal package paths.
type (
	Namespace    = docstore.Namespace
	Value        = docstore.Value
	Record       = docstore.Record
	SearchResult = docstore.SearchResult
	TTL          = docstore.TTL
	IndexOption  = docstore.IndexOption

	SearchRequest         = docstore.SearchRequest
	ListNamespacesRequest = docstore.ListNamespacesRequest

	GetOp            = docstore.GetOp
	PutOp            = docstore.PutOp
	SearchOp         = docstore.SearchOp
	ListNamespacesOp = docstore.ListNamespacesOp
	Op               = docstore.Op
)

// Re-exported option constructors.
var (
	TTLMinutes  = docstore.TTLMinutes
	NoTTL       = docstore.NoTTL
	NoIndex     = docstore.NoIndex
	IndexFields = docstore.IndexFields
)

// Server represents the AgentStore service.
type Server struct {
	config     *config.Config
	store      *docstore.Store
	metrics    *telemetry.MetricsCollector
	toolServer server.MemoryToolServer
	logger     *slog.Logger // Logger for this Server instance
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config      // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string       // Path to config file. Used if Config is nil. If both are empty, DefaultConfig() is used.
	Logger     *slog.Logger // External logger. If nil, slog.Default() is used.
}

// NewServer creates a new AgentStore Server with the given options.
// If opts.Config is provided, it will be used directly.
// Otherwise, if opts.ConfigPath is provided, configuration will be loaded from that path.
// If neither is provided, DefaultConfig() will be used.
// If opts.Logger is nil, slog.Default() will be used.
func NewServer(opts ServerOptions) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cfg *Config
	var err error

	if opts.Config != nil {
		cfg = opts.Config
		logger.Info("Using provided Config object for server initialization")
	} else if opts.ConfigPath != "" {
		logger.Info("Loading configuration for server initialization", "path", opts.ConfigPath)
		cfg, err = config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			logger.Error("Failed to load configuration from path", "path", opts.ConfigPath, "error", err)
			return nil, errortypes.ConfigError(err, "Failed to load configuration from path: "+opts.ConfigPath)
		}
	} else {
		logger.Warn("No Config object or ConfigPath provided, using default configuration for server initialization")
		cfg = DefaultConfig()
	}

	metrics := telemetry.NewMetricsCollector()
	store, err := CreateStore(cfg, logger, metrics)
	if err != nil {
		// CreateStore already logs the specific error
		logger.Error("Failed to create store during server initialization", "error", err)
		return nil, err
	}

	logger.Info("Initializing memory tool server component")
	mcpServer := server.NewMemoryToolServer(store)
	err = mcpServer.Initialize() // Note: mcpServer.Initialize still uses global slog internally
	if err != nil {
		logger.Error("Failed to initialize MCP memory tool server component", "error", err)
		return nil, errortypes.ConfigError(err, "Failed to initialize MCP memory tool server component")
	}

	logger.Info("AgentStore server successfully initialized")
	return &Server{
		config:     cfg,
		store:      store,
		metrics:    metrics,
		toolServer: mcpServer,
		logger:     logger, // Store the resolved logger
	}, nil
}

// DefaultConfig returns the default configuration for the AgentStore service.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Store.SQLitePath = config.DefaultSQLitePath
	cfg.Store.TTLSupport = true
	cfg.Store.TTLRefreshMinutes = config.DefaultTTLRefreshMinutes
	cfg.Index.Enabled = true
	cfg.Index.Fields = []string{docstore.RootField}
	cfg.Index.Name = config.DefaultIndexName
	cfg.Embedder.Provider = vector.ProviderMock
	cfg.Embedder.Dimensions = vector.DefaultEmbeddingDimensions
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// SaveConfig serializes the configuration and returns the JSON content.
func SaveConfig(cfg *Config, path string) ([]byte, error) {
	// Pretty-print the JSON for better readability
	content, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, errortypes.ConfigError(err, "failed to marshal configuration")
	}

	return content, nil
}

// loadConfig loads the configuration from the given path.
func loadConfig(configPath string) (*Config, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errortypes.ConfigError(err, "failed to read config file")
	}

	// Parse the config file
	cfg := &Config{}
	err = json.Unmarshal(data, cfg)
	if err != nil {
		return nil, errortypes.ConfigError(err, "failed to parse config file")
	}

	return cfg, nil
}

// Start starts the AgentStore service.
func (s *Server) Start() error {
	s.logger.Info("Starting AgentStore service")
	return s.toolServer.Start()
}

// Stop stops the AgentStore service.
func (s *Server) Stop() error {
	s.logger.Info("Stopping AgentStore service")
	err := s.toolServer.Stop()
	if err != nil {
		// The Stop method of toolServer might return an error that should be logged.
		s.logger.Error("Error stopping tool server", "error", err)
		return err
	}

	// Close the store
	s.logger.Info("Closing store")
	err = s.store.Close()
	if err != nil {
		s.logger.Error("Failed to close store", "error", err)
		return err
	}

	s.logger.Info("AgentStore service stopped")
	return nil
}

// Put saves a document under the namespace and logical key.
func (s *Server) Put(ctx context.Context, ns Namespace, key string, value Value, index IndexOption, ttl TTL) error {
	return s.store.Put(ctx, ns, key, value, index, ttl)
}

// Get fetches the latest live document for a logical key, or nil.
func (s *Server) Get(ctx context.Context, ns Namespace, key string, refreshTTL bool) (*Record, error) {
	return s.store.Get(ctx, ns, key, refreshTTL)
}

// Delete removes every record stored under the logical key.
func (s *Server) Delete(ctx context.Context, ns Namespace, key string) error {
	return s.store.Delete(ctx, ns, key)
}

// Search runs a hybrid relevance search under the namespace prefix.
func (s *Server) Search(ctx context.Context, prefix Namespace, req SearchRequest) ([]SearchResult, error) {
	return s.store.Search(ctx, prefix, req)
}

// ListNamespaces enumerates the distinct namespaces in the store.
func (s *Server) ListNamespaces(ctx context.Context, req ListNamespacesRequest) ([]Namespace, error) {
	return s.store.ListNamespaces(ctx, req)
}

// Batch executes a heterogeneous sequence of store operations.
func (s *Server) Batch(ctx context.Context, ops []Op) ([]any, error) {
	return s.store.Batch(ctx, ops)
}

// Store returns the underlying document store for direct use,
// including the non-blocking call forms.
func (s *Server) Store() *docstore.Store {
	return s.store
}

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *telemetry.MetricsCollector {
	return s.metrics
}

// CreateStore creates and initializes the document store from
// configuration without creating a server instance. This is useful for
// embedders that want the store without the MCP surface.
func CreateStore(cfg *Config, logger *slog.Logger, metrics *telemetry.MetricsCollector) (*docstore.Store, error) {
	if logger == nil {
		// This case should ideally not be hit if NewServer always provides one,
		// but as a public function, it's safer to have a fallback.
		logger = slog.Default()
		logger.Debug("CreateStore called with nil logger, defaulting to slog.Default()")
	}

	// Initialize SQLite backend
	logger.Info("Initializing SQLite backend for CreateStore", "path", cfg.Store.SQLitePath)
	backend := docstore.NewSQLiteBackend()
	if err := backend.Initialize(cfg.Store.SQLitePath); err != nil {
		logger.Error("Failed to initialize SQLite backend in CreateStore", "path", cfg.Store.SQLitePath, "error", err)
		return nil, errortypes.DatabaseError(err, "Failed to initialize SQLite backend")
	}

	opts := docstore.Options{
		TTLSupport:        cfg.Store.TTLSupport,
		TTLRefreshMinutes: cfg.Store.TTLRefreshMinutes,
		Logger:            logger,
		Metrics:           metrics,
		Workers:           cfg.Store.Workers,
	}

	// Initialize embedder and semantic index
	if cfg.Index.Enabled {
		logger.Info("Initializing embedder for CreateStore",
			"provider", cfg.Embedder.Provider, "dimensions", cfg.Embedder.Dimensions)
		emb, err := vector.NewEmbedder(cfg.Embedder.Provider, vector.Config{
			APIKey:     cfg.Embedder.ApiKey,
			ModelID:    cfg.Embedder.ModelID,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			logger.Error("Failed to create embedder in CreateStore", "provider", cfg.Embedder.Provider, "error", err)
			return nil, errortypes.ConfigError(err, "Failed to create embedder")
		}
		if err := emb.Initialize(); err != nil {
			logger.Error("Failed to initialize embedder in CreateStore", "error", err)
			return nil, errortypes.ConfigError(err, "Failed to initialize embedder")
		}
		opts.Index = &docstore.IndexConfig{
			Embedder:  emb,
			Fields:    cfg.Index.Fields,
			IndexName: cfg.Index.Name,
		}
	}

	store, err := docstore.New(backend, opts)
	if err != nil {
		logger.Error("Failed to create document store in CreateStore", "error", err)
		return nil, errortypes.ConfigError(err, "Failed to create document store")
	}

	logger.Info("Document store successfully initialized via CreateStore")
	return store, nil
}
