package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/localrivet/agentstore/internal/telemetry"
	"github.com/localrivet/agentstore/internal/vector"
)

// Defaults mirroring the store contract.
const (
	// DefaultSearchLimit is used when a search request has no limit.
	DefaultSearchLimit = 10

	// DefaultListLimit is used when a list-namespaces request has no limit.
	DefaultListLimit = 100

	// DefaultTTLRefreshMinutes is the fixed refresh window applied when a
	// read asks for a TTL refresh.
	DefaultTTLRefreshMinutes = 10

	// DefaultIndexName names the semantic index when none is configured.
	DefaultIndexName = "agentstore_vsearch_index"
)

// IndexConfig enables semantic search for a store. Embedder is
// required; Fields defaults to the root selector (embed every string
// leaf of the value).
type IndexConfig struct {
	Embedder  vector.Embedder
	Fields    []string
	IndexName string
}

// Options configures a Store.
type Options struct {
	// TTLSupport enables expiration handling. When false, TTL
	// parameters are accepted but silently ignored.
	TTLSupport bool

	// TTLRefreshMinutes is the refresh window used by reads that
	// request a TTL refresh. Defaults to DefaultTTLRefreshMinutes.
	TTLRefreshMinutes float64

	// Index, when non-nil, enables semantic (vector) search.
	Index *IndexConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics, when non-nil, receives operation counters and timers.
	Metrics *telemetry.MetricsCollector

	// Workers sizes the pool that serves the non-blocking call forms.
	// Zero means one worker per CPU.
	Workers int
}

// Store is the namespaced document store. It is safe for concurrent
// use; the backend is the sole arbiter of write ordering and read
// consistency. Writes are append-only, so concurrent puts to the same
// logical key produce multiple historical rows rather than contending.
type Store struct {
	backend     Backend
	ttlSupport  bool
	ttlRefresh  time.Duration
	semantic    bool
	embedder    vector.Embedder
	indexFields []string
	indexName   string
	logger      *slog.Logger
	metrics     *telemetry.MetricsCollector
	pool        *workerPool
}

// New builds a Store over the given backend. Configuration
// inconsistencies fail here, not at first use.
func New(backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("docstore: backend is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		backend:    backend,
		ttlSupport: opts.TTLSupport,
		ttlRefresh: time.Duration(DefaultTTLRefreshMinutes) * time.Minute,
		logger:     logger,
		metrics:    opts.Metrics,
	}
	if opts.TTLRefreshMinutes > 0 {
		s.ttlRefresh = time.Duration(opts.TTLRefreshMinutes * float64(time.Minute))
	}

	if opts.Index != nil {
		if opts.Index.Embedder == nil {
			return nil, errors.New("docstore: semantic search requires an embedder")
		}
		s.semantic = true
		s.embedder = opts.Index.Embedder
		s.indexFields = opts.Index.Fields
		if len(s.indexFields) == 0 {
			s.indexFields = []string{RootField}
		}
		for _, f := range s.indexFields {
			if f == "" {
				return nil, errors.New("docstore: index fields must be non-empty paths")
			}
		}
		s.indexName = opts.Index.IndexName
		if s.indexName == "" {
			s.indexName = DefaultIndexName
		}
		logger.Info("semantic search enabled", "index", s.indexName, "fields", s.indexFields)
	}

	s.pool = newWorkerPool(opts.Workers)
	return s, nil
}

// Close stops the async worker pool and closes the backend.
func (s *Store) Close() error {
	s.pool.Close()
	return s.backend.Close()
}

// SupportsTTL reports whether TTL parameters take effect.
func (s *Store) SupportsTTL() bool { return s.ttlSupport }

// SemanticEnabled reports whether searches run in semantic mode.
func (s *Store) SemanticEnabled() bool { return s.semantic }

// Put persists a new record under namespace and logical key. A fresh
// storage key is assigned on every call; existing rows are never
// overwritten. When semantic search is enabled and the write does not
// opt out, an embedding is computed from the configured (or per-write)
// extraction fields; an empty extraction stores no embedding and is
// not an error.
func (s *Store) Put(ctx context.Context, ns Namespace, key string, value Value, index IndexOption, ttl TTL) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("docstore: logical key must not be empty")
	}
	if value == nil {
		return errors.New("docstore: value must not be nil")
	}

	now := time.Now().UTC()
	rec := &Record{
		Namespace:  ns,
		StorageKey: uuid.NewString(),
		Key:        key,
		Value:      value,
		CreatedAt:  now,
	}
	if ttl.Provided() && s.ttlSupport {
		rec.Expiration = ttl.Expiration(now)
	}

	var embedding []float32
	if !index.Disabled() && s.semantic {
		fields := index.Fields()
		if len(fields) == 0 {
			fields = s.indexFields
		}
		text := ExtractText(value, fields)
		if text == "" {
			s.logger.Debug("no extractable text; record stored without embedding",
				"namespace", ns.String(), "key", key, "fields", fields)
		} else {
			var err error
			embedding, err = s.embedder.CreateEmbedding(ctx, text)
			if err != nil {
				return fmt.Errorf("docstore: failed to embed record text: %w", err)
			}
		}
	}

	if err := s.backend.Insert(ctx, rec, embedding, FlattenText(value)); err != nil {
		return err
	}
	s.count(telemetry.MetricStorePuts)
	s.logger.Debug("record stored", "namespace", ns.String(), "key", key, "storage_key", rec.StorageKey)
	return nil
}

// Get returns the record stored under the exact namespace and logical
// key, or nil when absent. When several historical rows share the
// logical key the most recently created one wins. With refreshTTL set
// and TTL support enabled, a found record that carries an expiration
// has it pushed out by the store's refresh window.
func (s *Store) Get(ctx context.Context, ns Namespace, key string, refreshTTL bool) (*Record, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.backend.GetLatest(ctx, ns, key)
	if err != nil {
		return nil, err
	}
	s.count(telemetry.MetricStoreGets)
	if rec == nil {
		return nil, nil
	}

	if refreshTTL {
		if err := s.refreshExpiration(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Delete removes the record(s) stored under the exact namespace and
// logical key. Deleting a non-existent record is not an error.
func (s *Store) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, ns, key); err != nil {
		return err
	}
	s.count(telemetry.MetricStoreDeletes)
	return nil
}

// SearchRequest carries the optional parameters of Search.
type SearchRequest struct {
	// Query is the natural-language query. May be empty.
	Query string
	// Filter constrains top-level value keys to equal the given values.
	Filter map[string]any
	// Limit caps the result count; defaults to DefaultSearchLimit.
	Limit int
	// Offset skips ranked results before collecting.
	Offset int
	// RefreshTTL pushes out the expiration of returned records.
	RefreshTTL bool
}

// Search returns up to Limit records under the namespace prefix,
// ranked by relevance.
//
// With semantic search enabled the query is embedded and ranked by the
// backend's vector similarity; a shortfall below Limit is filled from
// the full-text index, skipping logical keys already returned. The
// vector index may lag behind writes, so the fallback is what
// guarantees completeness when enough matching data exists. A backend
// failure on the vector step alone degrades to an empty vector result
// (logged and counted) instead of failing the search.
//
// Without semantic search only the full-text query runs. Scores are
// mode-local and not comparable across modes.
func (s *Store) Search(ctx context.Context, prefix Namespace, req SearchRequest) ([]SearchResult, error) {
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTimer(telemetry.MetricStoreSearchTime, time.Since(start))
		}
	}()
	s.count(telemetry.MetricStoreSearches)

	q := Query{Prefix: prefix, Filter: req.Filter, Limit: limit, Offset: req.Offset}

	// Without a query there is nothing to embed; both modes reduce to
	// the backend's text path (recency order).
	if !s.semantic || strings.TrimSpace(req.Query) == "" {
		results, err := s.backend.TextSearch(ctx, req.Query, q)
		if err != nil {
			return nil, err
		}
		if req.RefreshTTL {
			for i := range results {
				if err := s.refreshExpiration(ctx, &results[i].Record); err != nil {
					return nil, err
				}
			}
		}
		return results, nil
	}

	queryEmbedding, err := s.embedder.CreateEmbedding(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("docstore: failed to embed query: %w", err)
	}

	ranked, err := s.backend.VectorSearch(ctx, queryEmbedding, q)
	if err != nil {
		// The text fallback below still provides a valid, if narrower,
		// result set.
		s.logger.Error("vector search failed; continuing with text fallback", "error", err)
		s.count(telemetry.MetricStoreVectorDegraded)
		ranked = nil
	}

	results := make([]SearchResult, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, r := range ranked {
		if _, dup := seen[r.Key]; dup {
			continue
		}
		seen[r.Key] = struct{}{}
		if req.RefreshTTL {
			if err := s.refreshExpiration(ctx, &r.Record); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
		if len(results) >= limit {
			break
		}
	}

	if len(results) < limit {
		// Ask for a full page: some of the text matches may be logical
		// keys the vector phase already returned.
		fallback, err := s.backend.TextSearch(ctx, req.Query,
			Query{Prefix: prefix, Filter: req.Filter, Limit: limit, Offset: req.Offset})
		if err != nil {
			return nil, err
		}
		filled := 0
		for _, r := range fallback {
			if _, dup := seen[r.Key]; dup {
				continue
			}
			seen[r.Key] = struct{}{}
			if req.RefreshTTL {
				if err := s.refreshExpiration(ctx, &r.Record); err != nil {
					return nil, err
				}
			}
			results = append(results, r)
			filled++
			if len(results) >= limit {
				break
			}
		}
		if filled > 0 {
			s.count(telemetry.MetricStoreFallbackFill)
			s.logger.Debug("text fallback filled search shortfall", "filled", filled, "limit", limit)
		}
	}

	return results, nil
}

// ListNamespacesRequest carries the optional parameters of
// ListNamespaces.
type ListNamespacesRequest struct {
	// Prefix keeps namespaces that start with these segments.
	Prefix Namespace
	// Suffix keeps namespaces whose trailing segments equal these.
	Suffix Namespace
	// MaxDepth truncates namespaces to this many segments before
	// deduplication. Zero means no truncation.
	MaxDepth int
	// Limit caps the page size; defaults to DefaultListLimit.
	Limit int
	// Offset skips sorted namespaces before collecting.
	Offset int
}

// ListNamespaces returns the distinct namespaces of live records,
// filtered, truncated, deduplicated, sorted by segment sequence and
// paged.
func (s *Store) ListNamespaces(ctx context.Context, req ListNamespacesRequest) ([]Namespace, error) {
	if err := validatePrefix(req.Prefix); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	namespaces, err := s.backend.Namespaces(ctx, req.Prefix)
	if err != nil {
		return nil, err
	}
	s.count(telemetry.MetricStoreLists)

	uniq := make(map[string]Namespace, len(namespaces))
	for _, ns := range namespaces {
		if len(req.Suffix) > 0 && !ns.HasSuffix(req.Suffix) {
			continue
		}
		if req.MaxDepth > 0 && len(ns) > req.MaxDepth {
			ns = ns[:req.MaxDepth]
		}
		uniq[ns.String()] = ns
	}

	sorted := make([]Namespace, 0, len(uniq))
	for _, ns := range uniq {
		sorted = append(sorted, ns)
	}
	sort.Slice(sorted, func(i, j int) bool { return lessNamespace(sorted[i], sorted[j]) })

	if req.Offset >= len(sorted) {
		return nil, nil
	}
	sorted = sorted[req.Offset:]
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// refreshExpiration pushes out the record's expiration by the store's
// refresh window, when applicable. The record is updated in view.
func (s *Store) refreshExpiration(ctx context.Context, rec *Record) error {
	if !s.ttlSupport || rec.Expiration == nil {
		return nil
	}
	exp := time.Now().UTC().Add(s.ttlRefresh)
	if err := s.backend.SetExpiration(ctx, rec.StorageKey, exp); err != nil {
		return err
	}
	rec.Expiration = &exp
	return nil
}

func (s *Store) count(metric string) {
	if s.metrics != nil {
		s.metrics.IncrementCounter(metric, 1)
	}
}

// validatePrefix allows the empty prefix (matches everything) but
// holds present segments to the namespace rules.
func validatePrefix(prefix Namespace) error {
	if len(prefix) == 0 {
		return nil
	}
	return prefix.Validate()
}

func lessNamespace(a, b Namespace) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
