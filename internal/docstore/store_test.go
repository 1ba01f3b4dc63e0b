package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/localrivet/agentstore/internal/telemetry"
)

var errBackend = errors.New("backend failure")

type insertedRow struct {
	Record    Record
	Embedding []float32
	Fulltext  string
}

type deletedKey struct {
	Namespace string
	Key       string
}

// mockBackend implements Backend for store-level tests.
type mockBackend struct {
	inserts     []insertedRow
	deletes     []deletedKey
	getResult   *Record
	getErr      error
	insertErr   error
	vectorRes   []SearchResult
	vectorErr   error
	textRes     []SearchResult
	textErr     error
	namespaces  []Namespace
	expirations map[string]time.Time

	lastVectorQuery Query
	lastTextQuery   Query
	lastTextString  string
	textCalls       int
	vectorCalls     int
}

func (m *mockBackend) Insert(ctx context.Context, rec *Record, embedding []float32, fulltext string) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserts = append(m.inserts, insertedRow{Record: *rec, Embedding: embedding, Fulltext: fulltext})
	return nil
}

func (m *mockBackend) GetLatest(ctx context.Context, ns Namespace, key string) (*Record, error) {
	return m.getResult, m.getErr
}

func (m *mockBackend) SetExpiration(ctx context.Context, storageKey string, exp time.Time) error {
	if m.expirations == nil {
		m.expirations = make(map[string]time.Time)
	}
	m.expirations[storageKey] = exp
	return nil
}

func (m *mockBackend) Delete(ctx context.Context, ns Namespace, key string) error {
	m.deletes = append(m.deletes, deletedKey{Namespace: ns.String(), Key: key})
	return nil
}

func (m *mockBackend) VectorSearch(ctx context.Context, embedding []float32, q Query) ([]SearchResult, error) {
	m.vectorCalls++
	m.lastVectorQuery = q
	return m.vectorRes, m.vectorErr
}

func (m *mockBackend) TextSearch(ctx context.Context, query string, q Query) ([]SearchResult, error) {
	m.textCalls++
	m.lastTextString = query
	m.lastTextQuery = q
	if m.textErr != nil {
		return nil, m.textErr
	}
	res := m.textRes
	if len(res) > q.Limit && q.Limit > 0 {
		res = res[:q.Limit]
	}
	return res, nil
}

func (m *mockBackend) Namespaces(ctx context.Context, prefix Namespace) ([]Namespace, error) {
	return m.namespaces, nil
}

func (m *mockBackend) Close() error { return nil }

// stubEmbedder records the text it embeds and can be told to fail.
type stubEmbedder struct {
	fail  bool
	texts []string
}

func (e *stubEmbedder) Initialize() error { return nil }

func (e *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	e.texts = append(e.texts, text)
	return []float32{0.1, 0.2, 0.3}, nil
}

func newSemanticStore(t *testing.T, backend Backend, emb *stubEmbedder, metrics *telemetry.MetricsCollector) *Store {
	t.Helper()
	s, err := New(backend, Options{
		TTLSupport: true,
		Index:      &IndexConfig{Embedder: emb},
		Metrics:    metrics,
		Workers:    2,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func result(key string, score float64) SearchResult {
	return SearchResult{
		Record: Record{
			Namespace:  Namespace{"agents", "alice"},
			StorageKey: "sk-" + key,
			Key:        key,
			Value:      Value{"text": key},
		},
		Score: score,
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("expected error for nil backend")
	}
	if _, err := New(&mockBackend{}, Options{Index: &IndexConfig{}}); err == nil {
		t.Error("expected error for semantic index without embedder")
	}
	if _, err := New(&mockBackend{}, Options{Index: &IndexConfig{
		Embedder: &stubEmbedder{},
		Fields:   []string{"title", ""},
	}}); err == nil {
		t.Error("expected error for empty index field path")
	}
}

func TestPutAssignsFreshStorageKeys(t *testing.T) {
	backend := &mockBackend{}
	emb := &stubEmbedder{}
	s := newSemanticStore(t, backend, emb, nil)

	ns := Namespace{"agents", "alice"}
	value := Value{"text": "hello world"}
	for i := 0; i < 2; i++ {
		if err := s.Put(context.Background(), ns, "greeting", value, IndexOption{}, TTL{}); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	if len(backend.inserts) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(backend.inserts))
	}
	first, second := backend.inserts[0].Record, backend.inserts[1].Record
	if first.StorageKey == second.StorageKey {
		t.Error("puts must assign distinct storage keys")
	}
	if first.Key != "greeting" || second.Key != "greeting" {
		t.Error("logical key must be preserved")
	}
	if backend.inserts[0].Fulltext != "hello world" {
		t.Errorf("fulltext = %q, want flattened value text", backend.inserts[0].Fulltext)
	}
	if len(emb.texts) != 2 || emb.texts[0] != "hello world" {
		t.Errorf("embedded texts = %v", emb.texts)
	}
}

func TestPutValidation(t *testing.T) {
	s := newSemanticStore(t, &mockBackend{}, &stubEmbedder{}, nil)
	ctx := context.Background()

	if err := s.Put(ctx, nil, "k", Value{"a": "b"}, IndexOption{}, TTL{}); !errors.Is(err, ErrInvalidNamespace) {
		t.Errorf("expected ErrInvalidNamespace, got %v", err)
	}
	if err := s.Put(ctx, Namespace{"a"}, "", Value{"a": "b"}, IndexOption{}, TTL{}); err == nil {
		t.Error("expected error for empty key")
	}
	if err := s.Put(ctx, Namespace{"a"}, "k", nil, IndexOption{}, TTL{}); err == nil {
		t.Error("expected error for nil value")
	}
}

func TestPutTTL(t *testing.T) {
	backend := &mockBackend{}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)
	ctx := context.Background()
	ns := Namespace{"agents"}

	// Unspecified TTL: no expiration
	s.Put(ctx, ns, "a", Value{"x": "1"}, IndexOption{}, TTL{})
	// Cleared TTL: no expiration
	s.Put(ctx, ns, "b", Value{"x": "1"}, IndexOption{}, NoTTL())
	// Concrete TTL: expiration in the future
	s.Put(ctx, ns, "c", Value{"x": "1"}, IndexOption{}, TTLMinutes(60))

	if backend.inserts[0].Record.Expiration != nil {
		t.Error("unspecified TTL should store no expiration")
	}
	if backend.inserts[1].Record.Expiration != nil {
		t.Error("cleared TTL should store no expiration")
	}
	exp := backend.inserts[2].Record.Expiration
	if exp == nil {
		t.Fatal("concrete TTL should store an expiration")
	}
	if until := time.Until(*exp); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expiration %v not about an hour out", exp)
	}
}

func TestPutTTLIgnoredWithoutSupport(t *testing.T) {
	backend := &mockBackend{}
	s, err := New(backend, Options{Workers: 1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	if err := s.Put(context.Background(), Namespace{"a"}, "k", Value{"x": "1"}, IndexOption{}, TTLMinutes(5)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if backend.inserts[0].Record.Expiration != nil {
		t.Error("TTL must be ignored when support is disabled")
	}
}

func TestPutIndexControl(t *testing.T) {
	backend := &mockBackend{}
	emb := &stubEmbedder{}
	s := newSemanticStore(t, backend, emb, nil)
	ctx := context.Background()
	ns := Namespace{"agents"}
	value := Value{"title": "report", "body": "long text"}

	// Opt out: no embedding
	s.Put(ctx, ns, "a", value, NoIndex(), TTL{})
	if backend.inserts[0].Embedding != nil {
		t.Error("NoIndex put should store no embedding")
	}
	if len(emb.texts) != 0 {
		t.Error("NoIndex put should not call the embedder")
	}

	// Per-put field override
	s.Put(ctx, ns, "b", value, IndexFields("title"), TTL{})
	if len(emb.texts) != 1 || emb.texts[0] != "report" {
		t.Errorf("embedded texts = %v, want [report]", emb.texts)
	}

	// No extractable text: stored without embedding, not an error
	if err := s.Put(ctx, ns, "c", Value{"n": 42}, IndexOption{}, TTL{}); err != nil {
		t.Fatalf("Put() with no text error: %v", err)
	}
	if backend.inserts[2].Embedding != nil {
		t.Error("put with no extractable text should store no embedding")
	}
}

func TestPutEmbedErrorPropagates(t *testing.T) {
	backend := &mockBackend{}
	s := newSemanticStore(t, backend, &stubEmbedder{fail: true}, nil)

	err := s.Put(context.Background(), Namespace{"a"}, "k", Value{"x": "text"}, IndexOption{}, TTL{})
	if err == nil {
		t.Fatal("expected embedder failure to propagate")
	}
	if len(backend.inserts) != 0 {
		t.Error("failed put must not insert")
	}
}

func TestGetRefreshTTL(t *testing.T) {
	exp := time.Now().UTC().Add(time.Minute)
	backend := &mockBackend{
		getResult: &Record{
			Namespace:  Namespace{"agents"},
			StorageKey: "sk-1",
			Key:        "k",
			Value:      Value{"x": "1"},
			Expiration: &exp,
		},
	}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)

	rec, err := s.Get(context.Background(), Namespace{"agents"}, "k", true)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	refreshed, ok := backend.expirations["sk-1"]
	if !ok {
		t.Fatal("refresh did not reach the backend")
	}
	if !refreshed.After(exp) {
		t.Errorf("refreshed expiration %v not after original %v", refreshed, exp)
	}
	if rec.Expiration == nil || !rec.Expiration.Equal(refreshed) {
		t.Error("returned record must carry the refreshed expiration")
	}

	// A record without expiration is untouched by refresh
	backend.getResult.Expiration = nil
	delete(backend.expirations, "sk-1")
	if _, err := s.Get(context.Background(), Namespace{"agents"}, "k", true); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(backend.expirations) != 0 {
		t.Error("refresh must not touch records without expiration")
	}
}

func TestGetMissing(t *testing.T) {
	s := newSemanticStore(t, &mockBackend{}, &stubEmbedder{}, nil)
	rec, err := s.Get(context.Background(), Namespace{"agents"}, "absent", false)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestSearchTextOnlyMode(t *testing.T) {
	backend := &mockBackend{textRes: []SearchResult{result("k1", 0.8)}}
	s, err := New(backend, Options{Workers: 1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	results, err := s.Search(context.Background(), nil, SearchRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Key != "k1" {
		t.Errorf("results = %v", results)
	}
	if backend.vectorCalls != 0 {
		t.Error("text-only store must not run vector search")
	}
	if backend.lastTextQuery.Limit != DefaultSearchLimit {
		t.Errorf("limit = %d, want default %d", backend.lastTextQuery.Limit, DefaultSearchLimit)
	}
}

func TestSearchHybridDedupeAndFill(t *testing.T) {
	backend := &mockBackend{
		vectorRes: []SearchResult{
			result("k1", 0.9),
			result("k2", 0.7),
			result("k1", 0.6), // historical duplicate of k1
		},
		textRes: []SearchResult{
			result("k2", 0.5), // already seen in vector phase
			result("k3", 0.4),
			result("k4", 0.3),
		},
	}
	metrics := telemetry.NewMetricsCollector()
	s := newSemanticStore(t, backend, &stubEmbedder{}, metrics)

	results, err := s.Search(context.Background(), Namespace{"agents"}, SearchRequest{Query: "q", Limit: 3})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = r.Key
	}
	want := []string{"k1", "k2", "k3"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if metrics.GetCounter(telemetry.MetricStoreFallbackFill) != 1 {
		t.Error("fallback fill should be counted once")
	}
}

func TestSearchVectorDegradation(t *testing.T) {
	backend := &mockBackend{
		vectorErr: errBackend,
		textRes:   []SearchResult{result("k1", 0.5)},
	}
	metrics := telemetry.NewMetricsCollector()
	s := newSemanticStore(t, backend, &stubEmbedder{}, metrics)

	results, err := s.Search(context.Background(), nil, SearchRequest{Query: "q", Limit: 5})
	if err != nil {
		t.Fatalf("Search() must degrade, got error: %v", err)
	}
	if len(results) != 1 || results[0].Key != "k1" {
		t.Errorf("results = %v", results)
	}
	if metrics.GetCounter(telemetry.MetricStoreVectorDegraded) != 1 {
		t.Error("vector degradation should be counted")
	}
}

func TestSearchTextFallbackErrorFails(t *testing.T) {
	backend := &mockBackend{textErr: errBackend}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)

	if _, err := s.Search(context.Background(), nil, SearchRequest{Query: "q"}); !errors.Is(err, errBackend) {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestSearchEmptyQuerySkipsEmbedding(t *testing.T) {
	backend := &mockBackend{textRes: []SearchResult{result("k1", 0)}}
	emb := &stubEmbedder{}
	s := newSemanticStore(t, backend, emb, nil)

	results, err := s.Search(context.Background(), nil, SearchRequest{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(emb.texts) != 0 {
		t.Error("empty query must not be embedded")
	}
	if backend.vectorCalls != 0 {
		t.Error("empty query must not run vector search")
	}
	if len(results) != 1 {
		t.Errorf("results = %v", results)
	}
}

func TestSearchQueryEmbedErrorFails(t *testing.T) {
	s := newSemanticStore(t, &mockBackend{}, &stubEmbedder{fail: true}, nil)
	if _, err := s.Search(context.Background(), nil, SearchRequest{Query: "q"}); err == nil {
		t.Error("query embedding failure must fail the search")
	}
}

func TestSearchRefreshTTLOnVectorPhase(t *testing.T) {
	exp := time.Now().UTC().Add(time.Minute)
	res := result("k1", 0.9)
	res.Expiration = &exp
	backend := &mockBackend{vectorRes: []SearchResult{res}}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)

	results, err := s.Search(context.Background(), nil, SearchRequest{Query: "q", RefreshTTL: true, Limit: 1})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if _, ok := backend.expirations["sk-k1"]; !ok {
		t.Error("vector-phase result expiration was not refreshed")
	}
	if results[0].Expiration == nil || !results[0].Expiration.After(exp) {
		t.Error("returned result must carry the refreshed expiration")
	}
}

func TestListNamespaces(t *testing.T) {
	backend := &mockBackend{
		namespaces: []Namespace{
			{"agents", "bob", "notes"},
			{"agents", "alice", "notes"},
			{"agents", "alice", "prefs"},
			{"jobs", "queue"},
		},
	}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)
	ctx := context.Background()

	// Sorted by segment sequence
	got, err := s.ListNamespaces(ctx, ListNamespacesRequest{})
	if err != nil {
		t.Fatalf("ListNamespaces() error: %v", err)
	}
	wantOrder := []string{"agents/alice/notes", "agents/alice/prefs", "agents/bob/notes", "jobs/queue"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d namespaces, want %d", len(got), len(wantOrder))
	}
	for i, ns := range got {
		if ns.String() != wantOrder[i] {
			t.Errorf("namespace[%d] = %s, want %s", i, ns.String(), wantOrder[i])
		}
	}

	// Suffix filter
	got, _ = s.ListNamespaces(ctx, ListNamespacesRequest{Suffix: Namespace{"notes"}})
	if len(got) != 2 {
		t.Errorf("suffix filter: got %d namespaces, want 2", len(got))
	}

	// MaxDepth truncation deduplicates
	got, _ = s.ListNamespaces(ctx, ListNamespacesRequest{MaxDepth: 2})
	wantOrder = []string{"agents/alice", "agents/bob", "jobs/queue"}
	if len(got) != len(wantOrder) {
		t.Fatalf("max depth: got %v", got)
	}
	for i, ns := range got {
		if ns.String() != wantOrder[i] {
			t.Errorf("truncated[%d] = %s, want %s", i, ns.String(), wantOrder[i])
		}
	}

	// Paging
	got, _ = s.ListNamespaces(ctx, ListNamespacesRequest{Limit: 2, Offset: 1})
	if len(got) != 2 || got[0].String() != "agents/alice/prefs" {
		t.Errorf("paging: got %v", got)
	}

	// Offset past the end
	got, _ = s.ListNamespaces(ctx, ListNamespacesRequest{Offset: 10})
	if len(got) != 0 {
		t.Errorf("offset past end: got %v", got)
	}
}

type bogusOp struct{}

func (bogusOp) isOp() {}

func TestBatch(t *testing.T) {
	exp := time.Now().UTC().Add(time.Hour)
	backend := &mockBackend{
		getResult: &Record{
			Namespace:  Namespace{"agents"},
			StorageKey: "sk-1",
			Key:        "k",
			Value:      Value{"x": "1"},
			Expiration: &exp,
		},
		textRes:    []SearchResult{result("k1", 0.5)},
		namespaces: []Namespace{{"agents"}},
	}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)

	ops := []Op{
		GetOp{Namespace: Namespace{"agents"}, Key: "k"},
		PutOp{Namespace: Namespace{"agents"}, Key: "new", Value: Value{"x": "2"}},
		PutOp{Namespace: Namespace{"agents"}, Key: "gone"}, // nil value: delete
		SearchOp{Request: SearchRequest{Query: ""}},
		ListNamespacesOp{},
		bogusOp{},
	}

	results, err := s.Batch(context.Background(), ops)
	if err != nil {
		t.Fatalf("Batch() error: %v", err)
	}
	if len(results) != len(ops) {
		t.Fatalf("got %d results, want %d", len(results), len(ops))
	}

	if rec, ok := results[0].(*Record); !ok || rec.Key != "k" {
		t.Errorf("results[0] = %v, want the fetched record", results[0])
	}
	if results[1] != nil {
		t.Errorf("results[1] = %v, want nil for put", results[1])
	}
	if results[2] != nil {
		t.Errorf("results[2] = %v, want nil for delete-put", results[2])
	}
	if res, ok := results[3].([]SearchResult); !ok || len(res) != 1 {
		t.Errorf("results[3] = %v, want search results", results[3])
	}
	if nss, ok := results[4].([]Namespace); !ok || len(nss) != 1 {
		t.Errorf("results[4] = %v, want namespaces", results[4])
	}
	if results[5] != nil {
		t.Errorf("results[5] = %v, want nil for unrecognized op", results[5])
	}

	if len(backend.inserts) != 1 || backend.inserts[0].Record.Key != "new" {
		t.Errorf("inserts = %v", backend.inserts)
	}
	if len(backend.deletes) != 1 || backend.deletes[0].Key != "gone" {
		t.Errorf("deletes = %v", backend.deletes)
	}
}

func TestBatchAbortsOnError(t *testing.T) {
	backend := &mockBackend{insertErr: errBackend}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)

	ops := []Op{
		PutOp{Namespace: Namespace{"agents"}, Key: "k", Value: Value{"n": 1}},
		ListNamespacesOp{},
	}
	results, err := s.Batch(context.Background(), ops)
	if !errors.Is(err, errBackend) {
		t.Errorf("expected backend error, got %v", err)
	}
	if results != nil {
		t.Errorf("failed batch must return nil results, got %v", results)
	}
}

func TestAsyncParity(t *testing.T) {
	backend := &mockBackend{
		getResult: &Record{Namespace: Namespace{"agents"}, StorageKey: "sk-1", Key: "k", Value: Value{"x": "1"}},
		textRes:   []SearchResult{result("k1", 0.5)},
	}
	s := newSemanticStore(t, backend, &stubEmbedder{}, nil)
	ctx := context.Background()

	rec, err := s.GetAsync(ctx, Namespace{"agents"}, "k", false).Await(ctx)
	if err != nil {
		t.Fatalf("GetAsync error: %v", err)
	}
	if rec == nil || rec.Key != "k" {
		t.Errorf("async get = %v", rec)
	}

	if _, err := s.PutAsync(ctx, Namespace{"agents"}, "k2", Value{"x": "2"}, IndexOption{}, TTL{}).Await(ctx); err != nil {
		t.Fatalf("PutAsync error: %v", err)
	}
	if len(backend.inserts) != 1 {
		t.Errorf("async put did not reach the backend")
	}

	results, err := s.SearchAsync(ctx, nil, SearchRequest{}).Await(ctx)
	if err != nil || len(results) != 1 {
		t.Errorf("async search = %v, %v", results, err)
	}

	if _, err := s.DeleteAsync(ctx, Namespace{"agents"}, "k2").Await(ctx); err != nil {
		t.Fatalf("DeleteAsync error: %v", err)
	}

	batchRes, err := s.BatchAsync(ctx, []Op{ListNamespacesOp{}}).Await(ctx)
	if err != nil || len(batchRes) != 1 {
		t.Errorf("async batch = %v, %v", batchRes, err)
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWorkerPoolCloseResolvesEveryFuture(t *testing.T) {
	// Submissions racing Close must either run or fail with
	// ErrStoreClosed; a future left unresolved would hang Await.
	for iter := 0; iter < 200; iter++ {
		wp := newWorkerPool(2)
		const n = 32
		futures := make([]*Future[int], n)
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				f := newFuture[int]()
				if err := wp.submit(func() { f.resolve(i, nil) }); err != nil {
					f.resolve(0, err)
				}
				futures[i] = f
			}(i)
		}
		wp.Close()
		wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		for i, f := range futures {
			if _, err := f.Await(ctx); err != nil && !errors.Is(err, ErrStoreClosed) {
				cancel()
				t.Fatalf("iteration %d, future %d: %v", iter, i, err)
			}
		}
		cancel()
	}
}

func TestAsyncAfterClose(t *testing.T) {
	backend := &mockBackend{}
	s, err := New(backend, Options{Workers: 1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Close()

	ctx := context.Background()
	if _, err := s.GetAsync(ctx, Namespace{"agents"}, "k", false).Await(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
