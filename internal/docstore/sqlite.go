package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"

	"github.com/localrivet/agentstore/internal/vector"
)

// SQLiteBackend is a Backend implementation over a single SQLite
// connection. Text relevance is provided by an FTS5 index over the
// flattened value content; vector similarity is ranked with cosine
// distance over embeddings stored alongside each row.
//
// The connection is shared process-wide state: it is created once at
// initialization and held for the process lifetime. A mutex serializes
// access because a SQLite connection is not safe for concurrent use.
type SQLiteBackend struct {
	conn   *sqlite.Conn
	dbPath string
	mu     sync.Mutex
}

// NewSQLiteBackend creates an uninitialized SQLiteBackend.
func NewSQLiteBackend() *SQLiteBackend {
	return &SQLiteBackend{}
}

// Initialize opens (or creates) the database at the given path and
// ensures the schema exists.
func (s *SQLiteBackend) Initialize(dbPath string) error {
	s.dbPath = dbPath

	conn, err := sqlite.OpenConn(dbPath, sqlite.SQLITE_OPEN_CREATE|sqlite.SQLITE_OPEN_READWRITE)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	s.conn = conn

	if err := s.createSchema(); err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteBackend) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			storage_key TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			depth INTEGER NOT NULL,
			logical_key TEXT NOT NULL,
			value TEXT NOT NULL,
			embedding BLOB,
			created_at INTEGER NOT NULL,
			expiration INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_ns_key ON records(namespace, logical_key);`,
		`CREATE INDEX IF NOT EXISTS idx_records_expiration ON records(expiration);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			content,
			storage_key UNINDEXED,
			tokenize='porter unicode61'
		);`,
	}

	for _, stmt := range stmts {
		if err := s.exec(stmt, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt[:min(len(stmt), 40)], err)
		}
	}
	return nil
}

// Close closes the backend connection.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Insert durably adds a new physical row and its text-index entry.
// Expired rows are swept opportunistically inside the same transaction,
// which stands in for a TTL sweeper in the database engine itself.
func (s *SQLiteBackend) Insert(ctx context.Context, rec *Record, embedding []float32, fulltext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	now := time.Now().UnixNano()

	if err := s.exec("BEGIN;", nil); err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	err := s.insertLocked(rec, embedding, fulltext, now)
	if err != nil {
		s.exec("ROLLBACK;", nil)
		return err
	}
	if err := s.exec("COMMIT;", nil); err != nil {
		s.exec("ROLLBACK;", nil)
		return fmt.Errorf("failed to commit insert: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) insertLocked(rec *Record, embedding []float32, fulltext string, now int64) error {
	// Sweep rows whose expiration has passed, FTS entries first.
	err := s.exec(`DELETE FROM records_fts WHERE storage_key IN
		(SELECT storage_key FROM records WHERE expiration IS NOT NULL AND expiration <= ?);`,
		func(stmt *sqlite.Stmt) { stmt.BindInt64(1, now) })
	if err != nil {
		return fmt.Errorf("failed to sweep expired text entries: %w", err)
	}
	err = s.exec(`DELETE FROM records WHERE expiration IS NOT NULL AND expiration <= ?;`,
		func(stmt *sqlite.Stmt) { stmt.BindInt64(1, now) })
	if err != nil {
		return fmt.Errorf("failed to sweep expired records: %w", err)
	}

	valueJSON, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	var embBytes []byte
	if embedding != nil {
		embBytes, err = vector.Float32SliceToBytes(embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
	}

	err = s.exec(`INSERT INTO records (storage_key, namespace, depth, logical_key, value, embedding, created_at, expiration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		func(stmt *sqlite.Stmt) {
			stmt.BindText(1, rec.StorageKey)
			stmt.BindText(2, rec.Namespace.String())
			stmt.BindInt64(3, int64(len(rec.Namespace)))
			stmt.BindText(4, rec.Key)
			stmt.BindText(5, string(valueJSON))
			if embBytes != nil {
				stmt.BindBytes(6, embBytes)
			} else {
				stmt.BindNull(6)
			}
			stmt.BindInt64(7, rec.CreatedAt.UnixNano())
			if rec.Expiration != nil {
				stmt.BindInt64(8, rec.Expiration.UnixNano())
			} else {
				stmt.BindNull(8)
			}
		})
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	if fulltext != "" {
		err = s.exec(`INSERT INTO records_fts (content, storage_key) VALUES (?, ?);`,
			func(stmt *sqlite.Stmt) {
				stmt.BindText(1, fulltext)
				stmt.BindText(2, rec.StorageKey)
			})
		if err != nil {
			return fmt.Errorf("failed to index record text: %w", err)
		}
	}
	return nil
}

// GetLatest returns the most recently created live record for the
// exact namespace and logical key. Among rows sharing the logical key
// the pick is deterministic: greatest created_at, then greatest
// storage key.
func (s *SQLiteBackend) GetLatest(ctx context.Context, ns Namespace, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	stmt, err := s.conn.Prepare(`SELECT storage_key, namespace, logical_key, value, created_at, expiration
		FROM records
		WHERE namespace = ? AND logical_key = ? AND (expiration IS NULL OR expiration > ?)
		ORDER BY created_at DESC, storage_key DESC
		LIMIT 1;`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare get statement: %w", err)
	}
	defer stmt.Reset()

	stmt.BindText(1, ns.String())
	stmt.BindText(2, key)
	stmt.BindInt64(3, time.Now().UnixNano())

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, fmt.Errorf("failed to execute get statement: %w", err)
	}
	if !hasRow {
		return nil, nil
	}
	rec, err := scanRecord(stmt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetExpiration rewrites the expiration of a single physical row.
func (s *SQLiteBackend) SetExpiration(ctx context.Context, storageKey string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	err := s.exec(`UPDATE records SET expiration = ? WHERE storage_key = ?;`,
		func(stmt *sqlite.Stmt) {
			stmt.BindInt64(1, exp.UnixNano())
			stmt.BindText(2, storageKey)
		})
	if err != nil {
		return fmt.Errorf("failed to refresh expiration: %w", err)
	}
	return nil
}

// Delete removes every row for the namespace and logical key, along
// with the rows' text-index entries. Deleting nothing is not an error.
func (s *SQLiteBackend) Delete(ctx context.Context, ns Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	if err := s.exec("BEGIN;", nil); err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	nsPath := ns.String()
	err := s.exec(`DELETE FROM records_fts WHERE storage_key IN
		(SELECT storage_key FROM records WHERE namespace = ? AND logical_key = ?);`,
		func(stmt *sqlite.Stmt) {
			stmt.BindText(1, nsPath)
			stmt.BindText(2, key)
		})
	if err == nil {
		err = s.exec(`DELETE FROM records WHERE namespace = ? AND logical_key = ?;`,
			func(stmt *sqlite.Stmt) {
				stmt.BindText(1, nsPath)
				stmt.BindText(2, key)
			})
	}
	if err != nil {
		s.exec("ROLLBACK;", nil)
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if err := s.exec("COMMIT;", nil); err != nil {
		s.exec("ROLLBACK;", nil)
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// VectorSearch ranks live, embedded records by cosine similarity to
// the query embedding, most similar first, then pages the ranked set.
func (s *SQLiteBackend) VectorSearch(ctx context.Context, embedding []float32, q Query) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	sql := `SELECT storage_key, namespace, logical_key, value, created_at, expiration, embedding
		FROM records
		WHERE embedding IS NOT NULL AND (expiration IS NULL OR expiration > ?)` +
		namespacePrefixClause(q.Prefix) + `;`

	stmt, err := s.conn.Prepare(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare vector scan: %w", err)
	}
	defer stmt.Reset()

	stmt.BindInt64(1, time.Now().UnixNano())
	bindNamespacePrefix(stmt, 2, q.Prefix)

	var results []SearchResult
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("failed to scan for vector search: %w", err)
		}
		if !hasRow {
			break
		}
		rec, err := scanRecord(stmt)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(rec.Value, q.Filter) {
			continue
		}

		embLen := stmt.ColumnLen(6)
		embBytes := make([]byte, embLen)
		stmt.ColumnBytes(6, embBytes)
		stored, err := vector.BytesToFloat32Slice(embBytes)
		if err != nil {
			continue
		}
		score, err := vector.CosineSimilarity(embedding, stored)
		if err != nil {
			// Dimension mismatch (e.g. the embedder changed); the row
			// simply does not rank.
			continue
		}
		results = append(results, SearchResult{Record: *rec, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return pageResults(results, q.Offset, q.Limit), nil
}

// TextSearch ranks live records by BM25-derived relevance when query
// is non-empty, or by recency otherwise. The BM25 rank is normalized
// into a [0,1] score with 1/(1+abs(rank)).
func (s *SQLiteBackend) TextSearch(ctx context.Context, query string, q Query) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	// A query can also reduce to nothing after term quoting (e.g. only
	// quote characters); MATCH on an empty expression is a syntax error.
	match := ftsMatchExpr(query)
	if match == "" {
		return s.recencyScanLocked(q)
	}

	sql := `SELECT r.storage_key, r.namespace, r.logical_key, r.value, r.created_at, r.expiration,
			1.0 / (1.0 + abs(records_fts.rank)) AS score
		FROM records_fts
		JOIN records r ON r.storage_key = records_fts.storage_key
		WHERE records_fts MATCH ? AND (r.expiration IS NULL OR r.expiration > ?)` +
		strings.ReplaceAll(namespacePrefixClause(q.Prefix), "namespace", "r.namespace") + `
		ORDER BY records_fts.rank;`

	stmt, err := s.conn.Prepare(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare text search: %w", err)
	}
	defer stmt.Reset()

	stmt.BindText(1, match)
	stmt.BindInt64(2, time.Now().UnixNano())
	bindNamespacePrefix(stmt, 3, q.Prefix)

	var results []SearchResult
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("failed to execute text search: %w", err)
		}
		if !hasRow {
			break
		}
		rec, err := scanRecord(stmt)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(rec.Value, q.Filter) {
			continue
		}
		results = append(results, SearchResult{Record: *rec, Score: stmt.ColumnFloat(6)})
	}
	return pageResults(results, q.Offset, q.Limit), nil
}

// recencyScanLocked handles a text search without a query string:
// records matching the constraints ordered newest first, zero score.
func (s *SQLiteBackend) recencyScanLocked(q Query) ([]SearchResult, error) {
	sql := `SELECT storage_key, namespace, logical_key, value, created_at, expiration
		FROM records
		WHERE (expiration IS NULL OR expiration > ?)` +
		namespacePrefixClause(q.Prefix) + `
		ORDER BY created_at DESC, storage_key DESC;`

	stmt, err := s.conn.Prepare(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare recency scan: %w", err)
	}
	defer stmt.Reset()

	stmt.BindInt64(1, time.Now().UnixNano())
	bindNamespacePrefix(stmt, 2, q.Prefix)

	var results []SearchResult
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("failed to execute recency scan: %w", err)
		}
		if !hasRow {
			break
		}
		rec, err := scanRecord(stmt)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(rec.Value, q.Filter) {
			continue
		}
		results = append(results, SearchResult{Record: *rec})
	}
	return pageResults(results, q.Offset, q.Limit), nil
}

// Namespaces returns the distinct namespaces of live records matching
// the prefix.
func (s *SQLiteBackend) Namespaces(ctx context.Context, prefix Namespace) ([]Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.conn.SetInterrupt(s.conn.SetInterrupt(ctx.Done()))

	sql := `SELECT DISTINCT namespace FROM records
		WHERE (expiration IS NULL OR expiration > ?)` +
		namespacePrefixClause(prefix) + `;`

	stmt, err := s.conn.Prepare(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare namespace scan: %w", err)
	}
	defer stmt.Reset()

	stmt.BindInt64(1, time.Now().UnixNano())
	bindNamespacePrefix(stmt, 2, prefix)

	var namespaces []Namespace
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("failed to scan namespaces: %w", err)
		}
		if !hasRow {
			break
		}
		namespaces = append(namespaces, ParseNamespace(stmt.ColumnText(0)))
	}
	return namespaces, nil
}

// exec prepares, binds and steps a statement that returns no rows.
func (s *SQLiteBackend) exec(sql string, bind func(*sqlite.Stmt)) error {
	stmt, err := s.conn.Prepare(sql)
	if err != nil {
		return err
	}
	defer stmt.Reset()
	if bind != nil {
		bind(stmt)
	}
	_, err = stmt.Step()
	return err
}

// scanRecord reads the common column layout
// (storage_key, namespace, logical_key, value, created_at, expiration).
func scanRecord(stmt *sqlite.Stmt) (*Record, error) {
	rec := &Record{
		StorageKey: stmt.ColumnText(0),
		Namespace:  ParseNamespace(stmt.ColumnText(1)),
		Key:        stmt.ColumnText(2),
		CreatedAt:  time.Unix(0, stmt.ColumnInt64(4)).UTC(),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &rec.Value); err != nil {
		return nil, fmt.Errorf("failed to decode value for record %s: %w", rec.StorageKey, err)
	}
	if stmt.ColumnType(5) != sqlite.SQLITE_NULL {
		exp := time.Unix(0, stmt.ColumnInt64(5)).UTC()
		rec.Expiration = &exp
	}
	return rec, nil
}

// namespacePrefixClause builds the positional-prefix predicate: the
// namespace path equals the prefix path or extends it past a segment
// boundary. Empty prefixes add no constraint. substr comparison avoids
// LIKE so that no metacharacter escaping is needed.
func namespacePrefixClause(prefix Namespace) string {
	if len(prefix) == 0 {
		return ""
	}
	return ` AND (namespace = ? OR substr(namespace, 1, ?) = ?)`
}

func bindNamespacePrefix(stmt *sqlite.Stmt, start int, prefix Namespace) {
	if len(prefix) == 0 {
		return
	}
	path := prefix.String()
	stmt.BindText(start, path)
	stmt.BindInt64(start+1, int64(len(path)+1))
	stmt.BindText(start+2, path+NamespaceSeparator)
}

// ftsMatchExpr quotes each whitespace-separated term so caller input
// cannot inject FTS5 query syntax.
func ftsMatchExpr(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

func pageResults(results []SearchResult, offset, limit int) []SearchResult {
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
