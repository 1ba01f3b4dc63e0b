package docstore

import "context"

// Op is one entry of a batch call. The set is closed: GetOp, PutOp,
// SearchOp and ListNamespacesOp. A PutOp without a value is a delete.
type Op interface {
	isOp()
}

// GetOp fetches a record by exact namespace and logical key.
type GetOp struct {
	Namespace  Namespace
	Key        string
	RefreshTTL bool
}

// PutOp writes a record, or deletes the logical key when Value is nil.
type PutOp struct {
	Namespace Namespace
	Key       string
	Value     Value
	Index     IndexOption
	TTL       TTL
}

// SearchOp runs a hybrid search under a namespace prefix.
type SearchOp struct {
	NamespacePrefix Namespace
	Request         SearchRequest
}

// ListNamespacesOp enumerates distinct namespaces.
type ListNamespacesOp struct {
	Request ListNamespacesRequest
}

func (GetOp) isOp()            {}
func (PutOp) isOp()            {}
func (SearchOp) isOp()         {}
func (ListNamespacesOp) isOp() {}

// Batch executes a heterogeneous sequence of operations and returns
// their results in submission order: *Record (possibly nil) for GetOp,
// []SearchResult for SearchOp, []Namespace for ListNamespacesOp and
// nil for PutOp. An op the dispatcher does not recognize yields a nil
// result for its slot only; a failing backend call aborts the batch.
//
// Ops do not observe each other's effects transactionally, but all run
// against the same backend connection, so a put earlier in the batch
// is visible to a later get.
func (s *Store) Batch(ctx context.Context, ops []Op) ([]any, error) {
	results := make([]any, len(ops))
	for i, op := range ops {
		switch op := op.(type) {
		case GetOp:
			rec, err := s.Get(ctx, op.Namespace, op.Key, op.RefreshTTL)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				results[i] = rec
			}
		case PutOp:
			var err error
			if op.Value != nil {
				err = s.Put(ctx, op.Namespace, op.Key, op.Value, op.Index, op.TTL)
			} else {
				err = s.Delete(ctx, op.Namespace, op.Key)
			}
			if err != nil {
				return nil, err
			}
		case SearchOp:
			res, err := s.Search(ctx, op.NamespacePrefix, op.Request)
			if err != nil {
				return nil, err
			}
			results[i] = res
		case ListNamespacesOp:
			res, err := s.ListNamespaces(ctx, op.Request)
			if err != nil {
				return nil, err
			}
			results[i] = res
		default:
			// Malformed op: nil slot, unrelated ops unaffected.
			results[i] = nil
		}
	}
	return results, nil
}
