// Package docstore implements the namespaced, append-only document store
// that backs the agent memory service. Records are grouped into
// hierarchical namespaces, retrieved by logical key or by hybrid
// (vector + full-text) search, and optionally expire via TTL.
package docstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NamespaceSeparator joins namespace segments into the stored path form.
// Segments must not contain it.
const NamespaceSeparator = "/"

// RootField selects the entire value for text extraction: every string
// leaf is collected instead of following a dotted path.
const RootField = "$"

// ErrInvalidNamespace reports a namespace that violates the addressing
// rules (empty sequence, empty segment, or a segment containing the
// separator).
var ErrInvalidNamespace = errors.New("invalid namespace")

// Namespace is an ordered sequence of path segments identifying a
// logical collection of records, e.g. {"articles", "drafts"}.
type Namespace []string

// Validate checks the namespace addressing rules.
func (ns Namespace) Validate() error {
	if len(ns) == 0 {
		return fmt.Errorf("%w: namespace must have at least one segment", ErrInvalidNamespace)
	}
	for i, seg := range ns {
		if seg == "" {
			return fmt.Errorf("%w: segment %d is empty", ErrInvalidNamespace, i)
		}
		if strings.Contains(seg, NamespaceSeparator) {
			return fmt.Errorf("%w: segment %q contains %q", ErrInvalidNamespace, seg, NamespaceSeparator)
		}
	}
	return nil
}

// String returns the stored path form of the namespace.
func (ns Namespace) String() string {
	return strings.Join(ns, NamespaceSeparator)
}

// HasPrefix reports whether prefix is a positional prefix of ns. An
// empty prefix matches every namespace.
func (ns Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(ns) {
		return false
	}
	for i, seg := range prefix {
		if ns[i] != seg {
			return false
		}
	}
	return true
}

// HasSuffix reports whether the trailing segments of ns equal suffix.
// Namespaces shorter than the suffix never match.
func (ns Namespace) HasSuffix(suffix Namespace) bool {
	if len(suffix) > len(ns) {
		return false
	}
	off := len(ns) - len(suffix)
	for i, seg := range suffix {
		if ns[off+i] != seg {
			return false
		}
	}
	return true
}

// ParseNamespace splits a stored path back into its segments.
func ParseNamespace(path string) Namespace {
	if path == "" {
		return nil
	}
	return Namespace(strings.Split(path, NamespaceSeparator))
}

// Equal reports segment-wise equality.
func (ns Namespace) Equal(other Namespace) bool {
	if len(ns) != len(other) {
		return false
	}
	for i := range ns {
		if ns[i] != other[i] {
			return false
		}
	}
	return true
}

// Value is the free-form payload of a record.
type Value map[string]any

// Record is the store's only persisted entity. Records are immutable
// after creation; a TTL refresh updates only the expiration field.
type Record struct {
	// Namespace groups the record into a logical collection.
	Namespace Namespace
	// StorageKey is the store-assigned unique identity of this physical
	// row. A logical key can map to many storage keys (append-only
	// history).
	StorageKey string
	// Key is the caller-supplied logical key.
	Key string
	// Value is the payload.
	Value Value
	// CreatedAt is set once at write time. Records are never updated in
	// place, so it doubles as the updated time.
	CreatedAt time.Time
	// Expiration, when non-nil, marks the instant the record becomes
	// invisible to reads and eligible for purge.
	Expiration *time.Time
}

// SearchResult pairs a record with a best-effort relevance score. Score
// semantics differ between semantic and text-only search and must not
// be compared across modes.
type SearchResult struct {
	Record
	Score float64
}

// TTL is a three-state time-to-live parameter: unspecified (zero
// value), explicitly cleared, or a concrete duration in minutes. The
// distinction between "don't set an expiration" and "clear any
// would-be expiration" is preserved, matching the put contract.
type TTL struct {
	provided bool
	clear    bool
	minutes  float64
}

// TTLMinutes returns a TTL of the given number of minutes. Zero is a
// valid value and makes the record immediately eligible for expiry.
func TTLMinutes(minutes float64) TTL {
	return TTL{provided: true, minutes: minutes}
}

// NoTTL returns the explicitly-cleared TTL: the write records no
// expiration even if the store supports TTLs.
func NoTTL() TTL {
	return TTL{provided: true, clear: true}
}

// Provided reports whether the caller supplied the parameter at all.
func (t TTL) Provided() bool { return t.provided }

// Expiration computes the expiration instant relative to now, or nil
// when the TTL is unspecified or explicitly cleared.
func (t TTL) Expiration(now time.Time) *time.Time {
	if !t.provided || t.clear {
		return nil
	}
	exp := now.Add(time.Duration(t.minutes * float64(time.Minute)))
	return &exp
}

// IndexOption controls whether a put participates in the semantic
// index. The zero value means "use the store's configured extraction
// fields".
type IndexOption struct {
	disabled bool
	fields   []string
}

// NoIndex excludes the write from the semantic index entirely.
func NoIndex() IndexOption {
	return IndexOption{disabled: true}
}

// IndexFields overrides the store's configured extraction fields for
// this write only.
func IndexFields(fields ...string) IndexOption {
	return IndexOption{fields: fields}
}

// Disabled reports whether the write opted out of semantic indexing.
func (o IndexOption) Disabled() bool { return o.disabled }

// Fields returns the per-write field override, or nil when the store
// default applies.
func (o IndexOption) Fields() []string { return o.fields }

// ExtractText collects the indexable text of a value by following each
// field's dotted path (e.g. "content.article" descends two levels). A
// field contributes nothing when a path segment is missing or points
// at a non-string. The RootField selector collects every string leaf.
// Contributions are trimmed and joined with single spaces.
func ExtractText(value Value, fields []string) string {
	var parts []string
	for _, field := range fields {
		if field == RootField {
			if s := FlattenText(value); s != "" {
				parts = append(parts, s)
			}
			continue
		}
		cur := any(value)
		found := true
		for _, seg := range strings.Split(field, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				if v, isValue := cur.(Value); isValue {
					m = map[string]any(v)
				} else {
					found = false
					break
				}
			}
			next, ok := m[seg]
			if !ok {
				found = false
				break
			}
			cur = next
		}
		if !found {
			continue
		}
		if s, ok := cur.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// FlattenText collects every string leaf of a value in deterministic
// (sorted-key) order. It feeds the full-text index so that text search
// covers the whole payload, the way a text index over the raw document
// would.
func FlattenText(value Value) string {
	var parts []string
	flattenInto(map[string]any(value), &parts)
	return strings.Join(parts, " ")
}

func flattenInto(v any, parts *[]string) {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			*parts = append(*parts, s)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(val[k], parts)
		}
	case Value:
		flattenInto(map[string]any(val), parts)
	case []any:
		for _, item := range val {
			flattenInto(item, parts)
		}
	}
}
