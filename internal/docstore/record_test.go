package docstore

import (
	"errors"
	"testing"
	"time"
)

func TestNamespaceValidate(t *testing.T) {
	tests := []struct {
		name    string
		ns      Namespace
		wantErr bool
	}{
		{name: "single segment", ns: Namespace{"agents"}},
		{name: "nested", ns: Namespace{"agents", "alice", "notes"}},
		{name: "empty namespace", ns: Namespace{}, wantErr: true},
		{name: "nil namespace", ns: nil, wantErr: true},
		{name: "empty segment", ns: Namespace{"agents", ""}, wantErr: true},
		{name: "separator in segment", ns: Namespace{"agents/alice"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ns.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidNamespace) {
				t.Errorf("Expected ErrInvalidNamespace, got %v", err)
			}
		})
	}
}

func TestNamespacePrefixSuffix(t *testing.T) {
	ns := Namespace{"agents", "alice", "notes"}

	prefixTests := []struct {
		prefix Namespace
		want   bool
	}{
		{nil, true},
		{Namespace{"agents"}, true},
		{Namespace{"agents", "alice"}, true},
		{Namespace{"agents", "alice", "notes"}, true},
		{Namespace{"agents", "bob"}, false},
		{Namespace{"alice"}, false},
		{Namespace{"agents", "alice", "notes", "daily"}, false},
	}
	for _, tt := range prefixTests {
		if got := ns.HasPrefix(tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%v) = %v, want %v", tt.prefix, got, tt.want)
		}
	}

	suffixTests := []struct {
		suffix Namespace
		want   bool
	}{
		{nil, true},
		{Namespace{"notes"}, true},
		{Namespace{"alice", "notes"}, true},
		{Namespace{"agents", "alice", "notes"}, true},
		{Namespace{"alice"}, false},
		{Namespace{"bob", "notes"}, false},
		{Namespace{"root", "agents", "alice", "notes"}, false},
	}
	for _, tt := range suffixTests {
		if got := ns.HasSuffix(tt.suffix); got != tt.want {
			t.Errorf("HasSuffix(%v) = %v, want %v", tt.suffix, got, tt.want)
		}
	}
}

func TestNamespaceRoundTrip(t *testing.T) {
	ns := Namespace{"agents", "alice", "notes"}
	path := ns.String()
	if path != "agents/alice/notes" {
		t.Errorf("String() = %q, want %q", path, "agents/alice/notes")
	}
	if parsed := ParseNamespace(path); !parsed.Equal(ns) {
		t.Errorf("ParseNamespace(%q) = %v, want %v", path, parsed, ns)
	}
	if parsed := ParseNamespace(""); parsed != nil {
		t.Errorf("ParseNamespace(\"\") = %v, want nil", parsed)
	}
}

func TestTTLStates(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Unspecified: zero value, no expiration
	var unspecified TTL
	if unspecified.Provided() {
		t.Error("zero TTL should not be provided")
	}
	if exp := unspecified.Expiration(now); exp != nil {
		t.Errorf("unspecified TTL expiration = %v, want nil", exp)
	}

	// Explicitly cleared: provided but no expiration
	cleared := NoTTL()
	if !cleared.Provided() {
		t.Error("NoTTL should be provided")
	}
	if exp := cleared.Expiration(now); exp != nil {
		t.Errorf("cleared TTL expiration = %v, want nil", exp)
	}

	// Concrete minutes
	concrete := TTLMinutes(30)
	if !concrete.Provided() {
		t.Error("TTLMinutes should be provided")
	}
	exp := concrete.Expiration(now)
	if exp == nil {
		t.Fatal("concrete TTL expiration is nil")
	}
	if want := now.Add(30 * time.Minute); !exp.Equal(want) {
		t.Errorf("expiration = %v, want %v", exp, want)
	}

	// Zero minutes is a real value: expiration equals now
	zero := TTLMinutes(0)
	exp = zero.Expiration(now)
	if exp == nil {
		t.Fatal("zero-minute TTL expiration is nil")
	}
	if !exp.Equal(now) {
		t.Errorf("zero-minute expiration = %v, want %v", exp, now)
	}

	// Fractional minutes
	frac := TTLMinutes(0.5)
	exp = frac.Expiration(now)
	if want := now.Add(30 * time.Second); !exp.Equal(want) {
		t.Errorf("fractional expiration = %v, want %v", exp, want)
	}
}

func TestExtractText(t *testing.T) {
	value := Value{
		"title": "Quarterly report",
		"content": map[string]any{
			"article": "Revenue grew in the third quarter.",
			"author":  map[string]any{"name": "Alice"},
		},
		"count": 42,
		"tags":  []any{"finance", "q3"},
	}

	tests := []struct {
		name   string
		fields []string
		want   string
	}{
		{name: "top-level field", fields: []string{"title"}, want: "Quarterly report"},
		{name: "dotted path", fields: []string{"content.article"}, want: "Revenue grew in the third quarter."},
		{name: "deep path", fields: []string{"content.author.name"}, want: "Alice"},
		{
			name:   "multiple fields joined",
			fields: []string{"title", "content.article"},
			want:   "Quarterly report Revenue grew in the third quarter.",
		},
		{name: "missing path contributes nothing", fields: []string{"title", "content.missing"}, want: "Quarterly report"},
		{name: "non-string leaf contributes nothing", fields: []string{"count"}, want: ""},
		{name: "path through non-map contributes nothing", fields: []string{"title.sub"}, want: ""},
		{
			name:   "root selector collects all string leaves",
			fields: []string{RootField},
			want:   "Revenue grew in the third quarter. Alice finance q3 Quarterly report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(value, tt.fields); got != tt.want {
				t.Errorf("ExtractText(%v) = %q, want %q", tt.fields, got, tt.want)
			}
		})
	}
}

func TestFlattenTextDeterministic(t *testing.T) {
	value := Value{
		"b": "second",
		"a": "first",
		"c": map[string]any{"z": "last", "y": []any{"nested"}},
	}

	want := "first second nested last"
	for i := 0; i < 5; i++ {
		if got := FlattenText(value); got != want {
			t.Fatalf("FlattenText() = %q, want %q", got, want)
		}
	}
}

func TestIndexOption(t *testing.T) {
	var def IndexOption
	if def.Disabled() || def.Fields() != nil {
		t.Error("zero IndexOption should use store defaults")
	}

	off := NoIndex()
	if !off.Disabled() {
		t.Error("NoIndex should be disabled")
	}

	fields := IndexFields("title", "content.article")
	if fields.Disabled() {
		t.Error("IndexFields should not be disabled")
	}
	if got := fields.Fields(); len(got) != 2 || got[0] != "title" {
		t.Errorf("Fields() = %v", got)
	}
}
