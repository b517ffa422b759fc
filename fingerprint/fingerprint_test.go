package fingerprint

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
)

func mustCollection(t *testing.T, entries ...catalog.Entry) *catalog.Collection {
	t.Helper()
	c, err := catalog.New(entries)
	if err != nil {
		t.Fatalf("catalog.New() error: %v", err)
	}
	return c
}

func TestHashDeterministic(t *testing.T) {
	h1 := Hash("hello world")
	h2 := Hash("hello world")
	if h1 != h2 {
		t.Errorf("Hash not deterministic: %s != %s", h1, h2)
	}
	if h1 == Hash("different") {
		t.Errorf("Hash collision for different input")
	}
}

func TestSourceHashTracksKeysAndOrder(t *testing.T) {
	ab := mustCollection(t, catalog.Entry{Key: "a", Value: "1"}, catalog.Entry{Key: "b", Value: "2"})
	ba := mustCollection(t, catalog.Entry{Key: "b", Value: "2"}, catalog.Entry{Key: "a", Value: "1"})
	renamed := mustCollection(t, catalog.Entry{Key: "x", Value: "1"}, catalog.Entry{Key: "b", Value: "2"})

	if SourceHash(ab) == SourceHash(ba) {
		t.Error("reordering should change the source hash")
	}
	if SourceHash(ab) == SourceHash(renamed) {
		t.Error("renaming a key should change the source hash")
	}
	if SourceHash(ab) != SourceHash(mustCollection(t, ab.Entries()...)) {
		t.Error("equal collections should hash equally")
	}
}

func TestHashEntries(t *testing.T) {
	c := mustCollection(t, catalog.Entry{Key: "a", Value: "Hello"}, catalog.Entry{Key: "b", Value: "World"})
	got := HashEntries(c)
	want := map[string]string{"a": Hash("Hello"), "b": Hash("World")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("HashEntries() = %v, want %v", got, want)
	}
}

func TestLoadNonExistent(t *testing.T) {
	s := NewStore(t.TempDir(), "app")
	if r := s.Load(); r != nil {
		t.Fatalf("Load() = %#v, want nil", r)
	}
}

func TestLoadCorruptIsAbsence(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "app")
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if r := s.Load(); r != nil {
		t.Fatalf("Load() of corrupt record = %#v, want nil", r)
	}
}

func TestLoadLegacyRecordDefaultsFailedFalse(t *testing.T) {
	s := NewStore(t.TempDir(), "app")
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	legacy := `{"source_hash":"abc","timestamp":1700000000000,"languages":["es"],"string_hashes":{"a":"h1"}}`
	if err := os.WriteFile(s.Path(), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	r := s.Load()
	if r == nil {
		t.Fatal("Load() = nil for a valid legacy record")
	}
	if r.Failed {
		t.Error("legacy record without failed field should load as clean")
	}
	if !r.Usable() {
		t.Error("legacy record should be usable")
	}
	if r.StringHashes["a"] != "h1" || !r.HasLanguage("es") {
		t.Errorf("legacy record fields lost: %#v", r)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "lib/ui")

	want := &Record{
		SourceHash:   "src",
		Timestamp:    1700000000000,
		Languages:    []string{"de", "es"},
		StringHashes: map[string]string{"a": Hash("Hello")},
		Failed:       true,
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if filepath.Base(s.Path()) != "lib_ui.json" {
		t.Errorf("Path() = %q, want flat file name", s.Path())
	}
	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	got := s.Load()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load() = %#v, want %#v", got, want)
	}
	if got.Usable() {
		t.Error("failed record must not be usable")
	}

	if err := s.Remove(); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := s.Remove(); err != nil {
		t.Fatalf("second Remove() should be a no-op, got %v", err)
	}
}

func TestSaveUsesSnakeCaseFields(t *testing.T) {
	s := NewStore(t.TempDir(), "app")
	if err := s.Save(&Record{StringHashes: map[string]string{}}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"source_hash"`, `"timestamp"`, `"languages"`, `"string_hashes"`, `"failed"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("record JSON missing %s:\n%s", field, data)
		}
	}
}

func TestSortedLanguages(t *testing.T) {
	got := SortedLanguages([]string{"es", "de", "es", ""})
	if want := []string{"de", "es"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("SortedLanguages() = %v, want %v", got, want)
	}
}

func TestSummary(t *testing.T) {
	var r *Record
	if r.Summary() != "no record" {
		t.Errorf("nil summary = %q", r.Summary())
	}
	r = &Record{Languages: []string{"es"}, StringHashes: map[string]string{"a": "h"}}
	if s := r.Summary(); s == "" || s == "no record" {
		t.Errorf("Summary() = %q", s)
	}
}
