package changes

import (
	"reflect"
	"testing"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
	"github.com/bandapella/translatr-gradle-plugin/fingerprint"
)

func source(t *testing.T, kv ...string) *catalog.Collection {
	t.Helper()
	var entries []catalog.Entry
	for i := 0; i+1 < len(kv); i += 2 {
		entries = append(entries, catalog.Entry{Key: kv[i], Value: kv[i+1]})
	}
	c, err := catalog.New(entries)
	if err != nil {
		t.Fatalf("catalog.New() error: %v", err)
	}
	return c
}

func recordFor(c *catalog.Collection) *fingerprint.Record {
	return &fingerprint.Record{
		SourceHash:   fingerprint.SourceHash(c),
		StringHashes: fingerprint.HashEntries(c),
		Languages:    []string{"es"},
	}
}

func TestDetectWithoutRecordSubmitsEverything(t *testing.T) {
	src := source(t, "a", "Hello", "b", "World")

	set := Detect(src, nil)

	if !set.FullResync {
		t.Error("FullResync = false without a prior record")
	}
	if got, want := set.Keys(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("submitted keys = %v, want %v", got, want)
	}
	if len(set.Removed) != 0 {
		t.Errorf("Removed = %v, want none", set.Removed)
	}
	for _, c := range set.Submit {
		if c.Hash != fingerprint.Hash(c.Text) {
			t.Errorf("change %q carries hash %q, want hash of its text", c.Key, c.Hash)
		}
	}
}

func TestDetectUnchangedSourceIsEmpty(t *testing.T) {
	src := source(t, "a", "Hello", "b", "World")

	set := Detect(src, recordFor(src))

	if !set.Empty() {
		t.Fatalf("second run with unchanged source should be empty, got submit=%v removed=%v", set.Keys(), set.Removed)
	}
	if got, want := set.Unchanged, []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Unchanged = %v, want %v", got, want)
	}
}

func TestDetectClassifiesNewModifiedRemoved(t *testing.T) {
	prior := recordFor(source(t, "a", "Hello", "b", "World", "gone", "Bye"))
	current := source(t, "a", "Hello", "b", "Planet", "c", "New")

	set := Detect(current, prior)

	if set.FullResync {
		t.Fatal("FullResync should be false with a clean record")
	}
	want := []Change{
		{Key: "b", Text: "Planet", Hash: fingerprint.Hash("Planet"), Kind: KindModified},
		{Key: "c", Text: "New", Hash: fingerprint.Hash("New"), Kind: KindNew},
	}
	if !reflect.DeepEqual(set.Submit, want) {
		t.Fatalf("Submit = %#v, want %#v", set.Submit, want)
	}
	if got, want := set.Removed, []string{"gone"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Removed = %v, want %v", got, want)
	}

	added, modified, removed := set.Counts()
	if added != 1 || modified != 1 || removed != 1 {
		t.Errorf("Counts() = %d/%d/%d, want 1/1/1", added, modified, removed)
	}
}

func TestDetectOneCharacterEdit(t *testing.T) {
	prior := recordFor(source(t, "a", "Hello", "b", "World"))
	set := Detect(source(t, "a", "Hello", "b", "Planet"), prior)

	if got, want := set.Keys(), []string{"b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("submitted keys = %v, want %v", got, want)
	}
}

func TestDetectFailedRecordForcesFullResync(t *testing.T) {
	src := source(t, "a", "Hello", "b", "World")
	prior := recordFor(source(t, "a", "Hello", "b", "World", "stale", "x"))
	prior.Failed = true

	set := Detect(src, prior)

	if !set.FullResync {
		t.Fatal("failed record must force a full resync")
	}
	if got, want := set.Keys(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("submitted keys = %v, want %v", got, want)
	}
	if len(set.Removed) != 0 {
		t.Errorf("Removed = %v, want none after a failed run", set.Removed)
	}
}

func TestDetectMinimality(t *testing.T) {
	prior := recordFor(source(t, "k1", "v1", "k2", "v2", "k3", "v3", "k4", "v4"))
	tests := []struct {
		name    string
		current *catalog.Collection
		want    []string
	}{
		{"no edits", source(t, "k1", "v1", "k2", "v2", "k3", "v3", "k4", "v4"), nil},
		{"one edit", source(t, "k1", "v1", "k2", "x", "k3", "v3", "k4", "v4"), []string{"k2"}},
		{"reorder only", source(t, "k4", "v4", "k3", "v3", "k2", "v2", "k1", "v1"), nil},
		{"edit and add", source(t, "k1", "v1!", "k5", "v5"), []string{"k1", "k5"}},
	}
	for _, tt := range tests {
		got := Detect(tt.current, prior).Keys()
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: submitted = %v, want %v", tt.name, got, tt.want)
		}
	}
}
