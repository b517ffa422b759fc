// Package fingerprint persists the per-target record that makes
// synchronization incremental: a hash of the whole source, an MD5 checksum
// per key, the languages known after the last run and a failure flag.
//
// One record is kept per synchronization target under the build-local
// cache directory:
//
//	<cache_dir>/fingerprints/<target>.json
//
// A missing or unreadable record is never fatal: Load returns nil and the
// engine treats every entry as new.
package fingerprint

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
)

// DirName is the subdirectory of the cache dir holding records.
const DirName = "fingerprints"

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Record is the persisted snapshot of the last run for one target.
type Record struct {
	SourceHash   string            `json:"source_hash"`
	Timestamp    int64             `json:"timestamp"` // unix milliseconds
	Languages    []string          `json:"languages"`
	StringHashes map[string]string `json:"string_hashes"`
	// Failed forces a full resubmission on the next run. Records written
	// before the field existed decode as false.
	Failed bool `json:"failed"`
}

// Usable reports whether the record can be trusted for per-key diffing.
func (r *Record) Usable() bool {
	return r != nil && !r.Failed
}

// Time returns the record timestamp.
func (r *Record) Time() time.Time {
	if r == nil || r.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.Timestamp)
}

// HasLanguage reports whether lang was known at the last run.
func (r *Record) HasLanguage(lang string) bool {
	if r == nil {
		return false
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Summary returns a human-readable summary string.
func (r *Record) Summary() string {
	if r == nil {
		return "no record"
	}
	state := "clean"
	if r.Failed {
		state = "failed"
	}
	return fmt.Sprintf("%s, %d keys, languages [%s], updated %s",
		state, len(r.StringHashes), strings.Join(r.Languages, ", "),
		r.Time().Format(time.RFC3339))
}

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of a string.
func Hash(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// HashEntries returns key -> Hash(value) for every entry.
func HashEntries(c *catalog.Collection) map[string]string {
	out := make(map[string]string, c.Len())
	for _, e := range c.Entries() {
		out[e.Key] = Hash(e.Value)
	}
	return out
}

// SourceHash hashes the whole collection, keys and order included, so any
// edit (including a reorder or rename) changes it.
func SourceHash(c *catalog.Collection) string {
	h := md5.New()
	for _, e := range c.Entries() {
		h.Write([]byte(e.Key))
		h.Write([]byte{0})
		h.Write([]byte(e.Value))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// SortedLanguages returns a sorted, de-duplicated copy of langs.
func SortedLanguages(langs []string) []string {
	seen := make(map[string]bool, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store loads and saves the record of a single target.
type Store struct {
	path string
}

// NewStore returns a store for target rooted at cacheDir.
func NewStore(cacheDir, target string) *Store {
	return &Store{path: filepath.Join(cacheDir, DirName, targetFileName(target))}
}

// targetFileName maps a target name ("app", "lib/ui") to a flat file name.
func targetFileName(target string) string {
	if target == "" {
		target = "default"
	}
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(target)
	return name + ".json"
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record. It returns nil when the file is missing, cannot be
// read or does not parse.
func (s *Store) Load() *Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	if r.StringHashes == nil {
		r.StringHashes = make(map[string]string)
	}
	return &r
}

// Save writes the record, replacing any previous one.
func (s *Store) Save(r *Record) error {
	if r == nil {
		return fmt.Errorf("nil record")
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Remove deletes the record. A missing record is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", s.path, err)
	}
	return nil
}
