// Package catalog holds the in-memory model shared by the sync engine:
// ordered source entries and per-key, per-language translation results.
package catalog

import (
	"fmt"
	"sort"
)

// Entry is one localizable key/text pair.
type Entry struct {
	Key   string
	Value string
}

// Collection is an ordered sequence of entries with unique keys.
// Order is significant: it drives output ordering across runs.
type Collection struct {
	entries []Entry
	index   map[string]int
}

// New builds a collection, rejecting empty and duplicate keys.
func New(entries []Entry) (*Collection, error) {
	c := &Collection{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("entry #%d has an empty key", i+1)
		}
		if _, dup := c.index[e.Key]; dup {
			return nil, fmt.Errorf("duplicate key %q", e.Key)
		}
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Entries returns the entries in source order.
func (c *Collection) Entries() []Entry {
	if c == nil {
		return nil
	}
	return c.entries
}

// Keys returns the keys in source order.
func (c *Collection) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Get returns the value for key.
func (c *Collection) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	i, ok := c.index[key]
	if !ok {
		return "", false
	}
	return c.entries[i].Value, true
}

// Has reports whether key is part of the collection.
func (c *Collection) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Values returns a key -> value map.
func (c *Collection) Values() map[string]string {
	out := make(map[string]string, c.Len())
	for _, e := range c.Entries() {
		out[e.Key] = e.Value
	}
	return out
}

// Result maps key -> language code -> translated text.
// A missing language for a key means "not yet available", never "empty".
type Result map[string]map[string]string

// Set records a translation.
func (r Result) Set(key, lang, text string) {
	m, ok := r[key]
	if !ok {
		m = make(map[string]string)
		r[key] = m
	}
	m[lang] = text
}

// Languages returns every language present in the result, sorted.
func (r Result) Languages() []string {
	seen := make(map[string]bool)
	for _, byLang := range r {
		for lang := range byLang {
			seen[lang] = true
		}
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// ForLanguage returns key -> text for a single language.
func (r Result) ForLanguage(lang string) map[string]string {
	out := make(map[string]string)
	for key, byLang := range r {
		if text, ok := byLang[lang]; ok {
			out[key] = text
		}
	}
	return out
}

// Merge returns a new result containing r overlaid with other.
// Values from other win for shared key/language pairs.
func (r Result) Merge(other Result) Result {
	out := make(Result, len(r)+len(other))
	for _, src := range []Result{r, other} {
		for key, byLang := range src {
			for lang, text := range byLang {
				out.Set(key, lang, text)
			}
		}
	}
	return out
}

// Empty reports whether the result carries no translation at all.
func (r Result) Empty() bool {
	for _, byLang := range r {
		if len(byLang) > 0 {
			return false
		}
	}
	return true
}

// Count returns the number of key/language pairs.
func (r Result) Count() int {
	n := 0
	for _, byLang := range r {
		n += len(byLang)
	}
	return n
}
