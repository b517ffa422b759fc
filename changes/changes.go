// Package changes diffs the current source against the last fingerprint
// record to decide which entries must be sent for translation.
//
// Comparison is hash against hash: saving a file without edits never
// triggers work, and a one-character edit resubmits exactly one entry.
package changes

import (
	"sort"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
	"github.com/bandapella/translatr-gradle-plugin/fingerprint"
)

// Kind classifies a submitted entry.
type Kind int

const (
	// KindNew is a key absent from the prior record.
	KindNew Kind = iota
	// KindModified is a key whose value hash differs from the prior record.
	KindModified
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindModified:
		return "modified"
	}
	return "unknown"
}

// Change is one entry selected for submission, paired with its value hash
// so the service can deduplicate idempotently.
type Change struct {
	Key  string
	Text string
	Hash string
	Kind Kind
}

// Set is the outcome of a diff.
type Set struct {
	// Submit holds new and modified entries in source order.
	Submit []Change
	// Removed holds keys present in the prior record but gone from the
	// source, sorted. Always empty when FullResync is set.
	Removed []string
	// Unchanged holds keys excluded from submission, in source order.
	Unchanged []string
	// Hashes is key -> value hash for the current source.
	Hashes map[string]string
	// FullResync is set when no usable prior record existed (absent or
	// marked failed) and every entry was selected.
	FullResync bool
}

// Detect classifies every entry of c against prior.
//
// Without a usable record every entry is new and nothing counts as removed:
// the key set of a failed run cannot be trusted.
func Detect(c *catalog.Collection, prior *fingerprint.Record) *Set {
	s := &Set{
		Hashes:     fingerprint.HashEntries(c),
		FullResync: !prior.Usable(),
	}

	for _, e := range c.Entries() {
		h := s.Hashes[e.Key]
		if s.FullResync {
			s.Submit = append(s.Submit, Change{Key: e.Key, Text: e.Value, Hash: h, Kind: KindNew})
			continue
		}
		old, ok := prior.StringHashes[e.Key]
		switch {
		case !ok:
			s.Submit = append(s.Submit, Change{Key: e.Key, Text: e.Value, Hash: h, Kind: KindNew})
		case old != h:
			s.Submit = append(s.Submit, Change{Key: e.Key, Text: e.Value, Hash: h, Kind: KindModified})
		default:
			s.Unchanged = append(s.Unchanged, e.Key)
		}
	}

	if !s.FullResync {
		for key := range prior.StringHashes {
			if _, ok := s.Hashes[key]; !ok {
				s.Removed = append(s.Removed, key)
			}
		}
		sort.Strings(s.Removed)
	}

	return s
}

// Counts returns the number of new, modified and removed entries.
func (s *Set) Counts() (added, modified, removed int) {
	for _, c := range s.Submit {
		if c.Kind == KindModified {
			modified++
		} else {
			added++
		}
	}
	return added, modified, len(s.Removed)
}

// Empty reports whether there is nothing to submit and nothing to prune.
func (s *Set) Empty() bool {
	return len(s.Submit) == 0 && len(s.Removed) == 0
}

// Keys returns the submitted keys in source order.
func (s *Set) Keys() []string {
	keys := make([]string, len(s.Submit))
	for i, c := range s.Submit {
		keys[i] = c.Key
	}
	return keys
}
