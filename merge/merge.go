// Package merge reconciles fresh translations with the content already
// written for a language, equivalent to what msgmerge does for PO files:
// existing translations survive, new ones override, entries that left the
// source are dropped and the key order of the existing file is kept stable.
package merge

import "sort"

// Input is everything needed to rebuild one language's output.
type Input struct {
	// Prior is the content currently on disk for the language.
	Prior map[string]string
	// PriorOrder is the key order of the file on disk.
	PriorOrder []string
	// Fresh holds translations obtained in this run; they win over Prior.
	Fresh map[string]string
	// Current is the live source key order. An empty non-nil slice is an
	// empty source and prunes everything; nil means no order is known.
	Current []string
	// Removed lists keys deleted from the source since the last run.
	Removed []string
}

// Output is the merged, pruned and ordered content of one language.
type Output struct {
	Values map[string]string
	Order  []string
}

// Len returns the number of entries.
func (o Output) Len() int {
	return len(o.Values)
}

// Reconcile merges in.Fresh over in.Prior, prunes keys absent from the
// current source and orders the result.
//
// When Current is nil the source order is unknown: nothing is pruned
// except Removed, and keys follow PriorOrder or, failing that, lexical
// order.
func Reconcile(in Input) Output {
	merged := make(map[string]string, len(in.Prior)+len(in.Fresh))
	for k, v := range in.Prior {
		merged[k] = v
	}
	for k, v := range in.Fresh {
		merged[k] = v
	}

	removed := toSet(in.Removed)
	var current map[string]bool
	if in.Current != nil {
		current = toSet(in.Current)
	}
	for k := range merged {
		if removed[k] || (current != nil && !current[k]) {
			delete(merged, k)
		}
	}

	var order []string
	switch {
	case in.Current != nil:
		order = Order(in.PriorOrder, in.Current)
	case len(in.PriorOrder) > 0:
		order = in.PriorOrder
	}

	return Output{Values: merged, Order: restrict(order, merged)}
}

// Order merges the on-disk key order with the desired one. Keys present in
// both keep their existing relative order, keys only desired are appended
// in desired order, and keys no longer desired are dropped.
//
//	Order([a b c], [c d a]) = [a c d]
//
// With no existing order the desired order is returned as is.
func Order(existing, desired []string) []string {
	want := toSet(desired)
	seen := make(map[string]bool, len(desired))
	out := make([]string, 0, len(desired))

	for _, k := range existing {
		if want[k] && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range desired {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// restrict filters order to keys that have a value and appends any
// remaining keys lexically, so the result always covers values exactly.
func restrict(order []string, values map[string]string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, k := range order {
		if _, ok := values[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func toSet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
