// Package session tracks which skills have already been disclosed to a
// session's running context.
package session

import "sort"

// IDSet is a sorted set of skill ids. Methods never mutate the receiver.
type IDSet struct {
	ids []string
}

// NewIDSet builds a set from the given ids. Duplicates and empty ids are
// dropped.
func NewIDSet(ids ...string) IDSet {
	var s IDSet
	return s.With(ids...)
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	i := sort.SearchStrings(s.ids, id)
	return i < len(s.ids) && s.ids[i] == id
}

// With returns a new set holding the union of s and ids.
func (s IDSet) With(ids ...string) IDSet {
	out := make([]string, 0, len(s.ids)+len(ids))
	out = append(out, s.ids...)
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return IDSet{ids: compact(out)}
}

// Union returns a new set holding every id of s and o.
func (s IDSet) Union(o IDSet) IDSet { return s.With(o.ids...) }

// Len returns the number of ids.
func (s IDSet) Len() int { return len(s.ids) }

// Slice returns the ids in ascending order.
func (s IDSet) Slice() []string { return append([]string(nil), s.ids...) }

// Clone returns an independent copy.
func (s IDSet) Clone() IDSet { return IDSet{ids: s.Slice()} }

// Equal reports whether both sets hold the same ids.
func (s IDSet) Equal(o IDSet) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

func compact(sorted []string) []string {
	if len(sorted) == 0 {
		return nil
	}
	out := sorted[:1]
	for _, id := range sorted[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
