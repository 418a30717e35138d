package epp

import (
	"iter"
)

// ServiceSet holds the object or extension namespace URIs negotiated for a
// session at login.
type ServiceSet struct {
	uris map[string]struct{}
}

// NewServiceSet creates a new ServiceSet holding the provided URIs.
func NewServiceSet(uris ...string) ServiceSet {
	ss := ServiceSet{
		uris: make(map[string]struct{}),
	}
	for _, uri := range uris {
		ss.uris[uri] = struct{}{}
	}
	return ss
}

// Len returns the number of URIs in the set.
func (ss ServiceSet) Len() int {
	return len(ss.uris)
}

// All returns an iterator over all URIs in the set.  If you want a slice use
// `slices.Collect(ss.All())`.
func (ss ServiceSet) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for uri := range ss.uris {
			if !yield(uri) {
				return
			}
		}
	}
}

// Has will return true if the URI is present in the set.
func (ss ServiceSet) Has(uri string) bool {
	_, ok := ss.uris[uri]
	return ok
}
