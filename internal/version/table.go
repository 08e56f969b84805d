package version

// Entry maps a minimum version to a value.
type Entry[T any] struct {
	Min   Version
	Value T
}

// Table is an ordered list of thresholds, newest first. Lookup returns the
// value of the first entry whose threshold the version reaches.
type Table[T any] struct {
	entries  []Entry[T]
	fallback T
}

// NewTable builds a table. Entries must be ordered newest first; fallback
// is returned for versions below every threshold.
func NewTable[T any](fallback T, entries ...Entry[T]) Table[T] {
	for i := 1; i < len(entries); i++ {
		if !entries[i].Min.Less(entries[i-1].Min) {
			panic("version: table entries must be strictly descending")
		}
	}
	return Table[T]{entries: entries, fallback: fallback}
}

// Lookup selects the value for v.
func (t Table[T]) Lookup(v Version) T {
	for _, e := range t.entries {
		if v.AtLeast(e.Min) {
			return e.Value
		}
	}
	return t.fallback
}
