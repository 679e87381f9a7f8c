package dataset

import "strings"

// DefaultNamespace is the partition used when a row carries no namespace.
const DefaultNamespace = "default"

// Record is a persisted source or target row.
type Record struct {
	id              int64
	namespace       string
	data            Row
	value           string
	embedding       []float32
	matchedSourceID *int64
	similarity      *float64
}

// NewRecord creates an unsaved Record. A blank namespace falls back to
// DefaultNamespace. The embedding is copied.
func NewRecord(namespace string, data Row, value string, embedding []float32) Record {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	return Record{
		namespace: namespace,
		data:      data,
		value:     value,
		embedding: vec,
	}
}

// WithID returns a copy carrying the store-assigned identifier.
func (r Record) WithID(id int64) Record {
	r.id = id
	return r
}

// WithMatch returns a copy carrying a match result.
func (r Record) WithMatch(sourceID int64, similarity float64) Record {
	r.matchedSourceID = &sourceID
	r.similarity = &similarity
	return r
}

// ID returns the store-assigned identifier (0 before insertion).
func (r Record) ID() int64 { return r.id }

// Namespace returns the partition key.
func (r Record) Namespace() string { return r.namespace }

// Data returns the original row.
func (r Record) Data() Row { return r.data }

// Value returns the text that was embedded.
func (r Record) Value() string { return r.value }

// Embedding returns a copy of the embedding vector.
func (r Record) Embedding() []float32 {
	vec := make([]float32, len(r.embedding))
	copy(vec, r.embedding)
	return vec
}

// Match returns the matched source id and similarity. ok is false for
// sources and for targets that are not matched yet.
func (r Record) Match() (sourceID int64, similarity float64, ok bool) {
	if r.matchedSourceID == nil || r.similarity == nil {
		return 0, 0, false
	}
	return *r.matchedSourceID, *r.similarity, true
}

// Matched reports whether the record has been matched.
func (r Record) Matched() bool {
	_, _, ok := r.Match()
	return ok
}

// Stats summarises the store contents.
type Stats struct {
	sources   int64
	targets   int64
	matched   int64
	unmatched int64
	orphans   int64
}

// NewStats creates Stats.
func NewStats(sources, targets, matched, unmatched, orphans int64) Stats {
	return Stats{
		sources:   sources,
		targets:   targets,
		matched:   matched,
		unmatched: unmatched,
		orphans:   orphans,
	}
}

// Sources returns the number of stored sources.
func (s Stats) Sources() int64 { return s.sources }

// Targets returns the number of stored targets.
func (s Stats) Targets() int64 { return s.targets }

// Matched returns the number of matched targets.
func (s Stats) Matched() int64 { return s.matched }

// Unmatched returns the number of targets without a match.
func (s Stats) Unmatched() int64 { return s.unmatched }

// Orphans returns the number of unmatched targets whose namespace has no sources.
func (s Stats) Orphans() int64 { return s.orphans }
