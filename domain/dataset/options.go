package dataset

import "github.com/helixml/vecmatch/domain/repository"

// WithNamespace filters by the "namespace" column.
func WithNamespace(namespace string) repository.Option {
	return repository.WithCondition("namespace", namespace)
}

// WithValue filters by the "value" column.
func WithValue(value string) repository.Option {
	return repository.WithCondition("value", value)
}

// WithValueIn filters by the "value" column using IN.
func WithValueIn(values []string) repository.Option {
	return repository.WithConditionIn("value", values)
}

// WithUnmatched keeps targets without a matched source.
func WithUnmatched() repository.Option {
	return repository.WithNull("matched_source_id")
}

// WithMatched keeps targets that have a matched source.
func WithMatched() repository.Option {
	return repository.WithNotNull("matched_source_id")
}

// WithMatchedSourceID filters targets matched to the given source.
func WithMatchedSourceID(id int64) repository.Option {
	return repository.WithCondition("matched_source_id", id)
}
