// Package dataset models the two tabular datasets that flow through
// ingestion and matching: their rows, their persisted records, and the
// store contract that holds them.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind indicates a dataset kind name that is neither sources nor targets.
var ErrUnknownKind = errors.New("unknown dataset kind")

// Kind identifies one of the two datasets.
type Kind int

// Kind values.
const (
	KindSources Kind = iota + 1
	KindTargets
)

// Kinds returns every dataset kind in ingestion order.
func Kinds() []Kind {
	return []Kind{KindSources, KindTargets}
}

// ParseKind parses a dataset kind name (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sources", "source":
		return KindSources, nil
	case "targets", "target":
		return KindTargets, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// String returns the dataset name, which is also its table name.
func (k Kind) String() string {
	switch k {
	case KindSources:
		return "sources"
	case KindTargets:
		return "targets"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Table returns the table holding records of this kind.
func (k Kind) Table() string {
	return k.String()
}

// Label returns the upper-case tag used in progress output.
func (k Kind) Label() string {
	return strings.ToUpper(k.String())
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindSources || k == KindTargets
}
