package task

import (
	"strings"

	"github.com/helixml/vecmatch/domain/dataset"
)

// Operation represents a long-running vecmatch operation.
type Operation string

// Operation values.
const (
	OperationMigrate     Operation = "vecmatch.migrate"
	OperationLoadSources Operation = "vecmatch.load.sources"
	OperationLoadTargets Operation = "vecmatch.load.targets"
	OperationMatch       Operation = "vecmatch.match"
)

// LoadOperation returns the load operation for a dataset kind.
func LoadOperation(kind dataset.Kind) Operation {
	if kind == dataset.KindTargets {
		return OperationLoadTargets
	}
	return OperationLoadSources
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}

// IsLoad returns true for ingestion operations.
func (o Operation) IsLoad() bool {
	return strings.HasPrefix(string(o), "vecmatch.load.")
}
