package app

import "dupscan/internal/dupscan"

// Operation tracks a CLI command that may mutate the catalog.
// Operations are created in memory with ID=0. Only catalog-mutating commands
// persist them, which assigns an auto-increment ID.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // dupscan.OperationSuccess or dupscan.OperationError
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     dupscan.OperationSuccess,
	}
}

// Persisted returns true if this operation has been saved to the catalog.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record marks the operation failed when err is non-nil and returns err.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = dupscan.OperationError
	}
	return err
}
