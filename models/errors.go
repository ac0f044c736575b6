package models

import "errors"

// Ledger error taxonomy. Integrity errors (ErrCorruptVertex,
// ErrUnknownParent) are rejected at the store boundary and never
// partially applied; the rest are recoverable caller errors.
var (
	// ErrCorruptVertex means a vertex id does not match the hash of its
	// canonical serialization.
	ErrCorruptVertex = errors.New("vertex id does not match content hash")

	// ErrNotFound means a referenced vertex, proposal or record is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnknownParent means a vertex declares a parent id not present in
	// the store. Since the store never deletes, requiring all parents to
	// exist before insert is sufficient to keep the graph acyclic.
	ErrUnknownParent = errors.New("unknown parent vertex")

	// ErrUnknownProposal means a vote or execution references a proposal
	// with no Proposal vertex in the store.
	ErrUnknownProposal = errors.New("unknown proposal")

	// ErrInvalidState means an operation was attempted against a proposal
	// not in the required lifecycle state.
	ErrInvalidState = errors.New("invalid proposal state for operation")
)
