package executor

import (
	"fmt"
	"sync"

	"govledger/dag"
	"govledger/governance"
	"govledger/logger"
	"govledger/models"
	"govledger/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunFunc runs a DSL program on the external executor and returns its
// opaque output. The interpreter itself lives outside this node.
type RunFunc func(program string) (string, error)

// Recorder appends execution-result vertices after a passed proposal is
// run. It enforces at-most-one execution per proposal: only a Passed
// proposal may be recorded, and recording moves it to a terminal state.
type Recorder struct {
	store *dag.Store
	gov   *governance.Engine
	node  *state.NodeState
	mux   sync.Mutex
}

// NewRecorder creates an execution recorder.
func NewRecorder(store *dag.Store, gov *governance.Engine, node *state.NodeState) *Recorder {
	return &Recorder{store: store, gov: gov, node: node}
}

// Record runs a passed proposal's program through run exactly once and
// appends the Execution vertex. On success the proposal transitions to
// Executed, on failure to Failed with the error captured as the result.
// The recorder never retries; re-invoking on a terminal proposal fails
// with ErrInvalidState.
func (r *Recorder) Record(proposalID, executorID, program string, run RunFunc) (*models.Vertex, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	rec, err := r.gov.Status(proposalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPassed {
		return nil, fmt.Errorf("proposal %s is %s, execution requires passed: %w",
			proposalID, rec.Status, models.ErrInvalidState)
	}
	// A replicated Execution vertex can arrive while the local status is
	// still Passed. Refuse to run again if one is already in the ledger.
	// A crash between run and the writes below still leaves the proposal
	// Passed with no Execution vertex, so a retry re-runs the program;
	// callers must hand in idempotent programs.
	execs, err := r.store.ExecutionsFor(proposalID)
	if err != nil {
		return nil, err
	}
	if len(execs) > 0 {
		return nil, fmt.Errorf("proposal %s already has a recorded execution: %w",
			proposalID, models.ErrInvalidState)
	}

	output, runErr := run(program)

	payload := &models.ExecutionPayload{
		ExecutionID:   uuid.NewString(),
		ProposalID:    proposalID,
		Executor:      executorID,
		Success:       runErr == nil,
		Result:        output,
		ExecutionHash: models.HashBytes([]byte(program)),
	}
	if runErr != nil {
		payload.Result = runErr.Error()
	}

	v, err := r.store.InsertExecution(payload, r.node.Scope(), nil)
	if err != nil {
		return nil, err
	}
	if err := r.gov.MarkExecution(proposalID, payload.Success); err != nil {
		return nil, err
	}
	if err := r.node.AddExecutedProposal(proposalID); err != nil {
		return nil, err
	}

	logger.Logger.Info("Execution recorded",
		zap.String("proposal_id", proposalID),
		zap.String("executor", executorID),
		zap.Bool("success", payload.Success),
		zap.String("vertex_id", v.ID))
	return v, nil
}
