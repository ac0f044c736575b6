package executor_test

import (
	"errors"
	"testing"
	"time"

	"govledger/dag"
	"govledger/executor"
	"govledger/governance"
	"govledger/models"
	"govledger/repository"
	"govledger/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *dag.Store
	gov   *governance.Engine
	node  *state.NodeState
	rec   *executor.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	store, err := dag.Open(repo)
	require.NoError(t, err)
	gov := governance.NewEngine(store, repo, 4)
	node, err := state.Load(repo, "coop", "dev-federation")
	require.NoError(t, err)
	return &fixture{
		store: store,
		gov:   gov,
		node:  node,
		rec:   executor.NewRecorder(store, gov, node),
	}
}

// passProposal submits a proposal and drives it to Passed.
func (f *fixture) passProposal(t *testing.T, id string) {
	t.Helper()
	_, err := f.gov.Submit(&models.ProposalPayload{
		ProposalID:     id,
		Title:          "test " + id,
		ProposalType:   models.ProposalTypeText,
		VotingPeriodMs: 1000,
		Quorum:         0.25,
		Threshold:      0.5,
	}, "coop", "alice")
	require.NoError(t, err)

	_, err = f.gov.CastVote(id, "bob", models.DecisionYes, "coop")
	require.NoError(t, err)

	rec, err := f.gov.Status(id)
	require.NoError(t, err)
	status, err := f.gov.Evaluate(id, time.UnixMilli(rec.SubmittedAt+1000))
	require.NoError(t, err)
	require.Equal(t, models.StatusPassed, status)
}

func TestRecordSuccess(t *testing.T) {
	f := newFixture(t)
	f.passProposal(t, "p1")

	program := "org budget { allocate 100 }"
	ran := 0
	v, err := f.rec.Record("p1", "covm-1", program, func(p string) (string, error) {
		ran++
		assert.Equal(t, program, p)
		return "allocated", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	assert.True(t, v.Execution.Success)
	assert.Equal(t, "allocated", v.Execution.Result)
	assert.Equal(t, models.HashBytes([]byte(program)), v.Execution.ExecutionHash)

	rec, err := f.gov.Status("p1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, rec.Status)
	assert.Contains(t, f.node.ExecutedProposals(), "p1")
}

func TestRecordFailure(t *testing.T) {
	f := newFixture(t)
	f.passProposal(t, "p1")

	v, err := f.rec.Record("p1", "covm-1", "bad program", func(string) (string, error) {
		return "", errors.New("stack underflow")
	})
	require.NoError(t, err)

	assert.False(t, v.Execution.Success)
	assert.Equal(t, "stack underflow", v.Execution.Result)

	rec, err := f.gov.Status("p1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
}

func TestRecordTwiceRejected(t *testing.T) {
	f := newFixture(t)
	f.passProposal(t, "p1")

	ran := 0
	run := func(string) (string, error) {
		ran++
		return "ok", nil
	}
	_, err := f.rec.Record("p1", "covm-1", "prog", run)
	require.NoError(t, err)

	_, err = f.rec.Record("p1", "covm-1", "prog", run)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Equal(t, 1, ran)

	execs, err := f.store.ExecutionsFor("p1")
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestRecordSkipsProgramWhenExecutionExists(t *testing.T) {
	f := newFixture(t)
	f.passProposal(t, "p1")

	// An Execution vertex replicated from a peer lands in the store
	// while the local lifecycle record still says Passed.
	_, err := f.store.InsertExecution(&models.ExecutionPayload{
		ExecutionID:   "exec-remote",
		ProposalID:    "p1",
		Executor:      "covm-2",
		Success:       true,
		Result:        "done elsewhere",
		ExecutionHash: models.HashBytes([]byte("prog")),
	}, "coop", nil)
	require.NoError(t, err)

	ran := false
	_, err = f.rec.Record("p1", "covm-1", "prog", func(string) (string, error) {
		ran = true
		return "", nil
	})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.False(t, ran)
}

func TestRecordRequiresPassed(t *testing.T) {
	f := newFixture(t)
	_, err := f.gov.Submit(&models.ProposalPayload{
		ProposalID:     "p1",
		Title:          "still voting",
		ProposalType:   models.ProposalTypeText,
		VotingPeriodMs: 60000,
		Quorum:         0.25,
		Threshold:      0.5,
	}, "coop", "alice")
	require.NoError(t, err)

	ran := false
	_, err = f.rec.Record("p1", "covm-1", "prog", func(string) (string, error) {
		ran = true
		return "", nil
	})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.False(t, ran)

	execs, err := f.store.ExecutionsFor("p1")
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestRecordUnknownProposal(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Record("missing", "covm-1", "prog", func(string) (string, error) {
		return "", nil
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
