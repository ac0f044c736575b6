package governance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"govledger/dag"
	"govledger/logger"
	"govledger/models"
	"govledger/repository"

	"go.uber.org/zap"
)

// Engine is the proposal lifecycle state machine. Tallying is a pure
// function of the stored votes and wall time; status transitions are
// persisted with a compare-and-swap under the engine lock so concurrent
// evaluations can never double-transition a proposal.
type Engine struct {
	store *dag.Store
	repo  repository.LedgerRepositoryInterface

	mux            sync.Mutex
	eligibleVoters int
}

// Tally is the deduplicated vote count for a proposal. Abstain is
// counted toward turnout but excluded from the threshold denominator.
type Tally struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain"`
}

// Counted returns the threshold denominator (non-abstain votes).
func (t Tally) Counted() int { return t.Yes + t.No }

// Voters returns total distinct voters including abstentions.
func (t Tally) Voters() int { return t.Yes + t.No + t.Abstain }

// ProposalView is the merged read model of a proposal: its immutable
// payload plus the current lifecycle record.
type ProposalView struct {
	VertexID    string                 `json:"vertex_id"`
	Author      string                 `json:"author"`
	Payload     models.ProposalPayload `json:"payload"`
	Status      models.ProposalStatus  `json:"status"`
	SubmittedAt int64                  `json:"submitted_at"`
	UpdatedAt   int64                  `json:"updated_at"`
	Tally       Tally                  `json:"tally"`
}

// NewEngine creates a governance engine. eligibleVoters is the
// cooperative membership size used as the quorum denominator; it is
// supplied by the operator, not derived from the ledger.
func NewEngine(store *dag.Store, repo repository.LedgerRepositoryInterface, eligibleVoters int) *Engine {
	return &Engine{store: store, repo: repo, eligibleVoters: eligibleVoters}
}

// SetEligibleVoters updates the quorum denominator, e.g. after a
// membership change.
func (e *Engine) SetEligibleVoters(n int) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.eligibleVoters = n
}

// EligibleVoters returns the configured membership size.
func (e *Engine) EligibleVoters() int {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.eligibleVoters
}

// Submit appends a Proposal vertex and opens voting immediately.
// Discussion happens off-ledger, so there is no separate gating state
// between submission and voting.
func (e *Engine) Submit(p *models.ProposalPayload, scope, author string) (*models.Vertex, error) {
	v, err := e.store.InsertProposal(p, scope, author, nil)
	if err != nil {
		return nil, err
	}

	rec := &models.ProposalStatusRecord{
		ProposalID:  p.ProposalID,
		Status:      models.StatusVoting,
		SubmittedAt: v.Timestamp,
		UpdatedAt:   v.Timestamp,
	}
	if err := e.repo.PutProposalStatus(rec); err != nil {
		return nil, err
	}

	logger.Logger.Info("Proposal submitted",
		zap.String("proposal_id", p.ProposalID),
		zap.String("author", author),
		zap.String("vertex_id", v.ID))
	return v, nil
}

// Adopt seeds the lifecycle record for a Proposal vertex replicated
// from a peer, so votes and evaluation work on the receiving node the
// same as on the submitting one. Voting opens from the vertex
// timestamp, keeping the deadline identical across the federation.
// Idempotent: an existing record is never overwritten. Non-proposal
// vertices are ignored.
func (e *Engine) Adopt(v *models.Vertex) error {
	if v.DataType != models.DataTypeProposal {
		return nil
	}
	e.mux.Lock()
	defer e.mux.Unlock()

	_, err := e.repo.GetProposalStatus(v.Proposal.ProposalID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	rec := &models.ProposalStatusRecord{
		ProposalID:  v.Proposal.ProposalID,
		Status:      models.StatusVoting,
		SubmittedAt: v.Timestamp,
		UpdatedAt:   time.Now().UnixMilli(),
	}
	if err := e.repo.PutProposalStatus(rec); err != nil {
		return err
	}
	logger.Logger.Info("Adopted replicated proposal",
		zap.String("proposal_id", v.Proposal.ProposalID),
		zap.String("vertex_id", v.ID))
	return nil
}

// CastVote appends a Vote vertex for a proposal currently in Voting.
// A voter's later vote supersedes their earlier one at tally time.
func (e *Engine) CastVote(proposalID, voter string, decision models.Decision, scope string) (*models.Vertex, error) {
	rec, err := e.repo.GetProposalStatus(proposalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusVoting {
		return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, rec.Status, models.ErrInvalidState)
	}

	v, err := e.store.InsertVote(proposalID, voter, decision, scope, nil)
	if err != nil {
		return nil, err
	}
	logger.Logger.Info("Vote cast",
		zap.String("proposal_id", proposalID),
		zap.String("voter", voter),
		zap.String("decision", string(decision)))
	return v, nil
}

// CountVotes deduplicates stored votes to each voter's most recent
// decision and sums them. Ties on timestamp break on vertex id so the
// result is deterministic across nodes.
func (e *Engine) CountVotes(proposalID string) (Tally, error) {
	votes, err := e.store.VotesFor(proposalID)
	if err != nil {
		return Tally{}, err
	}

	latest := make(map[string]*models.Vertex)
	for _, v := range votes {
		cur, ok := latest[v.Vote.Voter]
		if !ok || v.Timestamp > cur.Timestamp ||
			(v.Timestamp == cur.Timestamp && v.ID > cur.ID) {
			latest[v.Vote.Voter] = v
		}
	}

	var t Tally
	for _, v := range latest {
		switch v.Vote.Decision {
		case models.DecisionYes:
			t.Yes++
		case models.DecisionNo:
			t.No++
		case models.DecisionAbstain:
			t.Abstain++
		}
	}
	return t, nil
}

// Evaluate applies the transition rules for a proposal at the given
// time and returns the resulting status. Before the voting deadline the
// status stays Voting; at or after it the quorum and threshold rules
// decide Passed or Rejected. Terminal states are returned unchanged, so
// repeated calls with the same inputs are idempotent.
func (e *Engine) Evaluate(proposalID string, now time.Time) (models.ProposalStatus, error) {
	e.mux.Lock()
	defer e.mux.Unlock()

	rec, err := e.repo.GetProposalStatus(proposalID)
	if err != nil {
		return "", err
	}
	if rec.Status != models.StatusVoting {
		return rec.Status, nil
	}

	pv, err := e.store.ProposalVertex(proposalID)
	if err != nil {
		return "", err
	}
	deadline := rec.SubmittedAt + pv.Proposal.VotingPeriodMs
	if now.UnixMilli() < deadline {
		return models.StatusVoting, nil
	}

	tally, err := e.CountVotes(proposalID)
	if err != nil {
		return "", err
	}

	next := decide(tally, pv.Proposal.Quorum, pv.Proposal.Threshold, e.eligibleVoters)
	if err := e.transitionLocked(rec, models.StatusVoting, next); err != nil {
		return "", err
	}

	logger.Logger.Info("Proposal evaluated",
		zap.String("proposal_id", proposalID),
		zap.String("status", string(next)),
		zap.Int("yes", tally.Yes),
		zap.Int("no", tally.No),
		zap.Int("abstain", tally.Abstain))
	return next, nil
}

// decide applies the quorum and threshold rules to a final tally.
func decide(t Tally, quorum, threshold float64, eligible int) models.ProposalStatus {
	if eligible <= 0 {
		return models.StatusRejected
	}
	turnout := float64(t.Voters()) / float64(eligible)
	if turnout < quorum {
		return models.StatusRejected
	}
	counted := t.Counted()
	if counted == 0 {
		// Quorum met purely by abstentions still decides nothing.
		return models.StatusRejected
	}
	// Inclusive threshold: an exact tie at the threshold passes.
	if float64(t.Yes)/float64(counted) >= threshold {
		return models.StatusPassed
	}
	return models.StatusRejected
}

// MarkExecution transitions a Passed proposal to Executed or Failed.
// Only the execution recorder calls this; vote tallying never does.
func (e *Engine) MarkExecution(proposalID string, success bool) error {
	e.mux.Lock()
	defer e.mux.Unlock()

	rec, err := e.repo.GetProposalStatus(proposalID)
	if err != nil {
		return err
	}
	next := models.StatusExecuted
	if !success {
		next = models.StatusFailed
	}
	return e.transitionLocked(rec, models.StatusPassed, next)
}

// transitionLocked persists a status change guarded by the expected
// current status. Caller holds the engine lock; the re-read makes the
// swap safe against transitions that happened between the caller's read
// and now.
func (e *Engine) transitionLocked(rec *models.ProposalStatusRecord, from, to models.ProposalStatus) error {
	cur, err := e.repo.GetProposalStatus(rec.ProposalID)
	if err != nil {
		return err
	}
	if cur.Status != from {
		return fmt.Errorf("proposal %s is %s, expected %s: %w",
			rec.ProposalID, cur.Status, from, models.ErrInvalidState)
	}
	cur.Status = to
	cur.UpdatedAt = time.Now().UnixMilli()
	return e.repo.PutProposalStatus(cur)
}

// Status returns the current lifecycle record of a proposal.
func (e *Engine) Status(proposalID string) (*models.ProposalStatusRecord, error) {
	return e.repo.GetProposalStatus(proposalID)
}

// Get returns the merged read model of a proposal.
func (e *Engine) Get(proposalID string) (*ProposalView, error) {
	pv, err := e.store.ProposalVertex(proposalID)
	if err != nil {
		return nil, err
	}
	rec, err := e.repo.GetProposalStatus(proposalID)
	if err != nil {
		return nil, err
	}
	tally, err := e.CountVotes(proposalID)
	if err != nil {
		return nil, err
	}
	return &ProposalView{
		VertexID:    pv.ID,
		Author:      pv.Author,
		Payload:     *pv.Proposal,
		Status:      rec.Status,
		SubmittedAt: rec.SubmittedAt,
		UpdatedAt:   rec.UpdatedAt,
		Tally:       tally,
	}, nil
}

// List returns all proposals, optionally filtered by status.
func (e *Engine) List(statusFilter models.ProposalStatus) ([]*ProposalView, error) {
	recs, err := e.repo.GetAllProposalStatuses()
	if err != nil {
		return nil, err
	}
	views := make([]*ProposalView, 0, len(recs))
	for _, rec := range recs {
		if statusFilter != "" && rec.Status != statusFilter {
			continue
		}
		view, err := e.Get(rec.ProposalID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// SweepDeadlines evaluates every proposal still in Voting, driven by
// the scheduler tick rather than per-proposal timers.
func (e *Engine) SweepDeadlines(now time.Time) {
	recs, err := e.repo.GetAllProposalStatuses()
	if err != nil {
		logger.Logger.Error("Failed to list proposals for deadline sweep", zap.Error(err))
		return
	}
	for _, rec := range recs {
		if rec.Status != models.StatusVoting {
			continue
		}
		if _, err := e.Evaluate(rec.ProposalID, now); err != nil {
			logger.Logger.Warn("Deadline evaluation failed",
				zap.String("proposal_id", rec.ProposalID), zap.Error(err))
		}
	}
}
