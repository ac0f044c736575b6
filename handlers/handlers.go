package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"govledger/dag"
	"govledger/executor"
	"govledger/governance"
	"govledger/logger"
	"govledger/models"
	"govledger/scheduler"
	"govledger/state"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler contains the HTTP handlers for the governance ledger API
type Handler struct {
	Store    *dag.Store
	Gov      *governance.Engine
	Recorder *executor.Recorder
	Node     *state.NodeState
	Sched    *scheduler.Scheduler
	Runner   executor.RunFunc

	validate *validator.Validate
}

// NewHandler creates and returns a new Handler instance
func NewHandler(store *dag.Store, gov *governance.Engine, rec *executor.Recorder, node *state.NodeState, sched *scheduler.Scheduler, runner executor.RunFunc) *Handler {
	return &Handler{
		Store:    store,
		Gov:      gov,
		Recorder: rec,
		Node:     node,
		Sched:    sched,
		Runner:   runner,
		validate: validator.New(),
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

// statusForError maps the ledger error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownProposal):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrCorruptVertex), errors.Is(err, models.ErrUnknownParent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GetStatus serves the reachability probe peers use
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.NodeStatus{
		NodeID:            h.Node.NodeID(),
		Network:           h.Node.Network(),
		LatestBlockHeight: h.Store.MaxHeight(),
	})
}

// GetFingerprint serves the whole-DAG summary used for federation
// consistency comparison
func (h *Handler) GetFingerprint(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Store.Fingerprint())
}

// GetTips serves the current DAG frontier
func (h *Handler) GetTips(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tips": h.Store.Tips()})
}

// GetVertex retrieves a single vertex by id
func (h *Handler) GetVertex(w http.ResponseWriter, r *http.Request) {
	v, err := h.Store.Get(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// GetAncestors serves the transitive parents of a vertex
func (h *Handler) GetAncestors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ids, err := h.Store.Ancestors(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"vertex_id": id, "ancestors": ids})
}

// GetDescendants serves the transitive children of a vertex
func (h *Handler) GetDescendants(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ids, err := h.Store.Descendants(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"vertex_id": id, "descendants": ids})
}

// IngestVertex accepts a fully-formed vertex replicated from a peer.
// The content hash is revalidated on insert, so a corrupt or tampered
// vertex is rejected without touching the store. Re-sending a known
// vertex is an idempotent success.
func (h *Handler) IngestVertex(w http.ResponseWriter, r *http.Request) {
	var v models.Vertex
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		logger.Logger.Error("Failed to decode vertex", zap.Error(err))
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		return
	}

	if err := h.Store.Put(&v); err != nil {
		logger.Logger.Error("Failed to ingest vertex", zap.String("vertex_id", v.ID), zap.Error(err))
		respondError(w, err)
		return
	}
	// A replicated Proposal vertex needs a lifecycle record before this
	// node can tally votes or evaluate it.
	if err := h.Gov.Adopt(&v); err != nil {
		logger.Logger.Error("Failed to adopt replicated proposal", zap.String("vertex_id", v.ID), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Vertex ingested successfully",
		"vertex":  v,
	})
}

// GetProposalIDs serves the proposal-id set for federation comparison
func (h *Handler) GetProposalIDs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"proposal_ids": h.Store.ProposalIDs()})
}

// SubmitProposalRequest is the body of POST /proposals
type SubmitProposalRequest struct {
	ProposalID       string  `json:"proposal_id"`
	Title            string  `json:"title" validate:"required"`
	Description      string  `json:"description"`
	ProposalType     string  `json:"proposal_type" validate:"required,oneof=text parameter_change budget_allocation"`
	VotingPeriodSecs int64   `json:"voting_period_secs" validate:"required,gt=0"`
	Quorum           float64 `json:"quorum" validate:"gte=0,lte=1"`
	Threshold        float64 `json:"threshold" validate:"gte=0,lte=1"`
	Author           string  `json:"author" validate:"required"`
}

// SubmitProposal handles POST requests to submit a new governance
// proposal; voting opens immediately
func (h *Handler) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	var req SubmitProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	proposalID := req.ProposalID
	if proposalID == "" {
		var err error
		proposalID, err = h.Node.NextProposalID()
		if err != nil {
			respondError(w, err)
			return
		}
	}

	payload := &models.ProposalPayload{
		ProposalID:     proposalID,
		Title:          req.Title,
		Description:    req.Description,
		ProposalType:   models.ProposalType(req.ProposalType),
		VotingPeriodMs: req.VotingPeriodSecs * 1000,
		Quorum:         req.Quorum,
		Threshold:      req.Threshold,
	}

	v, err := h.Gov.Submit(payload, h.Node.Scope(), req.Author)
	if err != nil {
		logger.Logger.Error("Failed to submit proposal",
			zap.String("proposal_id", proposalID), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message":     "Proposal submitted successfully",
		"proposal_id": proposalID,
		"vertex":      v,
	})
}

// ListProposals serves all proposals, optionally filtered by status
func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	filter := models.ProposalStatus(r.URL.Query().Get("status"))
	views, err := h.Gov.List(filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"proposals": views})
}

// GetProposal serves one proposal with its status and tally
func (h *Handler) GetProposal(w http.ResponseWriter, r *http.Request) {
	view, err := h.Gov.Get(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetVotes serves the Vote vertices referencing a proposal
func (h *Handler) GetVotes(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	votes, err := h.Store.VotesFor(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"proposal_id": id, "votes": votes})
}

// CastVoteRequest is the body of POST /proposals/{id}/votes
type CastVoteRequest struct {
	Voter    string `json:"voter" validate:"required"`
	Decision string `json:"decision" validate:"required,oneof=yes no abstain"`
}

// CastVote handles POST requests to vote on a proposal
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	proposalID := mux.Vars(r)["id"]

	var req CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	v, err := h.Gov.CastVote(proposalID, req.Voter, models.Decision(req.Decision), h.Node.Scope())
	if err != nil {
		logger.Logger.Error("Failed to cast vote",
			zap.String("proposal_id", proposalID), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Vote cast successfully",
		"vertex":  v,
	})
}

// EvaluateProposal applies the lifecycle rules for a proposal now
func (h *Handler) EvaluateProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := mux.Vars(r)["id"]
	status, err := h.Gov.Evaluate(proposalID, time.Now())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"proposal_id": proposalID,
		"status":      status,
	})
}

// ExecuteProposalRequest is the body of POST /proposals/{id}/execute
type ExecuteProposalRequest struct {
	Executor string `json:"executor" validate:"required"`
	Program  string `json:"program" validate:"required"`
}

// ExecuteProposal runs a passed proposal through the external executor
// and records the result vertex
func (h *Handler) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := mux.Vars(r)["id"]

	var req ExecuteProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if h.Runner == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no external executor configured"})
		return
	}

	v, err := h.Recorder.Record(proposalID, req.Executor, req.Program, h.Runner)
	if err != nil {
		logger.Logger.Error("Failed to execute proposal",
			zap.String("proposal_id", proposalID), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Execution recorded",
		"vertex":  v,
	})
}

// GetFederationStatus serves the latest federation consistency report
func (h *Handler) GetFederationStatus(w http.ResponseWriter, r *http.Request) {
	report := h.Sched.LatestReport()
	if report == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no federation check completed yet"})
		return
	}
	respondJSON(w, http.StatusOK, report)
}
