package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"govledger/logger"
	"govledger/models"
	"govledger/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NodeState is the node-local mutable state: identity, the proposal id
// sequence and the executed-proposal list. All mutation goes through
// this struct under one lock and is persisted through the repository,
// replacing the read-modify-write state file of earlier deployments.
type NodeState struct {
	repo repository.LedgerRepositoryInterface
	mux  sync.Mutex
	rec  models.NodeStateRecord
}

// Load reads the persisted node state, or initializes a fresh one with
// a generated node id on first start.
func Load(repo repository.LedgerRepositoryInterface, scope, network string) (*NodeState, error) {
	s := &NodeState{repo: repo}

	rec, err := repo.GetNodeState()
	switch {
	case err == nil:
		s.rec = *rec
		// Scope and network follow config, not the stored record.
		s.rec.Scope = scope
		s.rec.Network = network
	case errors.Is(err, models.ErrNotFound):
		now := time.Now().UnixMilli()
		s.rec = models.NodeStateRecord{
			NodeID:        uuid.NewString(),
			Scope:         scope,
			Network:       network,
			InitializedAt: now,
			UpdatedAt:     now,
		}
		if err := repo.PutNodeState(&s.rec); err != nil {
			return nil, err
		}
		logger.Logger.Info("Initialized node state", zap.String("node_id", s.rec.NodeID))
	default:
		return nil, err
	}
	return s, nil
}

// NodeID returns the stable node identity.
func (s *NodeState) NodeID() string {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.rec.NodeID
}

// Scope returns the cooperative namespace this node serves.
func (s *NodeState) Scope() string {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.rec.Scope
}

// Network returns the federation network name.
func (s *NodeState) Network() string {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.rec.Network
}

// NextProposalID advances the proposal sequence and returns a generated
// id, used when a submitter does not supply one.
func (s *NodeState) NextProposalID() (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.rec.LastProposalSeq++
	s.rec.UpdatedAt = time.Now().UnixMilli()
	if err := s.repo.PutNodeState(&s.rec); err != nil {
		s.rec.LastProposalSeq--
		return "", err
	}
	return fmt.Sprintf("prop-%06d", s.rec.LastProposalSeq), nil
}

// AddExecutedProposal records that a proposal has been run, once.
func (s *NodeState) AddExecutedProposal(proposalID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, id := range s.rec.ExecutedProposals {
		if id == proposalID {
			return nil
		}
	}
	s.rec.ExecutedProposals = append(s.rec.ExecutedProposals, proposalID)
	s.rec.UpdatedAt = time.Now().UnixMilli()
	return s.repo.PutNodeState(&s.rec)
}

// ExecutedProposals returns the ids of proposals this node has run.
func (s *NodeState) ExecutedProposals() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]string(nil), s.rec.ExecutedProposals...)
}
