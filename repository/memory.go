package repository

import (
	"sync"

	"govledger/models"
)

// MemoryRepository is an in-memory LedgerRepositoryInterface, used by
// tests and ephemeral nodes that do not need durability. All values are
// stored as copies so callers can never mutate stored state in place.
type MemoryRepository struct {
	mu        sync.Mutex
	vertices  map[string]models.Vertex
	statuses  map[string]models.ProposalStatusRecord
	nodeState *models.NodeStateRecord
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		vertices: make(map[string]models.Vertex),
		statuses: make(map[string]models.ProposalStatusRecord),
	}
}

func (m *MemoryRepository) PutVertex(v *models.Vertex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	cp.Parents = append([]string(nil), v.Parents...)
	m.vertices[v.ID] = cp
	return nil
}

func (m *MemoryRepository) GetVertex(id string) (*models.Vertex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vertices[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := v
	return &cp, nil
}

func (m *MemoryRepository) HasVertex(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vertices[id]
	return ok, nil
}

func (m *MemoryRepository) GetAllVertices() ([]*models.Vertex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Vertex, 0, len(m.vertices))
	for _, v := range m.vertices {
		cp := v
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepository) PutProposalStatus(rec *models.ProposalStatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[rec.ProposalID] = *rec
	return nil
}

func (m *MemoryRepository) GetProposalStatus(proposalID string) (*models.ProposalStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.statuses[proposalID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (m *MemoryRepository) GetAllProposalStatuses() ([]*models.ProposalStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ProposalStatusRecord, 0, len(m.statuses))
	for _, rec := range m.statuses {
		cp := rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepository) PutNodeState(rec *models.NodeStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.ExecutedProposals = append([]string(nil), rec.ExecutedProposals...)
	m.nodeState = &cp
	return nil
}

func (m *MemoryRepository) GetNodeState() (*models.NodeStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodeState == nil {
		return nil, models.ErrNotFound
	}
	cp := *m.nodeState
	cp.ExecutedProposals = append([]string(nil), m.nodeState.ExecutedProposals...)
	return &cp, nil
}
