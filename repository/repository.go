package repository

import (
	"encoding/json"
	"errors"

	"govledger/db"
	"govledger/models"

	"github.com/syndtr/goleveldb/leveldb"
)

// Key prefixes partitioning the LevelDB keyspace by record type.
const (
	vertexPrefix = "vertex:"
	statusPrefix = "status:"
	nodeStateKey = "nodestate"
)

// It abstracts the storage layer from the business logic
type LedgerRepositoryInterface interface {
	PutVertex(v *models.Vertex) error
	GetVertex(id string) (*models.Vertex, error)
	HasVertex(id string) (bool, error)
	GetAllVertices() ([]*models.Vertex, error)
	PutProposalStatus(rec *models.ProposalStatusRecord) error
	GetProposalStatus(proposalID string) (*models.ProposalStatusRecord, error)
	GetAllProposalStatuses() ([]*models.ProposalStatusRecord, error)
	PutNodeState(rec *models.NodeStateRecord) error
	GetNodeState() (*models.NodeStateRecord, error)
}

// LedgerRepository implements the LedgerRepositoryInterface using LevelDB
// as the storage backend. Vertex records are append-only: a vertex is
// never overwritten with different content and never deleted.
type LedgerRepository struct {
	db *db.LevelDB
}

// NewLedgerRepository creates and returns a new LedgerRepository instance
func NewLedgerRepository(db *db.LevelDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// PutVertex stores a vertex under its content-hash id
func (r *LedgerRepository) PutVertex(v *models.Vertex) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(vertexPrefix+v.ID), data)
}

// GetVertex retrieves a vertex by its id
func (r *LedgerRepository) GetVertex(id string) (*models.Vertex, error) {
	data, err := r.db.Get([]byte(vertexPrefix + id))
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	var v models.Vertex
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// HasVertex reports whether a vertex id is present
func (r *LedgerRepository) HasVertex(id string) (bool, error) {
	return r.db.Has([]byte(vertexPrefix + id))
}

// GetAllVertices retrieves every stored vertex, used to rebuild the
// in-memory DAG index on startup
func (r *LedgerRepository) GetAllVertices() ([]*models.Vertex, error) {
	iter := r.db.NewPrefixIterator([]byte(vertexPrefix))
	defer iter.Release()

	var vertices []*models.Vertex
	for iter.Next() {
		var v models.Vertex
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, err
		}
		vertices = append(vertices, &v)
	}
	return vertices, iter.Error()
}

// PutProposalStatus stores the mutable lifecycle record of a proposal
func (r *LedgerRepository) PutProposalStatus(rec *models.ProposalStatusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(statusPrefix+rec.ProposalID), data)
}

// GetProposalStatus retrieves the lifecycle record of a proposal
func (r *LedgerRepository) GetProposalStatus(proposalID string) (*models.ProposalStatusRecord, error) {
	data, err := r.db.Get([]byte(statusPrefix + proposalID))
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	var rec models.ProposalStatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAllProposalStatuses retrieves every proposal lifecycle record
func (r *LedgerRepository) GetAllProposalStatuses() ([]*models.ProposalStatusRecord, error) {
	iter := r.db.NewPrefixIterator([]byte(statusPrefix))
	defer iter.Release()

	var recs []*models.ProposalStatusRecord
	for iter.Next() {
		var rec models.ProposalStatusRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, iter.Error()
}

// PutNodeState stores the node-local state record
func (r *LedgerRepository) PutNodeState(rec *models.NodeStateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(nodeStateKey), data)
}

// GetNodeState retrieves the node-local state record
func (r *LedgerRepository) GetNodeState() (*models.NodeStateRecord, error) {
	data, err := r.db.Get([]byte(nodeStateKey))
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	var rec models.NodeStateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
