package dag

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"govledger/logger"
	"govledger/models"
	"govledger/repository"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Store is the content-addressed vertex store plus the DAG engine built
// on top of it. The repository owns the durable vertex bytes; the
// adjacency maps here are a derived cache, rebuilt from the repository
// on Open and never treated as authoritative.
type Store struct {
	repo repository.LedgerRepositoryInterface
	mux  sync.Mutex

	parents  map[string][]string
	children map[string][]string
	heights  map[string]uint64

	// proposalID -> proposal vertex id / vote vertex ids / execution vertex ids
	proposals  map[string]string
	votes      map[string][]string
	executions map[string][]string

	lastTs    int64
	maxHeight uint64

	// onInsert is invoked after every newly persisted vertex, outside
	// the store lock. Used to replicate inserts to federation peers.
	onInsert func(*models.Vertex)
}

// Open builds a Store over the repository, rebuilding the adjacency
// index from the persisted vertex set.
func Open(repo repository.LedgerRepositoryInterface) (*Store, error) {
	s := &Store{
		repo:       repo,
		parents:    make(map[string][]string),
		children:   make(map[string][]string),
		heights:    make(map[string]uint64),
		proposals:  make(map[string]string),
		votes:      make(map[string][]string),
		executions: make(map[string][]string),
	}

	vertices, err := repo.GetAllVertices()
	if err != nil {
		return nil, fmt.Errorf("rebuild dag index: %w", err)
	}
	for _, v := range vertices {
		s.index(v)
	}
	if len(vertices) > 0 {
		logger.Logger.Info("Rebuilt DAG index",
			zap.Int("vertex_count", len(vertices)),
			zap.Uint64("max_height", s.maxHeight))
	}
	return s, nil
}

// index records a vertex in the in-memory adjacency maps. Caller holds
// the lock (or is still single-threaded inside Open).
func (s *Store) index(v *models.Vertex) {
	s.parents[v.ID] = append([]string(nil), v.Parents...)
	if _, ok := s.children[v.ID]; !ok {
		s.children[v.ID] = nil
	}
	for _, pid := range v.Parents {
		s.children[pid] = append(s.children[pid], v.ID)
	}
	s.heights[v.ID] = v.Height

	switch v.DataType {
	case models.DataTypeProposal:
		s.proposals[v.Proposal.ProposalID] = v.ID
	case models.DataTypeVote:
		s.votes[v.Vote.ProposalID] = append(s.votes[v.Vote.ProposalID], v.ID)
	case models.DataTypeExecution:
		s.executions[v.Execution.ProposalID] = append(s.executions[v.Execution.ProposalID], v.ID)
	}

	if v.Timestamp > s.lastTs {
		s.lastTs = v.Timestamp
	}
	if v.Height > s.maxHeight {
		s.maxHeight = v.Height
	}
}

// validate checks the integrity invariants of a vertex against the
// current store without mutating anything.
func (s *Store) validate(v *models.Vertex) error {
	if v.ID == "" {
		return models.ErrCorruptVertex
	}
	id, err := v.ComputeID()
	if err != nil {
		return err
	}
	if id != v.ID {
		return models.ErrCorruptVertex
	}
	if len(v.Parents) == 0 && v.Height != 0 {
		return models.ErrCorruptVertex
	}

	// The payload pointer must match the declared data type.
	switch v.DataType {
	case models.DataTypeProposal:
		if v.Proposal == nil {
			return models.ErrCorruptVertex
		}
	case models.DataTypeVote:
		if v.Vote == nil {
			return models.ErrCorruptVertex
		}
	case models.DataTypeExecution:
		if v.Execution == nil {
			return models.ErrCorruptVertex
		}
	case models.DataTypeSystemEvent:
		if v.System == nil {
			return models.ErrCorruptVertex
		}
	default:
		return models.ErrCorruptVertex
	}

	var want uint64
	for _, pid := range v.Parents {
		ph, ok := s.heights[pid]
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrUnknownParent, pid)
		}
		if ph+1 > want {
			want = ph + 1
		}
	}
	if len(v.Parents) > 0 && v.Height != want {
		return models.ErrCorruptVertex
	}
	return nil
}

// SetOnInsert registers the callback fired for every newly persisted
// vertex, whether created locally or ingested from a peer. Duplicate
// puts do not fire it, which keeps gossip between nodes from echoing
// forever. Wire it up before the store starts taking traffic.
func (s *Store) SetOnInsert(fn func(*models.Vertex)) {
	s.mux.Lock()
	s.onInsert = fn
	s.mux.Unlock()
}

// notify runs the insert callback outside the store lock.
func (s *Store) notify(v *models.Vertex) {
	s.mux.Lock()
	fn := s.onInsert
	s.mux.Unlock()
	if fn != nil {
		fn(v)
	}
}

// Put validates and persists a vertex. Re-putting an identical vertex is
// a no-op success; integrity failures are rejected without any partial
// state change.
func (s *Store) Put(v *models.Vertex) error {
	s.mux.Lock()
	inserted, err := s.putLocked(v)
	s.mux.Unlock()
	if err == nil && inserted {
		s.notify(v)
	}
	return err
}

// putLocked reports whether the vertex was newly persisted.
func (s *Store) putLocked(v *models.Vertex) (bool, error) {
	if _, ok := s.heights[v.ID]; ok {
		// Content addressing makes the duplicate identical by construction,
		// but the id still has to check out.
		id, err := v.ComputeID()
		if err != nil {
			return false, err
		}
		if id != v.ID {
			return false, models.ErrCorruptVertex
		}
		return false, nil
	}

	if err := s.validate(v); err != nil {
		return false, err
	}
	if err := s.repo.PutVertex(v); err != nil {
		return false, err
	}
	s.index(v)
	return true, nil
}

// Get retrieves a vertex by id.
func (s *Store) Get(id string) (*models.Vertex, error) {
	return s.repo.GetVertex(id)
}

// AllIDs returns every vertex id in the store, unsorted.
func (s *Store) AllIDs() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	ids := make([]string, 0, len(s.heights))
	for id := range s.heights {
		ids = append(ids, id)
	}
	return ids
}

// ParentsOf returns the parent ids of a vertex.
func (s *Store) ParentsOf(id string) ([]string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.heights[id]; !ok {
		return nil, models.ErrNotFound
	}
	return append([]string(nil), s.parents[id]...), nil
}

// ChildrenOf returns the recorded child ids of a vertex.
func (s *Store) ChildrenOf(id string) ([]string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.heights[id]; !ok {
		return nil, models.ErrNotFound
	}
	return append([]string(nil), s.children[id]...), nil
}

// Tips returns the ids of all vertices with no recorded children,
// sorted for deterministic output. New vertices reference the whole tip
// set as parents, which keeps the DAG connected and converging.
func (s *Store) Tips() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.tipsLocked()
}

func (s *Store) tipsLocked() []string {
	var tips []string
	for id, ch := range s.children {
		if len(ch) == 0 {
			tips = append(tips, id)
		}
	}
	sort.Strings(tips)
	return tips
}

// Ancestors returns all transitive parents of a vertex via BFS.
func (s *Store) Ancestors(id string) ([]string, error) {
	return s.traverse(id, func(v string) []string { return s.parents[v] })
}

// Descendants returns all transitive children of a vertex via BFS.
func (s *Store) Descendants(id string) ([]string, error) {
	return s.traverse(id, func(v string) []string { return s.children[v] })
}

func (s *Store) traverse(id string, next func(string) []string) ([]string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.heights[id]; !ok {
		return nil, models.ErrNotFound
	}

	seen := map[string]bool{id: true}
	queue := append([]string(nil), next(id)...)
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, next(cur)...)
	}
	sort.Strings(out)
	return out, nil
}

// Fingerprint summarizes the DAG for cross-node comparison. The hash is
// computed over the lexicographically sorted id set, so it is invariant
// under insertion order.
func (s *Store) Fingerprint() models.Fingerprint {
	s.mux.Lock()
	defer s.mux.Unlock()

	ids := make([]string, 0, len(s.heights))
	roots := 0
	for id := range s.heights {
		ids = append(ids, id)
		if len(s.parents[id]) == 0 {
			roots++
		}
	}
	sort.Strings(ids)

	h := xxhash.New()
	for _, id := range ids {
		h.WriteString(id)
		h.WriteString("\n")
	}

	return models.Fingerprint{
		VertexCount: len(ids),
		RootCount:   roots,
		TipCount:    len(s.tipsLocked()),
		DAGHash:     fmt.Sprintf("%016x", h.Sum64()),
	}
}

// MaxHeight returns the greatest vertex height in the store.
func (s *Store) MaxHeight() uint64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.maxHeight
}

// nextTimestamp returns a per-store monotonic unix-ms timestamp. Caller
// holds the lock.
func (s *Store) nextTimestamp() int64 {
	now := time.Now().UnixMilli()
	if now <= s.lastTs {
		now = s.lastTs + 1
	}
	return now
}

// buildVertex assembles, seals and inserts a new vertex. Parents default
// to the current tip set when unspecified. Caller holds the lock.
func (s *Store) buildVertex(dt models.DataType, scope, author string, parents []string, fill func(*models.Vertex)) (*models.Vertex, error) {
	if parents == nil {
		parents = s.tipsLocked()
	}
	var height uint64
	for _, pid := range parents {
		ph, ok := s.heights[pid]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownParent, pid)
		}
		if ph+1 > height {
			height = ph + 1
		}
	}

	v := &models.Vertex{
		Parents:   parents,
		Height:    height,
		Timestamp: s.nextTimestamp(),
		DataType:  dt,
		Scope:     scope,
		Author:    author,
	}
	fill(v)
	if err := v.Seal(); err != nil {
		return nil, err
	}
	if _, err := s.putLocked(v); err != nil {
		return nil, err
	}
	return v, nil
}

// InsertProposal appends a Proposal vertex.
func (s *Store) InsertProposal(p *models.ProposalPayload, scope, author string, parents []string) (*models.Vertex, error) {
	s.mux.Lock()
	v, err := s.insertProposalLocked(p, scope, author, parents)
	s.mux.Unlock()
	if err == nil {
		s.notify(v)
	}
	return v, err
}

func (s *Store) insertProposalLocked(p *models.ProposalPayload, scope, author string, parents []string) (*models.Vertex, error) {
	if _, ok := s.proposals[p.ProposalID]; ok {
		return nil, fmt.Errorf("proposal %s already exists: %w", p.ProposalID, models.ErrInvalidState)
	}
	return s.buildVertex(models.DataTypeProposal, scope, author, parents, func(v *models.Vertex) {
		v.Proposal = p
	})
}

// InsertVote appends a Vote vertex. The referenced Proposal vertex must
// already exist in the store.
func (s *Store) InsertVote(proposalID, voter string, decision models.Decision, scope string, parents []string) (*models.Vertex, error) {
	s.mux.Lock()
	v, err := s.insertVoteLocked(proposalID, voter, decision, scope, parents)
	s.mux.Unlock()
	if err == nil {
		s.notify(v)
	}
	return v, err
}

func (s *Store) insertVoteLocked(proposalID, voter string, decision models.Decision, scope string, parents []string) (*models.Vertex, error) {
	if _, ok := s.proposals[proposalID]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProposal, proposalID)
	}
	return s.buildVertex(models.DataTypeVote, scope, voter, parents, func(v *models.Vertex) {
		v.Vote = &models.VotePayload{ProposalID: proposalID, Voter: voter, Decision: decision}
	})
}

// InsertExecution appends an Execution vertex.
func (s *Store) InsertExecution(p *models.ExecutionPayload, scope string, parents []string) (*models.Vertex, error) {
	s.mux.Lock()
	v, err := s.insertExecutionLocked(p, scope, parents)
	s.mux.Unlock()
	if err == nil {
		s.notify(v)
	}
	return v, err
}

func (s *Store) insertExecutionLocked(p *models.ExecutionPayload, scope string, parents []string) (*models.Vertex, error) {
	if _, ok := s.proposals[p.ProposalID]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProposal, p.ProposalID)
	}
	return s.buildVertex(models.DataTypeExecution, scope, p.Executor, parents, func(v *models.Vertex) {
		v.Execution = p
	})
}

// InsertSystemEvent appends a SystemEvent vertex.
func (s *Store) InsertSystemEvent(kind, detail, scope, author string) (*models.Vertex, error) {
	s.mux.Lock()
	v, err := s.buildVertex(models.DataTypeSystemEvent, scope, author, nil, func(v *models.Vertex) {
		v.System = &models.SystemEventPayload{Kind: kind, Detail: detail}
	})
	s.mux.Unlock()
	if err == nil {
		s.notify(v)
	}
	return v, err
}

// ProposalVertex returns the Proposal vertex for a proposal id.
func (s *Store) ProposalVertex(proposalID string) (*models.Vertex, error) {
	s.mux.Lock()
	vid, ok := s.proposals[proposalID]
	s.mux.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProposal, proposalID)
	}
	return s.repo.GetVertex(vid)
}

// VotesFor returns all Vote vertices referencing a proposal.
func (s *Store) VotesFor(proposalID string) ([]*models.Vertex, error) {
	s.mux.Lock()
	if _, ok := s.proposals[proposalID]; !ok {
		s.mux.Unlock()
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProposal, proposalID)
	}
	vids := append([]string(nil), s.votes[proposalID]...)
	s.mux.Unlock()

	votes := make([]*models.Vertex, 0, len(vids))
	for _, vid := range vids {
		v, err := s.repo.GetVertex(vid)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}

// ExecutionsFor returns all Execution vertices referencing a proposal.
func (s *Store) ExecutionsFor(proposalID string) ([]*models.Vertex, error) {
	s.mux.Lock()
	vids := append([]string(nil), s.executions[proposalID]...)
	s.mux.Unlock()

	execs := make([]*models.Vertex, 0, len(vids))
	for _, vid := range vids {
		v, err := s.repo.GetVertex(vid)
		if err != nil {
			return nil, err
		}
		execs = append(execs, v)
	}
	return execs, nil
}

// ProposalIDs returns every proposal id known to the store, sorted.
func (s *Store) ProposalIDs() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	ids := make([]string, 0, len(s.proposals))
	for pid := range s.proposals {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	return ids
}
