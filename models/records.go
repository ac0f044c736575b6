package models

// ProposalStatusRecord is the mutable lifecycle state of a proposal,
// stored separately from the immutable Proposal vertex and advanced only
// by the governance state machine via compare-and-swap.
type ProposalStatusRecord struct {
	ProposalID  string         `json:"proposal_id"`
	Status      ProposalStatus `json:"status"`
	SubmittedAt int64          `json:"submitted_at"` // unix ms, deadline base
	UpdatedAt   int64          `json:"updated_at"`
}

// NodeStateRecord is the persisted node-local state, replacing the ad-hoc
// state file of earlier deployments. All mutation goes through the state
// package under a single lock.
type NodeStateRecord struct {
	NodeID            string   `json:"node_id"`
	Scope             string   `json:"scope"`
	Network           string   `json:"network"`
	LastProposalSeq   uint64   `json:"last_proposal_seq"`
	ExecutedProposals []string `json:"executed_proposals"`
	InitializedAt     int64    `json:"initialized_at"`
	UpdatedAt         int64    `json:"updated_at"`
}

// Fingerprint summarizes the whole DAG for cross-node comparison.
// DAGHash is order-independent: two nodes holding the same vertex set
// produce the same hash regardless of insertion order.
type Fingerprint struct {
	VertexCount int    `json:"vertex_count"`
	RootCount   int    `json:"root_count"`
	TipCount    int    `json:"tip_count"`
	DAGHash     string `json:"dag_hash"`
}

// NodeStatus is the reachability probe response served to peers.
type NodeStatus struct {
	NodeID            string `json:"node_id"`
	Network           string `json:"network"`
	LatestBlockHeight uint64 `json:"latest_block_height"`
}

// PeerSummary is the ephemeral per-peer observation produced by a
// federation check. It is never persisted.
type PeerSummary struct {
	PeerID            string   `json:"peer_id"`
	Reachable         bool     `json:"reachable"`
	DAGHash           string   `json:"dag_hash,omitempty"`
	VertexCount       int      `json:"vertex_count"`
	ProposalIDs       []string `json:"proposal_ids,omitempty"`
	LatestBlockHeight uint64   `json:"latest_block_height"`
	HeightDiff        int64    `json:"height_diff"` // peer height minus local height
}
