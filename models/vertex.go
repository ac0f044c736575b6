package models

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// DataType identifies what kind of payload a vertex carries.
type DataType string

const (
	DataTypeProposal    DataType = "proposal"
	DataTypeVote        DataType = "vote"
	DataTypeExecution   DataType = "execution"
	DataTypeSystemEvent DataType = "system_event"
)

// ProposalType classifies what a proposal changes.
type ProposalType string

const (
	ProposalTypeText             ProposalType = "text"
	ProposalTypeParameterChange  ProposalType = "parameter_change"
	ProposalTypeBudgetAllocation ProposalType = "budget_allocation"
)

// ProposalStatus is the lifecycle state of a proposal.
// Rejected, Executed and Failed are terminal.
type ProposalStatus string

const (
	StatusSubmitted ProposalStatus = "submitted"
	StatusVoting    ProposalStatus = "voting"
	StatusPassed    ProposalStatus = "passed"
	StatusRejected  ProposalStatus = "rejected"
	StatusExecuted  ProposalStatus = "executed"
	StatusFailed    ProposalStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ProposalStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusFailed
}

// Decision is a single voter's choice on a proposal.
type Decision string

const (
	DecisionYes     Decision = "yes"
	DecisionNo      Decision = "no"
	DecisionAbstain Decision = "abstain"
)

// Vertex is an immutable, content-addressed entry of the governance DAG.
// The ID is the blake3 hash of the canonical serialization of every
// other field; it is recomputed and checked on insert.
type Vertex struct {
	ID        string   `json:"id"`
	Parents   []string `json:"parents"`
	Height    uint64   `json:"height"`    // 1 + max parent height, 0 for genesis
	Timestamp int64    `json:"timestamp"` // unix timestamp in ms
	DataType  DataType `json:"data_type"`
	Scope     string   `json:"scope"`
	Author    string   `json:"author"`

	// Exactly one payload pointer is set, matching DataType.
	Proposal  *ProposalPayload    `json:"proposal,omitempty"`
	Vote      *VotePayload        `json:"vote,omitempty"`
	Execution *ExecutionPayload   `json:"execution,omitempty"`
	System    *SystemEventPayload `json:"system_event,omitempty"`
}

// ProposalPayload is the body of a Proposal vertex. The mutable lifecycle
// status lives in a separate ProposalStatusRecord, never on the vertex.
type ProposalPayload struct {
	ProposalID     string       `json:"proposal_id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	ProposalType   ProposalType `json:"proposal_type"`
	VotingPeriodMs int64        `json:"voting_period_ms"`
	Quorum         float64      `json:"quorum"`    // fraction 0..1 of eligible voters
	Threshold      float64      `json:"threshold"` // fraction 0..1 of non-abstain votes
}

// VotePayload is the body of a Vote vertex. The vote timestamp used for
// latest-wins deduplication is the vertex Timestamp.
type VotePayload struct {
	ProposalID string   `json:"proposal_id"`
	Voter      string   `json:"voter"`
	Decision   Decision `json:"decision"`
}

// ExecutionPayload is the body of an Execution vertex, recorded after the
// external executor ran a passed proposal.
type ExecutionPayload struct {
	ExecutionID   string `json:"execution_id"`
	ProposalID    string `json:"proposal_id"`
	Executor      string `json:"executor"`
	Success       bool   `json:"success"`
	Result        string `json:"result"`
	ExecutionHash string `json:"execution_hash"` // blake3 of the executed program
}

// SystemEventPayload is the body of a SystemEvent vertex.
type SystemEventPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// CanonicalBytes returns the deterministic serialization the vertex ID
// commits to: the full vertex with the ID field blanked. Struct fields
// marshal in declaration order, so the encoding is stable.
func (v *Vertex) CanonicalBytes() ([]byte, error) {
	c := *v
	c.ID = ""
	return json.Marshal(&c)
}

// ComputeID returns the content hash of the vertex.
func (v *Vertex) ComputeID() (string, error) {
	b, err := v.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Seal assigns the vertex its content hash.
func (v *Vertex) Seal() error {
	id, err := v.ComputeID()
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

// HashBytes returns the hex blake3 hash of arbitrary content, used for
// execution program hashes.
func HashBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
