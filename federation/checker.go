package federation

import (
	"context"
	"sync"
	"time"

	"govledger/logger"
	"govledger/models"

	"go.uber.org/zap"
)

// PeerConsistency classifies a peer's DAG against the local one. A hash
// mismatch is never "close enough": anything but an exact match on a
// reachable peer is inconsistent.
type PeerConsistency string

const (
	PeerConsistent   PeerConsistency = "consistent"
	PeerInconsistent PeerConsistency = "inconsistent"
	PeerUnreachable  PeerConsistency = "unreachable"
)

// ProposalOverlap classifies a peer's proposal-id set against the local
// one. Proposals propagate asynchronously, so partial overlap is
// expected and non-fatal, unlike DAG-hash mismatches.
type ProposalOverlap string

const (
	OverlapFull    ProposalOverlap = "fully_consistent"
	OverlapPartial ProposalOverlap = "partially_consistent"
	OverlapNone    ProposalOverlap = "inconsistent"
)

// partialOverlapWeight scores a partially overlapping proposal set.
// Policy parameter, not a law: see the checker config.
const partialOverlapWeight = 0.5

// PeerResult is one peer's observation plus its classification.
type PeerResult struct {
	models.PeerSummary
	DAGConsistency  PeerConsistency `json:"dag_consistency"`
	ProposalOverlap ProposalOverlap `json:"proposal_overlap,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Report is the aggregate outcome of one federation check. Reachability
// (Healthy) and data consistency (ConsistencyPercentage) are orthogonal
// signals and are never conflated.
type Report struct {
	CheckedAt        int64              `json:"checked_at"`
	LocalFingerprint models.Fingerprint `json:"local_fingerprint"`
	Peers            []PeerResult       `json:"peers"`

	ConsistentCount   int `json:"consistent_count"`
	InconsistentCount int `json:"inconsistent_count"`
	UnreachableCount  int `json:"unreachable_count"`
	ReachablePeers    int `json:"reachable_peers"`

	// ConsistencyPercentage excludes unreachable peers from the
	// denominator; unreachability is reported through Healthy instead.
	ConsistencyPercentage float64 `json:"consistency_percentage"`
	// ProposalConsistencyScore weights full overlap 1.0 and partial 0.5
	// across reachable peers, as a percentage.
	ProposalConsistencyScore float64 `json:"proposal_consistency_score"`

	// Healthy is true iff reachable peers meet the configured minimum,
	// independent of DAG consistency.
	Healthy  bool `json:"healthy"`
	MinPeers int  `json:"min_peers"`
}

// LocalLedger is the local view the checker compares peers against.
type LocalLedger interface {
	Fingerprint() models.Fingerprint
	ProposalIDs() []string
	MaxHeight() uint64
}

// CheckerConfig tunes a Checker.
type CheckerConfig struct {
	// PerPeerTimeout bounds the whole exchange with one peer.
	PerPeerTimeout time.Duration
	// MaxConcurrent bounds the fan-out; peers are always checked
	// concurrently so one slow peer never delays the others.
	MaxConcurrent int
	// MinPeers is the reachable-peer count required for Healthy.
	MinPeers int
}

// Checker polls federation peers and classifies each as consistent,
// inconsistent or unreachable against the local ledger.
type Checker struct {
	client Client
	local  LocalLedger
	cfg    CheckerConfig
}

// NewChecker creates a federation consistency checker.
func NewChecker(client Client, local LocalLedger, cfg CheckerConfig) *Checker {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.PerPeerTimeout <= 0 {
		cfg.PerPeerTimeout = 5 * time.Second
	}
	return &Checker{client: client, local: local, cfg: cfg}
}

// Check polls all peers concurrently and aggregates a report. Peer I/O
// failures are absorbed as Unreachable classifications, never returned
// as errors: zero reachable peers still yields a complete (unhealthy)
// report. Cancelling ctx aborts in-flight peer requests early.
func (c *Checker) Check(ctx context.Context, peers []PeerEndpoint) *Report {
	localFP := c.local.Fingerprint()
	localProposals := toSet(c.local.ProposalIDs())
	localHeight := c.local.MaxHeight()

	results := make([]PeerResult, len(peers))
	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer PeerEndpoint) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = unreachableResult(peer, ctx.Err())
				return
			}

			peerCtx, cancel := context.WithTimeout(ctx, c.cfg.PerPeerTimeout)
			defer cancel()
			results[i] = c.checkPeer(peerCtx, peer, localFP, localProposals, localHeight)
		}(i, peer)
	}
	wg.Wait()

	report := &Report{
		CheckedAt:        time.Now().UnixMilli(),
		LocalFingerprint: localFP,
		Peers:            results,
		MinPeers:         c.cfg.MinPeers,
	}

	var overlapScore float64
	for _, r := range results {
		switch r.DAGConsistency {
		case PeerConsistent:
			report.ConsistentCount++
		case PeerInconsistent:
			report.InconsistentCount++
		default:
			report.UnreachableCount++
		}
		if r.Reachable {
			report.ReachablePeers++
			switch r.ProposalOverlap {
			case OverlapFull:
				overlapScore += 1.0
			case OverlapPartial:
				overlapScore += partialOverlapWeight
			}
		}
	}

	if classified := report.ConsistentCount + report.InconsistentCount; classified > 0 {
		report.ConsistencyPercentage = 100 * float64(report.ConsistentCount) / float64(classified)
	}
	if report.ReachablePeers > 0 {
		report.ProposalConsistencyScore = 100 * overlapScore / float64(report.ReachablePeers)
	}
	report.Healthy = report.ReachablePeers >= c.cfg.MinPeers

	logger.Logger.Info("Federation check completed",
		zap.Int("peers", len(peers)),
		zap.Int("consistent", report.ConsistentCount),
		zap.Int("inconsistent", report.InconsistentCount),
		zap.Int("unreachable", report.UnreachableCount),
		zap.Float64("consistency_pct", report.ConsistencyPercentage),
		zap.Bool("healthy", report.Healthy))
	return report
}

// checkPeer runs the status/fingerprint/proposal exchange with one peer.
func (c *Checker) checkPeer(ctx context.Context, peer PeerEndpoint, localFP models.Fingerprint, localProposals map[string]bool, localHeight uint64) PeerResult {
	status, err := c.client.FetchStatus(ctx, peer)
	if err != nil {
		logger.Logger.Debug("Peer unreachable",
			zap.String("peer_id", peer.ID), zap.Error(err))
		return unreachableResult(peer, err)
	}

	fp, err := c.client.FetchFingerprint(ctx, peer)
	if err != nil {
		return unreachableResult(peer, err)
	}
	proposalIDs, err := c.client.FetchProposalIDs(ctx, peer)
	if err != nil {
		return unreachableResult(peer, err)
	}

	res := PeerResult{
		PeerSummary: models.PeerSummary{
			PeerID:            peer.ID,
			Reachable:         true,
			DAGHash:           fp.DAGHash,
			VertexCount:       fp.VertexCount,
			ProposalIDs:       proposalIDs,
			LatestBlockHeight: status.LatestBlockHeight,
			HeightDiff:        int64(status.LatestBlockHeight) - int64(localHeight),
		},
	}

	if fp.DAGHash == localFP.DAGHash {
		res.DAGConsistency = PeerConsistent
	} else {
		res.DAGConsistency = PeerInconsistent
	}
	res.ProposalOverlap = classifyOverlap(localProposals, proposalIDs)
	return res
}

func unreachableResult(peer PeerEndpoint, err error) PeerResult {
	res := PeerResult{
		PeerSummary:    models.PeerSummary{PeerID: peer.ID, Reachable: false},
		DAGConsistency: PeerUnreachable,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// classifyOverlap compares proposal-id sets three ways: equal, partial
// intersection, or disjoint.
func classifyOverlap(local map[string]bool, peer []string) ProposalOverlap {
	peerSet := toSet(peer)
	if len(local) == 0 && len(peerSet) == 0 {
		return OverlapFull
	}

	common := 0
	for id := range peerSet {
		if local[id] {
			common++
		}
	}
	switch {
	case common == len(local) && common == len(peerSet):
		return OverlapFull
	case common > 0:
		return OverlapPartial
	default:
		return OverlapNone
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
