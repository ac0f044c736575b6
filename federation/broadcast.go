package federation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"govledger/logger"
	"govledger/models"
)

// VertexPusher replicates a single vertex to a single peer.
type VertexPusher interface {
	PushVertex(ctx context.Context, peer PeerEndpoint, v *models.Vertex) error
}

// Broadcaster fans a newly inserted vertex out to every configured
// peer. Each peer is pushed independently; a failed or slow peer never
// blocks the rest, and failures are logged rather than returned. Peers
// that miss a vertex converge later through the consistency checker.
type Broadcaster struct {
	pusher         VertexPusher
	peers          []PeerEndpoint
	perPeerTimeout time.Duration
}

func NewBroadcaster(pusher VertexPusher, peers []PeerEndpoint, perPeerTimeout time.Duration) *Broadcaster {
	if perPeerTimeout <= 0 {
		perPeerTimeout = 5 * time.Second
	}
	return &Broadcaster{
		pusher:         pusher,
		peers:          peers,
		perPeerTimeout: perPeerTimeout,
	}
}

// Broadcast pushes v to all peers concurrently and returns once every
// attempt has finished. Per-peer errors are absorbed.
func (b *Broadcaster) Broadcast(ctx context.Context, v *models.Vertex) {
	var wg sync.WaitGroup
	for _, peer := range b.peers {
		wg.Add(1)
		go func(peer PeerEndpoint) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, b.perPeerTimeout)
			defer cancel()
			if err := b.pusher.PushVertex(pctx, peer, v); err != nil {
				logger.Logger.Warn("Failed to broadcast vertex",
					zap.String("peer_id", peer.ID),
					zap.String("vertex_id", v.ID),
					zap.Error(err))
				return
			}
			logger.Logger.Debug("Broadcast vertex to peer",
				zap.String("peer_id", peer.ID),
				zap.String("vertex_id", v.ID))
		}(peer)
	}
	wg.Wait()
}
