package federation_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"govledger/federation"
	"govledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushed []string // peer ids in call order
	fail   map[string]bool
}

func (p *recordingPusher) PushVertex(ctx context.Context, peer federation.PeerEndpoint, v *models.Vertex) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[peer.ID] {
		return fmt.Errorf("peer %s unreachable", peer.ID)
	}
	p.pushed = append(p.pushed, peer.ID)
	return nil
}

func sealedEvent(t *testing.T) *models.Vertex {
	t.Helper()
	v := &models.Vertex{
		Timestamp: time.Now().UnixMilli(),
		DataType:  models.DataTypeSystemEvent,
		Scope:     "coop",
		Author:    "node-1",
		System:    &models.SystemEventPayload{Kind: "sync"},
	}
	require.NoError(t, v.Seal())
	return v
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	pusher := &recordingPusher{}
	peers := []federation.PeerEndpoint{
		{ID: "a", Address: "http://a"},
		{ID: "b", Address: "http://b"},
		{ID: "c", Address: "http://c"},
	}
	b := federation.NewBroadcaster(pusher, peers, time.Second)

	b.Broadcast(context.Background(), sealedEvent(t))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, pusher.pushed)
}

func TestBroadcastAbsorbsPeerFailures(t *testing.T) {
	pusher := &recordingPusher{fail: map[string]bool{"b": true}}
	peers := []federation.PeerEndpoint{
		{ID: "a", Address: "http://a"},
		{ID: "b", Address: "http://b"},
		{ID: "c", Address: "http://c"},
	}
	b := federation.NewBroadcaster(pusher, peers, time.Second)

	// A failing peer must not prevent delivery to the others.
	b.Broadcast(context.Background(), sealedEvent(t))

	assert.ElementsMatch(t, []string{"a", "c"}, pusher.pushed)
}

func TestPushVertexPostsJSON(t *testing.T) {
	var got models.Vertex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/dag/vertices", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	client := federation.NewHTTPClient(2 * time.Second)
	v := sealedEvent(t)

	err := client.PushVertex(context.Background(),
		federation.PeerEndpoint{ID: "peer-1", Address: srv.URL}, v)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
}

func TestPushVertexPeerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "corrupt vertex", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	client := federation.NewHTTPClient(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := client.PushVertex(ctx, federation.PeerEndpoint{ID: "bad", Address: srv.URL}, sealedEvent(t))
	assert.Error(t, err)
}
