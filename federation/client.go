package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"govledger/models"

	"github.com/cenkalti/backoff/v4"
)

// PeerEndpoint identifies a federation peer and its HTTP base address.
type PeerEndpoint struct {
	ID      string `json:"id" mapstructure:"id"`
	Address string `json:"address" mapstructure:"address"`
}

// Client is the peer transport the checker consumes. Implementations
// must honor the context deadline on every call.
type Client interface {
	FetchStatus(ctx context.Context, peer PeerEndpoint) (*models.NodeStatus, error)
	FetchFingerprint(ctx context.Context, peer PeerEndpoint) (*models.Fingerprint, error)
	FetchProposalIDs(ctx context.Context, peer PeerEndpoint) ([]string, error)
}

// HTTPClient fetches peer summaries over plain HTTP. Transient failures
// are retried a couple of times with exponential backoff; the caller's
// per-peer context still bounds the whole attempt.
type HTTPClient struct {
	http       *http.Client
	maxRetries uint64
}

// NewHTTPClient creates a peer client. timeout caps a single request,
// on top of whatever deadline the caller's context carries.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		http:       &http.Client{Timeout: timeout},
		maxRetries: 2,
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("peer returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(op, bo)
}

// FetchStatus probes a peer's reachability and basic identity.
func (c *HTTPClient) FetchStatus(ctx context.Context, peer PeerEndpoint) (*models.NodeStatus, error) {
	var st models.NodeStatus
	if err := c.getJSON(ctx, peer.Address+"/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// FetchFingerprint retrieves a peer's DAG summary.
func (c *HTTPClient) FetchFingerprint(ctx context.Context, peer PeerEndpoint) (*models.Fingerprint, error) {
	var fp models.Fingerprint
	if err := c.getJSON(ctx, peer.Address+"/dag/fingerprint", &fp); err != nil {
		return nil, err
	}
	return &fp, nil
}

// PushVertex replicates a vertex to a peer's ingest endpoint. The
// receiver validates the content hash and treats duplicates as no-ops,
// so redelivery is always safe.
func (c *HTTPClient) PushVertex(ctx context.Context, peer PeerEndpoint, v *models.Vertex) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			peer.Address+"/dag/vertices", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return fmt.Errorf("peer returned status %d", resp.StatusCode)
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(op, bo)
}

// FetchProposalIDs retrieves the set of proposal ids a peer knows.
func (c *HTTPClient) FetchProposalIDs(ctx context.Context, peer PeerEndpoint) ([]string, error) {
	var body struct {
		ProposalIDs []string `json:"proposal_ids"`
	}
	if err := c.getJSON(ctx, peer.Address+"/proposals/ids", &body); err != nil {
		return nil, err
	}
	return body.ProposalIDs, nil
}
