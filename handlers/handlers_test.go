package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"govledger/dag"
	"govledger/executor"
	"govledger/governance"
	"govledger/handlers"
	"govledger/models"
	"govledger/repository"
	"govledger/routers"
	"govledger/scheduler"
	"govledger/state"
)

type stack struct {
	router *mux.Router
	store  *dag.Store
	gov    *governance.Engine
	node   *state.NodeState
}

func testServer(t *testing.T) *stack {
	t.Helper()

	repo := repository.NewMemoryRepository()
	store, err := dag.Open(repo)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	node, err := state.Load(repo, "coop", "test-federation")
	if err != nil {
		t.Fatalf("failed to load node state: %v", err)
	}
	gov := governance.NewEngine(store, repo, 4)
	rec := executor.NewRecorder(store, gov, node)
	sched := scheduler.New(nil, gov, nil, time.Minute, time.Minute)

	runner := func(program string) (string, error) {
		return "ran: " + program, nil
	}

	h := handlers.NewHandler(store, gov, rec, node, sched, runner)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, h)
	return &stack{router: router, store: store, gov: gov, node: node}
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func submitBody(id string) map[string]any {
	return map[string]any{
		"proposal_id":        id,
		"title":              "Test proposal",
		"proposal_type":      "text",
		"voting_period_secs": 30,
		"quorum":             0.25,
		"threshold":          0.5,
		"author":             "alice",
	}
}

func TestSubmitProposal_Success(t *testing.T) {
	s := testServer(t)

	res := doJSON(t, s.router, http.MethodPost, "/proposals", submitBody("p1"))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}

	rec, err := s.gov.Status("p1")
	if err != nil {
		t.Fatalf("expected status record, got error: %v", err)
	}
	if rec.Status != models.StatusVoting {
		t.Fatalf("expected voting status, got %s", rec.Status)
	}
}

func TestSubmitProposal_GeneratedID(t *testing.T) {
	s := testServer(t)

	body := submitBody("")
	delete(body, "proposal_id")
	res := doJSON(t, s.router, http.MethodPost, "/proposals", body)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}

	var out struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if out.ProposalID != "prop-000001" {
		t.Fatalf("expected generated id prop-000001, got %q", out.ProposalID)
	}
}

func TestSubmitProposal_InvalidPayload(t *testing.T) {
	s := testServer(t)

	body := submitBody("p1")
	body["proposal_type"] = "coup"
	res := doJSON(t, s.router, http.MethodPost, "/proposals", body)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", res.Code)
	}
}

func TestCastVote_Success(t *testing.T) {
	s := testServer(t)
	doJSON(t, s.router, http.MethodPost, "/proposals", submitBody("p1"))

	res := doJSON(t, s.router, http.MethodPost, "/proposals/p1/votes",
		map[string]string{"voter": "bob", "decision": "yes"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}

	votes := doJSON(t, s.router, http.MethodGet, "/proposals/p1/votes", nil)
	if votes.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", votes.Code)
	}
	var body struct {
		Votes []models.Vertex `json:"votes"`
	}
	if err := json.Unmarshal(votes.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode votes: %v", err)
	}
	if len(body.Votes) != 1 || body.Votes[0].Vote.Voter != "bob" {
		t.Fatalf("expected one vote from bob, got %+v", body.Votes)
	}
}

func TestCastVote_UnknownProposal(t *testing.T) {
	s := testServer(t)

	res := doJSON(t, s.router, http.MethodPost, "/proposals/missing/votes",
		map[string]string{"voter": "bob", "decision": "yes"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", res.Code)
	}
}

func TestGetFingerprint(t *testing.T) {
	s := testServer(t)
	doJSON(t, s.router, http.MethodPost, "/proposals", submitBody("p1"))

	res := doJSON(t, s.router, http.MethodGet, "/dag/fingerprint", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var fp models.Fingerprint
	if err := json.Unmarshal(res.Body.Bytes(), &fp); err != nil {
		t.Fatalf("failed to decode fingerprint: %v", err)
	}
	if fp.VertexCount != 1 || fp.DAGHash == "" {
		t.Fatalf("unexpected fingerprint: %+v", fp)
	}
}

func TestIngestVertex_Idempotent(t *testing.T) {
	s := testServer(t)

	v := &models.Vertex{
		Timestamp: time.Now().UnixMilli(),
		DataType:  models.DataTypeSystemEvent,
		Scope:     "coop",
		Author:    "peer",
		System:    &models.SystemEventPayload{Kind: "sync"},
	}
	if err := v.Seal(); err != nil {
		t.Fatalf("failed to seal vertex: %v", err)
	}

	first := doJSON(t, s.router, http.MethodPost, "/dag/vertices", v)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", first.Code, first.Body.String())
	}
	second := doJSON(t, s.router, http.MethodPost, "/dag/vertices", v)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected idempotent re-ingest 201, got %d", second.Code)
	}
	if got := len(s.store.AllIDs()); got != 1 {
		t.Fatalf("expected 1 vertex after duplicate ingest, got %d", got)
	}
}

func TestIngestProposal_ReplicaLifecycle(t *testing.T) {
	s := testServer(t)

	// A Proposal vertex arriving from a peer, not through this node's
	// submit endpoint.
	v := &models.Vertex{
		Timestamp: time.Now().UnixMilli(),
		DataType:  models.DataTypeProposal,
		Scope:     "coop",
		Author:    "alice",
		Proposal: &models.ProposalPayload{
			ProposalID:     "p-remote",
			Title:          "Replicated proposal",
			ProposalType:   models.ProposalTypeText,
			VotingPeriodMs: 30000,
			Quorum:         0.25,
			Threshold:      0.5,
		},
	}
	if err := v.Seal(); err != nil {
		t.Fatalf("failed to seal vertex: %v", err)
	}

	res := doJSON(t, s.router, http.MethodPost, "/dag/vertices", v)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}

	// The replica must accept votes against the ingested proposal.
	vote := doJSON(t, s.router, http.MethodPost, "/proposals/p-remote/votes",
		map[string]string{"voter": "bob", "decision": "yes"})
	if vote.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for vote on replicated proposal, got %d, body: %s",
			vote.Code, vote.Body.String())
	}

	rec, err := s.gov.Status("p-remote")
	if err != nil {
		t.Fatalf("expected lifecycle record for replicated proposal: %v", err)
	}
	if rec.SubmittedAt != v.Timestamp {
		t.Fatalf("expected submitted_at %d from vertex timestamp, got %d",
			v.Timestamp, rec.SubmittedAt)
	}

	// And evaluate it once its deadline passes.
	status, err := s.gov.Evaluate("p-remote", time.UnixMilli(rec.SubmittedAt+30000))
	if err != nil || status != models.StatusPassed {
		t.Fatalf("expected passed proposal, got %s err=%v", status, err)
	}

	get := doJSON(t, s.router, http.MethodGet, "/proposals/p-remote", nil)
	if get.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", get.Code)
	}
}

func TestIngestVertex_CorruptRejected(t *testing.T) {
	s := testServer(t)

	v := &models.Vertex{
		Timestamp: time.Now().UnixMilli(),
		DataType:  models.DataTypeSystemEvent,
		Scope:     "coop",
		Author:    "peer",
		System:    &models.SystemEventPayload{Kind: "sync"},
	}
	if err := v.Seal(); err != nil {
		t.Fatalf("failed to seal vertex: %v", err)
	}
	v.Author = "tampered"

	res := doJSON(t, s.router, http.MethodPost, "/dag/vertices", v)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", res.Code)
	}
	if got := len(s.store.AllIDs()); got != 0 {
		t.Fatalf("expected empty store after rejected ingest, got %d vertices", got)
	}
}

func TestExecuteProposal_FullFlow(t *testing.T) {
	s := testServer(t)
	doJSON(t, s.router, http.MethodPost, "/proposals", submitBody("p1"))
	doJSON(t, s.router, http.MethodPost, "/proposals/p1/votes",
		map[string]string{"voter": "bob", "decision": "yes"})

	// Drive the proposal past its deadline.
	rec, err := s.gov.Status("p1")
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	status, err := s.gov.Evaluate("p1", time.UnixMilli(rec.SubmittedAt+30000))
	if err != nil || status != models.StatusPassed {
		t.Fatalf("expected passed proposal, got %s err=%v", status, err)
	}

	res := doJSON(t, s.router, http.MethodPost, "/proposals/p1/execute",
		map[string]string{"executor": "covm-1", "program": "org { }"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}

	view, err := s.gov.Get("p1")
	if err != nil {
		t.Fatalf("failed to get proposal: %v", err)
	}
	if view.Status != models.StatusExecuted {
		t.Fatalf("expected executed status, got %s", view.Status)
	}

	// A second execution attempt must be rejected.
	again := doJSON(t, s.router, http.MethodPost, "/proposals/p1/execute",
		map[string]string{"executor": "covm-1", "program": "org { }"})
	if again.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on re-execution, got %d", again.Code)
	}
}

func TestGetStatus(t *testing.T) {
	s := testServer(t)

	res := doJSON(t, s.router, http.MethodGet, "/status", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var status models.NodeStatus
	if err := json.Unmarshal(res.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.NodeID != s.node.NodeID() || status.Network != "test-federation" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestFederationStatus_NoReportYet(t *testing.T) {
	s := testServer(t)

	res := doJSON(t, s.router, http.MethodGet, "/federation/status", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 before first check, got %d", res.Code)
	}
}

func TestProposalIDsEndpoint(t *testing.T) {
	s := testServer(t)
	doJSON(t, s.router, http.MethodPost, "/proposals", submitBody("p1"))
	doJSON(t, s.router, http.MethodPost, "/proposals", submitBody("p2"))

	res := doJSON(t, s.router, http.MethodGet, "/proposals/ids", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var body struct {
		ProposalIDs []string `json:"proposal_ids"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode ids: %v", err)
	}
	if len(body.ProposalIDs) != 2 {
		t.Fatalf("expected 2 proposal ids, got %v", body.ProposalIDs)
	}
}
