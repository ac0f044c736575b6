package routers

import (
	"govledger/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the governance ledger
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Reachability probe consumed by federation peers
	r.HandleFunc("/status", h.GetStatus).Methods("GET")

	// DAG summary and traversal
	r.HandleFunc("/dag/fingerprint", h.GetFingerprint).Methods("GET")
	r.HandleFunc("/dag/tips", h.GetTips).Methods("GET")
	r.HandleFunc("/dag/vertices", h.IngestVertex).Methods("POST")
	r.HandleFunc("/dag/vertices/{id}", h.GetVertex).Methods("GET")
	r.HandleFunc("/dag/vertices/{id}/ancestors", h.GetAncestors).Methods("GET")
	r.HandleFunc("/dag/vertices/{id}/descendants", h.GetDescendants).Methods("GET")

	// Proposal lifecycle
	r.HandleFunc("/proposals", h.SubmitProposal).Methods("POST")
	r.HandleFunc("/proposals", h.ListProposals).Methods("GET")
	r.HandleFunc("/proposals/ids", h.GetProposalIDs).Methods("GET")
	r.HandleFunc("/proposals/{id}", h.GetProposal).Methods("GET")
	r.HandleFunc("/proposals/{id}/votes", h.GetVotes).Methods("GET")
	r.HandleFunc("/proposals/{id}/votes", h.CastVote).Methods("POST")
	r.HandleFunc("/proposals/{id}/evaluate", h.EvaluateProposal).Methods("POST")
	r.HandleFunc("/proposals/{id}/execute", h.ExecuteProposal).Methods("POST")

	// Federation health
	r.HandleFunc("/federation/status", h.GetFederationStatus).Methods("GET")
}
