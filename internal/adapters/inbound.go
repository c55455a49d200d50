package adapters

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/mood-agency/funny-sub004/internal/bus"
)

// Inbound translates external webhook notifications into bus events.
// The only endpoint today is the merge notification the forge (or a CI
// job watching it) sends once an integration PR lands.
type Inbound struct {
	events *bus.Bus
	secret string
}

// NewInbound creates the inbound listener surface. A non-empty secret
// must match the X-Webhook-Secret header of every request.
func NewInbound(events *bus.Bus, secret string) *Inbound {
	return &Inbound{events: events, secret: secret}
}

// Routes returns the mux serving the inbound endpoints.
func (in *Inbound) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/integration-merged", in.handleMerged)
	return mux
}

type mergedPayload struct {
	Branch            string `json:"branch"`
	PipelineBranch    string `json:"pipeline_branch"`
	IntegrationBranch string `json:"integration_branch"`
	// CommitSHA is the merge commit, when the notifier knows it.
	CommitSHA string `json:"commit_sha"`
	RequestID string `json:"request_id"`
}

func (in *Inbound) handleMerged(w http.ResponseWriter, r *http.Request) {
	if in.secret != "" && r.Header.Get("X-Webhook-Secret") != in.secret {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}

	var p mergedPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&p); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if p.Branch == "" {
		http.Error(w, "branch is required", http.StatusBadRequest)
		return
	}

	log.Printf("[adapters] merge notification for %s (integration branch %s)", p.Branch, p.IntegrationBranch)
	in.events.Publish(bus.Event{
		Type:      bus.EventIntegrationPRMerged,
		RequestID: p.RequestID,
		Data: map[string]any{
			"branch":             p.Branch,
			"pipeline_branch":    p.PipelineBranch,
			"integration_branch": p.IntegrationBranch,
			"commit_sha":         p.CommitSHA,
		},
	})
	w.WriteHeader(http.StatusAccepted)
}
