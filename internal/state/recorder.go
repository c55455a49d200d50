package state

import (
	"log"

	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

// Integration outcomes recorded by the recorder.
const (
	OutcomePRCreated         = "pr_created"
	OutcomeMerged            = "merged"
	OutcomeRebaseFailed      = "rebase_failed"
	OutcomeIntegrationFailed = "integration_failed"
)

// Recorder mirrors bus events into the history database. It only
// observes; write failures are logged and never surface to the
// pipelines that produced the events.
type Recorder struct {
	store HistoryStore
}

// NewRecorder creates a recorder over store. A nil store is allowed
// and makes Attach a no-op.
func NewRecorder(store HistoryStore) *Recorder {
	return &Recorder{store: store}
}

// Attach subscribes the recorder to the events it persists.
func (r *Recorder) Attach(b *bus.Bus) {
	if r == nil || r.store == nil || b == nil {
		return
	}
	b.On(bus.EventPipelineAccepted, r.onAccepted)
	b.On(bus.EventPipelineTierClassified, r.onTierClassified)
	b.On(bus.EventPipelineCorrecting, r.onCorrecting)
	b.On(bus.EventPipelineAgentStarted, r.onAgentStarted)
	b.On(bus.EventPipelineCompleted, r.onCompleted)
	b.On(bus.EventPipelineFailed, r.onFailed)
	b.On(bus.EventPipelineStopped, r.onStopped)
	b.On(bus.EventDirectorIntegrationPRCreated, r.onPRCreated)
	b.On(bus.EventDirectorIntegrationFailed, r.onIntegrationFailed)
	b.On(bus.EventIntegrationPRMerged, r.onPRMerged)
	b.On(bus.EventIntegrationPRRebaseFailed, r.onRebaseFailed)
}

func (r *Recorder) onAccepted(ev bus.Event) {
	rec := &RunRecord{
		RequestID: ev.RequestID,
		Branch:    str(ev.Data, "branch"),
		Tier:      string(models.TierMedium),
		Status:    RunRunning,
		StartedAt: ev.Timestamp,
	}
	if err := r.store.CreateRun(rec); err != nil {
		log.Printf("[state] record run %s: %v", ev.RequestID, err)
	}
}

func (r *Recorder) onTierClassified(ev bus.Event) {
	if err := r.store.SetRunTier(ev.RequestID, str(ev.Data, "tier")); err != nil {
		log.Printf("[state] record tier for %s: %v", ev.RequestID, err)
	}
}

func (r *Recorder) onCorrecting(ev bus.Event) {
	if err := r.store.IncrementCorrections(ev.RequestID); err != nil {
		log.Printf("[state] record correction for %s: %v", ev.RequestID, err)
	}
}

func (r *Recorder) onAgentStarted(ev bus.Event) {
	if err := r.store.ResumeCorrectedRun(ev.RequestID); err != nil {
		log.Printf("[state] resume run %s: %v", ev.RequestID, err)
	}
}

func (r *Recorder) onCompleted(ev bus.Event) {
	r.finish(ev, RunApproved)
}

// onFailed splits agent-reported failures from infrastructure errors:
// the runner's abort and crash paths carry an "error" key, the agent's
// own failed result does not.
func (r *Recorder) onFailed(ev bus.Event) {
	status := RunFailed
	if _, ok := ev.Data["error"]; ok {
		status = RunError
	}
	r.finish(ev, status)
}

func (r *Recorder) onStopped(ev bus.Event) {
	r.finish(ev, RunStopped)
}

func (r *Recorder) finish(ev bus.Event, status RunStatus) {
	if err := r.store.FinishRun(ev.RequestID, status, ev.Timestamp); err != nil {
		log.Printf("[state] finish run %s: %v", ev.RequestID, err)
	}
}

func (r *Recorder) onPRCreated(ev bus.Event) {
	r.integration(ev, &IntegrationRecord{
		Branch:   str(ev.Data, "branch"),
		PRNumber: asInt(ev.Data["pr_number"]),
		PRURL:    str(ev.Data, "pr_url"),
		Outcome:  OutcomePRCreated,
	})
}

func (r *Recorder) onIntegrationFailed(ev bus.Event) {
	r.integration(ev, &IntegrationRecord{
		Branch:  str(ev.Data, "branch"),
		Outcome: OutcomeIntegrationFailed,
	})
}

func (r *Recorder) onPRMerged(ev bus.Event) {
	r.integration(ev, &IntegrationRecord{
		Branch:            str(ev.Data, "branch"),
		IntegrationBranch: str(ev.Data, "integration_branch"),
		Outcome:           OutcomeMerged,
	})
}

func (r *Recorder) onRebaseFailed(ev bus.Event) {
	r.integration(ev, &IntegrationRecord{
		Branch:            str(ev.Data, "branch"),
		IntegrationBranch: str(ev.Data, "integration_branch"),
		Outcome:           OutcomeRebaseFailed,
	})
}

func (r *Recorder) integration(ev bus.Event, rec *IntegrationRecord) {
	rec.OccurredAt = ev.Timestamp
	if err := r.store.RecordIntegration(rec); err != nil {
		log.Printf("[state] record integration for %s: %v", rec.Branch, err)
	}
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// asInt tolerates the numeric types event data passes through: ints
// published in process, float64 after a JSON round trip.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
