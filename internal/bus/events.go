// Package bus provides the typed in-process event bus and its journal.
package bus

import (
	"time"
)

// EventType identifies the kind of a published event.
type EventType string

const (
	// EventPipelineAccepted indicates a request passed validation and was registered.
	EventPipelineAccepted EventType = "pipeline.accepted"
	// EventPipelineStarted indicates the agent session reported its init message.
	EventPipelineStarted EventType = "pipeline.started"
	// EventPipelineContainersReady indicates a sandbox environment was provisioned.
	EventPipelineContainersReady EventType = "pipeline.containers.ready"
	// EventPipelineTierClassified indicates the change size was classified.
	EventPipelineTierClassified EventType = "pipeline.tier_classified"
	// EventPipelineAgentStarted indicates the session dispatched a sub-agent.
	EventPipelineAgentStarted EventType = "pipeline.agent.started"
	// EventPipelineAgentCompleted indicates a dispatched sub-agent finished.
	EventPipelineAgentCompleted EventType = "pipeline.agent.completed"
	// EventPipelineAgentFailed indicates a dispatched sub-agent failed.
	EventPipelineAgentFailed EventType = "pipeline.agent.failed"
	// EventPipelineCorrecting indicates the session entered a correction cycle.
	EventPipelineCorrecting EventType = "pipeline.correcting"
	// EventPipelineCorrectionStarted indicates a correction pass began re-dispatching.
	EventPipelineCorrectionStarted EventType = "pipeline.correction.started"
	// EventPipelineCorrectionCompleted indicates a correction pass finished.
	EventPipelineCorrectionCompleted EventType = "pipeline.correction.completed"
	// EventPipelineCompleted indicates the session finished successfully.
	EventPipelineCompleted EventType = "pipeline.completed"
	// EventPipelineFailed indicates the session failed or crashed.
	EventPipelineFailed EventType = "pipeline.failed"
	// EventPipelineStopped indicates the session was stopped on request.
	EventPipelineStopped EventType = "pipeline.stopped"
	// EventPipelineMessage carries an operational notice about a run.
	EventPipelineMessage EventType = "pipeline.message"
	// EventPipelineCLIMessage forwards one raw agent stream message verbatim.
	EventPipelineCLIMessage EventType = "pipeline.cli_message"

	// EventDirectorActivated indicates the director started scheduling.
	EventDirectorActivated EventType = "director.activated"
	// EventDirectorIntegrationDispatched indicates a ready entry was handed to the integrator.
	EventDirectorIntegrationDispatched EventType = "director.integration.dispatched"
	// EventDirectorIntegrationPRCreated indicates a dispatched integration produced a PR.
	EventDirectorIntegrationPRCreated EventType = "director.integration.pr_created"
	// EventDirectorIntegrationFailed indicates a dispatched integration failed.
	EventDirectorIntegrationFailed EventType = "director.integration.failed"
	// EventDirectorPRRebaseNeeded indicates a pending PR fell behind the base branch.
	EventDirectorPRRebaseNeeded EventType = "director.pr.rebase_needed"
	// EventDirectorCycleCompleted indicates a scheduling cycle finished.
	EventDirectorCycleCompleted EventType = "director.cycle.completed"

	// EventIntegrationStarted indicates an integration saga began.
	EventIntegrationStarted EventType = "integration.started"
	// EventIntegrationConflictDetected indicates the merge step hit conflicts.
	EventIntegrationConflictDetected EventType = "integration.conflict.detected"
	// EventIntegrationConflictResolved indicates the resolver agent fixed the conflicts.
	EventIntegrationConflictResolved EventType = "integration.conflict.resolved"
	// EventIntegrationPRCreated indicates the saga opened a pull request.
	EventIntegrationPRCreated EventType = "integration.pr.created"
	// EventIntegrationCompleted indicates the saga finished all steps.
	EventIntegrationCompleted EventType = "integration.completed"
	// EventIntegrationFailed indicates the saga failed and compensated.
	EventIntegrationFailed EventType = "integration.failed"
	// EventIntegrationPRMerged indicates the forge reported the PR as merged.
	EventIntegrationPRMerged EventType = "integration.pr.merged"
	// EventIntegrationPRRebased indicates a pending PR was rebased onto a new base.
	EventIntegrationPRRebased EventType = "integration.pr.rebased"
	// EventIntegrationPRRebaseFailed indicates a rebase was aborted.
	EventIntegrationPRRebaseFailed EventType = "integration.pr.rebase_failed"

	// EventCleanupStarted indicates a branch cleanup began.
	EventCleanupStarted EventType = "cleanup.started"
	// EventCleanupCompleted indicates a branch cleanup finished.
	EventCleanupCompleted EventType = "cleanup.completed"
)

// knownTypes is the closed set of event types the system recognises.
var knownTypes = map[EventType]struct{}{
	EventPipelineAccepted:              {},
	EventPipelineStarted:               {},
	EventPipelineContainersReady:       {},
	EventPipelineTierClassified:        {},
	EventPipelineAgentStarted:          {},
	EventPipelineAgentCompleted:        {},
	EventPipelineAgentFailed:           {},
	EventPipelineCorrecting:            {},
	EventPipelineCorrectionStarted:     {},
	EventPipelineCorrectionCompleted:   {},
	EventPipelineCompleted:             {},
	EventPipelineFailed:                {},
	EventPipelineStopped:               {},
	EventPipelineMessage:               {},
	EventPipelineCLIMessage:            {},
	EventDirectorActivated:             {},
	EventDirectorIntegrationDispatched: {},
	EventDirectorIntegrationPRCreated:  {},
	EventDirectorIntegrationFailed:     {},
	EventDirectorPRRebaseNeeded:        {},
	EventDirectorCycleCompleted:        {},
	EventIntegrationStarted:            {},
	EventIntegrationConflictDetected:   {},
	EventIntegrationConflictResolved:   {},
	EventIntegrationPRCreated:          {},
	EventIntegrationCompleted:          {},
	EventIntegrationFailed:             {},
	EventIntegrationPRMerged:           {},
	EventIntegrationPRRebased:          {},
	EventIntegrationPRRebaseFailed:     {},
	EventCleanupStarted:                {},
	EventCleanupCompleted:              {},
}

// KnownType reports whether t belongs to the closed event type set.
func KnownType(t EventType) bool {
	_, ok := knownTypes[t]
	return ok
}

// Event is a single occurrence published on the bus. Events are immutable
// once published; subscribers must not mutate Data or Metadata.
type Event struct {
	// Type identifies the event kind.
	Type EventType `json:"event_type"`
	// RequestID ties the event to a pipeline request, when applicable.
	RequestID string `json:"request_id,omitempty"`
	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
	// Data carries the kind-specific payload.
	Data map[string]any `json:"data,omitempty"`
	// Metadata carries caller-supplied context propagated verbatim.
	Metadata map[string]any `json:"metadata,omitempty"`
}
