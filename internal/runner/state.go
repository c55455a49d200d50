package runner

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

// State is the in-memory record of one pipeline run. It lives only for
// the duration of the run; durable outcomes flow through events and the
// manifest.
type State struct {
	RequestID          string
	Status             models.Status
	Tier               models.Tier
	PipelineBranch     string
	BaseBranch         string
	StartedAt          time.Time
	CompletedAt        time.Time
	Request            models.PipelineRequest
	SessionID          string
	Model              string
	EventsCount        int
	AgentsStarted      []string
	CorrectionsCount   int
	CorrectionsApplied []string
}

// allowedTransitions is the successor set for each non-terminal status.
// Terminal states have no successors.
var allowedTransitions = map[models.Status]map[models.Status]bool{
	models.StatusAccepted: {
		models.StatusRunning: true,
	},
	models.StatusRunning: {
		models.StatusCorrecting: true,
		models.StatusApproved:   true,
		models.StatusFailed:     true,
		models.StatusError:      true,
	},
	models.StatusCorrecting: {
		models.StatusRunning:  true,
		models.StatusApproved: true,
		models.StatusFailed:   true,
		models.StatusError:    true,
	},
}

// pipelineRun pairs a run's state with its live session machinery. The
// consume goroutine is the only writer after start; Stop and Snapshot
// read through the mutex and the atomics.
type pipelineRun struct {
	mu         sync.Mutex
	state      *State
	session    agent.Session
	translator *translator

	stopped   atomic.Bool
	sawResult atomic.Bool
}

// transition moves the run to a new status. An invalid transition is
// logged but still applied so downstream consumers never see a run
// stuck in a stale status.
func (p *pipelineRun) transition(to models.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.state.Status
	if !allowedTransitions[from][to] {
		log.Printf("[runner] %s: invalid transition %s -> %s, forcing", p.state.RequestID, from, to)
	}
	p.state.Status = to
	if to.Terminal() {
		p.state.CompletedAt = time.Now().UTC()
	}
}

func (p *pipelineRun) status() models.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Status
}

func (p *pipelineRun) setTier(t models.Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Tier = t
}

func (p *pipelineRun) noteSession(sessionID, model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.SessionID = sessionID
	p.state.Model = model
}

func (p *pipelineRun) addAgent(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.AgentsStarted = append(p.state.AgentsStarted, name)
}

func (p *pipelineRun) addCorrection(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.CorrectionsCount++
	p.state.CorrectionsApplied = append(p.state.CorrectionsApplied, text)
}

func (p *pipelineRun) incEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.EventsCount++
}

func (p *pipelineRun) setSession(s agent.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}

func (p *pipelineRun) getSession() agent.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// enrich merges the state fields terminal events must carry. Downstream
// handlers (manifest append, idempotency release, cleanup, director
// trigger) key on these being present.
func (p *pipelineRun) enrich(data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	data["branch"] = s.Request.Branch
	data["pipeline_branch"] = s.PipelineBranch
	data["worktree_path"] = s.Request.WorktreePath
	data["base_branch"] = s.BaseBranch
	data["tier"] = string(s.Tier)
	data["agents_started"] = append([]string(nil), s.AgentsStarted...)
	data["corrections_applied"] = append([]string(nil), s.CorrectionsApplied...)
}

// snapshot returns a copy safe to hand outside the run.
func (p *pipelineRun) snapshot() *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *p.state
	copied.AgentsStarted = append([]string(nil), p.state.AgentsStarted...)
	copied.CorrectionsApplied = append([]string(nil), p.state.CorrectionsApplied...)
	return &copied
}
