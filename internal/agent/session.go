package agent

import (
	"context"
	"time"
)

// Session is one agent conversation in progress.
//
// Start begins the conversation and returns once the backend is
// running; the prompt is the opening user turn. Messages yields every
// message the agent produces, in order, and is closed when the
// conversation ends. Wait blocks until then and reports how the backend
// exited. Stop asks the session to wind down, escalating to a hard kill
// after the grace period. A session runs at most once.
type Session interface {
	Start(ctx context.Context, prompt string) error
	Messages() <-chan Message
	Wait() error
	Stop(grace time.Duration) error
}
