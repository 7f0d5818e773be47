// Package conversation defines the Service interface for hosted, stateful
// assistant conversations.
//
// A conversation service keeps a server-side message history (a "thread")
// and runs a preconfigured agent (an "assistant") over it asynchronously.
// Callers post a message, start a run, poll until the run reaches a terminal
// state, and then read back the newest assistant message. DizAí uses this to
// generate exercise sets and to keep a running feedback log next to them.
//
// Implementations must be safe for concurrent use.
package conversation

import (
	"context"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Done reports whether s is terminal. A terminal run never changes state
// again, so polling can stop.
func (s RunStatus) Done() bool {
	switch s {
	case RunCompleted, RunCancelled, RunFailed, RunIncomplete, RunExpired:
		return true
	}
	return false
}

// Message is a single entry of a conversation.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Service is the abstraction over a hosted conversation backend.
type Service interface {
	// CreateConversation opens a new, empty conversation and returns its id.
	CreateConversation(ctx context.Context) (string, error)

	// PostMessage appends a message to the conversation.
	PostMessage(ctx context.Context, conversationID string, role Role, content string) error

	// StartRun asks agentID to process the conversation and returns the run id.
	StartRun(ctx context.Context, conversationID, agentID string) (string, error)

	// PollRun returns the current status of a run.
	PollRun(ctx context.Context, conversationID, runID string) (RunStatus, error)

	// ListMessages returns the conversation's messages, newest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// LatestFrom returns the newest message authored by role, or false if there
// is none. msgs must be ordered newest first.
func LatestFrom(msgs []Message, role Role) (Message, bool) {
	for _, m := range msgs {
		if m.Role == role {
			return m, true
		}
	}
	return Message{}, false
}
