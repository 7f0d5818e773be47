// Package mock provides a test double for the conversation.Service interface.
//
// The mock simulates a single-agent backend: StartRun records the run, PollRun
// walks through the configured Statuses, and ListMessages returns the messages
// posted so far followed by Reply as the newest assistant message once a run
// has been started.
//
// Example:
//
//	svc := &mock.Service{Reply: `{"exerciseSetId":"restaurant-1","exercises":[...]}`}
//	gen, _ := exercise.NewGenerator(svc, "asst_1", state)
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/dizai/pkg/provider/conversation"
)

// PostedMessage records a single invocation of PostMessage.
type PostedMessage struct {
	ConversationID string
	Role           conversation.Role
	Content        string
}

// StartRunCall records a single invocation of StartRun.
type StartRunCall struct {
	ConversationID string
	AgentID        string
}

// Service is a mock implementation of conversation.Service.
type Service struct {
	mu sync.Mutex

	// Reply is the assistant message content made visible by ListMessages
	// after StartRun has been called on a conversation.
	Reply string

	// Statuses is the sequence returned by successive PollRun calls for a run.
	// The last element repeats. When empty, PollRun returns RunCompleted.
	Statuses []conversation.RunStatus

	// PollHook, if set, is called at the start of every PollRun without the
	// lock held. Tests use it to block a generation in flight.
	PollHook func(ctx context.Context) error

	// Errors injected per operation.
	CreateErr error
	PostErr   error
	RunErr    error
	PollErr   error
	ListErr   error

	// Call records.
	CreateCalls int
	Posted      []PostedMessage
	RunCalls    []StartRunCall
	PollCalls   int
	ListCalls   int

	nextID int
	polls  map[string]int
	msgs   map[string][]conversation.Message
}

var _ conversation.Service = (*Service)(nil)

func (s *Service) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s_%d", prefix, s.nextID)
}

// CreateConversation records the call and returns a fresh id.
func (s *Service) CreateConversation(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if s.CreateErr != nil {
		return "", s.CreateErr
	}
	return s.id("thread"), nil
}

// PostMessage records the call and stores the message.
func (s *Service) PostMessage(_ context.Context, conversationID string, role conversation.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Posted = append(s.Posted, PostedMessage{ConversationID: conversationID, Role: role, Content: content})
	if s.PostErr != nil {
		return s.PostErr
	}
	s.appendLocked(conversationID, role, content)
	return nil
}

// StartRun records the call and queues Reply as the assistant answer.
func (s *Service) StartRun(_ context.Context, conversationID, agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunCalls = append(s.RunCalls, StartRunCall{ConversationID: conversationID, AgentID: agentID})
	if s.RunErr != nil {
		return "", s.RunErr
	}
	s.appendLocked(conversationID, conversation.RoleAssistant, s.Reply)
	return s.id("run"), nil
}

// PollRun records the call and returns the next configured status.
func (s *Service) PollRun(ctx context.Context, _, runID string) (conversation.RunStatus, error) {
	s.mu.Lock()
	hook := s.PollHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.PollCalls++
	if s.PollErr != nil {
		return "", s.PollErr
	}
	if len(s.Statuses) == 0 {
		return conversation.RunCompleted, nil
	}
	if s.polls == nil {
		s.polls = make(map[string]int)
	}
	i := min(s.polls[runID], len(s.Statuses)-1)
	s.polls[runID]++
	return s.Statuses[i], nil
}

// ListMessages returns the stored messages, newest first.
func (s *Service) ListMessages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := slices.Clone(s.msgs[conversationID])
	slices.Reverse(out)
	return out, nil
}

// Runs returns the number of StartRun calls. Thread-safe.
func (s *Service) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.RunCalls)
}

// Conversations returns the number of CreateConversation calls. Thread-safe.
func (s *Service) Conversations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CreateCalls
}

// PostedTo returns the messages posted to conversationID. Thread-safe.
func (s *Service) PostedTo(conversationID string) []PostedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PostedMessage
	for _, p := range s.Posted {
		if p.ConversationID == conversationID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) appendLocked(conversationID string, role conversation.Role, content string) {
	if s.msgs == nil {
		s.msgs = make(map[string][]conversation.Message)
	}
	s.msgs[conversationID] = append(s.msgs[conversationID], conversation.Message{
		ID:        s.id("msg"),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
}
