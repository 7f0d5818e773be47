// Package openai provides a conversation.Service backed by the OpenAI
// Assistants API (threads, messages and runs).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/dizai/pkg/provider/conversation"
)

// Service implements conversation.Service using OpenAI threads and runs.
type Service struct {
	client oai.Client
}

var _ conversation.Service = (*Service)(nil)

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Service.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Service authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai conversation: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Service{client: oai.NewClient(reqOpts...)}, nil
}

// CreateConversation implements conversation.Service.
func (s *Service) CreateConversation(ctx context.Context) (string, error) {
	thread, err := s.client.Beta.Threads.New(ctx, oai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("openai conversation: create thread: %w", err)
	}
	return thread.ID, nil
}

// PostMessage implements conversation.Service.
func (s *Service) PostMessage(ctx context.Context, conversationID string, role conversation.Role, content string) error {
	_, err := s.client.Beta.Threads.Messages.New(ctx, conversationID, oai.BetaThreadMessageNewParams{
		Role: oai.BetaThreadMessageNewParamsRole(role),
		Content: oai.BetaThreadMessageNewParamsContentUnion{
			OfString: oai.String(content),
		},
	})
	if err != nil {
		return fmt.Errorf("openai conversation: post message to %s: %w", conversationID, err)
	}
	return nil
}

// StartRun implements conversation.Service.
func (s *Service) StartRun(ctx context.Context, conversationID, agentID string) (string, error) {
	run, err := s.client.Beta.Threads.Runs.New(ctx, conversationID, oai.BetaThreadRunNewParams{
		AssistantID: agentID,
	})
	if err != nil {
		return "", fmt.Errorf("openai conversation: start run on %s: %w", conversationID, err)
	}
	return run.ID, nil
}

// PollRun implements conversation.Service.
func (s *Service) PollRun(ctx context.Context, conversationID, runID string) (conversation.RunStatus, error) {
	run, err := s.client.Beta.Threads.Runs.Get(ctx, conversationID, runID)
	if err != nil {
		return "", fmt.Errorf("openai conversation: get run %s: %w", runID, err)
	}
	return conversation.RunStatus(run.Status), nil
}

// ListMessages implements conversation.Service. Only text content parts are
// kept; multiple parts are joined with newlines.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	page, err := s.client.Beta.Threads.Messages.List(ctx, conversationID, oai.BetaThreadMessageListParams{})
	if err != nil {
		return nil, fmt.Errorf("openai conversation: list messages of %s: %w", conversationID, err)
	}

	msgs := make([]conversation.Message, 0, len(page.Data))
	for _, m := range page.Data {
		var parts []string
		for _, c := range m.Content {
			if c.Type == "text" {
				parts = append(parts, c.Text.Value)
			}
		}
		msgs = append(msgs, conversation.Message{
			ID:        m.ID,
			Role:      conversation.Role(m.Role),
			Content:   strings.TrimSpace(strings.Join(parts, "\n")),
			CreatedAt: time.Unix(m.CreatedAt, 0),
		})
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	return msgs, nil
}
