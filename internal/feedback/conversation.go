package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/dizai/pkg/provider/conversation"
)

// logEntryPrefix starts every message posted by [ConversationLog].
const logEntryPrefix = "LOG ENTRY:\n"

// ConversationLog posts each record as a message to the conversation it was
// generated in and to a global log conversation.
type ConversationLog struct {
	svc      conversation.Service
	globalID string
}

var _ Sink = (*ConversationLog)(nil)

// NewConversationLog returns a ConversationLog posting to svc. When globalID
// is empty a new global log conversation is created.
func NewConversationLog(ctx context.Context, svc conversation.Service, globalID string) (*ConversationLog, error) {
	if globalID == "" {
		id, err := svc.CreateConversation(ctx)
		if err != nil {
			return nil, fmt.Errorf("feedback: create global log conversation: %w", err)
		}
		globalID = id
	}
	return &ConversationLog{svc: svc, globalID: globalID}, nil
}

// Name implements the optional naming interface used for metric labels.
func (c *ConversationLog) Name() string { return "conversation" }

// GlobalID returns the id of the global log conversation.
func (c *ConversationLog) GlobalID() string { return c.globalID }

// Append posts rec to rec.ConversationID, if set, and to the global log.
func (c *ConversationLog) Append(ctx context.Context, rec Record) error {
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	msg := logEntryPrefix + string(body)

	var errs []error
	if rec.ConversationID != "" && rec.ConversationID != c.globalID {
		if err := c.svc.PostMessage(ctx, rec.ConversationID, conversation.RoleUser, msg); err != nil {
			errs = append(errs, fmt.Errorf("feedback: post to %s: %w", rec.ConversationID, err))
		}
	}
	if err := c.svc.PostMessage(ctx, c.globalID, conversation.RoleUser, msg); err != nil {
		errs = append(errs, fmt.Errorf("feedback: post to global log: %w", err))
	}
	return errors.Join(errs...)
}
