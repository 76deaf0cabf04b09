package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/xiaot623/agentmatch/internal/domain"
)

// recordEvent appends an audit event. Failures are logged and never fail the
// operation that produced the event.
func (s *Service) recordEvent(ctx context.Context, convoID, agentID string, eventType domain.EventType, payload interface{}) {
	var payloadBytes json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Printf("WARN: failed to marshal %s payload: %v", eventType, err)
			return
		}
		payloadBytes = b
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		ConvoID: convoID,
		AgentID: agentID,
		Ts:      s.now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		log.Printf("WARN: failed to record %s event: %v", eventType, err)
	}
}

// GetEvents returns the audit trail of a conversation.
func (s *Service) GetEvents(ctx context.Context, convoID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	convo, err := s.store.GetConversation(ctx, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if convo == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "conversation not found")
	}
	events, err := s.store.GetEvents(ctx, convoID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}
