package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/repository"
	"github.com/xiaot623/agentmatch/policy"
)

const activeConversationsLimit = 50

// PostMessage appends a message on the sender's turn. The message that
// reaches the cap moves the conversation and both agents to pending_verdict.
func (s *Service) PostMessage(ctx context.Context, convoID string, req domain.PostMessageRequest) (*domain.PostMessageResponse, error) {
	if req.AgentID == "" {
		return nil, domain.NewError(domain.ErrCodeInvalidInput, "agent_id is required")
	}

	convo, err := s.store.GetConversation(ctx, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if convo == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "conversation not found")
	}
	agent, err := s.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "agent not found")
	}
	if err := checkCanPost(convo, req.AgentID, s.MaxMessages()); err != nil {
		return nil, err
	}
	if err := s.admitText(ctx, req.Text); err != nil {
		return nil, err
	}

	msg := domain.Message{FromAgent: req.AgentID, Text: req.Text, Timestamp: s.now()}
	nextTurn := convo.Other(req.AgentID)
	ok, err := s.store.AppendMessage(ctx, convoID, msg, nextTurn, s.MaxMessages())
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if !ok {
		// A concurrent request changed the conversation between read and write.
		fresh, err := s.store.GetConversation(ctx, convoID)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if fresh == nil {
			return nil, domain.NewError(domain.ErrCodeNotFound, "conversation not found")
		}
		if err := checkCanPost(fresh, req.AgentID, s.MaxMessages()); err != nil {
			return nil, err
		}
		return nil, domain.ErrOutOfTurn
	}

	count := len(convo.Messages) + 1
	status := domain.ConvoStatusActive
	if updated, err := s.store.GetConversation(ctx, convoID); err == nil && updated != nil {
		count = len(updated.Messages)
		if updated.Status != domain.ConvoStatusActive {
			status = domain.ConvoStatusPendingVerdict
		}
	} else if count >= s.MaxMessages() {
		status = domain.ConvoStatusPendingVerdict
	}
	if status == domain.ConvoStatusPendingVerdict {
		for _, id := range []string{convo.Agent1, convo.Agent2} {
			s.setParticipantStatus(ctx, id, convoID, domain.AgentStatusPendingVerdict, "")
		}
	} else {
		for _, id := range []string{req.AgentID, nextTurn} {
			s.setParticipantStatus(ctx, id, convoID, domain.AgentStatusInConvo, domain.AgentStatusPaired)
		}
	}

	s.recordEvent(ctx, convoID, req.AgentID, domain.EventTypeMessagePosted, domain.MessagePostedPayload{
		MessageCount: count,
		NextTurn:     nextTurn,
		Status:       status,
	})

	resp := &domain.PostMessageResponse{
		MessageCount: count,
		MaxMessages:  s.MaxMessages(),
		YourTurn:     false,
		Status:       status,
	}
	if status == domain.ConvoStatusPendingVerdict {
		resp.Message = msgVerdict
	}
	return resp, nil
}

// checkCanPost applies the posting preconditions in reporting order.
func checkCanPost(convo *domain.Conversation, agentID string, maxMessages int) error {
	if !convo.HasParticipant(agentID) {
		return domain.ErrForbidden
	}
	if convo.Status != domain.ConvoStatusActive {
		return domain.ErrNotActive
	}
	if convo.Turn != agentID {
		return domain.ErrOutOfTurn
	}
	if len(convo.Messages) >= maxMessages {
		return domain.ErrLimitReached
	}
	return nil
}

// admitText runs the message admission policy. Only length is checked.
func (s *Service) admitText(ctx context.Context, text string) error {
	input := policy.MessageInput{
		TextLength:    utf8.RuneCountInString(text),
		MaxTextLength: s.config.MaxTextLength,
		Blank:         strings.TrimSpace(text) == "",
	}
	if s.policyEngine == nil {
		if input.Blank || input.TextLength > input.MaxTextLength {
			return domain.NewError(domain.ErrCodeInvalidInput, "text must be non-empty and within the length limit")
		}
		return nil
	}

	decision, reason, err := s.policyEngine.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to evaluate message policy: %w", err)
	}
	if decision != policy.DecisionAllow {
		if reason == "" {
			reason = "message rejected"
		}
		return domain.NewError(domain.ErrCodeInvalidInput, reason)
	}
	return nil
}

// setParticipantStatus moves an agent that still points at convoID. When from
// is set the agent must also currently have that status.
func (s *Service) setParticipantStatus(ctx context.Context, agentID, convoID string, to, from domain.AgentStatus) {
	_, err := s.store.CompareAndSwapAgent(ctx, agentID,
		repository.AgentGuard{Status: from, ConvoID: convoID},
		domain.AgentUpdate{Status: to, CurrentConvo: convoID})
	if err != nil {
		log.Printf("WARN: failed to set agent %s to %s: %v", agentID, to, err)
	}
}

// DescribeFor returns the conversation as seen by one participant.
func (s *Service) DescribeFor(ctx context.Context, convoID, agentID string) (*domain.ConversationView, error) {
	if agentID == "" {
		return nil, domain.NewError(domain.ErrCodeInvalidInput, "agent_id is required")
	}

	convo, err := s.store.GetConversation(ctx, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if convo == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "conversation not found")
	}
	if !convo.HasParticipant(agentID) {
		return nil, domain.ErrForbidden
	}

	partner, err := s.store.GetAgent(ctx, convo.Other(agentID))
	if err != nil {
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}

	lines := make([]domain.TranscriptLine, 0, len(convo.Messages))
	for _, m := range convo.Messages {
		from := "partner"
		if m.FromAgent == agentID {
			from = "you"
		}
		lines = append(lines, domain.TranscriptLine{From: from, Text: m.Text, Timestamp: m.Timestamp.UnixMilli()})
	}

	return &domain.ConversationView{
		ConvoID:      convo.ConvoID,
		Partner:      domain.PartnerOf(partner),
		Messages:     lines,
		MessageCount: len(convo.Messages),
		MaxMessages:  s.MaxMessages(),
		YourTurn:     convo.Status == domain.ConvoStatusActive && convo.Turn == agentID,
		Status:       convo.Status,
		YourVerdict:  convo.VerdictOf(agentID),
	}, nil
}

// PublicConversation returns the read-only transcript of a finished
// conversation. The feed copy is preferred; otherwise a complete conversation
// is rendered from the conversation record.
func (s *Service) PublicConversation(ctx context.Context, convoID string) (*domain.PublicConversation, error) {
	entry, err := s.store.GetFeedEntryByConvo(ctx, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed entry: %w", err)
	}
	if entry != nil {
		return &domain.PublicConversation{
			ConvoID:   entry.ConvoID,
			Agents:    entry.AgentNames,
			Messages:  entry.Messages,
			Verdict:   entry.Verdict,
			Likes:     entry.Likes,
			Timestamp: entry.CreatedAt.UnixMilli(),
		}, nil
	}

	convo, err := s.store.GetConversation(ctx, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if convo == nil || convo.Status != domain.ConvoStatusComplete {
		return nil, domain.NewError(domain.ErrCodeNotFound, "conversation not found")
	}

	names := s.participantNames(ctx, convo)
	ts := convo.CreatedAt
	if convo.CompletedAt != nil {
		ts = *convo.CompletedAt
	}
	return &domain.PublicConversation{
		ConvoID:   convo.ConvoID,
		Agents:    []string{names[convo.Agent1], names[convo.Agent2]},
		Messages:  feedLines(convo, names),
		Verdict:   convo.FinalVerdict(),
		Timestamp: ts.UnixMilli(),
	}, nil
}

// ActiveConversations lists live and pending-verdict conversations for
// spectators, newest first.
func (s *Service) ActiveConversations(ctx context.Context) ([]domain.ActiveConversation, error) {
	convos, err := s.store.ListConversations(ctx,
		[]domain.ConvoStatus{domain.ConvoStatusActive, domain.ConvoStatusPendingVerdict}, activeConversationsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]domain.ActiveConversation, 0, len(convos))
	for i := range convos {
		c := &convos[i]
		names := s.participantNames(ctx, c)
		out = append(out, domain.ActiveConversation{
			ConvoID:      c.ConvoID,
			Agent1:       c.Agent1,
			Agent2:       c.Agent2,
			Agents:       []string{names[c.Agent1], names[c.Agent2]},
			Messages:     feedLines(c, names),
			MessageCount: len(c.Messages),
			MaxMessages:  s.MaxMessages(),
			Status:       c.Status,
			Verdict1:     c.Verdict1,
			Verdict2:     c.Verdict2,
			Turn:         c.Turn,
			CreatedAt:    c.CreatedAt.UnixMilli(),
		})
	}
	return out, nil
}

// participantNames maps both participant ids to display names.
func (s *Service) participantNames(ctx context.Context, convo *domain.Conversation) map[string]string {
	names := make(map[string]string, 2)
	for _, id := range []string{convo.Agent1, convo.Agent2} {
		names[id] = "Unknown"
		agent, err := s.store.GetAgent(ctx, id)
		if err != nil {
			log.Printf("WARN: failed to get agent %s: %v", id, err)
			continue
		}
		if agent != nil && agent.Name != "" {
			names[id] = agent.Name
		}
	}
	return names
}

func feedLines(convo *domain.Conversation, names map[string]string) []domain.FeedLine {
	lines := make([]domain.FeedLine, 0, len(convo.Messages))
	for _, m := range convo.Messages {
		from, ok := names[m.FromAgent]
		if !ok {
			from = "Unknown"
		}
		lines = append(lines, domain.FeedLine{From: from, Text: m.Text, Timestamp: m.Timestamp})
	}
	return lines
}
