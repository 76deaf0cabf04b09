package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/repository"
)

const (
	msgPaired  = "You're matched! Start chatting."
	msgQueued  = "In queue. Poll status to check for a match."
	msgVerdict = "Convo complete. Submit your verdict."

	msgSettingUp = "Conversation is being set up."
)

// Register creates or refreshes an agent. A waiting agent is paired with the
// longest-waiting other agent or stays queued; an agent that is already in a
// conversation gets its current status back unchanged.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.StatusResponse, error) {
	req.AgentID = strings.TrimSpace(req.AgentID)
	req.Name = strings.TrimSpace(req.Name)
	if req.AgentID == "" || req.Name == "" {
		return nil, domain.NewError(domain.ErrCodeInvalidInput, "agent_id and name are required")
	}

	created, err := s.store.UpsertAgent(ctx, req.AgentID, req.Profile, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	if created {
		s.recordEvent(ctx, "", req.AgentID, domain.EventTypeAgentRegistered, nil)
	}

	agent, err := s.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "agent not found")
	}

	if agent.Status != domain.AgentStatusWaiting {
		return s.describeStatus(ctx, agent)
	}
	return s.pairOrQueue(ctx, agent)
}

// PollStatus refreshes last_seen and reports where the agent is.
func (s *Service) PollStatus(ctx context.Context, agentID string) (*domain.StatusResponse, error) {
	if agentID == "" {
		return nil, domain.NewError(domain.ErrCodeInvalidInput, "agent_id is required")
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "agent not found")
	}

	if err := s.store.TouchAgent(ctx, agentID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to update last_seen: %w", err)
	}

	return s.describeStatus(ctx, agent)
}

// GetAgent returns an agent's public record.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "agent not found")
	}
	return agent, nil
}

// describeStatus builds the status answer from the stored agent and its
// conversation.
func (s *Service) describeStatus(ctx context.Context, agent *domain.Agent) (*domain.StatusResponse, error) {
	resp := &domain.StatusResponse{AgentID: agent.AgentID, Status: agent.Status}

	if agent.Status == domain.AgentStatusWaiting || agent.CurrentConvo == "" {
		return s.queuedResponse(ctx, agent.AgentID)
	}

	convo, err := s.store.GetConversation(ctx, agent.CurrentConvo)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	resp.ConvoID = agent.CurrentConvo
	if convo == nil {
		if s.settingUp(agent.CurrentConvo) {
			// The pairing request has claimed the agent but not yet inserted
			// the conversation.
			resp.Message = msgSettingUp
			return resp, nil
		}
		// The setup may have finished since the first read.
		convo, err = s.store.GetConversation(ctx, agent.CurrentConvo)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if convo == nil {
			return s.recoverClaim(ctx, agent)
		}
	}

	if convo.Status == domain.ConvoStatusComplete {
		// Recycling is about to release this agent; do it here if the
		// verdict request has not got to it yet.
		ok, err := s.store.CompareAndSwapAgent(ctx, agent.AgentID, repository.AgentGuard{ConvoID: convo.ConvoID},
			domain.AgentUpdate{Status: domain.AgentStatusWaiting})
		if err != nil {
			return nil, fmt.Errorf("failed to release agent: %w", err)
		}
		fresh, err := s.store.GetAgent(ctx, agent.AgentID)
		if err != nil {
			return nil, fmt.Errorf("failed to get agent: %w", err)
		}
		if ok && fresh != nil && fresh.Status == domain.AgentStatusWaiting {
			return s.pairOrQueue(ctx, fresh)
		}
		if ok || fresh == nil || fresh.CurrentConvo == convo.ConvoID {
			return s.queuedResponse(ctx, agent.AgentID)
		}
		return s.describeStatus(ctx, fresh)
	}

	partner, err := s.store.GetAgent(ctx, convo.Other(agent.AgentID))
	if err != nil {
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}
	resp.Partner = domain.PartnerOf(partner)

	if convo.Status == domain.ConvoStatusPendingVerdict {
		resp.Status = domain.AgentStatusPendingVerdict
		count := len(convo.Messages)
		resp.MessageCount = &count
		if convo.VerdictOf(agent.AgentID) == "" {
			resp.Message = msgVerdict
		}
		return resp, nil
	}

	if agent.Status == domain.AgentStatusPaired {
		ok, err := s.store.CompareAndSwapAgent(ctx, agent.AgentID,
			repository.AgentGuard{Status: domain.AgentStatusPaired, ConvoID: convo.ConvoID},
			domain.AgentUpdate{Status: domain.AgentStatusInConvo, CurrentConvo: convo.ConvoID})
		if err != nil {
			return nil, fmt.Errorf("failed to update agent status: %w", err)
		}
		if ok {
			resp.Status = domain.AgentStatusInConvo
		}
	}

	yourTurn := convo.Turn == agent.AgentID
	count := len(convo.Messages)
	resp.YourTurn = &yourTurn
	resp.MessageCount = &count
	return resp, nil
}

// recoverClaim returns an agent left paired to a conversation that was never
// created, because its pairing request failed to release it, to the queue.
func (s *Service) recoverClaim(ctx context.Context, agent *domain.Agent) (*domain.StatusResponse, error) {
	convoID := agent.CurrentConvo
	ok, err := s.releaseClaim(ctx, agent.AgentID, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to release agent: %w", err)
	}
	if ok {
		log.Printf("WARN: released agent %s from missing conversation %s", agent.AgentID, convoID)
	}

	fresh, err := s.store.GetAgent(ctx, agent.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	switch {
	case fresh == nil:
		return nil, domain.NewError(domain.ErrCodeNotFound, "agent not found")
	case fresh.Status == domain.AgentStatusWaiting:
		return s.pairOrQueue(ctx, fresh)
	case fresh.CurrentConvo == convoID:
		return &domain.StatusResponse{AgentID: fresh.AgentID, Status: fresh.Status, ConvoID: convoID, Message: msgSettingUp}, nil
	default:
		return s.describeStatus(ctx, fresh)
	}
}

func (s *Service) queuedResponse(ctx context.Context, agentID string) (*domain.StatusResponse, error) {
	position, err := s.store.CountWaiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}
	if position < 1 {
		position = 1
	}
	return &domain.StatusResponse{
		AgentID:       agentID,
		Status:        domain.AgentStatusWaiting,
		QueuePosition: position,
		Message:       msgQueued,
	}, nil
}
