package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/repository"
)

const releaseAttempts = 3

// pairOrQueue turns a waiting agent into a conversation participant, or
// leaves it in the queue.
//
// Both agents are claimed with a conditional waiting -> paired update before
// the conversation is inserted, in agent id order so that two agents pairing
// with each other cannot each hold one claim and block the other. A lost
// claim releases whatever was claimed and retries with the next candidate.
func (s *Service) pairOrQueue(ctx context.Context, self *domain.Agent) (*domain.StatusResponse, error) {
	for attempt := 0; attempt < s.config.MaxPairingAttempts; attempt++ {
		candidate, err := s.store.PickOldestWaiting(ctx, self.AgentID)
		if err != nil {
			return nil, fmt.Errorf("failed to find waiting agent: %w", err)
		}
		if candidate == nil {
			break
		}

		convoID := uuid.New().String()
		s.beginSetup(convoID)
		resp, retry, err := s.tryPair(ctx, self, candidate, convoID)
		s.endSetup(convoID)
		if err != nil || !retry {
			return resp, err
		}
	}

	return s.queuedResponse(ctx, self.AgentID)
}

// tryPair claims self and candidate for convoID and inserts the conversation.
// retry reports that the candidate was taken and another one should be tried.
func (s *Service) tryPair(ctx context.Context, self, candidate *domain.Agent, convoID string) (*domain.StatusResponse, bool, error) {
	first, second := self.AgentID, candidate.AgentID
	if second < first {
		first, second = second, first
	}

	ok, err := s.claim(ctx, first, convoID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if first == self.AgentID {
			// Someone else paired us first.
			resp, err := s.currentStatus(ctx, self.AgentID)
			return resp, false, err
		}
		return nil, true, nil
	}

	ok, err = s.claim(ctx, second, convoID)
	if err != nil {
		s.release(ctx, first, convoID)
		return nil, false, err
	}
	if !ok {
		s.release(ctx, first, convoID)
		if second == self.AgentID {
			resp, err := s.currentStatus(ctx, self.AgentID)
			return resp, false, err
		}
		return nil, true, nil
	}

	// The longer-waiting agent speaks first.
	convo := &domain.Conversation{
		ConvoID:   convoID,
		Agent1:    candidate.AgentID,
		Agent2:    self.AgentID,
		Turn:      candidate.AgentID,
		Status:    domain.ConvoStatusActive,
		Messages:  []domain.Message{},
		CreatedAt: s.now(),
	}
	if err := s.store.CreateConversation(ctx, convo); err != nil {
		s.release(ctx, first, convoID)
		s.release(ctx, second, convoID)
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.recordEvent(ctx, convoID, "", domain.EventTypeAgentPaired, domain.AgentPairedPayload{
		Agent1: convo.Agent1,
		Agent2: convo.Agent2,
		Turn:   convo.Turn,
	})

	yourTurn := convo.Turn == self.AgentID
	count := 0
	return &domain.StatusResponse{
		AgentID:      self.AgentID,
		Status:       domain.AgentStatusPaired,
		ConvoID:      convoID,
		Partner:      domain.PartnerOf(candidate),
		YourTurn:     &yourTurn,
		MessageCount: &count,
		Message:      msgPaired,
	}, false, nil
}

// claim moves a waiting agent to paired. It reports false if the agent was no
// longer waiting.
func (s *Service) claim(ctx context.Context, agentID, convoID string) (bool, error) {
	ok, err := s.store.CompareAndSwapAgent(ctx, agentID,
		repository.AgentGuard{Status: domain.AgentStatusWaiting},
		domain.AgentUpdate{Status: domain.AgentStatusPaired, CurrentConvo: convoID})
	if err != nil {
		return false, fmt.Errorf("failed to claim agent %s: %w", agentID, err)
	}
	return ok, nil
}

// release undoes a claim. last_seen is left alone so the agent keeps its
// place in the queue. An agent whose release keeps failing is left paired to
// a conversation that does not exist; describeStatus recovers it.
func (s *Service) release(ctx context.Context, agentID, convoID string) {
	var err error
	for attempt := 0; attempt < releaseAttempts; attempt++ {
		_, err = s.releaseClaim(ctx, agentID, convoID)
		if err == nil {
			return
		}
	}
	log.Printf("ERROR: failed to release agent %s from %s: %v", agentID, convoID, err)
}

func (s *Service) releaseClaim(ctx context.Context, agentID, convoID string) (bool, error) {
	return s.store.CompareAndSwapAgent(ctx, agentID,
		repository.AgentGuard{Status: domain.AgentStatusPaired, ConvoID: convoID},
		domain.AgentUpdate{Status: domain.AgentStatusWaiting})
}

func (s *Service) beginSetup(convoID string) {
	s.setupMu.Lock()
	s.setups[convoID] = struct{}{}
	s.setupMu.Unlock()
}

func (s *Service) endSetup(convoID string) {
	s.setupMu.Lock()
	delete(s.setups, convoID)
	s.setupMu.Unlock()
}

func (s *Service) settingUp(convoID string) bool {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	_, ok := s.setups[convoID]
	return ok
}

func (s *Service) currentStatus(ctx context.Context, agentID string) (*domain.StatusResponse, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "agent not found")
	}
	return s.describeStatus(ctx, agent)
}
