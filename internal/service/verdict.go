package service

import (
	"context"
	"fmt"
	"log"

	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/repository"
)

// SubmitVerdict records one participant's verdict. The request that fills the
// second slot completes the conversation; whichever request wins the
// completion writes stats, the feed entry and, on a mutual MATCH, the match.
// Both requests then try to recycle both agents, and each agent is recycled
// once.
func (s *Service) SubmitVerdict(ctx context.Context, convoID string, req domain.VerdictRequest) (*domain.VerdictResponse, error) {
	if req.AgentID == "" {
		return nil, domain.NewError(domain.ErrCodeInvalidInput, "agent_id is required")
	}
	if !req.Verdict.Valid() {
		return nil, domain.ErrInvalidVerdict
	}

	convo, err := s.store.GetConversation(ctx, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if convo == nil {
		return nil, domain.NewError(domain.ErrCodeNotFound, "conversation not found")
	}
	if err := checkCanVote(convo, req.AgentID); err != nil {
		return nil, err
	}

	slot := convo.Slot(req.AgentID)
	ok, err := s.store.SetVerdict(ctx, convoID, slot, req.Verdict)
	if err != nil {
		return nil, fmt.Errorf("failed to set verdict: %w", err)
	}
	if !ok {
		fresh, err := s.store.GetConversation(ctx, convoID)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if fresh != nil {
			if err := checkCanVote(fresh, req.AgentID); err != nil {
				return nil, err
			}
		}
		return nil, domain.ErrAlreadySubmitted
	}

	s.recordEvent(ctx, convoID, req.AgentID, domain.EventTypeVerdictSubmitted, domain.VerdictSubmittedPayload{
		Slot:    slot,
		Verdict: req.Verdict,
	})

	convo, err = s.store.GetConversation(ctx, convoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if convo == nil || !convo.BothVerdicts() {
		return &domain.VerdictResponse{
			Status:  domain.OutcomePending,
			Message: "Waiting on partner's verdict...",
		}, nil
	}

	won, err := s.store.CompleteConversation(ctx, convoID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to complete conversation: %w", err)
	}

	var matchID string
	var recordErr error
	if won {
		matchID, recordErr = s.recordOutcome(ctx, convo)
		if recordErr != nil {
			log.Printf("ERROR: failed to record outcome of %s: %v", convoID, recordErr)
		}
	}

	s.recycle(ctx, convo)

	if recordErr != nil {
		return nil, recordErr
	}

	if convo.FinalVerdict() != domain.VerdictMatch {
		return &domain.VerdictResponse{
			Status:  domain.OutcomeNoMatch,
			Message: "Not this time. Back to the pool.",
		}, nil
	}

	if matchID == "" {
		// The other verdict request won the completion.
		if match, err := s.store.GetMatchByConvo(ctx, convoID); err == nil && match != nil {
			matchID = match.MatchID
		}
	}
	resp := &domain.VerdictResponse{
		Status:  domain.OutcomeMatched,
		MatchID: matchID,
		Message: "It's a match!",
	}
	if self, err := s.store.GetAgent(ctx, req.AgentID); err == nil && self != nil {
		resp.YourHuman = self.ContactHandle
	}
	if partner, err := s.store.GetAgent(ctx, convo.Other(req.AgentID)); err == nil && partner != nil {
		resp.TheirHuman = partner.ContactHandle
	}
	return resp, nil
}

// checkCanVote applies the verdict preconditions in reporting order.
func checkCanVote(convo *domain.Conversation, agentID string) error {
	if !convo.HasParticipant(agentID) {
		return domain.ErrForbidden
	}
	if convo.VerdictOf(agentID) != "" {
		return domain.ErrAlreadySubmitted
	}
	if convo.Status != domain.ConvoStatusPendingVerdict {
		return domain.NewError(domain.ErrCodeNotActive, "conversation is not awaiting verdicts")
	}
	return nil
}

// recycle returns both participants to the queue and tries to pair each one.
// An agent is only touched while it still points at this conversation, so a
// concurrent recycle of the same agent is a no-op.
func (s *Service) recycle(ctx context.Context, convo *domain.Conversation) {
	for _, agentID := range []string{convo.Agent1, convo.Agent2} {
		now := s.now()
		ok, err := s.store.CompareAndSwapAgent(ctx, agentID,
			repository.AgentGuard{ConvoID: convo.ConvoID},
			domain.AgentUpdate{Status: domain.AgentStatusWaiting, LastSeen: &now})
		if err != nil {
			log.Printf("ERROR: failed to recycle agent %s: %v", agentID, err)
			continue
		}
		if !ok {
			continue
		}

		agent, err := s.store.GetAgent(ctx, agentID)
		if err != nil || agent == nil {
			log.Printf("WARN: recycled agent %s not readable: %v", agentID, err)
			continue
		}
		if agent.Status != domain.AgentStatusWaiting {
			// Claimed by a concurrent pairing already.
			continue
		}

		resp, err := s.pairOrQueue(ctx, agent)
		if err != nil {
			log.Printf("WARN: failed to re-pair agent %s: %v", agentID, err)
			continue
		}
		s.recordEvent(ctx, convo.ConvoID, agentID, domain.EventTypeAgentRecycled, domain.AgentRecycledPayload{
			Status:   resp.Status,
			NewConvo: resp.ConvoID,
		})
	}
}
