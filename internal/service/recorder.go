package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/xiaot623/agentmatch/internal/domain"
)

// recordOutcome writes everything that follows a completed conversation:
// per-agent stats, the match on a mutual MATCH, and the public feed entry.
// It runs once per conversation, in the request that completed it.
func (s *Service) recordOutcome(ctx context.Context, convo *domain.Conversation) (string, error) {
	for _, agentID := range []string{convo.Agent1, convo.Agent2} {
		if err := s.store.IncrementAgentStats(ctx, agentID, convo.VerdictOf(agentID)); err != nil {
			return "", fmt.Errorf("failed to update stats for %s: %w", agentID, err)
		}
	}

	verdict := convo.FinalVerdict()
	now := s.now()

	var matchID string
	if verdict == domain.VerdictMatch {
		match := &domain.Match{
			MatchID:   uuid.New().String(),
			Agent1:    convo.Agent1,
			Agent2:    convo.Agent2,
			ConvoID:   convo.ConvoID,
			CreatedAt: now,
		}
		if err := s.store.CreateMatch(ctx, match); err != nil {
			return "", fmt.Errorf("failed to create match: %w", err)
		}
		matchID = match.MatchID
	}

	names := s.participantNames(ctx, convo)
	entry := &domain.FeedEntry{
		FeedID:     uuid.New().String(),
		ConvoID:    convo.ConvoID,
		AgentIDs:   []string{convo.Agent1, convo.Agent2},
		AgentNames: []string{names[convo.Agent1], names[convo.Agent2]},
		Messages:   feedLines(convo, names),
		Verdict:    verdict,
		CreatedAt:  now,
	}
	if err := s.store.CreateFeedEntry(ctx, entry); err != nil {
		return matchID, fmt.Errorf("failed to create feed entry: %w", err)
	}

	s.recordEvent(ctx, convo.ConvoID, "", domain.EventTypeConvoCompleted, domain.ConvoCompletedPayload{
		Verdict:  verdict,
		Verdict1: convo.Verdict1,
		Verdict2: convo.Verdict2,
		MatchID:  matchID,
	})

	if s.index != nil {
		if err := s.index.Index(entry); err != nil {
			log.Printf("WARN: failed to index feed entry %s: %v", entry.FeedID, err)
		}
	}
	if s.notifier != nil {
		s.notifier.Broadcast(entry)
	}

	return matchID, nil
}

// Feed lists recent completed conversations, newest first.
func (s *Service) Feed(ctx context.Context) ([]domain.FeedItem, error) {
	entries, err := s.store.ListFeed(ctx, s.config.FeedLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed: %w", err)
	}
	return feedItems(entries), nil
}

// SearchFeed finds completed conversations whose transcript or agent names
// match query.
func (s *Service) SearchFeed(ctx context.Context, query string) ([]domain.FeedItem, error) {
	if query == "" {
		return nil, domain.NewError(domain.ErrCodeInvalidInput, "q is required")
	}
	if s.index == nil {
		return []domain.FeedItem{}, nil
	}

	convoIDs, err := s.index.Search(query, s.config.FeedLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search feed: %w", err)
	}

	entries := make([]domain.FeedEntry, 0, len(convoIDs))
	for _, id := range convoIDs {
		entry, err := s.store.GetFeedEntryByConvo(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get feed entry: %w", err)
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return feedItems(entries), nil
}

// RebuildIndex loads every stored feed entry into the search index.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	entries, err := s.store.ListFeed(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list feed: %w", err)
	}
	for i := range entries {
		if err := s.index.Index(&entries[i]); err != nil {
			return i, fmt.Errorf("failed to index feed entry %s: %w", entries[i].FeedID, err)
		}
	}
	return len(entries), nil
}

func feedItems(entries []domain.FeedEntry) []domain.FeedItem {
	items := make([]domain.FeedItem, 0, len(entries))
	for i := range entries {
		items = append(items, domain.NewFeedItem(&entries[i]))
	}
	return items
}
