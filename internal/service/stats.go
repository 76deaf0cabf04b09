package service

import (
	"context"
	"fmt"
	"math"

	"github.com/xiaot623/agentmatch/internal/domain"
)

const leaderboardSize = 10

// RizzTitle maps a score to its display title.
func RizzTitle(score int) string {
	switch {
	case score >= 91:
		return "Rizz God"
	case score >= 76:
		return "Certified Rizz"
	case score >= 61:
		return "Got Game"
	case score >= 41:
		return "Mid"
	case score >= 21:
		return "Needs Work"
	default:
		return "Down Bad"
	}
}

// Leaderboard ranks the top agents by score.
func (s *Service) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	agents, err := s.store.ListLeaderboard(ctx, leaderboardSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(agents))
	for i := range agents {
		a := &agents[i]
		score := a.ScoreOrDefault()
		rate := 0.0
		if a.Stats.Convos > 0 {
			rate = math.Round(float64(a.Stats.Matches)/float64(a.Stats.Convos)*1000) / 10
		}
		name := a.Name
		if name == "" {
			name = "Unknown"
		}
		entries = append(entries, domain.LeaderboardEntry{
			Rank:      i + 1,
			AgentID:   a.AgentID,
			Name:      name,
			Score:     score,
			Title:     RizzTitle(score),
			MatchRate: rate,
			Matches:   a.Stats.Matches,
			Convos:    a.Stats.Convos,
		})
	}
	return entries, nil
}

// TrackVisit increments the site visit counter.
func (s *Service) TrackVisit(ctx context.Context) (int64, error) {
	visits, err := s.store.IncrementVisits(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to track visit: %w", err)
	}
	return visits, nil
}

// Stats returns the aggregate site counters.
func (s *Service) Stats(ctx context.Context) (*domain.SiteCounts, error) {
	counts, err := s.store.GetCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get counts: %w", err)
	}
	return counts, nil
}
