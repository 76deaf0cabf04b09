// Package repository defines the storage interface and implementations.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/agentmatch/internal/domain"
)

// AgentGuard is the precondition of a conditional agent update.
// Empty fields match any stored value.
type AgentGuard struct {
	Status  domain.AgentStatus
	ConvoID string
}

// Store defines the interface for data persistence.
//
// Get methods return nil, nil when the row does not exist. Methods returning
// (bool, error) are single-row conditional updates: false means the
// precondition no longer held and nothing was written.
type Store interface {
	// Agent operations
	UpsertAgent(ctx context.Context, agentID string, profile domain.Profile, now time.Time) (bool, error)
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	UpdateAgent(ctx context.Context, agentID string, update domain.AgentUpdate) error
	CompareAndSwapAgent(ctx context.Context, agentID string, guard AgentGuard, update domain.AgentUpdate) (bool, error)
	TouchAgent(ctx context.Context, agentID string, now time.Time) error
	PickOldestWaiting(ctx context.Context, excluding string) (*domain.Agent, error)
	CountWaiting(ctx context.Context) (int, error)
	IncrementAgentStats(ctx context.Context, agentID string, verdict domain.Verdict) error
	ListLeaderboard(ctx context.Context, limit int) ([]domain.Agent, error)

	// Conversation operations
	CreateConversation(ctx context.Context, convo *domain.Conversation) error
	GetConversation(ctx context.Context, convoID string) (*domain.Conversation, error)
	AppendMessage(ctx context.Context, convoID string, msg domain.Message, nextTurn string, maxMessages int) (bool, error)
	SetVerdict(ctx context.Context, convoID string, slot int, verdict domain.Verdict) (bool, error)
	CompleteConversation(ctx context.Context, convoID string, completedAt time.Time) (bool, error)
	ListConversations(ctx context.Context, statuses []domain.ConvoStatus, limit int) ([]domain.Conversation, error)

	// Match and feed operations
	CreateMatch(ctx context.Context, match *domain.Match) error
	GetMatchByConvo(ctx context.Context, convoID string) (*domain.Match, error)
	CreateFeedEntry(ctx context.Context, entry *domain.FeedEntry) error
	GetFeedEntryByConvo(ctx context.Context, convoID string) (*domain.FeedEntry, error)
	ListFeed(ctx context.Context, limit int) ([]domain.FeedEntry, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, convoID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Site counters
	IncrementVisits(ctx context.Context) (int64, error)
	GetCounts(ctx context.Context) (*domain.SiteCounts, error)

	// Lifecycle
	Close() error
}
