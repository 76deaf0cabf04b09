package service

import (
	"sync"
	"time"

	"github.com/xiaot623/agentmatch/internal/config"
	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/repository"
	"github.com/xiaot623/agentmatch/policy"
)

// FeedIndex makes completed conversations searchable.
type FeedIndex interface {
	Index(entry *domain.FeedEntry) error
	Search(query string, limit int) ([]string, error)
}

// FeedNotifier pushes completed conversations to spectators.
type FeedNotifier interface {
	Broadcast(entry *domain.FeedEntry)
}

type notifiers []FeedNotifier

func (ns notifiers) Broadcast(entry *domain.FeedEntry) {
	for _, n := range ns {
		n.Broadcast(entry)
	}
}

// FanOut combines notifiers into one, skipping nil ones.
func FanOut(ns ...FeedNotifier) FeedNotifier {
	var out notifiers
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

type Service struct {
	store        repository.Store
	config       *config.Config
	policyEngine *policy.Engine
	index        FeedIndex
	notifier     FeedNotifier
	now          func() time.Time

	// Conversations whose participants are claimed but not yet inserted.
	setupMu sync.Mutex
	setups  map[string]struct{}
}

// New creates the matchmaker service. index and notifier may be nil.
func New(store repository.Store, cfg *config.Config, policyEngine *policy.Engine, index FeedIndex, notifier FeedNotifier) *Service {
	return &Service{
		store:        store,
		config:       cfg,
		policyEngine: policyEngine,
		index:        index,
		notifier:     notifier,
		now:          func() time.Time { return time.Now().UTC() },
		setups:       make(map[string]struct{}),
	}
}

// MaxMessages is the per-conversation message cap.
func (s *Service) MaxMessages() int {
	return s.config.MaxMessages
}
