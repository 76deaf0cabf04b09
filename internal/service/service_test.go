package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/agentmatch/internal/config"
	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/repository"
	"github.com/xiaot623/agentmatch/policy"
	"github.com/xiaot623/agentmatch/tests/helpers"
)

type fakeIndex struct {
	mu      sync.Mutex
	entries []*domain.FeedEntry
}

func (f *fakeIndex) Index(entry *domain.FeedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeIndex) Search(query string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, e := range f.entries {
		for _, m := range e.Messages {
			if strings.Contains(m.Text, query) {
				ids = append(ids, e.ConvoID)
				break
			}
		}
	}
	return ids, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	entries []*domain.FeedEntry
}

func (f *fakeNotifier) Broadcast(entry *domain.FeedEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// flakyStore fails claims on failClaim and every release while failRelease is
// set.
type flakyStore struct {
	repository.Store
	failClaim   string
	failRelease bool
}

var errFlaky = errors.New("store unavailable")

func (f *flakyStore) CompareAndSwapAgent(ctx context.Context, agentID string, guard repository.AgentGuard, update domain.AgentUpdate) (bool, error) {
	if guard.Status == domain.AgentStatusWaiting && agentID == f.failClaim {
		return false, errFlaky
	}
	if guard.Status == domain.AgentStatusPaired && update.Status == domain.AgentStatusWaiting && f.failRelease {
		return false, errFlaky
	}
	return f.Store.CompareAndSwapAgent(ctx, agentID, guard, update)
}

type testEnv struct {
	svc      *Service
	store    repository.Store
	index    *fakeIndex
	notifier *fakeNotifier
}

var testBackends = map[string]func(t *testing.T) repository.Store{
	"sqlite":      func(t *testing.T) repository.Store { return helpers.NewTestSQLiteStore(t) },
	"sqlite-file": func(t *testing.T) repository.Store { return helpers.NewTestSQLiteFileStore(t) },
	"bolt":        func(t *testing.T) repository.Store { return helpers.NewTestBoltStore(t) },
}

func newTestEnv(t *testing.T, store repository.Store, maxMessages int) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.MaxMessages = maxMessages
	cfg.MaxTextLength = 50
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	index := &fakeIndex{}
	notifier := &fakeNotifier{}
	svc := New(store, cfg, policyEngine, index, notifier)

	// Strictly increasing clock so FIFO order follows call order.
	var mu sync.Mutex
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}

	return &testEnv{svc: svc, store: store, index: index, notifier: notifier}
}

func register(t *testing.T, svc *Service, id, contact string) *domain.StatusResponse {
	t.Helper()
	resp, err := svc.Register(context.Background(), domain.RegisterRequest{
		AgentID: id,
		Profile: domain.Profile{Name: "Name " + id, Vibe: "chill", Interests: []string{"go"}, ContactHandle: contact},
	})
	require.NoError(t, err)
	return resp
}

// pairTwo registers a then b and returns the conversation id.
func pairTwo(t *testing.T, env *testEnv) string {
	t.Helper()
	register(t, env.svc, "a", "@human_a")
	resp := register(t, env.svc, "b", "@human_b")
	require.Equal(t, domain.AgentStatusPaired, resp.Status)
	return resp.ConvoID
}

func post(t *testing.T, svc *Service, convoID, agentID, text string) (*domain.PostMessageResponse, error) {
	t.Helper()
	return svc.PostMessage(context.Background(), convoID, domain.PostMessageRequest{AgentID: agentID, Text: text})
}

// fillConversation alternates messages until the cap is reached.
func fillConversation(t *testing.T, env *testEnv, convoID string) {
	t.Helper()
	speakers := []string{"a", "b"}
	for i := 0; i < env.svc.MaxMessages(); i++ {
		_, err := post(t, env.svc, convoID, speakers[i%2], "message")
		require.NoError(t, err)
	}
}

func verdict(svc *Service, convoID, agentID string, v domain.Verdict) (*domain.VerdictResponse, error) {
	return svc.SubmitVerdict(context.Background(), convoID, domain.VerdictRequest{AgentID: agentID, Verdict: v})
}

func TestRegisterQueuesThenPairs(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	ctx := context.Background()

	first := register(t, env.svc, "a", "")
	assert.Equal(t, domain.AgentStatusWaiting, first.Status)
	assert.Equal(t, 1, first.QueuePosition)

	second := register(t, env.svc, "b", "")
	require.Equal(t, domain.AgentStatusPaired, second.Status)
	require.NotEmpty(t, second.ConvoID)
	require.NotNil(t, second.Partner)
	assert.Equal(t, "Name a", second.Partner.Name)
	require.NotNil(t, second.YourTurn)
	assert.False(t, *second.YourTurn)

	convo, err := env.store.GetConversation(ctx, second.ConvoID)
	require.NoError(t, err)
	require.NotNil(t, convo)
	assert.Equal(t, "a", convo.Agent1)
	assert.Equal(t, "b", convo.Agent2)
	assert.Equal(t, "a", convo.Turn)
	assert.Equal(t, domain.ConvoStatusActive, convo.Status)
	assert.Empty(t, convo.Messages)

	for _, id := range []string{"a", "b"} {
		agent, err := env.store.GetAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.AgentStatusPaired, agent.Status)
		assert.Equal(t, second.ConvoID, agent.CurrentConvo)
	}

	events, err := env.store.GetEvents(ctx, second.ConvoID, 0, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeAgentPaired, events[0].Type)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)

	_, err := env.svc.Register(context.Background(), domain.RegisterRequest{AgentID: "a"})
	assert.Equal(t, domain.ErrCodeInvalidInput, domain.CodeOf(err))

	_, err = env.svc.Register(context.Background(), domain.RegisterRequest{Profile: domain.Profile{Name: "x"}})
	assert.Equal(t, domain.ErrCodeInvalidInput, domain.CodeOf(err))
}

func TestReRegisterDoesNotRePair(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	convoID := pairTwo(t, env)

	again := register(t, env.svc, "a", "")
	assert.Equal(t, convoID, again.ConvoID)
	assert.NotEqual(t, domain.AgentStatusWaiting, again.Status)

	third := register(t, env.svc, "c", "")
	assert.Equal(t, domain.AgentStatusWaiting, third.Status)
}

func TestFIFOPairsLongestWaiting(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	ctx := context.Background()

	register(t, env.svc, "a", "")
	// c arrives while a is queued and pairs with a; b arrives later and waits.
	resp := register(t, env.svc, "c", "")
	require.Equal(t, domain.AgentStatusPaired, resp.Status)
	register(t, env.svc, "b", "")
	register(t, env.svc, "d", "")

	convo, err := env.store.GetConversation(ctx, resp.ConvoID)
	require.NoError(t, err)
	assert.Equal(t, "a", convo.Agent1)

	d, err := env.store.GetAgent(ctx, "d")
	require.NoError(t, err)
	dConvo, err := env.store.GetConversation(ctx, d.CurrentConvo)
	require.NoError(t, err)
	require.NotNil(t, dConvo)
	assert.Equal(t, "b", dConvo.Agent1, "b waited longer than d")
}

func TestPostMessageTurnAlternation(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	ctx := context.Background()
	convoID := pairTwo(t, env)

	resp, err := post(t, env.svc, convoID, "a", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.MessageCount)
	assert.Equal(t, 4, resp.MaxMessages)
	assert.Equal(t, domain.ConvoStatusActive, resp.Status)

	_, err = post(t, env.svc, convoID, "a", "again")
	assert.ErrorIs(t, err, domain.ErrOutOfTurn)

	convo, err := env.store.GetConversation(ctx, convoID)
	require.NoError(t, err)
	assert.Equal(t, "b", convo.Turn)
	assert.Len(t, convo.Messages, 1)

	b, err := env.store.GetAgent(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusInConvo, b.Status)

	_, err = post(t, env.svc, convoID, "b", "hey")
	require.NoError(t, err)
}

func TestPostMessageErrors(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	convoID := pairTwo(t, env)
	register(t, env.svc, "c", "")

	tests := []struct {
		name    string
		convoID string
		agentID string
		text    string
		code    domain.ErrorCode
	}{
		{"missing agent id", convoID, "", "hi", domain.ErrCodeInvalidInput},
		{"unknown conversation", "nope", "a", "hi", domain.ErrCodeNotFound},
		{"unknown agent", convoID, "ghost", "hi", domain.ErrCodeNotFound},
		{"not a participant", convoID, "c", "hi", domain.ErrCodeForbidden},
		{"out of turn", convoID, "b", "hi", domain.ErrCodeOutOfTurn},
		{"blank text", convoID, "a", "   ", domain.ErrCodeInvalidInput},
		{"text too long", convoID, "a", strings.Repeat("x", 51), domain.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := post(t, env.svc, tt.convoID, tt.agentID, tt.text)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.CodeOf(err))
		})
	}
}

func TestCapMovesToPendingVerdict(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	ctx := context.Background()
	convoID := pairTwo(t, env)

	for i, speaker := range []string{"a", "b", "a"} {
		resp, err := post(t, env.svc, convoID, speaker, "msg")
		require.NoError(t, err)
		assert.Equal(t, i+1, resp.MessageCount)
		assert.Equal(t, domain.ConvoStatusActive, resp.Status)
	}
	last, err := post(t, env.svc, convoID, "b", "last")
	require.NoError(t, err)
	assert.Equal(t, 4, last.MessageCount)
	assert.Equal(t, domain.ConvoStatusPendingVerdict, last.Status)
	assert.NotEmpty(t, last.Message)

	convo, err := env.store.GetConversation(ctx, convoID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConvoStatusPendingVerdict, convo.Status)
	assert.Len(t, convo.Messages, 4)

	for _, id := range []string{"a", "b"} {
		agent, err := env.store.GetAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.AgentStatusPendingVerdict, agent.Status)
	}

	_, err = post(t, env.svc, convoID, "a", "more")
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

func TestMutualMatch(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	fillConversation(t, env, convoID)

	first, err := verdict(env.svc, convoID, "a", domain.VerdictMatch)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, first.Status)

	convo, err := env.store.GetConversation(ctx, convoID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConvoStatusPendingVerdict, convo.Status)

	second, err := verdict(env.svc, convoID, "b", domain.VerdictMatch)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeMatched, second.Status)
	assert.NotEmpty(t, second.MatchID)
	assert.Equal(t, "@human_b", second.YourHuman)
	assert.Equal(t, "@human_a", second.TheirHuman)

	convo, err = env.store.GetConversation(ctx, convoID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConvoStatusComplete, convo.Status)
	assert.NotNil(t, convo.CompletedAt)

	match, err := env.store.GetMatchByConvo(ctx, convoID)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, second.MatchID, match.MatchID)
	assert.Equal(t, "a", match.Agent1)
	assert.Equal(t, "b", match.Agent2)

	entry, err := env.store.GetFeedEntryByConvo(ctx, convoID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.VerdictMatch, entry.Verdict)
	assert.Equal(t, []string{"Name a", "Name b"}, entry.AgentNames)
	assert.Equal(t, "Name a", entry.Messages[0].From)

	for _, id := range []string{"a", "b"} {
		agent, err := env.store.GetAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.AgentStats{Convos: 1, Matches: 1}, agent.Stats)
		assert.NotEqual(t, convoID, agent.CurrentConvo, "agent must not point at a complete conversation")
	}

	assert.Equal(t, 1, env.notifier.count())
	assert.Len(t, env.index.entries, 1)
}

func TestSplitVerdictIsNoMatch(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	fillConversation(t, env, convoID)

	_, err := verdict(env.svc, convoID, "a", domain.VerdictMatch)
	require.NoError(t, err)
	resp, err := verdict(env.svc, convoID, "b", domain.VerdictPass)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoMatch, resp.Status)
	assert.Empty(t, resp.MatchID)

	match, err := env.store.GetMatchByConvo(ctx, convoID)
	require.NoError(t, err)
	assert.Nil(t, match)

	entry, err := env.store.GetFeedEntryByConvo(ctx, convoID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.VerdictPass, entry.Verdict)

	a, err := env.store.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStats{Convos: 1, Matches: 1}, a.Stats)
	b, err := env.store.GetAgent(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStats{Convos: 1, Passes: 1}, b.Stats)
}

func TestRecycledAgentsRejoinQueue(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	fillConversation(t, env, convoID)

	// c is waiting, so the first recycled agent pairs with c.
	register(t, env.svc, "c", "")

	_, err := verdict(env.svc, convoID, "a", domain.VerdictPass)
	require.NoError(t, err)
	_, err = verdict(env.svc, convoID, "b", domain.VerdictPass)
	require.NoError(t, err)

	a, err := env.store.GetAgent(ctx, "a")
	require.NoError(t, err)
	c, err := env.store.GetAgent(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusPaired, a.Status)
	assert.Equal(t, a.CurrentConvo, c.CurrentConvo)

	newConvo, err := env.store.GetConversation(ctx, a.CurrentConvo)
	require.NoError(t, err)
	require.NotNil(t, newConvo)
	assert.Equal(t, "c", newConvo.Agent1, "the waiting agent speaks first")

	b, err := env.store.GetAgent(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusWaiting, b.Status)
	assert.Empty(t, b.CurrentConvo)

	events, err := env.store.GetEvents(ctx, convoID, 0, []string{string(domain.EventTypeAgentRecycled)}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestVerdictErrors(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	register(t, env.svc, "c", "")

	_, err := verdict(env.svc, convoID, "a", "MAYBE")
	assert.ErrorIs(t, err, domain.ErrInvalidVerdict)

	_, err = verdict(env.svc, "nope", "a", domain.VerdictMatch)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))

	_, err = verdict(env.svc, convoID, "a", domain.VerdictMatch)
	assert.Equal(t, domain.ErrCodeNotActive, domain.CodeOf(err), "verdicts wait for the cap")

	fillConversation(t, env, convoID)

	_, err = verdict(env.svc, convoID, "c", domain.VerdictMatch)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = verdict(env.svc, convoID, "a", domain.VerdictMatch)
	require.NoError(t, err)
	_, err = verdict(env.svc, convoID, "a", domain.VerdictPass)
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)

	convo, err := env.store.GetConversation(ctx, convoID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictMatch, convo.Verdict1)

	_, err = verdict(env.svc, convoID, "b", domain.VerdictMatch)
	require.NoError(t, err)
	_, err = verdict(env.svc, convoID, "b", domain.VerdictMatch)
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)

	a, err := env.store.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Stats.Convos, "duplicate verdicts do not touch stats")
	feed, err := env.store.ListFeed(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestPollStatus(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()

	_, err := env.svc.PollStatus(ctx, "ghost")
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))

	register(t, env.svc, "a", "")
	resp, err := env.svc.PollStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusWaiting, resp.Status)
	assert.Equal(t, 1, resp.QueuePosition)

	register(t, env.svc, "b", "")
	resp, err = env.svc.PollStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusInConvo, resp.Status)
	require.NotNil(t, resp.YourTurn)
	assert.True(t, *resp.YourTurn)
	require.NotNil(t, resp.MessageCount)
	assert.Equal(t, 0, *resp.MessageCount)
	assert.Equal(t, "Name b", resp.Partner.Name)

	a, err := env.store.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusInConvo, a.Status)

	fillConversation(t, env, resp.ConvoID)
	resp, err = env.svc.PollStatus(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusPendingVerdict, resp.Status)
	assert.NotEmpty(t, resp.Message)
}

func TestDescribeFor(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	register(t, env.svc, "c", "")

	_, err := post(t, env.svc, convoID, "a", "hi b")
	require.NoError(t, err)

	view, err := env.svc.DescribeFor(ctx, convoID, "b")
	require.NoError(t, err)
	assert.Equal(t, "Name a", view.Partner.Name)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "partner", view.Messages[0].From)
	assert.True(t, view.YourTurn)
	assert.Equal(t, 1, view.MessageCount)
	assert.Equal(t, 4, view.MaxMessages)

	view, err = env.svc.DescribeFor(ctx, convoID, "a")
	require.NoError(t, err)
	assert.Equal(t, "you", view.Messages[0].From)
	assert.False(t, view.YourTurn)

	_, err = env.svc.DescribeFor(ctx, convoID, "c")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestPublicConversation(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	fillConversation(t, env, convoID)

	_, err := env.svc.PublicConversation(ctx, convoID)
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err), "unfinished conversations are private")

	_, err = verdict(env.svc, convoID, "a", domain.VerdictMatch)
	require.NoError(t, err)
	_, err = verdict(env.svc, convoID, "b", domain.VerdictMatch)
	require.NoError(t, err)

	pub, err := env.svc.PublicConversation(ctx, convoID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictMatch, pub.Verdict)
	assert.Equal(t, []string{"Name a", "Name b"}, pub.Agents)
	assert.Len(t, pub.Messages, 2)
}

func TestFeedAndSearch(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	_, err := post(t, env.svc, convoID, "a", "do you like sailing")
	require.NoError(t, err)
	_, err = post(t, env.svc, convoID, "b", "only on weekends")
	require.NoError(t, err)
	_, err = verdict(env.svc, convoID, "a", domain.VerdictPass)
	require.NoError(t, err)
	_, err = verdict(env.svc, convoID, "b", domain.VerdictPass)
	require.NoError(t, err)

	feed, err := env.svc.Feed(ctx)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "do you like sailing", feed[0].Preview)

	hits, err := env.svc.SearchFeed(ctx, "sailing")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, convoID, hits[0].ConvoID)

	_, err = env.svc.SearchFeed(ctx, "")
	assert.Equal(t, domain.ErrCodeInvalidInput, domain.CodeOf(err))
}

func TestActiveConversations(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	convoID := pairTwo(t, env)
	_, err := post(t, env.svc, convoID, "a", "hello")
	require.NoError(t, err)

	active, err := env.svc.ActiveConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"Name a", "Name b"}, active[0].Agents)
	assert.Equal(t, "b", active[0].Turn)
	assert.Equal(t, 1, active[0].MessageCount)
}

func TestConcurrentRegistrationNeverDoublePairs(t *testing.T) {
	for name, newStore := range testBackends {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, newStore(t), 4)
			ctx := context.Background()

			const n = 24
			ids := make([]string, n)
			for i := range ids {
				ids[i] = "agent-" + string(rune('a'+i))
			}

			var wg sync.WaitGroup
			for _, id := range ids {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					_, err := env.svc.Register(ctx, domain.RegisterRequest{AgentID: id, Profile: domain.Profile{Name: id}})
					assert.NoError(t, err)
				}(id)
			}
			wg.Wait()

			convos, err := env.store.ListConversations(ctx, nil, 0)
			require.NoError(t, err)

			seen := map[string]string{}
			for _, c := range convos {
				assert.NotEqual(t, c.Agent1, c.Agent2)
				for _, id := range []string{c.Agent1, c.Agent2} {
					prev, dup := seen[id]
					assert.False(t, dup, "agent %s in %s and %s", id, prev, c.ConvoID)
					seen[id] = c.ConvoID
				}
			}

			waiting := 0
			for _, id := range ids {
				agent, err := env.store.GetAgent(ctx, id)
				require.NoError(t, err)
				if agent.Status == domain.AgentStatusWaiting {
					waiting++
					assert.Empty(t, agent.CurrentConvo)
					continue
				}
				assert.Equal(t, seen[id], agent.CurrentConvo, "agent %s points at its conversation", id)
			}
			assert.Equal(t, n, 2*len(convos)+waiting)
		})
	}
}

func TestConcurrentVerdictsCompleteOnce(t *testing.T) {
	for name, newStore := range testBackends {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				env := newTestEnv(t, newStore(t), 2)
				ctx := context.Background()
				convoID := pairTwo(t, env)
				fillConversation(t, env, convoID)

				var wg sync.WaitGroup
				results := make([]*domain.VerdictResponse, 2)
				for j, id := range []string{"a", "b"} {
					wg.Add(1)
					go func(j int, id string) {
						defer wg.Done()
						resp, err := verdict(env.svc, convoID, id, domain.VerdictMatch)
						assert.NoError(t, err)
						results[j] = resp
					}(j, id)
				}
				wg.Wait()

				matched := 0
				for _, r := range results {
					if r != nil && r.Status == domain.OutcomeMatched {
						matched++
					}
				}
				assert.GreaterOrEqual(t, matched, 1)

				feed, err := env.store.ListFeed(ctx, 0)
				require.NoError(t, err)
				assert.Len(t, feed, 1)
				assert.Equal(t, 1, env.notifier.count())

				for _, id := range []string{"a", "b"} {
					agent, err := env.store.GetAgent(ctx, id)
					require.NoError(t, err)
					assert.Equal(t, 1, agent.Stats.Convos)
					assert.NotEqual(t, convoID, agent.CurrentConvo)
				}
			}
		})
	}
}

func TestLeaderboardAndCounters(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	ctx := context.Background()
	convoID := pairTwo(t, env)
	fillConversation(t, env, convoID)
	_, err := verdict(env.svc, convoID, "a", domain.VerdictMatch)
	require.NoError(t, err)
	_, err = verdict(env.svc, convoID, "b", domain.VerdictPass)
	require.NoError(t, err)

	board, err := env.svc.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, domain.DefaultScore, board[0].Score)
	assert.Equal(t, "Mid", board[0].Title)
	assert.Equal(t, "a", board[0].AgentID, "ties break on matches")
	assert.Equal(t, 100.0, board[0].MatchRate)
	assert.Equal(t, 0.0, board[1].MatchRate)

	v, err := env.svc.TrackVisit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	counts, err := env.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Visits)
	assert.Equal(t, 2, counts.Agents)
	assert.Equal(t, 0, counts.Matches)
	assert.GreaterOrEqual(t, counts.Convos, 1)
}

func TestRizzTitle(t *testing.T) {
	tests := []struct {
		score int
		title string
	}{
		{100, "Rizz God"},
		{91, "Rizz God"},
		{90, "Certified Rizz"},
		{76, "Certified Rizz"},
		{61, "Got Game"},
		{50, "Mid"},
		{41, "Mid"},
		{21, "Needs Work"},
		{20, "Down Bad"},
		{0, "Down Bad"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.title, RizzTitle(tt.score), "score %d", tt.score)
	}
}

func TestFanOutSkipsNil(t *testing.T) {
	a, b := &fakeNotifier{}, &fakeNotifier{}
	n := FanOut(a, nil, b)
	n.Broadcast(&domain.FeedEntry{ConvoID: "c1"})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	FanOut().Broadcast(&domain.FeedEntry{ConvoID: "c2"})
}

func TestFailedSetupIsRecoveredOnPoll(t *testing.T) {
	for name, newStore := range testBackends {
		t.Run(name, func(t *testing.T) {
			store := &flakyStore{Store: newStore(t)}
			env := newTestEnv(t, store, 4)
			ctx := context.Background()

			register(t, env.svc, "a", "@human_a")

			store.failClaim = "b"
			store.failRelease = true
			_, err := env.svc.Register(ctx, domain.RegisterRequest{AgentID: "b", Profile: domain.Profile{Name: "Name b"}})
			require.ErrorIs(t, err, errFlaky)

			stuck, err := store.GetAgent(ctx, "a")
			require.NoError(t, err)
			require.Equal(t, domain.AgentStatusPaired, stuck.Status)
			convo, err := store.GetConversation(ctx, stuck.CurrentConvo)
			require.NoError(t, err)
			require.Nil(t, convo)

			store.failClaim = ""
			store.failRelease = false
			resp, err := env.svc.PollStatus(ctx, "a")
			require.NoError(t, err)
			assert.NotEqual(t, msgSettingUp, resp.Message)
			assert.Equal(t, domain.AgentStatusPaired, resp.Status)
			require.NotEmpty(t, resp.ConvoID)
			assert.NotEqual(t, stuck.CurrentConvo, resp.ConvoID)

			convo, err = store.GetConversation(ctx, resp.ConvoID)
			require.NoError(t, err)
			require.NotNil(t, convo)
			assert.ElementsMatch(t, []string{"a", "b"}, []string{convo.Agent1, convo.Agent2})

			b, err := store.GetAgent(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, resp.ConvoID, b.CurrentConvo)
		})
	}
}

func TestPollDuringSetupWaits(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 4)
	ctx := context.Background()
	register(t, env.svc, "a", "")

	ok, err := env.store.CompareAndSwapAgent(ctx, "a",
		repository.AgentGuard{Status: domain.AgentStatusWaiting},
		domain.AgentUpdate{Status: domain.AgentStatusPaired, CurrentConvo: "in-flight"})
	require.NoError(t, err)
	require.True(t, ok)

	env.svc.beginSetup("in-flight")
	resp, err := env.svc.PollStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, msgSettingUp, resp.Message)
	assert.Equal(t, "in-flight", resp.ConvoID)

	agent, err := env.store.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusPaired, agent.Status)

	env.svc.endSetup("in-flight")
	resp, err = env.svc.PollStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusWaiting, resp.Status)
	assert.Empty(t, resp.ConvoID)
}

func TestReRegisterKeepsContactHandle(t *testing.T) {
	env := newTestEnv(t, helpers.NewTestSQLiteStore(t), 2)
	convoID := pairTwo(t, env)

	register(t, env.svc, "a", "")
	fillConversation(t, env, convoID)

	_, err := verdict(env.svc, convoID, "a", domain.VerdictMatch)
	require.NoError(t, err)
	resp, err := verdict(env.svc, convoID, "b", domain.VerdictMatch)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeMatched, resp.Status)
	assert.Equal(t, "@human_a", resp.TheirHuman)
}
