package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/agentmatch/internal/domain"
)

func newEntry(convoID string, verdict domain.Verdict, names []string, texts ...string) *domain.FeedEntry {
	lines := make([]domain.FeedLine, 0, len(texts))
	for i, text := range texts {
		lines = append(lines, domain.FeedLine{From: names[i%2], Text: text})
	}
	return &domain.FeedEntry{
		FeedID:     "feed-" + convoID,
		ConvoID:    convoID,
		AgentNames: names,
		Messages:   lines,
		Verdict:    verdict,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestFeedIndexSearch(t *testing.T) {
	idx, err := NewFeedIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	require.NoError(t, idx.Index(newEntry("c1", domain.VerdictMatch, []string{"Ada", "Grace"},
		"do you enjoy sailing", "only when the wind is calm")))
	require.NoError(t, idx.Index(newEntry("c2", domain.VerdictPass, []string{"Linus", "Ken"},
		"tabs or spaces", "tabs, obviously")))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	ids, err := idx.Search("sailing", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	ids, err = idx.Search("Linus", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)

	ids, err = idx.Search("nothing-matches-this", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFeedIndexVerdictFilter(t *testing.T) {
	idx, err := NewFeedIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	require.NoError(t, idx.Index(newEntry("c1", domain.VerdictMatch, []string{"A", "B"}, "coffee later")))
	require.NoError(t, idx.Index(newEntry("c2", domain.VerdictPass, []string{"C", "D"}, "coffee never")))

	ids, err := idx.Search("coffee verdict:match", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	ids, err = idx.Search("verdict:PASS", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)
}

func TestFeedIndexReplacesByConversation(t *testing.T) {
	idx, err := NewFeedIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	entry := newEntry("c1", domain.VerdictPass, []string{"A", "B"}, "first draft")
	require.NoError(t, idx.Index(entry))
	require.NoError(t, idx.Index(entry))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}
