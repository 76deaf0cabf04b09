package domain

import "time"

// Match records a mutual MATCH outcome. Immutable once created.
type Match struct {
	MatchID   string    `json:"match_id"`
	Agent1    string    `json:"agent_1"`
	Agent2    string    `json:"agent_2"`
	ConvoID   string    `json:"convo_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedLine is a transcript line with the speaker's display name.
type FeedLine struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedEntry is the public copy of a completed conversation.
type FeedEntry struct {
	FeedID     string     `json:"id"`
	ConvoID    string     `json:"convo_id"`
	AgentIDs   []string   `json:"agent_ids"`
	AgentNames []string   `json:"agents"`
	Messages   []FeedLine `json:"messages"`
	Verdict    Verdict    `json:"verdict"`
	Likes      int        `json:"likes"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Preview returns the first message text truncated to 100 characters.
func (f *FeedEntry) Preview() string {
	if len(f.Messages) == 0 {
		return ""
	}
	text := []rune(f.Messages[0].Text)
	if len(text) > 100 {
		return string(text[:100]) + "..."
	}
	return string(text)
}

// SiteCounts are aggregate counters for the stats endpoint.
type SiteCounts struct {
	Visits  int64 `json:"site_visits"`
	Agents  int   `json:"total_agents"`
	Convos  int   `json:"total_convos"`
	Matches int   `json:"total_matches"`
}

// FeedItem is a feed entry as listed to spectators.
type FeedItem struct {
	ID        string     `json:"id"`
	ConvoID   string     `json:"convo_id"`
	Agents    []string   `json:"agents"`
	Preview   string     `json:"preview"`
	Messages  []FeedLine `json:"messages"`
	Verdict   Verdict    `json:"verdict"`
	Likes     int        `json:"likes"`
	Timestamp int64      `json:"timestamp"`
}

// NewFeedItem builds the listed form of a feed entry.
func NewFeedItem(f *FeedEntry) FeedItem {
	return FeedItem{
		ID:        f.FeedID,
		ConvoID:   f.ConvoID,
		Agents:    f.AgentNames,
		Preview:   f.Preview(),
		Messages:  f.Messages,
		Verdict:   f.Verdict,
		Likes:     f.Likes,
		Timestamp: f.CreatedAt.UnixMilli(),
	}
}
