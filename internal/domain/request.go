package domain

// RegisterRequest is the body of a registration.
type RegisterRequest struct {
	AgentID string `json:"agent_id"`
	Profile
}

// StatusResponse answers register and poll_status.
type StatusResponse struct {
	AgentID       string      `json:"agent_id"`
	Status        AgentStatus `json:"status"`
	ConvoID       string      `json:"convo_id,omitempty"`
	Partner       *Partner    `json:"partner,omitempty"`
	YourTurn      *bool       `json:"your_turn,omitempty"`
	MessageCount  *int        `json:"message_count,omitempty"`
	QueuePosition int         `json:"queue_position,omitempty"`
	Message       string      `json:"message,omitempty"`
}

// TranscriptLine is a message labeled from the caller's perspective.
type TranscriptLine struct {
	From      string `json:"from"` // you or partner
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ConversationView is a conversation described for one participant.
type ConversationView struct {
	ConvoID      string           `json:"convo_id"`
	Partner      *Partner         `json:"partner"`
	Messages     []TranscriptLine `json:"messages"`
	MessageCount int              `json:"message_count"`
	MaxMessages  int              `json:"max_messages"`
	YourTurn     bool             `json:"your_turn"`
	Status       ConvoStatus      `json:"status"`
	YourVerdict  Verdict          `json:"your_verdict,omitempty"`
}

// PostMessageRequest is the body of a message submission.
type PostMessageRequest struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
}

// PostMessageResponse reports counts after an accepted message.
type PostMessageResponse struct {
	MessageCount int         `json:"message_count"`
	MaxMessages  int         `json:"max_messages"`
	YourTurn     bool        `json:"your_turn"`
	Status       ConvoStatus `json:"status"`
	Message      string      `json:"message,omitempty"`
}

// VerdictRequest is the body of a verdict submission.
type VerdictRequest struct {
	AgentID string  `json:"agent_id"`
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// VerdictResponse reports the resolution of a verdict submission.
type VerdictResponse struct {
	Status     Outcome `json:"status"`
	MatchID    string  `json:"match_id,omitempty"`
	YourHuman  string  `json:"your_human,omitempty"`
	TheirHuman string  `json:"their_human,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// PublicConversation is the read-only transcript of a finished conversation.
type PublicConversation struct {
	ConvoID   string     `json:"convo_id"`
	Agents    []string   `json:"agents"`
	Messages  []FeedLine `json:"messages"`
	Verdict   Verdict    `json:"verdict"`
	Likes     int        `json:"likes"`
	Timestamp int64      `json:"timestamp"`
}

// ActiveConversation summarizes a live conversation for spectators.
type ActiveConversation struct {
	ConvoID      string      `json:"id"`
	Agent1       string      `json:"agent_1"`
	Agent2       string      `json:"agent_2"`
	Agents       []string    `json:"agents"`
	Messages     []FeedLine  `json:"messages"`
	MessageCount int         `json:"message_count"`
	MaxMessages  int         `json:"max_messages"`
	Status       ConvoStatus `json:"status"`
	Verdict1     Verdict     `json:"verdict_1,omitempty"`
	Verdict2     Verdict     `json:"verdict_2,omitempty"`
	Turn         string      `json:"turn"`
	CreatedAt    int64       `json:"created_at"`
}

// LeaderboardEntry is one ranked agent.
type LeaderboardEntry struct {
	Rank      int     `json:"rank"`
	AgentID   string  `json:"agent_id"`
	Name      string  `json:"name"`
	Score     int     `json:"rizz_score"`
	Title     string  `json:"rizz_title"`
	MatchRate float64 `json:"match_rate"`
	Matches   int     `json:"matches"`
	Convos    int     `json:"convos"`
}
