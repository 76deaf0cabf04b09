package domain

import "time"

// Message is a single turn in a conversation.
type Message struct {
	FromAgent string    `json:"from_agent"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is one bounded, turn-alternating exchange between two agents.
// agent_1 is the longer-waiting agent and speaks first.
type Conversation struct {
	ConvoID     string      `json:"convo_id"`
	Agent1      string      `json:"agent_1"`
	Agent2      string      `json:"agent_2"`
	Turn        string      `json:"turn"`
	Status      ConvoStatus `json:"status"`
	Messages    []Message   `json:"messages"`
	Verdict1    Verdict     `json:"verdict_1,omitempty"`
	Verdict2    Verdict     `json:"verdict_2,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// HasParticipant reports whether agentID is agent_1 or agent_2.
func (c *Conversation) HasParticipant(agentID string) bool {
	return agentID != "" && (c.Agent1 == agentID || c.Agent2 == agentID)
}

// Other returns the participant that is not agentID.
func (c *Conversation) Other(agentID string) string {
	if c.Agent1 == agentID {
		return c.Agent2
	}
	return c.Agent1
}

// VerdictOf returns the verdict slot belonging to agentID.
func (c *Conversation) VerdictOf(agentID string) Verdict {
	if c.Agent1 == agentID {
		return c.Verdict1
	}
	return c.Verdict2
}

// Slot returns 1 for agent_1 and 2 for agent_2.
func (c *Conversation) Slot(agentID string) int {
	if c.Agent1 == agentID {
		return 1
	}
	return 2
}

// BothVerdicts reports whether both verdict slots are filled.
func (c *Conversation) BothVerdicts() bool {
	return c.Verdict1 != "" && c.Verdict2 != ""
}

// FinalVerdict is MATCH only when both slots are MATCH, otherwise PASS.
// It returns "" while either slot is empty.
func (c *Conversation) FinalVerdict() Verdict {
	if !c.BothVerdicts() {
		return ""
	}
	if c.Verdict1 == VerdictMatch && c.Verdict2 == VerdictMatch {
		return VerdictMatch
	}
	return VerdictPass
}
