package domain

import "encoding/json"

// Event is an audit record of a lifecycle transition.
type Event struct {
	EventID string          `json:"event_id"`
	ConvoID string          `json:"convo_id,omitempty"`
	AgentID string          `json:"agent_id,omitempty"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AgentPairedPayload is the payload for agent_paired event.
type AgentPairedPayload struct {
	Agent1 string `json:"agent_1"`
	Agent2 string `json:"agent_2"`
	Turn   string `json:"turn"`
}

// MessagePostedPayload is the payload for message_posted event.
type MessagePostedPayload struct {
	MessageCount int         `json:"message_count"`
	NextTurn     string      `json:"next_turn"`
	Status       ConvoStatus `json:"status"`
}

// VerdictSubmittedPayload is the payload for verdict_submitted event.
type VerdictSubmittedPayload struct {
	Slot    int     `json:"slot"`
	Verdict Verdict `json:"verdict"`
}

// ConvoCompletedPayload is the payload for convo_completed event.
type ConvoCompletedPayload struct {
	Verdict  Verdict `json:"verdict"`
	Verdict1 Verdict `json:"verdict_1"`
	Verdict2 Verdict `json:"verdict_2"`
	MatchID  string  `json:"match_id,omitempty"`
}

// AgentRecycledPayload is the payload for agent_recycled event.
type AgentRecycledPayload struct {
	Status   AgentStatus `json:"status"`
	NewConvo string      `json:"new_convo,omitempty"`
}
