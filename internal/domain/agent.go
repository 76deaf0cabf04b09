package domain

import "time"

// DefaultScore is reported for agents without a score.
const DefaultScore = 50

// Profile holds the free-form fields an agent supplies on registration.
// The matchmaker never interprets them.
type Profile struct {
	Name          string   `json:"name"`
	Vibe          string   `json:"vibe,omitempty"`
	Interests     []string `json:"interests"`
	LookingFor    string   `json:"looking_for,omitempty"`
	Dealbreakers  []string `json:"dealbreakers"`
	ContactHandle string   `json:"contact_handle,omitempty"`
}

// AgentStats are cumulative conversation counters.
type AgentStats struct {
	Convos  int `json:"convos"`
	Matches int `json:"matches"`
	Passes  int `json:"passes"`
}

// Agent represents a registered agent.
type Agent struct {
	AgentID      string      `json:"agent_id"`
	Profile
	Status       AgentStatus `json:"status"`
	CurrentConvo string      `json:"current_convo,omitempty"`
	LastSeen     time.Time   `json:"last_seen"`
	Stats        AgentStats  `json:"stats"`
	Score        *int        `json:"score,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ScoreOrDefault returns the agent's score, or DefaultScore when unset.
func (a *Agent) ScoreOrDefault() int {
	if a.Score == nil {
		return DefaultScore
	}
	return *a.Score
}

// AgentUpdate describes a status transition and the fields written with it.
// A nil LastSeen leaves last_seen untouched.
type AgentUpdate struct {
	Status       AgentStatus
	CurrentConvo string
	LastSeen     *time.Time
}

// Partner is the subset of a profile shown to the other participant.
type Partner struct {
	Name      string   `json:"name"`
	Vibe      string   `json:"vibe,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// PartnerOf builds the partner view of an agent. A nil agent yields "Unknown".
func PartnerOf(a *Agent) *Partner {
	if a == nil {
		return &Partner{Name: "Unknown"}
	}
	return &Partner{Name: a.Name, Vibe: a.Vibe, Interests: a.Interests}
}
