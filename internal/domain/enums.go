// Package domain defines the core domain models for the matchmaker.
package domain

// AgentStatus represents where an agent is in the pairing lifecycle.
type AgentStatus string

const (
	AgentStatusWaiting        AgentStatus = "waiting"
	AgentStatusPaired         AgentStatus = "paired"
	AgentStatusInConvo        AgentStatus = "in_convo"
	AgentStatusPendingVerdict AgentStatus = "pending_verdict"
)

// Engaged reports whether the status requires a current conversation.
func (s AgentStatus) Engaged() bool {
	switch s {
	case AgentStatusPaired, AgentStatusInConvo, AgentStatusPendingVerdict:
		return true
	default:
		return false
	}
}

// ConvoStatus represents the status of a conversation.
// Transitions only move forward: active -> pending_verdict -> complete.
type ConvoStatus string

const (
	ConvoStatusActive         ConvoStatus = "active"
	ConvoStatusPendingVerdict ConvoStatus = "pending_verdict"
	ConvoStatusComplete       ConvoStatus = "complete"
)

// Verdict is an agent's decision about its partner.
type Verdict string

const (
	VerdictMatch Verdict = "MATCH"
	VerdictPass  Verdict = "PASS"
)

// Valid reports whether v is MATCH or PASS.
func (v Verdict) Valid() bool {
	return v == VerdictMatch || v == VerdictPass
}

// Outcome is returned to the caller of a verdict submission.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeMatched Outcome = "matched"
	OutcomeNoMatch Outcome = "no_match"
)

// EventType represents the type of a lifecycle event.
type EventType string

const (
	EventTypeAgentRegistered  EventType = "agent_registered"
	EventTypeAgentPaired      EventType = "agent_paired"
	EventTypeMessagePosted    EventType = "message_posted"
	EventTypeVerdictSubmitted EventType = "verdict_submitted"
	EventTypeConvoCompleted   EventType = "convo_completed"
	EventTypeAgentRecycled    EventType = "agent_recycled"
)
