package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParticipantVisitor is the participant key for the room's visitor.
// Agents use "agent:<id>" so multiple agents can be present at once.
const ParticipantVisitor = "visitor"

// AgentParticipant builds the participant key for an agent.
func AgentParticipant(agentID string) string {
	return "agent:" + agentID
}

// IsAgentParticipant reports whether key identifies an agent.
func IsAgentParticipant(key string) bool {
	return strings.HasPrefix(key, "agent:")
}

// PresenceRecord is one ephemeral room membership entry. Never persisted.
type PresenceRecord struct {
	RoomID         uuid.UUID `json:"room_id"`
	ParticipantKey string    `json:"participant_key"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

// RoomPresence is the per-room aggregate derived from live records.
type RoomPresence struct {
	RoomID        uuid.UUID `json:"room_id"`
	VisitorOnline bool      `json:"visitor_online"`
	AgentOnline   bool      `json:"agent_online"`
	Participants  []string  `json:"participants,omitempty"`
}
