package conversation

import "time"

// Key identifies one chat. All per-chat state is partitioned by it.
type Key string

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. It is never modified after append.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserTurn builds a user turn stamped with at.
func UserTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleUser, Text: text, Timestamp: at}
}

// AssistantTurn builds an assistant turn stamped with at.
func AssistantTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleAssistant, Text: text, Timestamp: at}
}
