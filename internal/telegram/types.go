package telegram

import (
	"encoding/json"
	"strconv"
	"strings"

	"tgrelay/internal/conversation"
	"tgrelay/internal/relay"
)

type Update struct {
	// UpdateID is a pointer so a missing id is distinguishable from zero.
	UpdateID *int64   `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

// WebhookInfo is the result of getWebhookInfo.
type WebhookInfo struct {
	URL                  string `json:"url"`
	HasCustomCertificate bool   `json:"has_custom_certificate"`
	PendingUpdateCount   int    `json:"pending_update_count"`
	LastErrorDate        int64  `json:"last_error_date,omitempty"`
	LastErrorMessage     string `json:"last_error_message,omitempty"`
	MaxConnections       int    `json:"max_connections,omitempty"`
}

type apiResponse struct {
	Ok          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result"`
	ErrorCode   int                 `json:"error_code"`
	Description string              `json:"description"`
	Parameters  *responseParameters `json:"parameters"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after"`
}

// toRelay converts the wire update. Missing fields stay empty so the
// dispatcher can classify the update as malformed.
func (u Update) toRelay() relay.Update {
	var out relay.Update
	if u.UpdateID != nil {
		out.ID = strconv.FormatInt(*u.UpdateID, 10)
	}
	if u.Message != nil {
		if u.Message.Chat.ID != 0 {
			out.Key = chatKey(u.Message.Chat.ID)
		}
		out.Text = strings.TrimSpace(u.Message.Text)
	}
	return out
}

func chatKey(chatID int64) conversation.Key {
	return conversation.Key(strconv.FormatInt(chatID, 10))
}

func chatID(key conversation.Key) (int64, error) {
	return strconv.ParseInt(string(key), 10, 64)
}
