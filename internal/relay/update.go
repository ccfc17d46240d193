package relay

import (
	"strings"

	"tgrelay/internal/conversation"
)

// Update is an inbound chat event stripped of transport detail.
type Update struct {
	// ID is the platform's delivery id, used only for deduplication.
	ID   string
	Key  conversation.Key
	Text string
}

func (u Update) valid() bool {
	return u.ID != "" && u.Key != "" && strings.TrimSpace(u.Text) != ""
}

// Outcome is the terminal classification of a dispatched update.
type Outcome string

const (
	OutcomeMalformed Outcome = "malformed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCommand   Outcome = "command"
	OutcomeReplied   Outcome = "replied"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

// State is a step of the dispatch state machine.
type State string

const (
	StateReceived             State = "received"
	StateDedupChecked         State = "dedup_checked"
	StateDuplicate            State = "duplicate"
	StateAccepted             State = "accepted"
	StateConversationResolved State = "conversation_resolved"
	StateGatewayInvoked       State = "gateway_invoked"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
	StateResponded            State = "responded"
)

// Result describes what Dispatch did and what, if anything, to send back.
type Result struct {
	Outcome Outcome
	Path    []State
	// Reply is empty when nothing should be sent.
	Reply string
	// Err holds the gateway or lock failure behind OutcomeFailed.
	Err error
}

func (r *Result) visit(s State) {
	r.Path = append(r.Path, s)
}

// command extracts "/name" from text, dropping any "@botname" suffix and
// arguments. ok is false for plain text.
func command(text string) (name string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name = strings.Fields(text)[0]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return name, true
}
