// Package relay turns inbound chat updates into model replies while keeping
// per-conversation history and suppressing redelivered updates.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tgrelay/internal/conversation"
	"tgrelay/internal/dedup"
	"tgrelay/internal/llm"
)

const (
	GreetingText = "Hi! How can I help you today?"
	ClearedText  = "Conversation history has been cleared!"
	ApologyText  = "Sorry, I'm having trouble right now. Could you try again in a moment?"
)

// Notifier signals the user that a reply is being prepared.
type Notifier interface {
	Typing(ctx context.Context, key conversation.Key) error
}

// Observer receives every dispatch outcome.
type Observer interface {
	ObserveDispatch(outcome string, elapsed time.Duration)
}

type Deps struct {
	Store        *conversation.Store
	Seen         *dedup.KeySet[string]
	Gateway      llm.Gateway
	SystemPrompt string
	// Timeout bounds the lock wait plus the model call. Zero means no limit
	// beyond the caller's context.
	Timeout  time.Duration
	Notifier Notifier
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

type Dispatcher struct {
	store        *conversation.Store
	seen         *dedup.KeySet[string]
	gateway      llm.Gateway
	systemPrompt string
	timeout      time.Duration
	notifier     Notifier
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time
}

func NewDispatcher(deps Deps) *Dispatcher {
	d := &Dispatcher{
		store:        deps.Store,
		seen:         deps.Seen,
		gateway:      deps.Gateway,
		systemPrompt: deps.SystemPrompt,
		timeout:      deps.Timeout,
		notifier:     deps.Notifier,
		observer:     deps.Observer,
		logger:       deps.Logger,
		now:          deps.Now,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Dispatch runs one update through dedup, conversation lookup and the model
// gateway. It never fails: every problem maps to an Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, upd Update) Result {
	start := time.Now()
	res := d.dispatch(ctx, upd)
	if d.observer != nil {
		d.observer.ObserveDispatch(string(res.Outcome), time.Since(start))
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, upd Update) Result {
	var res Result
	res.visit(StateReceived)

	if !upd.valid() {
		d.logger.Warn("malformed update",
			slog.String("update_id", upd.ID),
			slog.String("conversation", string(upd.Key)))
		res.visit(StateResponded)
		res.Outcome = OutcomeMalformed
		return res
	}

	res.visit(StateDedupChecked)
	if !d.seen.TryInsert(upd.ID) {
		d.logger.Info("duplicate update skipped",
			slog.String("update_id", upd.ID),
			slog.String("conversation", string(upd.Key)))
		res.visit(StateDuplicate)
		res.visit(StateResponded)
		res.Outcome = OutcomeDuplicate
		return res
	}
	res.visit(StateAccepted)

	if name, ok := command(upd.Text); ok {
		d.runCommand(ctx, upd, name, &res)
		return res
	}

	d.exchange(ctx, upd, &res)
	return res
}

func (d *Dispatcher) runCommand(ctx context.Context, upd Update, name string, res *Result) {
	var reply string
	switch name {
	case "/start":
		reply = GreetingText
	case "/clear":
		reply = ClearedText
	default:
		d.logger.Debug("unknown command ignored",
			slog.String("command", name),
			slog.String("conversation", string(upd.Key)))
		res.visit(StateResponded)
		res.Outcome = OutcomeIgnored
		return
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	conv, err := d.store.Acquire(ctx, upd.Key)
	if err != nil {
		d.fail(upd, res, fmt.Errorf("wait for conversation: %w", err))
		return
	}
	defer conv.Unlock()

	res.visit(StateConversationResolved)
	conv.Clear()
	d.logger.Info("conversation cleared",
		slog.String("command", name),
		slog.String("conversation", string(upd.Key)))

	res.visit(StateResponded)
	res.Outcome = OutcomeCommand
	res.Reply = reply
}

// exchange holds the conversation's exchange lock from the user turn until
// the assistant turn, so turns of one conversation never interleave.
func (d *Dispatcher) exchange(ctx context.Context, upd Update, res *Result) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	conv, err := d.store.Acquire(ctx, upd.Key)
	if err != nil {
		d.fail(upd, res, fmt.Errorf("wait for conversation: %w", err))
		return
	}
	defer conv.Unlock()

	conv.Append(conversation.UserTurn(upd.Text, d.now()))
	res.visit(StateConversationResolved)

	turns := conv.Snapshot()
	history := turns[:len(turns)-1]

	if d.notifier != nil {
		if err := d.notifier.Typing(ctx, upd.Key); err != nil {
			d.logger.Debug("typing notification failed",
				slog.String("conversation", string(upd.Key)),
				slog.String("error", err.Error()))
		}
	}

	res.visit(StateGatewayInvoked)
	reply, err := d.gateway.Generate(ctx, d.systemPrompt, history, upd.Text)
	if err != nil {
		d.fail(upd, res, err)
		return
	}

	conv.Append(conversation.AssistantTurn(reply, d.now()))
	res.visit(StateSucceeded)
	res.visit(StateResponded)
	res.Outcome = OutcomeReplied
	res.Reply = reply
}

// fail keeps the user turn, adds no assistant turn and answers with the
// generic apology.
func (d *Dispatcher) fail(upd Update, res *Result, err error) {
	attrs := []any{
		slog.String("update_id", upd.ID),
		slog.String("conversation", string(upd.Key)),
		slog.String("error", err.Error()),
	}
	if llm.IsFatal(err) {
		d.logger.Error("model backend rejected credentials", attrs...)
	} else {
		d.logger.Warn("exchange failed", attrs...)
	}

	res.visit(StateFailed)
	res.visit(StateResponded)
	res.Outcome = OutcomeFailed
	res.Reply = ApologyText
	res.Err = err
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}
