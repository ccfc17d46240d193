package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tgrelay/internal/conversation"
	"tgrelay/internal/httpserver"
	"tgrelay/internal/relay"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Dispatcher is the relay entry point the webhook hands updates to.
type Dispatcher interface {
	Dispatch(ctx context.Context, upd relay.Update) relay.Result
}

type WebhookDeps struct {
	Dispatcher    Dispatcher
	Bot           BotClient
	Logger        *slog.Logger
	Token         string
	WebhookSecret string
}

type WebhookHandler struct {
	dispatcher    Dispatcher
	bot           BotClient
	logger        *slog.Logger
	token         []byte
	webhookSecret []byte
}

func NewWebhookHandler(deps WebhookDeps) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:    deps.Dispatcher,
		bot:           deps.Bot,
		logger:        deps.Logger,
		token:         []byte(deps.Token),
		webhookSecret: []byte(deps.WebhookSecret),
	}
}

// ServeHTTP expects to be mounted at a route with a {token} parameter.
// Anything past authentication is acknowledged with 200 so Telegram does
// not redeliver it. Dispatch and reply outlive a dropped connection: the
// update is already marked seen, so the dispatcher timeout is their only
// bound.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(chi.URLParam(r, "token")), h.token) != 1 {
		httpserver.WriteJSONError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}
	if len(h.webhookSecret) > 0 {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), h.webhookSecret) != 1 {
			httpserver.WriteJSONError(w, r, http.StatusForbidden, "forbidden", "invalid webhook secret")
			return
		}
	}

	var upd Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.logger.Warn("cannot parse update", slog.String("error", err.Error()))
		writeOK(w)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	res := h.dispatcher.Dispatch(ctx, upd.toRelay())
	if res.Reply != "" && upd.Message != nil {
		h.reply(ctx, upd.Message.Chat.ID, res)
	}
	writeOK(w)
}

func (h *WebhookHandler) reply(ctx context.Context, chatID int64, res relay.Result) {
	text, parseMode := res.Reply, ""
	if res.Outcome == relay.OutcomeReplied {
		if formatted, err := FormatHTML(res.Reply); err != nil {
			h.logger.Warn("format reply failed", slog.String("error", err.Error()))
		} else if formatted != "" {
			text, parseMode = formatted, ParseModeHTML
		}
	}

	_, err := h.bot.SendMessage(ctx, chatID, text, parseMode)
	if err != nil && parseMode != "" && IsParseError(err) {
		h.logger.Warn("telegram rejected markup, resending as plain text", slog.Int64("chat_id", chatID))
		_, err = h.bot.SendMessage(ctx, chatID, res.Reply, "")
	}
	if err != nil {
		h.logger.Error("send message failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// TypingNotifier shows the typing indicator in the conversation's chat.
type TypingNotifier struct {
	Bot BotClient
}

func (n TypingNotifier) Typing(ctx context.Context, key conversation.Key) error {
	id, err := chatID(key)
	if err != nil {
		return err
	}
	return n.Bot.SendChatAction(ctx, id, ActionTyping)
}
