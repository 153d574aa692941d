package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dinner-roulette/internal/config"
	"dinner-roulette/internal/logging"
	"dinner-roulette/internal/metrics"
	"dinner-roulette/internal/party"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers messages to Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UsageReporter provides the numbers behind /metrics.
type UsageReporter interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

// Bot wraps the Telegram API and the party service.
type Bot struct {
	api      *tgbotapi.BotAPI
	sender   Sender
	parties  *party.Service
	usage    UsageReporter
	cfg      *config.Config
	sessions *Sessions
	dataPath string
}

// reply is the outcome of one command.
type reply struct {
	Text     string
	RevealAt time.Time
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, parties *party.Service, usage UsageReporter) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logging.Info().Str("account", api.Self.UserName).Msg("Authorized on Telegram")

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook config: %w", err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	logging.Info().Str("description", resp.Description).Msg("Webhook set")

	b := newBot(api, cfg, parties, usage)
	b.api = api
	return b, nil
}

func newBot(sender Sender, cfg *config.Config, parties *party.Service, usage UsageReporter) *Bot {
	return &Bot{
		sender:   sender,
		parties:  parties,
		usage:    usage,
		cfg:      cfg,
		sessions: NewSessions(),
		dataPath: filepath.Dir(cfg.DatabasePath),
	}
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		logging.Warn().Err(err).Msg("Error parsing update")
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}

	if !b.allowed(update.Message.From.ID) {
		logging.Warn().
			Int64("user_id", update.Message.From.ID).
			Str("username", update.Message.From.UserName).
			Msg("Unauthorized access attempt")
		return
	}

	go b.processMessage(update.Message)
}

// allowed reports whether a user may talk to the bot. An empty allow list admits everyone.
func (b *Bot) allowed(userID int64) bool {
	if len(b.cfg.TelegramAllowedUserIDs) == 0 {
		return true
	}
	return slices.Contains(b.cfg.TelegramAllowedUserIDs, userID)
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	r := b.handleCommand(ctx, msg)
	if r.Text == "" {
		return
	}

	wait := time.Until(r.RevealAt)
	if wait <= 0 {
		b.send(msg.Chat.ID, r.Text)
		return
	}

	sent, err := b.sender.Send(markdown(tgbotapi.NewMessage(msg.Chat.ID, "🎰 *Spinning...*")))
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to send spin status")
		return
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sent.MessageID, r.Text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.sender.Send(edit); err != nil {
		logging.Warn().Err(err).Msg("Failed to reveal spin")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) reply {
	cmd, args := splitCommand(msg.Text)
	chatID := msg.Chat.ID

	switch cmd {
	case "start", "help":
		return reply{Text: helpText}
	case "newparty":
		return b.newParty(ctx, chatID, nickname(args, msg.From))
	case "join":
		if len(args) == 0 {
			return reply{Text: "Usage: /join <code> <nickname>"}
		}
		return b.join(ctx, chatID, args[0], nickname(args[1:], msg.From))
	case "prefs":
		return b.prefs(ctx, chatID, args)
	case "constraints":
		return b.constraints(ctx, chatID)
	case "spin":
		return b.spin(ctx, chatID, args)
	case "solo":
		return b.solo(ctx, args)
	case "leave":
		return b.leave(ctx, chatID)
	case "metrics":
		if msg.From == nil || msg.From.ID != b.cfg.AdminTelegramID {
			return reply{Text: "⛔ *Access Denied*: Admin only."}
		}
		return b.report(ctx)
	case "":
		return reply{}
	default:
		return reply{Text: "Unknown command. Try /help"}
	}
}

func nickname(args []string, from *tgbotapi.User) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	if from != nil {
		return from.FirstName
	}
	return ""
}

func (b *Bot) newParty(ctx context.Context, chatID int64, nick string) reply {
	p, m, err := b.parties.CreateParty(ctx, nick)
	if err != nil {
		return errorReply(err)
	}
	b.sessions.Set(chatID, Session{Code: p.Code, MemberID: m.ID, Nickname: m.Nickname})
	return reply{Text: fmt.Sprintf("🎉 Party created! Share the code `%s` so friends can /join.", p.Code)}
}

func (b *Bot) join(ctx context.Context, chatID int64, code, nick string) reply {
	p, m, err := b.parties.JoinParty(ctx, code, nick)
	if err != nil {
		return errorReply(err)
	}
	b.sessions.Set(chatID, Session{Code: p.Code, MemberID: m.ID, Nickname: m.Nickname})
	return reply{Text: fmt.Sprintf("👋 Joined party `%s` as *%s*. Set your /prefs next.", p.Code, m.Nickname)}
}

func (b *Bot) prefs(ctx context.Context, chatID int64, args []string) reply {
	sess, ok := b.sessions.Get(chatID)
	if !ok {
		return reply{Text: "You are not in a party. Use /newparty or /join first."}
	}
	pref, _, err := parsePreference(args)
	if err != nil {
		return reply{Text: "❌ " + err.Error()}
	}
	pref.Nickname = sess.Nickname

	result, err := b.parties.SubmitPreferences(ctx, sess.Code, sess.MemberID, pref)
	if err != nil {
		return errorReply(err)
	}
	return reply{Text: "✅ Preferences saved.\n\n" + formatConstraints(result)}
}

func (b *Bot) constraints(ctx context.Context, chatID int64) reply {
	sess, ok := b.sessions.Get(chatID)
	if !ok {
		return reply{Text: "You are not in a party. Use /newparty or /join first."}
	}
	result, err := b.parties.MergedConstraints(ctx, sess.Code)
	if err != nil {
		return errorReply(err)
	}
	return reply{Text: formatConstraints(result)}
}

func (b *Bot) spin(ctx context.Context, chatID int64, args []string) reply {
	sess, ok := b.sessions.Get(chatID)
	if !ok {
		return reply{Text: "You are not in a party. Use /solo to spin alone."}
	}
	req, err := parseSpin(args)
	if err != nil {
		return reply{Text: "❌ " + err.Error()}
	}

	rec, err := b.parties.Spin(ctx, sess.Code, sess.MemberID, req)
	if err != nil {
		return errorReply(err)
	}
	return reply{Text: formatSpin(rec), RevealAt: rec.RevealAt}
}

func (b *Bot) solo(ctx context.Context, args []string) reply {
	pref, seed, err := parsePreference(keyValues(args))
	if err != nil {
		return reply{Text: "❌ " + err.Error()}
	}
	spin, err := parseSpin(args)
	if err != nil {
		return reply{Text: "❌ " + err.Error()}
	}

	rec, err := b.parties.SoloSpin(ctx, party.SoloSpinRequest{
		Preference: pref,
		Locks:      spin.Locks,
		PowerUps:   spin.PowerUps,
		Seed:       seed,
	})
	if err != nil {
		return errorReply(err)
	}
	return reply{Text: formatSpin(rec)}
}

// keyValues keeps the key=value arguments that are not locks.
func keyValues(args []string) []string {
	var out []string
	for _, a := range args {
		if strings.Contains(a, "=") && !strings.HasPrefix(a, "lock=") {
			out = append(out, a)
		}
	}
	return out
}

func (b *Bot) leave(ctx context.Context, chatID int64) reply {
	sess, ok := b.sessions.Get(chatID)
	if !ok {
		return reply{Text: "You are not in a party."}
	}
	b.sessions.Delete(chatID)
	if err := b.parties.LeaveParty(ctx, sess.Code, sess.MemberID); err != nil && !errors.Is(err, party.ErrMemberNotFound) {
		return errorReply(err)
	}
	return reply{Text: fmt.Sprintf("👋 Left party `%s`.", sess.Code)}
}

func (b *Bot) report(ctx context.Context) reply {
	usage, err := b.usage.GetDailyUsage(ctx, 7)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to fetch metrics")
		return reply{Text: "❌ Error fetching metrics."}
	}
	return reply{Text: formatMetrics(usage, metrics.GetSysHealth(b.dataPath))}
}

func errorReply(err error) reply {
	switch {
	case errors.Is(err, party.ErrPartyNotFound):
		return reply{Text: "❌ No party with that code."}
	case errors.Is(err, party.ErrPartyClosed):
		return reply{Text: "❌ That party is closed."}
	case errors.Is(err, party.ErrMemberNotFound):
		return reply{Text: "❌ You are no longer in that party. /join again."}
	}
	logging.Warn().Err(err).Msg("Command failed")
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return reply{Text: fmt.Sprintf("❌ *Error:*\n```\n%s\n```", safeErr)}
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.sender.Send(markdown(tgbotapi.NewMessage(chatID, text))); err != nil {
		logging.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func markdown(msg tgbotapi.MessageConfig) tgbotapi.MessageConfig {
	msg.ParseMode = tgbotapi.ModeMarkdown
	return msg
}
