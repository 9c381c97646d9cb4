package telegram

import (
	"context"
	"html"
	"log"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"medisense/internal/auth"
	"medisense/internal/chat"
	"medisense/internal/diagnosis"
	"medisense/internal/gradio"
	"medisense/internal/history"
	"medisense/internal/prefs"
)

const (
	dismissDisclaimerCmd = "dismiss_disclaimer"
	clearChatCmd         = "clear_chat"
	retryCmd             = "retry_connection"
)

// Connectivity is the availability side of the model gateway.
type Connectivity interface {
	TestConnectivity(ctx context.Context, force bool) bool
	Status() gradio.Status
}

// LogSource lists every user's prediction log, for reports.
type LogSource interface {
	All(ctx context.Context) ([]history.Log, error)
}

type Deps struct {
	Auth     *auth.Service
	History  *history.Service
	Logs     LogSource
	Prefs    *prefs.Store
	Chats    *chat.Manager
	Pipeline *diagnosis.Pipeline
	Gateway  Connectivity
}

type Bot struct {
	api         *tgbotapi.BotAPI
	s           sender
	adminUserID int64

	authSvc  *auth.Service
	history  *history.Service
	logs     LogSource
	prefs    *prefs.Store
	chats    *chat.Manager
	pipeline *diagnosis.Pipeline
	gateway  Connectivity
}

func New(botToken string, adminUserID int64, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	log.Printf("🤖 Authorized on account @%s", api.Self.UserName)
	b := newBot(botAPISender{api: api}, adminUserID, deps)
	b.api = api
	return b, nil
}

func newBot(s sender, adminUserID int64, deps Deps) *Bot {
	return &Bot{
		s:           s,
		adminUserID: adminUserID,
		authSvc:     deps.Auth,
		history:     deps.History,
		logs:        deps.Logs,
		prefs:       deps.Prefs,
		chats:       deps.Chats,
		pipeline:    deps.Pipeline,
		gateway:     deps.Gateway,
	}
}

// Start polls for updates until ctx is cancelled. Every update is handled on
// its own goroutine so a slow model call does not hold up other users.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ panic while handling update %d: %v", update.UpdateID, r)
		}
	}()
	switch {
	case update.Message != nil && update.Message.From != nil:
		if update.Message.IsCommand() {
			b.handleCommand(ctx, update.Message)
			return
		}
		b.handleIncomingMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

// sessionID keys per-user state in the store.
func sessionID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.sendHTML(chatID, html.EscapeString(text), nil)
}

// sendHTML sends text that is already Telegram HTML. Long texts are split at
// line boundaries; markup goes with the last part.
func (b *Bot) sendHTML(chatID int64, text string, markup any) {
	parts := splitMessage(text, maxMessageLen)
	for i, part := range parts {
		var m any
		if i == len(parts)-1 {
			m = markup
		}
		b.sendPart(chatID, part, m)
	}
}

// sendPart falls back to plain text when Telegram rejects the HTML, so the
// reply is never lost.
func (b *Bot) sendPart(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := b.s.Send(msg)
	if err == nil {
		return
	}
	log.Printf("⚠️ failed to send HTML message, retrying as plain text: %v", err)
	msg.Text = html.UnescapeString(tagRe.ReplaceAllString(text, ""))
	msg.ParseMode = ""
	if _, err := b.s.Send(msg); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}

const maxMessageLen = 4096

var tagRe = regexp.MustCompile(`<[^>]*>`)

// splitMessage cuts text into parts of at most limit runes, preferring line
// breaks. A single longer line is cut hard.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			parts = append(parts, string(runes[:limit]))
			runes = runes[limit:]
		}
		n := len(runes)
		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(string(runes))
		curLen += n
	}
	flush()
	return parts
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.s.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Printf("failed to send chat action: %v", err)
	}
}

func (b *Bot) answerCallback(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		log.Printf("failed to answer callback: %v", err)
	}
}
