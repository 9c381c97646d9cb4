package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"medisense/internal/auth"
	"medisense/internal/chat"
	"medisense/internal/diagnosis"
	"medisense/internal/gradio"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	log.Printf("Command /%s from %d (@%s)", msg.Command(), msg.From.ID, msg.From.UserName)
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.sendHTML(msg.Chat.ID, helpText, nil)
	case "signup":
		b.handleSignUp(ctx, msg)
	case "login":
		b.handleLogin(ctx, msg)
	case "logout":
		if err := b.authSvc.Logout(ctx, sessionID(msg.From.ID)); err != nil {
			log.Printf("❌ logout failed: %v", err)
			b.sendMessage(msg.Chat.ID, "Could not sign you out, please try again.")
			return
		}
		b.chats.Drop(msg.From.ID)
		b.sendMessage(msg.Chat.ID, "👋 You are signed out.")
	case "whoami":
		acc, ok, err := b.authSvc.Current(ctx, sessionID(msg.From.ID))
		switch {
		case err != nil:
			log.Printf("❌ current user lookup failed: %v", err)
			b.sendMessage(msg.Chat.ID, "Could not read your account, please try again.")
		case !ok:
			b.sendMessage(msg.Chat.ID, "You are not signed in. Use /login or /signup.")
		default:
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Signed in as %s <%s>", acc.DisplayName(), acc.Email))
		}
	case "predict":
		b.handlePredict(ctx, msg)
	case "history":
		b.handleHistory(ctx, msg)
	case "clear":
		b.clearChat(ctx, msg.Chat.ID, msg.From.ID)
	case "status":
		b.sendStatus(msg.Chat.ID)
	case "retry":
		b.retryConnection(ctx, msg.Chat.ID)
	case "report":
		b.handleReportCommand(ctx, msg)
	default:
		b.sendHTML(msg.Chat.ID, "Unknown command.\n\n"+helpText, nil)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	name := msg.From.FirstName
	if acc, ok, err := b.authSvc.Current(ctx, sessionID(msg.From.ID)); err == nil && ok {
		name = acc.DisplayName()
	}
	text := chat.Telegram(chat.Greeting)
	if name != "" {
		text = "👋 " + html.EscapeString(name) + "\n" + text
	}
	b.sendHTML(msg.Chat.ID, text+"\n\n"+helpText, nil)

	dismissed, err := b.prefs.DisclaimerDismissed(ctx, sessionID(msg.From.ID))
	if err != nil {
		log.Printf("⚠️ %v", err)
	}
	if !dismissed {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("I understand", dismissDisclaimerCmd),
			),
		)
		b.sendHTML(msg.Chat.ID, disclaimerText, kb)
	}

	if st := b.gateway.Status(); st.Tested && !st.Working {
		b.sendAPIError(msg.Chat.ID)
	}
}

// handleSignUp expects "/signup <email> <password> [name...]".
func (b *Bot) handleSignUp(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		b.sendMessage(msg.Chat.ID, "Usage: /signup <email> <password> [name]")
		return
	}
	name := strings.Join(args[2:], " ")
	if name == "" {
		name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	acc, err := b.authSvc.SignUp(ctx, sessionID(msg.From.ID), name, args[0], args[1])
	if err != nil {
		b.replyAuthError(msg.Chat.ID, "signup", err)
		return
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Welcome, %s! Your account is ready.", acc.DisplayName()))
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.sendMessage(msg.Chat.ID, "Usage: /login <email> <password>")
		return
	}
	acc, err := b.authSvc.Login(ctx, sessionID(msg.From.ID), args[0], args[1])
	if err != nil {
		b.replyAuthError(msg.Chat.ID, "login", err)
		return
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Signed in as %s.", acc.DisplayName()))
}

func (b *Bot) replyAuthError(chatID int64, op string, err error) {
	switch {
	case errors.Is(err, auth.ErrCredentialsRequired),
		errors.Is(err, auth.ErrAccountExists),
		errors.Is(err, auth.ErrInvalidCredentials):
		b.sendMessage(chatID, err.Error())
	default:
		log.Printf("❌ %s failed: %v", op, err)
		b.sendMessage(chatID, "Something went wrong, please try again.")
	}
}

func (b *Bot) handlePredict(ctx context.Context, msg *tgbotapi.Message) {
	symptoms := strings.TrimSpace(msg.CommandArguments())
	if symptoms == "" {
		b.sendMessage(msg.Chat.ID, diagnosis.ErrEmptySymptoms.Error()+", e.g. /predict fever, cough")
		return
	}
	acc, signedIn, err := b.authSvc.Current(ctx, sessionID(msg.From.ID))
	if err != nil {
		log.Printf("⚠️ current user lookup failed: %v", err)
	}

	b.sendTyping(msg.Chat.ID)
	res, err := b.pipeline.Run(ctx, acc.Email, symptoms)
	if err != nil {
		log.Printf("❌ Prediction error: %v", err)
		b.sendMessage(msg.Chat.ID, userError(err, predictionSource))
		return
	}
	text := formatPrediction(res)
	if !signedIn {
		text += "\n\n<i>Sign in with /login to keep a history of your predictions.</i>"
	}
	b.sendHTML(msg.Chat.ID, text, nil)
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message) {
	acc, ok, err := b.authSvc.Current(ctx, sessionID(msg.From.ID))
	if err != nil || !ok {
		b.sendMessage(msg.Chat.ID, "Sign in with /login to see your prediction history.")
		return
	}
	l, err := b.history.Get(ctx, acc.Email)
	if err != nil {
		log.Printf("❌ history lookup failed: %v", err)
		b.sendMessage(msg.Chat.ID, "Could not load your history, please try again.")
		return
	}
	b.sendHTML(msg.Chat.ID, formatHistory(l), nil)
}

// handleIncomingMessage sends plain text to the chat assistant.
func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	log.Printf("Incoming message from %d (@%s): %q", msg.From.ID, msg.From.UserName, msg.Text)
	session := b.chats.Session(msg.From.ID)

	b.sendTyping(msg.Chat.ID)
	reply, err := session.Send(ctx, msg.Text)
	var partial *gradio.PartialResponseError
	switch {
	case err == nil:
		if reply.Text == "" {
			return
		}
		b.sendHTML(msg.Chat.ID, reply.Telegram(), b.chatKeyboard())
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrCleared):
		return
	case errors.Is(err, chat.ErrBusy):
		b.sendMessage(msg.Chat.ID, "⏳ Still working on your previous message, please wait.")
	case errors.As(err, &partial):
		b.sendHTML(msg.Chat.ID, reply.Telegram(), nil)
		b.sendMessage(msg.Chat.ID, "⚠️ "+partial.Reason)
	default:
		log.Printf("❌ Chat error: %v", err)
		b.sendMessage(msg.Chat.ID, userError(err, chatSource))
	}
}

func (b *Bot) chatKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Clear chat", clearChatCmd),
		),
	)
}

func (b *Bot) clearChat(ctx context.Context, chatID, userID int64) {
	err := b.chats.Session(userID).Clear(ctx)
	if errors.Is(err, chat.ErrRemoteClearFailed) {
		b.sendMessage(chatID, "⚠️ "+chat.ErrRemoteClearFailed.Error())
	} else if err != nil {
		log.Printf("❌ clear chat: %v", err)
	}
	b.sendHTML(chatID, chat.Telegram(chat.Greeting), nil)
}

func (b *Bot) sendStatus(chatID int64) {
	st := b.gateway.Status()
	if st.Tested && !st.Working {
		b.sendAPIError(chatID)
		return
	}
	b.sendMessage(chatID, formatStatus(st))
}

func (b *Bot) sendAPIError(chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Retry Connection", retryCmd),
		),
	)
	b.sendHTML(chatID, "⚠️ "+html.EscapeString(apiErrorText), kb)
}

func (b *Bot) retryConnection(ctx context.Context, chatID int64) {
	log.Printf("🔄 Retrying API connection...")
	if b.gateway.TestConnectivity(ctx, true) {
		b.sendMessage(chatID, "✅ Connected to the model service.")
		return
	}
	b.sendAPIError(chatID)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || cb.Message == nil {
		return
	}
	switch cb.Data {
	case dismissDisclaimerCmd:
		if err := b.prefs.DismissDisclaimer(ctx, sessionID(cb.From.ID)); err != nil {
			log.Printf("⚠️ %v", err)
		}
		b.answerCallback(cb, "Disclaimer hidden")
	case clearChatCmd:
		b.answerCallback(cb, "")
		b.clearChat(ctx, cb.Message.Chat.ID, cb.From.ID)
	case retryCmd:
		b.answerCallback(cb, "")
		b.retryConnection(ctx, cb.Message.Chat.ID)
	default:
		b.answerCallback(cb, "")
	}
}

const (
	predictionSource = "prediction API"
	chatSource       = "chatbot"
)

// userError maps core errors to the text shown to users. source names the
// remote endpoint that was called.
func userError(err error, source string) string {
	var remote *gradio.RemoteError
	switch {
	case errors.Is(err, gradio.ErrServiceUnavailable):
		return gradio.ErrServiceUnavailable.Error()
	case errors.Is(err, diagnosis.ErrEmptySymptoms):
		return diagnosis.ErrEmptySymptoms.Error()
	case errors.Is(err, gradio.ErrMalformedResponse):
		return "Received an invalid response structure from the " + source + "."
	case errors.As(err, &remote):
		return remote.Detail()
	case err != nil && err.Error() != "":
		return err.Error()
	default:
		return "Error processing your request. Please try again later."
	}
}
