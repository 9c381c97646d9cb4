package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"medisense/internal/auth"
	"medisense/internal/chat"
	"medisense/internal/diagnosis"
	"medisense/internal/gradio"
	"medisense/internal/history"
	"medisense/internal/prefs"
	"medisense/internal/storage"
)

type sentMessage struct {
	text      string
	parseMode string
	markup    any
}

type fakeSender struct {
	sent     []sentMessage
	requests []tgbotapi.Chattable
	// reject, when set, fails a message the way the Bot API would.
	reject func(tgbotapi.MessageConfig) error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, nil
	}
	if f.reject != nil {
		if err := f.reject(m); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, sentMessage{text: m.Text, parseMode: m.ParseMode, markup: m.ReplyMarkup})
	return tgbotapi.Message{}, nil
}

var tagToken = regexp.MustCompile(`<(/?)([a-z]+)[^>]*>`)

// rejectMisnested mimics "can't parse entities" for badly nested HTML.
func rejectMisnested(m tgbotapi.MessageConfig) error {
	if m.ParseMode != tgbotapi.ModeHTML {
		return nil
	}
	var stack []string
	for _, tok := range tagToken.FindAllStringSubmatch(m.Text, -1) {
		if tok[1] == "" {
			stack = append(stack, tok[2])
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != tok[2] {
			return errors.New("Bad Request: can't parse entities")
		}
		stack = stack[:len(stack)-1]
	}
	if len(stack) > 0 {
		return errors.New("Bad Request: can't parse entities")
	}
	return nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

func (f *fakeSender) all() string {
	var b strings.Builder
	for _, m := range f.sent {
		b.WriteString(m.text)
		b.WriteString("\n---\n")
	}
	return b.String()
}

// fakeModel plays the prediction and chat endpoints.
type fakeModel struct {
	predErr    error
	chatAnswer string
	verified   []string
	clearErr   error
	status     gradio.Status
	retryOK    bool
}

func (f *fakeModel) Predict(context.Context, string) (gradio.Prediction, error) {
	if f.predErr != nil {
		return gradio.Prediction{}, f.predErr
	}
	return gradio.Prediction{
		ConditionsHTML: "<strong style='color:#f00;'>Common Cold</strong>: 70.0%",
		PrimaryHTML:    "<p style='color:#2e7d32; font-size:1.2em; font-weight:bold;'>Common Cold</p>",
	}, nil
}

func (f *fakeModel) Chat(_ context.Context, message string, h []gradio.Turn) (json.RawMessage, error) {
	answer := f.chatAnswer
	if len(f.verified) > 0 {
		answer, f.verified = f.verified[0], f.verified[1:]
	}
	turns := append(append([]gradio.Turn(nil), h...), gradio.Turn{User: message, Bot: answer})
	return json.Marshal([]any{turns})
}

func (f *fakeModel) ClearChat(context.Context) error { return f.clearErr }

func (f *fakeModel) TestConnectivity(context.Context, bool) bool {
	f.status = gradio.Status{Tested: true, Working: f.retryOK}
	return f.retryOK
}

func (f *fakeModel) Status() gradio.Status { return f.status }

func newTestBot(t *testing.T, model *fakeModel, admin int64) (*Bot, *fakeSender) {
	t.Helper()
	store := storage.NewMemoryStore()
	logs := history.NewKVRepository(store)
	hist := history.NewService(logs)
	fs := &fakeSender{}
	b := newBot(fs, admin, Deps{
		Auth:     auth.NewWithRepo(auth.NewKVRepository(store), store, hist.Init),
		History:  hist,
		Logs:     logs,
		Prefs:    prefs.New(store),
		Chats:    chat.NewManager(model),
		Pipeline: diagnosis.New(model, model, hist),
		Gateway:  model,
	})
	return b, fs
}

func command(userID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID, FirstName: "Ann"},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func text(userID int64, s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: s,
	}}
}

func callback(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}}
}

func TestPredictFlow_SignedInUserGetsHistory(t *testing.T) {
	model := &fakeModel{verified: []string{"Influenza", "Influenza: 60%\nCommon Cold: 40%"}}
	b, fs := newTestBot(t, model, 0)
	ctx := context.Background()

	b.handleUpdate(ctx, command(7, "/signup ann@example.com secret Ann Lee"))
	if !strings.Contains(fs.last(), "Welcome, Ann Lee") {
		t.Fatalf("signup reply: %q", fs.last())
	}

	b.handleUpdate(ctx, command(7, "/predict fever, cough"))
	out := fs.last()
	for _, want := range []string{
		"<b>Predicted condition:</b> Influenza",
		"1. <b>Influenza</b>: 60%",
		"searchterm=Influenza",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("prediction output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Sign in") {
		t.Fatalf("signed-in user should not get the sign-in hint")
	}

	b.handleUpdate(ctx, command(7, "/history"))
	if !strings.Contains(fs.last(), "<b>Influenza</b>") || !strings.Contains(fs.last(), "fever, cough") {
		t.Fatalf("history output: %q", fs.last())
	}
}

func TestPredict_AnonymousIsNotPersisted(t *testing.T) {
	model := &fakeModel{}
	b, fs := newTestBot(t, model, 0)
	ctx := context.Background()

	b.handleUpdate(ctx, command(8, "/predict sneezing"))
	if !strings.Contains(fs.last(), "Common Cold") || !strings.Contains(fs.last(), "Sign in with /login") {
		t.Fatalf("unexpected output: %q", fs.last())
	}
	b.handleUpdate(ctx, command(8, "/history"))
	if !strings.Contains(fs.last(), "Sign in") {
		t.Fatalf("history must require sign in: %q", fs.last())
	}

	b.handleUpdate(ctx, command(8, "/predict"))
	if !strings.Contains(fs.last(), "Please describe your symptoms") {
		t.Fatalf("empty symptoms reply: %q", fs.last())
	}
}

func TestLogin_Errors(t *testing.T) {
	b, fs := newTestBot(t, &fakeModel{}, 0)
	ctx := context.Background()
	b.handleUpdate(ctx, command(1, "/login nobody@example.com pw"))
	if fs.last() != "Invalid email or password" {
		t.Fatalf("unexpected reply: %q", fs.last())
	}
	b.handleUpdate(ctx, command(1, "/login onlyemail"))
	if !strings.HasPrefix(fs.last(), "Usage: /login") {
		t.Fatalf("unexpected reply: %q", fs.last())
	}
}

func TestChat_RepliesRenderedAndClear(t *testing.T) {
	model := &fakeModel{chatAnswer: "* **Rest**\n* Drink water", clearErr: gradio.ErrServiceUnavailable}
	b, fs := newTestBot(t, model, 0)
	ctx := context.Background()

	b.handleUpdate(ctx, text(3, "I have a cold"))
	if fs.last() != "• <b>Rest</b>\n• Drink water" {
		t.Fatalf("unexpected chat reply: %q", fs.last())
	}
	if len(fs.requests) == 0 {
		t.Fatalf("typing action not sent")
	}

	b.handleUpdate(ctx, callback(3, clearChatCmd))
	out := fs.all()
	if !strings.Contains(out, "Could not clear server chat history. Local chat cleared.") {
		t.Fatalf("remote clear failure not reported:\n%s", out)
	}
	if !strings.Contains(fs.last(), "MediSense") {
		t.Fatalf("greeting not shown after clear: %q", fs.last())
	}
	if h := b.chats.Session(3).History(); len(h) != 1 {
		t.Fatalf("local chat not cleared: %+v", h)
	}
}

func TestStart_DisclaimerUntilDismissed(t *testing.T) {
	b, fs := newTestBot(t, &fakeModel{}, 0)
	ctx := context.Background()

	b.handleUpdate(ctx, command(5, "/start"))
	if !strings.Contains(fs.all(), "Medical disclaimer") {
		t.Fatalf("disclaimer not shown:\n%s", fs.all())
	}

	b.handleUpdate(ctx, callback(5, dismissDisclaimerCmd))
	fs.sent = nil
	b.handleUpdate(ctx, command(5, "/start"))
	if strings.Contains(fs.all(), "Medical disclaimer") {
		t.Fatalf("disclaimer shown after dismissal:\n%s", fs.all())
	}
}

func TestStatusAndRetry(t *testing.T) {
	model := &fakeModel{}
	b, fs := newTestBot(t, model, 0)
	ctx := context.Background()

	b.handleUpdate(ctx, command(2, "/status"))
	if !strings.Contains(fs.last(), "not been checked") {
		t.Fatalf("unexpected status: %q", fs.last())
	}

	b.handleUpdate(ctx, command(2, "/retry"))
	if !strings.Contains(fs.last(), "technical difficulties") {
		t.Fatalf("failed retry should show the API error: %q", fs.last())
	}
	if fs.sent[len(fs.sent)-1].markup == nil {
		t.Fatalf("API error should carry a retry button")
	}

	model.retryOK = true
	b.handleUpdate(ctx, callback(2, retryCmd))
	if !strings.Contains(fs.last(), "Connected") {
		t.Fatalf("unexpected retry reply: %q", fs.last())
	}
	b.handleUpdate(ctx, command(2, "/status"))
	if !strings.Contains(fs.last(), "available") {
		t.Fatalf("unexpected status: %q", fs.last())
	}
}

func TestReport_AdminOnly(t *testing.T) {
	model := &fakeModel{verified: []string{"Flu", "Flu: 100%"}}
	b, fs := newTestBot(t, model, 99)
	ctx := context.Background()

	b.handleUpdate(ctx, command(4, "/signup d@example.com pw"))
	b.handleUpdate(ctx, command(4, "/predict chills"))

	b.handleUpdate(ctx, command(4, "/report"))
	if !strings.Contains(fs.last(), "administrator only") {
		t.Fatalf("non-admin got: %q", fs.last())
	}

	if err := b.SendDailyReport(ctx); err != nil {
		t.Fatalf("report: %v", err)
	}
	out := fs.last()
	if !strings.Contains(out, "Predictions: 1") || !strings.Contains(out, "1. Flu: 1") ||
		!strings.Contains(out, "Accounts: 1") || !strings.Contains(out, "Active chats: 0") {
		t.Fatalf("unexpected report: %q", out)
	}
}

func TestChat_OverlappingMarkupIsDelivered(t *testing.T) {
	b, fs := newTestBot(t, &fakeModel{chatAnswer: "**a *b** c*"}, 0)
	fs.reject = rejectMisnested

	b.handleUpdate(context.Background(), text(3, "hi"))
	if len(fs.sent) != 1 || fs.last() != "<b>a *b</b> c*" || fs.sent[0].parseMode != tgbotapi.ModeHTML {
		t.Fatalf("unexpected delivery: %+v", fs.sent)
	}
}

func TestSendHTML_FallsBackToPlainText(t *testing.T) {
	b, fs := newTestBot(t, &fakeModel{chatAnswer: "Take **rest** &amp; fluids"}, 0)
	fs.reject = func(m tgbotapi.MessageConfig) error {
		if m.ParseMode == tgbotapi.ModeHTML {
			return errors.New("Bad Request: can't parse entities")
		}
		return nil
	}

	b.handleUpdate(context.Background(), text(3, "hi"))
	if len(fs.sent) != 1 {
		t.Fatalf("want one plain message, got %+v", fs.sent)
	}
	if fs.sent[0].parseMode != "" || fs.last() != "Take rest &amp; fluids" {
		t.Fatalf("unexpected fallback: %+v", fs.sent[0])
	}
}

func TestSendHTML_SplitsLongReplies(t *testing.T) {
	line := strings.Repeat("é", 999)
	answer := strings.TrimSuffix(strings.Repeat(line+"\n", 6), "\n")
	b, fs := newTestBot(t, &fakeModel{chatAnswer: answer}, 0)

	b.handleUpdate(context.Background(), text(3, "hi"))
	if len(fs.sent) != 2 {
		t.Fatalf("want 2 parts, got %d", len(fs.sent))
	}
	var joined []string
	for i, m := range fs.sent {
		if n := utf8.RuneCountInString(m.text); n > maxMessageLen {
			t.Fatalf("part %d has %d runes", i, n)
		}
		if (m.markup != nil) != (i == len(fs.sent)-1) {
			t.Fatalf("keyboard must go with the last part only (part %d)", i)
		}
		joined = append(joined, m.text)
	}
	if strings.Join(joined, "\n") != answer {
		t.Fatalf("parts do not add up to the reply")
	}

	if parts := splitMessage(strings.Repeat("x", 9000), maxMessageLen); len(parts) != 3 || len(parts[2]) != 808 {
		t.Fatalf("hard split: %d parts", len(parts))
	}
}

func TestPredict_ErrorsAreSurfaced(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&gradio.RemoteError{Endpoint: gradio.EndpointPredict, Message: `"Model overloaded"`}, "Model overloaded"},
		{fmt.Errorf("decode prediction: %w", gradio.ErrMalformedResponse), "Received an invalid response structure from the prediction API."},
		{fmt.Errorf("connect: %w", gradio.ErrServiceUnavailable), "Gradio API is not available. Please try again later."},
		{errors.New("read tcp: connection reset"), "read tcp: connection reset"},
	}
	for _, tc := range cases {
		b, fs := newTestBot(t, &fakeModel{predErr: tc.err}, 0)
		b.handleUpdate(context.Background(), command(6, "/predict headache"))
		if fs.last() != tc.want {
			t.Fatalf("for %v got %q, want %q", tc.err, fs.last(), tc.want)
		}
	}
}

func TestChat_MalformedEchoNamesTheChatbot(t *testing.T) {
	if got := userError(gradio.ErrMalformedResponse, chatSource); got != "Received an invalid response structure from the chatbot." {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestLogout_DropsChatSession(t *testing.T) {
	b, fs := newTestBot(t, &fakeModel{chatAnswer: "ok"}, 0)
	ctx := context.Background()

	b.handleUpdate(ctx, command(9, "/signup e@example.com pw"))
	b.handleUpdate(ctx, text(9, "hello"))
	if b.chats.Len() != 1 {
		t.Fatalf("want one chat session, got %d", b.chats.Len())
	}
	b.handleUpdate(ctx, command(9, "/logout"))
	if !strings.Contains(fs.last(), "signed out") || b.chats.Len() != 0 {
		t.Fatalf("logout should drop the chat session (len %d, reply %q)", b.chats.Len(), fs.last())
	}
}
