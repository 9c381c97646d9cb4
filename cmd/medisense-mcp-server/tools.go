package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"medisense/internal/analytics"
	"medisense/internal/chat"
	"medisense/internal/diagnosis"
	"medisense/internal/gradio"
	"medisense/internal/history"
)

type PredictParams struct {
	Symptoms string `json:"symptoms" mcp:"free-text description of the symptoms"`
	Email    string `json:"email,omitempty" mcp:"registered account email to record the prediction under (optional)"`
}

type ChatParams struct {
	Message        string `json:"message" mcp:"the message for the MediSense assistant"`
	ConversationID int64  `json:"conversation_id,omitempty" mcp:"conversation to continue (default 0)"`
}

type ClearChatParams struct {
	ConversationID int64 `json:"conversation_id,omitempty" mcp:"conversation to reset (default 0)"`
}

type ConnectivityParams struct {
	Force bool `json:"force,omitempty" mcp:"re-test even if a cached result exists"`
}

type ReportParams struct {
	Date string `json:"date,omitempty" mcp:"UTC day as YYYY-MM-DD (default today)"`
}

type HistoryParams struct {
	Email string `json:"email" mcp:"registered account email whose predictions to list"`
	Limit int    `json:"limit,omitempty" mcp:"maximum number of records to return (default 20)"`
}

type accounts interface {
	Exists(ctx context.Context, email string) (bool, error)
}

type logSource interface {
	All(ctx context.Context) ([]history.Log, error)
}

type connectivity interface {
	TestConnectivity(ctx context.Context, force bool) bool
	Status() gradio.Status
}

// MediSenseMCPServer exposes the prediction pipeline and the assistant as MCP
// tools.
type MediSenseMCPServer struct {
	pipeline *diagnosis.Pipeline
	chats    *chat.Manager
	gateway  connectivity
	history  *history.Service
	logs     logSource
	accounts accounts
}

// checkAccount returns an error result unless email belongs to a registered
// account. Tools never create logs for unknown emails.
func (s *MediSenseMCPServer) checkAccount(ctx context.Context, email string) *mcp.CallToolResultFor[any] {
	ok, err := s.accounts.Exists(ctx, email)
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to look up account: %v", err))
	}
	if !ok {
		return errorResult("❌ No MediSense account is registered for " + email)
	}
	return nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (s *MediSenseMCPServer) PredictCondition(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[PredictParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	log.Printf("🩺 MCP Server: predict_condition (%d chars)", len(args.Symptoms))

	email := strings.TrimSpace(args.Email)
	if email != "" {
		if res := s.checkAccount(ctx, email); res != nil {
			return res, nil
		}
	}
	res, err := s.pipeline.Run(ctx, email, args.Symptoms)
	if err != nil {
		return errorResult("❌ " + err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Predicted condition: %s\n", res.Condition)
	if res.InsufficientSymptoms {
		b.WriteString("(the assistant considered the symptoms insufficient; this is the model's prediction)\n")
	}
	if len(res.Conditions) > 0 {
		b.WriteString("\nPossible conditions:\n")
		for i, c := range res.Conditions {
			fmt.Fprintf(&b, "%d. %s: %s%%\n", i+1, c.Condition, strconv.FormatFloat(c.Percentage, 'f', -1, 64))
		}
	}
	if len(res.Drugs) > 0 {
		b.WriteString("\nRecommended drugs:\n")
		for _, d := range res.Drugs {
			fmt.Fprintf(&b, "- %s: rating %s (%d reviews), useful votes %d, side effects: %s\n",
				d.Drug, strconv.FormatFloat(d.Rating, 'f', -1, 64), d.ReviewCount, d.UsefulVotes, d.SideEffects)
		}
	}
	if res.Condition != "" {
		fmt.Fprintf(&b, "\nMedications: %s\n", res.DrugsLink())
	}

	out := textResult(b.String())
	out.Meta = map[string]any{
		"condition":           res.Condition,
		"model_condition":     res.ModelCondition,
		"condition_verified":  res.ConditionVerified,
		"conditions_verified": res.ConditionsVerified,
		"saved":               res.Saved != nil,
	}
	return out, nil
}

func (s *MediSenseMCPServer) ChatMessage(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ChatParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	reply, err := s.chats.Session(args.ConversationID).Send(ctx, args.Message)
	var partial *gradio.PartialResponseError
	switch {
	case err == nil:
		out := textResult(reply.Text)
		out.Meta = map[string]any{"html": reply.HTML()}
		return out, nil
	case errors.As(err, &partial):
		return textResult(reply.Text + "\n\n⚠️ " + partial.Reason), nil
	default:
		return errorResult("❌ " + err.Error()), nil
	}
}

func (s *MediSenseMCPServer) ClearChat(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ClearChatParams]) (*mcp.CallToolResultFor[any], error) {
	if err := s.chats.Session(params.Arguments.ConversationID).Clear(ctx); err != nil {
		return textResult("⚠️ " + chat.ErrRemoteClearFailed.Error() + "\n\n" + chat.Greeting), nil
	}
	return textResult(chat.Greeting), nil
}

func (s *MediSenseMCPServer) CheckConnectivity(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ConnectivityParams]) (*mcp.CallToolResultFor[any], error) {
	ok := s.gateway.TestConnectivity(ctx, params.Arguments.Force)
	st := s.gateway.Status()
	out := textResult("✅ The model service is available.")
	if !ok {
		out = textResult("⚠️ The model service is not available.")
	}
	out.Meta = map[string]any{"tested": st.Tested, "working": st.Working}
	return out, nil
}

func (s *MediSenseMCPServer) PredictionHistory(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[HistoryParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	email := strings.TrimSpace(args.Email)
	if email == "" {
		return errorResult("❌ email is required"), nil
	}
	if res := s.checkAccount(ctx, email); res != nil {
		return res, nil
	}
	l, err := s.history.Get(ctx, email)
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to load history: %v", err)), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(l.Predictions) == 0 {
		return textResult("No predictions recorded."), nil
	}
	var b strings.Builder
	for i, rec := range l.Predictions {
		if i == limit {
			fmt.Fprintf(&b, "... %d older records\n", len(l.Predictions)-limit)
			break
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s\n", rec.Timestamp, rec.Condition, rec.Symptoms, diagnosis.DrugsSearchURL(rec.Condition))
	}
	return textResult(b.String()), nil
}

func (s *MediSenseMCPServer) UsageReport(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ReportParams]) (*mcp.CallToolResultFor[any], error) {
	day := time.Now().UTC()
	if d := strings.TrimSpace(params.Arguments.Date); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return errorResult("❌ date must be YYYY-MM-DD"), nil
		}
		day = parsed
	}
	logs, err := s.logs.All(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to load prediction logs: %v", err)), nil
	}
	stats := analytics.AnalyzeDailyLogs(logs, day)
	data, err := stats.ToJSON()
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to encode report: %v", err)), nil
	}
	out := textResult(stats.GenerateReportSummary())
	out.Meta = map[string]any{"stats": data}
	return out, nil
}
