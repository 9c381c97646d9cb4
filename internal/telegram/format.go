package telegram

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"medisense/internal/diagnosis"
	"medisense/internal/gradio"
	"medisense/internal/history"
)

const disclaimerText = "⚕️ <b>Medical disclaimer</b>\n" +
	"MediSense gives AI-generated suggestions for information only. It is not a diagnosis " +
	"and does not replace a consultation with a qualified healthcare professional."

const apiErrorText = "We're experiencing technical difficulties connecting to our AI services. Please try again later."

const historyLimit = 15

const helpText = "<b>Commands</b>\n" +
	"/signup &lt;email&gt; &lt;password&gt; [name] - create an account\n" +
	"/login &lt;email&gt; &lt;password&gt; - sign in\n" +
	"/logout - sign out\n" +
	"/whoami - show the signed-in account\n" +
	"/predict &lt;symptoms&gt; - predict a condition and suggest drugs\n" +
	"/history - your past predictions\n" +
	"/clear - start a new chat\n" +
	"/status - model service status\n" +
	"/retry - re-test the connection to the model service\n\n" +
	"Any other message goes to the MediSense assistant."

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

func formatPrediction(res diagnosis.Result) string {
	var b strings.Builder
	condition := res.Condition
	if condition == "" {
		condition = "Unknown"
	}
	fmt.Fprintf(&b, "🩺 <b>Predicted condition:</b> %s\n", html.EscapeString(condition))
	if res.InsufficientSymptoms {
		b.WriteString("<i>The assistant found the symptoms insufficient for a reliable assessment; showing the model's prediction.</i>\n")
	}

	if len(res.Conditions) > 0 {
		b.WriteString("\n<b>Possible conditions</b>\n")
		for i, c := range res.Conditions {
			fmt.Fprintf(&b, "%d. <b>%s</b>: %s\n", i+1, html.EscapeString(c.Condition), pct(c.Percentage))
		}
	}

	if len(res.Drugs) > 0 {
		b.WriteString("\n<b>Recommended drugs</b>\n")
		for _, d := range res.Drugs {
			fmt.Fprintf(&b, "• <b>%s</b>\n   Rating: %s (%d reviews)\n   Useful Votes: %d\n   Side Effects: %s\n",
				html.EscapeString(d.Drug), strconv.FormatFloat(d.Rating, 'f', -1, 64), d.ReviewCount, d.UsefulVotes,
				html.EscapeString(d.SideEffects))
		}
	}

	if res.Condition != "" {
		fmt.Fprintf(&b, "\n💊 <a href=\"%s\">Search drugs.com for %s</a>", html.EscapeString(res.DrugsLink()), html.EscapeString(res.Condition))
	}
	return b.String()
}

func formatHistory(l history.Log) string {
	if len(l.Predictions) == 0 {
		return "You have no predictions yet. Try /predict &lt;symptoms&gt;."
	}
	var b strings.Builder
	b.WriteString("📋 <b>Your predictions</b>\n")
	for i, rec := range l.Predictions {
		if i == historyLimit {
			fmt.Fprintf(&b, "\n…and %d older", len(l.Predictions)-historyLimit)
			break
		}
		fmt.Fprintf(&b, "\n<b>%s</b> (%s)\n%s\n<a href=\"%s\">View Medications</a>\n",
			html.EscapeString(rec.Condition), formatTimestamp(rec.Timestamp), html.EscapeString(rec.Symptoms),
			html.EscapeString(diagnosis.DrugsSearchURL(rec.Condition)))
	}
	return b.String()
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return html.EscapeString(ts)
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func formatStatus(st gradio.Status) string {
	switch {
	case !st.Tested:
		return "⏳ The model service has not been checked yet. Use /retry to test it."
	case st.Working:
		return "✅ The model service is available."
	default:
		return "⚠️ " + apiErrorText
	}
}
