package telegram

import (
	"context"
	"fmt"
	"html"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"medisense/internal/analytics"
)

// handleReportCommand sends today's usage report (admin only).
func (b *Bot) handleReportCommand(ctx context.Context, msg *tgbotapi.Message) {
	if b.adminUserID == 0 || msg.From.ID != b.adminUserID {
		b.sendMessage(msg.Chat.ID, "❌ This command is available to the administrator only.")
		return
	}
	if err := b.generateDailyReport(ctx, msg.Chat.ID, time.Now()); err != nil {
		log.Printf("❌ Report generation failed: %v", err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Report generation failed: %v", err))
	}
}

// SendDailyReport is the scheduler hook: it reports the current UTC day to the
// admin.
func (b *Bot) SendDailyReport(ctx context.Context) error {
	if b.adminUserID == 0 {
		log.Println("⚠️ ADMIN_USER not set, skipping usage report")
		return nil
	}
	return b.generateDailyReport(ctx, b.adminUserID, time.Now())
}

func (b *Bot) generateDailyReport(ctx context.Context, chatID int64, day time.Time) error {
	logs, err := b.logs.All(ctx)
	if err != nil {
		return fmt.Errorf("load prediction logs: %w", err)
	}
	stats := analytics.AnalyzeDailyLogs(logs, day)
	log.Printf("📊 Usage report for %s: %d predictions by %d users", stats.Date, stats.TotalPredictions, stats.UniqueUsers)
	summary := stats.GenerateReportSummary()
	if accounts, err := b.authSvc.Count(ctx); err == nil {
		summary += fmt.Sprintf("\nAccounts: %d\n", accounts)
	} else {
		log.Printf("⚠️ account count failed: %v", err)
	}
	summary += fmt.Sprintf("Active chats: %d\n", b.chats.Len())
	b.sendHTML(chatID, "📊 <pre>"+html.EscapeString(summary)+"</pre>", nil)
	return nil
}
