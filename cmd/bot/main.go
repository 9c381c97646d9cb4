package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"medisense/internal/app"
	"medisense/internal/config"
	"medisense/internal/scheduler"
	"medisense/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(ctx, &cfg.Core)
	if err != nil {
		log.Fatalf("failed to init services: %v", err)
	}
	defer stack.Close()

	bot, err := telegram.New(cfg.TelegramBotToken, cfg.AdminUserID, telegram.Deps{
		Auth:     stack.Auth,
		History:  stack.History,
		Logs:     stack.Logs,
		Prefs:    stack.Prefs,
		Chats:    stack.Chats,
		Pipeline: stack.Pipeline,
		Gateway:  stack.Gradio,
	})
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	stack.StartConnectivityCheck(ctx)

	if cfg.ReportSchedule != "" && cfg.ReportSchedule != "off" {
		sched := scheduler.New(cfg.ReportSchedule)
		sched.SetReportFunction(bot.SendDailyReport)
		if err := sched.Start(); err != nil {
			log.Printf("⚠️ failed to start scheduler: %v", err)
		}
		if !sched.IsRunning() {
			log.Printf("⚠️ usage report is not scheduled")
		}
		defer sched.Stop()
	}

	log.Printf("🚀 MediSense bot started")
	bot.Start(ctx)
	log.Printf("👋 MediSense bot stopped")
}
