package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"medisense/internal/app"
	"medisense/internal/config"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.NewCore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ failed to init services: %v", err)
	}
	defer stack.Close()
	stack.StartConnectivityCheck(ctx)

	log.Printf("🚀 Starting MediSense MCP Server (space %s)", cfg.GradioSpace)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "medisense-mcp",
		Version: "1.0.0",
	}, nil)
	registerTools(server, &MediSenseMCPServer{
		pipeline: stack.Pipeline,
		chats:    stack.Chats,
		gateway:  stack.Gradio,
		history:  stack.History,
		logs:     stack.Logs,
		accounts: stack.Auth,
	})

	log.Printf("🔗 Starting server on stdin/stdout...")
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
}

func registerTools(server *mcp.Server, s *MediSenseMCPServer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "predict_condition",
		Description: "Predicts the most likely medical condition for a symptom description, verifies it with the assistant and lists recommended drugs",
	}, s.PredictCondition)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_message",
		Description: "Sends a message to the MediSense health assistant and returns its reply",
	}, s.ChatMessage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_chat",
		Description: "Resets a conversation with the MediSense assistant",
	}, s.ClearChat)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_connectivity",
		Description: "Reports whether the hosted model service is reachable",
	}, s.CheckConnectivity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "prediction_history",
		Description: "Lists the recorded predictions of an account, newest first",
	}, s.PredictionHistory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "usage_report",
		Description: "Summarises one UTC day of predictions: totals, unique users and top conditions",
	}, s.UsageReport)

	log.Printf("📋 Registered %d tools: predict_condition, chat_message, clear_chat, check_connectivity, prediction_history, usage_report", 6)
}
