// Package app wires the services shared by the bot and the MCP server.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"medisense/internal/auth"
	"medisense/internal/chat"
	"medisense/internal/config"
	"medisense/internal/diagnosis"
	"medisense/internal/gradio"
	"medisense/internal/history"
	"medisense/internal/llm"
	"medisense/internal/prefs"
	"medisense/internal/storage"
)

type Stack struct {
	Store   storage.Store
	Gradio  *gradio.Client
	Auth    *auth.Service
	History *history.Service
	Logs    *history.KVRepository
	Prefs   *prefs.Store
	Chats   *chat.Manager
	// Pipeline predicts with the Gradio space and verifies with the chat
	// backend.
	Pipeline *diagnosis.Pipeline

	closers []func()
}

func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func Build(ctx context.Context, cfg *config.Core) (*Stack, error) {
	st := &Stack{}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st.Store = store
	if closeStore != nil {
		st.closers = append(st.closers, closeStore)
	}

	st.Gradio = gradio.New(gradio.Options{
		Space:     cfg.GradioSpace,
		HubURL:    cfg.GradioHubURL,
		Token:     cfg.HFToken,
		Timeout:   cfg.GradioTimeout,
		RateLimit: cfg.GradioRateLimit,
		Burst:     cfg.GradioBurst,
	})

	chatGW, err := newChatGateway(cfg, st.Gradio)
	if err != nil {
		st.Close()
		return nil, err
	}

	st.Logs = history.NewKVRepository(store)
	st.History = history.NewService(st.Logs)
	st.Auth = auth.NewWithRepo(auth.NewKVRepository(store), store, st.History.Init)
	st.Prefs = prefs.New(store)
	st.Chats = chat.NewManager(chatGW)
	st.Pipeline = diagnosis.New(st.Gradio, chatGW, st.History)
	return st, nil
}

// StartConnectivityCheck runs the start-up connectivity test in the background.
func (s *Stack) StartConnectivityCheck(ctx context.Context) {
	go func() {
		checkCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if s.Gradio.TestConnectivity(checkCtx, false) {
			log.Printf("✅ API status check: API is ready and working")
		} else {
			log.Printf("⚠️ API status check: API failed initial test")
		}
	}()
}

func newStore(ctx context.Context, cfg *config.Core) (storage.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Printf("🗄️ Using PostgreSQL store")
		return pg, pg.Close, nil
	case config.StorageFile, "":
		fs, err := storage.NewFileStore(cfg.StoreFilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("init file store: %w", err)
		}
		log.Printf("🗄️ Using file store at %s", cfg.StoreFilePath)
		return fs, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}

// ChatGateway is what the chat manager and the verification passes need.
type ChatGateway interface {
	chat.Gateway
	diagnosis.Verifier
}

func newChatGateway(cfg *config.Core, g *gradio.Client) (ChatGateway, error) {
	switch cfg.ChatBackend {
	case config.BackendGradio, "":
		return g, nil
	case config.BackendOpenAI, config.BackendYandex:
		client, err := llm.NewFactory(cfg).CreateClient(string(cfg.ChatBackend), cfg.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
		log.Printf("💬 Chat backend: %s", cfg.ChatBackend)
		return llm.NewChatGateway(client, readSystemPrompt(cfg.SystemPromptPath)), nil
	default:
		return nil, fmt.Errorf("unknown chat backend: %s", cfg.ChatBackend)
	}
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("system prompt file not found or unreadable at %s: %v", path, err)
		return ""
	}
	return string(data)
}
