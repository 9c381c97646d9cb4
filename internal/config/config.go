package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type ChatBackend string

const (
	BackendGradio ChatBackend = "gradio"
	BackendOpenAI ChatBackend = "openai"
	BackendYandex ChatBackend = "yandex"
)

type StorageBackend string

const (
	StorageFile     StorageBackend = "file"
	StoragePostgres StorageBackend = "postgres"
)

// Core holds everything except the Telegram settings, so that the MCP server
// can run without a bot token.
type Core struct {
	// Gradio space
	GradioSpace     string        `env:"GRADIO_SPACE" envDefault:"puneeth1/Disease-Drug-RoBERTa"`
	GradioHubURL    string        `env:"GRADIO_HUB_URL" envDefault:"https://huggingface.co"`
	HFToken         string        `env:"HF_TOKEN"`
	GradioTimeout   time.Duration `env:"GRADIO_TIMEOUT" envDefault:"120s"`
	GradioRateLimit float64       `env:"GRADIO_RATE_LIMIT" envDefault:"2"`
	GradioBurst     int           `env:"GRADIO_BURST" envDefault:"3"`

	// Chat assistant and verification backend
	ChatBackend      ChatBackend `env:"CHAT_BACKEND" envDefault:"gradio"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Storage
	StorageBackend StorageBackend `env:"STORAGE_BACKEND" envDefault:"file"`
	StoreFilePath  string         `env:"STORE_FILE_PATH" envDefault:"data/store.json"`
	DatabaseURL    string         `env:"DATABASE_URL"`
}

type Config struct {
	Core

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	AdminUserID      int64  `env:"ADMIN_USER"`

	// Daily usage report cron spec in UTC, "off" disables it
	ReportSchedule string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

func NewCore() *Core {
	cfg := &Core{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
