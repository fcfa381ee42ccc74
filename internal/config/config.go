package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultUploadMaxBytes = 10 * 1024 * 1024

type Config struct {
	App     AppConfig
	Ai      AIConfig
	Prompt  PromptConfig
	Session SessionConfig
	Upload  UploadConfig
	Otel    OtelConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	AuditLogFilePath   string
	CorsAllowedOrigins string
	RedisURL           string // empty disables cross-instance fan-out
	StaticDir          string
}

type AIConfig struct {
	LLMProvider string // "openai" or "ollama"
	LLMBaseURL  string
	LLMModel    string
	Temperature float64
	TopP        float64
	MaxTokens   int
	// Used when a session has not supplied its own key.
	DefaultAPIKey     string
	RequestsPerMinute int
}

type PromptConfig struct {
	MaxRows             int
	MaxHistoryExchanges int
}

type SessionConfig struct {
	TTL                 time.Duration
	CleanupInterval     time.Duration
	KeepHistoryOnReload bool
}

type UploadConfig struct {
	MaxBytes int64
	TempDir  string
}

type OtelConfig struct {
	Enabled  bool
	Endpoint string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/websocket.log"),
			AuditLogFilePath:   getEnv("AUDIT_LOG_FILE_PATH", "logs/audit.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			RedisURL:           getEnv("REDIS_URL", ""),
			StaticDir:          getEnv("STATIC_DIR", "./web"),
		},
		Ai: AIConfig{
			LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
			LLMModel:          getEnv("LLM_MODEL", "gpt-4o"),
			Temperature:       getEnvAsFloat("LLM_TEMPERATURE", 0.2),
			TopP:              getEnvAsFloat("LLM_TOP_P", 0.5),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 0),
			DefaultAPIKey:     getEnv("OPENAI_API_KEY", ""),
			RequestsPerMinute: getEnvAsInt("LLM_REQUESTS_PER_MINUTE", 0),
		},
		Prompt: PromptConfig{
			MaxRows:             getEnvAsInt("PROMPT_MAX_ROWS", 0),
			MaxHistoryExchanges: getEnvAsInt("PROMPT_MAX_HISTORY_EXCHANGES", 0),
		},
		Session: SessionConfig{
			TTL:                 time.Duration(getEnvAsInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
			CleanupInterval:     10 * time.Minute,
			KeepHistoryOnReload: getEnvAsBool("SESSION_KEEP_HISTORY_ON_RELOAD", false),
		},
		Upload: UploadConfig{
			MaxBytes: int64(getEnvAsPositiveInt("UPLOAD_MAX_BYTES", defaultUploadMaxBytes)),
			TempDir:  getEnv("UPLOAD_TEMP_DIR", ""),
		},
		Otel: OtelConfig{
			Enabled:  getEnvAsBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsPositiveInt falls back when the value is missing, malformed or not
// above zero.
func getEnvAsPositiveInt(key string, fallback int) int {
	value := getEnvAsInt(key, fallback)
	if value <= 0 {
		log.Printf("Note: %s must be positive, using %d", key, fallback)
		return fallback
	}
	return value
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
