package bootstrap

import (
	"context"
	"fmt"

	"csv-analyst-be/internal/config"
	"csv-analyst-be/internal/constant"
	"csv-analyst-be/internal/controller"
	"csv-analyst-be/internal/metrics"
	"csv-analyst-be/internal/pkg/logger"
	"csv-analyst-be/internal/repository/memory"
	"csv-analyst-be/internal/service"
	"csv-analyst-be/internal/websocket"
	"csv-analyst-be/pkg/ai/pipeline"
	"csv-analyst-be/pkg/dataset"
	"csv-analyst-be/pkg/llm/factory"
	"csv-analyst-be/pkg/prompt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	ChatController   controller.IChatController
	HealthController controller.IHealthController

	// Services
	ChatService     service.IChatService
	ConsumerService service.IConsumerService

	// Infrastructure
	Logger      logger.ILogger
	Metrics     *metrics.Metrics
	SessionRepo *memory.SessionRepository
	WsHub       *websocket.Hub
	PubSub      *gochannel.GoChannel
	Redis       *redis.Client
}

func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. LLM Provider
	llmProvider, err := factory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, cfg.Ai.LLMBaseURL)
	if err != nil {
		return nil, fmt.Errorf("init LLM provider: %w", err)
	}
	sysLogger.Info(constant.ModuleServer, "Using LLM provider", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	// 4. In-Memory Session Storage
	sessionRepo := memory.NewSessionRepository(cfg.Session.TTL, cfg.Session.CleanupInterval)
	appMetrics := metrics.NewMetrics(sessionRepo.Count)

	// 5. Redis (optional cross-instance fan-out)
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			sysLogger.Warn(constant.ModuleServer, "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err})
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			sysLogger.Warn(constant.ModuleServer, "Failed to connect to Redis", map[string]interface{}{"error": err})
		}
	}

	// 6. WebSocket Hub
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)
	wsHub := websocket.NewHub(rdb, wsLogger)

	// 7. Services
	chatService := service.NewChatService(
		sessionRepo,
		llmProvider,
		dataset.NewLoader(cfg.Upload.TempDir),
		service.NewPublisherService(pubSub),
		appMetrics,
		sysLogger,
		service.ChatServiceConfig{
			Persona: constant.AnalystPersonaV1,
			Budget: prompt.Budget{
				MaxRows:             cfg.Prompt.MaxRows,
				MaxHistoryExchanges: cfg.Prompt.MaxHistoryExchanges,
			},
			Decoding: pipeline.Decoding{
				Model:       cfg.Ai.LLMModel,
				Temperature: cfg.Ai.Temperature,
				TopP:        cfg.Ai.TopP,
				MaxTokens:   cfg.Ai.MaxTokens,
			},
			DefaultCredential:   cfg.Ai.DefaultAPIKey,
			KeepHistoryOnReload: cfg.Session.KeepHistoryOnReload,
			MaxUploadBytes:      cfg.Upload.MaxBytes,
			RequestsPerMinute:   cfg.Ai.RequestsPerMinute,
		},
	)
	auditLogger := logger.NewIsolatedLogger(cfg.App.AuditLogFilePath)
	consumerService := service.NewConsumerService(
		pubSub,
		auditLogger,
		constant.TopicDatasetLoaded,
		constant.TopicTurnCompleted,
		constant.TopicTurnFailed,
	)

	return &Container{
		ChatController:   controller.NewChatController(chatService, wsHub, wsLogger, cfg.Upload.MaxBytes),
		HealthController: controller.NewHealthController(sessionRepo.Count),

		ChatService:     chatService,
		ConsumerService: consumerService,

		Logger:      sysLogger,
		Metrics:     appMetrics,
		SessionRepo: sessionRepo,
		WsHub:       wsHub,
		PubSub:      pubSub,
		Redis:       rdb,
	}, nil
}

// Start runs the background workers until ctx is cancelled.
func (c *Container) Start(ctx context.Context) error {
	go c.WsHub.Run(ctx)
	return c.ConsumerService.Consume(ctx)
}

func (c *Container) Close() {
	if err := c.PubSub.Close(); err != nil {
		c.Logger.Warn(constant.ModuleServer, "Failed to close event bus", map[string]interface{}{"error": err})
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	_ = c.Logger.Sync()
}
