package main

import (
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lumochat/chat-engine/internal/ai"
	"github.com/lumochat/chat-engine/internal/bus"
	"github.com/lumochat/chat-engine/internal/chat"
	"github.com/lumochat/chat-engine/internal/config"
	"github.com/lumochat/chat-engine/internal/db"
	"github.com/lumochat/chat-engine/internal/httpapi"
	"github.com/lumochat/chat-engine/internal/store/rabbitmq"
	"github.com/lumochat/chat-engine/pkg/log"
)

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("openai", ai.NewOpenAIGateway())
	reg.Register("openrouter", ai.NewOpenRouterGateway(cfg.OpenRouterSiteURL, cfg.OpenRouterAppName))
	reg.Register("gemini", ai.NewGeminiGateway())

	mock := ai.NewMockGateway()
	if cfg.MockWordCount > 0 {
		mock.DefaultWordCount = cfg.MockWordCount
	}
	reg.Register("mock", mock)
	return reg
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	gin.SetMode(cfg.GinMode)

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	repo := chat.NewRepo(gdb)

	var eventBus bus.Bus = bus.NewMemory()
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		eventBus = bus.NewRedis(rdb, cfg.EventChannel)
	}

	orch := chat.NewOrchestrator(repo, newRegistry(cfg), eventBus)

	var pub *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		pub, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			// The async endpoint degrades to inline execution.
			log.Warnw("rabbit unavailable, async turns run inline", "error", err)
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	r := httpapi.NewRouter(cfg, repo, orch, pub)

	log.Infow("server listening", "port", cfg.ServerPort)
	if err := r.Run(":" + cfg.ServerPort); err != nil {
		log.Fatalf("server: %v", err)
	}
}
