package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"portside/config"
	"portside/database"
	"portside/engine"
	"portside/handlers"
	"portside/llm"
	"portside/middleware"
	"portside/services"
	"portside/store"
)

func main() {
	cfg := config.Load()

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	st := store.New(db)

	// Optional Redis for lifecycle events
	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	events := services.NewEvents(rdb)

	// Container engine
	eng, err := engine.NewDockerEngine()
	if err != nil {
		log.Fatalf("Failed to initialize container engine: %v", err)
	}

	// LLM provider
	llmClient, err := llm.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	log.Printf("LLM provider: %s (%s)", cfg.LLMProvider, llmClient.ModelName())

	// Services
	ports := services.NewPortAllocator(cfg.PortRangeStart, cfg.PortRangeEnd)
	lifecycle := services.NewLifecycle(st, ports, eng, events, cfg.WorkspaceImage)
	relay := services.NewChatRelay(st, llmClient)

	// Reserved ports must be reseeded before any create can race them.
	if err := lifecycle.Recover(context.Background()); err != nil {
		log.Fatalf("Failed to recover allocator state: %v", err)
	}

	// Handlers
	healthHandler := handlers.NewHealthHandler(st)
	containersHandler := handlers.NewContainersHandler(lifecycle)
	chatHandler := handlers.NewChatHandler(relay, lifecycle)
	wsChatHandler := handlers.NewWSChatHandler(relay, lifecycle, cfg.CORSOrigin)

	// Router
	r := gin.Default()
	r.Use(middleware.CORS(cfg.CORSOrigin))

	r.GET("/health", healthHandler.Check)

	containers := r.Group("/containers")
	{
		containers.POST("", containersHandler.Create)
		containers.GET("", containersHandler.List)
		containers.POST("/:id/start", containersHandler.Start)
		containers.POST("/:id/stop", containersHandler.Stop)
		containers.DELETE("/:id", containersHandler.Delete)
	}

	chat := r.Group("/chat")
	{
		chat.POST("/:workspaceId/messages", chatHandler.SendMessage)
		chat.GET("/:workspaceId/messages", chatHandler.History)
	}

	r.GET("/ws/chat/:workspaceId", wsChatHandler.HandleWebSocket)

	fmt.Printf("Workspace API running on port %s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
