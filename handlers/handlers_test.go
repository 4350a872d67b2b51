package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"portside/engine"
	"portside/llm"
	"portside/models"
	"portside/services"
	"portside/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A pooled :memory: handle would give each new connection its own
	// empty database; pin the pool to one connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Workspace{}, &models.Project{}, &models.ChatMessage{}))
	return store.New(db)
}

type stubEngine struct {
	mu       sync.Mutex
	failStop bool
}

func (e *stubEngine) Create(ctx context.Context, spec engine.Spec) (string, error) {
	return spec.Name, nil
}

func (e *stubEngine) Start(ctx context.Context, handle string) error { return nil }

func (e *stubEngine) Stop(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failStop {
		return errors.New("engine stop failed")
	}
	return nil
}

func (e *stubEngine) Remove(ctx context.Context, handle string) error { return nil }

type stubLLM struct {
	reply     string
	chunks    []string
	streamErr error
}

func (f *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.reply, nil
}

func (f *stubLLM) Stream(ctx context.Context, prompt string) llm.Stream {
	return &stubStream{chunks: f.chunks, err: f.streamErr}
}

func (f *stubLLM) ModelName() string { return "stub-model" }

type stubStream struct {
	chunks []string
	err    error
	pos    int
	cur    llm.Chunk
}

func (s *stubStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.cur = llm.Chunk{Content: s.chunks[s.pos]}
	s.pos++
	return true
}

func (s *stubStream) Current() llm.Chunk { return s.cur }
func (s *stubStream) Err() error         { return s.err }
func (s *stubStream) Close() error       { return nil }

type testEnv struct {
	router    *gin.Engine
	store     *store.Store
	lifecycle *services.Lifecycle
	engine    *stubEngine
}

func newTestEnv(t *testing.T, client llm.Client, poolSize int) *testEnv {
	t.Helper()

	st := openTestStore(t)
	eng := &stubEngine{}
	ports := services.NewPortAllocator(8100, 8100+poolSize-1)
	lifecycle := services.NewLifecycle(st, ports, eng, services.NewEvents(nil), "portside/workspace:latest")
	relay := services.NewChatRelay(st, client)

	r := gin.New()
	health := NewHealthHandler(st)
	containers := NewContainersHandler(lifecycle)
	chat := NewChatHandler(relay, lifecycle)

	r.GET("/health", health.Check)
	r.POST("/containers", containers.Create)
	r.GET("/containers", containers.List)
	r.POST("/containers/:id/start", containers.Start)
	r.POST("/containers/:id/stop", containers.Stop)
	r.DELETE("/containers/:id", containers.Delete)
	r.POST("/chat/:workspaceId/messages", chat.SendMessage)
	r.GET("/chat/:workspaceId/messages", chat.History)
	r.GET("/ws/chat/:workspaceId", NewWSChatHandler(relay, lifecycle, "*").HandleWebSocket)

	return &testEnv{router: r, store: st, lifecycle: lifecycle, engine: eng}
}
