package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"portside/engine"
	"portside/llm"
	"portside/models"
	"portside/store"
)

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

// fakeEngine records calls and fails on demand.
type fakeEngine struct {
	mu         sync.Mutex
	created    []engine.Spec
	started    []string
	stopped    []string
	removed    []string
	failCreate bool
	failStart  bool
	failStop   bool
	failRemove bool
}

func (e *fakeEngine) Create(ctx context.Context, spec engine.Spec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCreate {
		return "", errors.New("engine create failed")
	}
	e.created = append(e.created, spec)
	return spec.Name, nil
}

func (e *fakeEngine) Start(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failStart {
		return errors.New("engine start failed")
	}
	e.started = append(e.started, handle)
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failStop {
		return errors.New("engine stop failed")
	}
	e.stopped = append(e.stopped, handle)
	return nil
}

func (e *fakeEngine) Remove(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failRemove {
		return errors.New("engine remove failed")
	}
	e.removed = append(e.removed, handle)
	return nil
}

// fakeLLM yields a canned reply or a canned chunk sequence. streamErr,
// when set, surfaces after the chunks are exhausted, like a mid-stream
// provider failure.
type fakeLLM struct {
	reply       string
	completeErr error
	chunks      []string
	streamErr   error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.reply, nil
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string) llm.Stream {
	return &fakeStream{ctx: ctx, chunks: f.chunks, err: f.streamErr}
}

func (f *fakeLLM) ModelName() string { return "fake-model" }

type fakeStream struct {
	ctx    context.Context
	chunks []string
	err    error
	pos    int
	cur    llm.Chunk
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.ctx.Err() != nil || s.pos >= len(s.chunks) {
		return false
	}
	s.cur = llm.Chunk{Content: s.chunks[s.pos]}
	s.pos++
	return true
}

func (s *fakeStream) Current() llm.Chunk { return s.cur }

func (s *fakeStream) Err() error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	return s.err
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
