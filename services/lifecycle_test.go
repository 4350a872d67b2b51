package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"portside/models"
	"portside/store"
)

func newTestLifecycle(t *testing.T, eng *fakeEngine, poolSize int) (*Lifecycle, *store.Store) {
	t.Helper()
	st := openTestStore(t)
	ports := NewPortAllocator(8100, 8100+poolSize-1)
	return NewLifecycle(st, ports, eng, NewEvents(nil), "portside/workspace:latest"), st
}

func TestCreate_AllocatesPortAndPersists(t *testing.T) {
	eng := &fakeEngine{}
	lc, st := newTestLifecycle(t, eng, 5)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{
		Name:     "demo",
		UserID:   "alice",
		Labels:   map[string]string{"env": "dev"},
		Metadata: map[string]any{"tier": "free"},
		Project: &ProjectSpec{
			Name:        "site",
			Description: "demo project",
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCreated, ws.Status)
	require.NotNil(t, ws.AssignedPort)
	require.Equal(t, 8100, *ws.AssignedPort)

	got, err := st.GetWorkspace(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCreated, got.Status)
	require.JSONEq(t, `{"env":"dev"}`, string(got.Labels))
	require.JSONEq(t, `{"tier":"free"}`, string(got.Metadata))
	require.Len(t, got.Projects, 1)
	require.Equal(t, "site", got.Projects[0].Name)

	require.Len(t, eng.created, 1)
	require.Equal(t, 8100, eng.created[0].Port)
	require.Equal(t, "portside/workspace:latest", eng.created[0].Image)
}

func TestCreate_PoolOfOne_ConcurrentCreates(t *testing.T) {
	eng := &fakeEngine{}
	lc, _ := newTestLifecycle(t, eng, 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lc.Create(context.Background(), CreateWorkspaceRequest{Name: "w"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, exhausted := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrPortsExhausted)
			exhausted++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, exhausted)
}

func TestCreate_EngineFailureReleasesPort(t *testing.T) {
	eng := &fakeEngine{failCreate: true}
	lc, st := newTestLifecycle(t, eng, 1)
	ctx := context.Background()

	_, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "doomed"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPortsExhausted)

	// Failed attempt stays visible as an error record without a port.
	list, err := st.ListWorkspaces(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.StatusError, list[0].Status)
	require.Nil(t, list[0].AssignedPort)

	// Port was not leaked: the next create gets it.
	eng.failCreate = false
	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "next"})
	require.NoError(t, err)
	require.Equal(t, 8100, *ws.AssignedPort)
}

func TestStart_TransitionsToRunning(t *testing.T) {
	eng := &fakeEngine{}
	lc, _ := newTestLifecycle(t, eng, 5)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)

	started, err := lc.Start(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, started.Status)
	require.Equal(t, "http://localhost:8100", started.URL)
	require.NotNil(t, started.StartedAt)
}

func TestStart_InvalidFromRunning(t *testing.T) {
	eng := &fakeEngine{}
	lc, _ := newTestLifecycle(t, eng, 5)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)
	_, err = lc.Start(ctx, ws.ExternalID)
	require.NoError(t, err)

	_, err = lc.Start(ctx, ws.ExternalID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStart_EngineFailureMarksError(t *testing.T) {
	eng := &fakeEngine{}
	lc, st := newTestLifecycle(t, eng, 5)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)

	eng.failStart = true
	_, err = lc.Start(ctx, ws.ExternalID)
	require.Error(t, err)

	got, err := st.GetWorkspace(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.Status)
}

func TestStop_ReleasesPortForReuse(t *testing.T) {
	eng := &fakeEngine{}
	lc, _ := newTestLifecycle(t, eng, 1)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)
	_, err = lc.Start(ctx, ws.ExternalID)
	require.NoError(t, err)

	stopped, warning, err := lc.Stop(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Empty(t, warning)
	require.Equal(t, models.StatusStopped, stopped.Status)
	require.NotNil(t, stopped.StoppedAt)

	// Released port is immediately reusable by a fresh workspace.
	next, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "reuse"})
	require.NoError(t, err)
	require.Equal(t, *ws.AssignedPort, *next.AssignedPort)
}

func TestStop_EngineFailureStillStopsAndReleases(t *testing.T) {
	eng := &fakeEngine{}
	lc, st := newTestLifecycle(t, eng, 1)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)
	_, err = lc.Start(ctx, ws.ExternalID)
	require.NoError(t, err)

	eng.failStop = true
	stopped, warning, err := lc.Stop(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Contains(t, warning, "engine teardown failed")
	require.Equal(t, models.StatusStopped, stopped.Status)

	got, err := st.GetWorkspace(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Equal(t, models.StatusStopped, got.Status)

	// Port still reclaimed despite the teardown failure.
	_, err = lc.Create(ctx, CreateWorkspaceRequest{Name: "reuse"})
	require.NoError(t, err)
}

func TestStop_TerminalStateRejected(t *testing.T) {
	eng := &fakeEngine{}
	lc, _ := newTestLifecycle(t, eng, 5)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)
	_, _, err = lc.Stop(ctx, ws.ExternalID)
	require.NoError(t, err)

	_, _, err = lc.Stop(ctx, ws.ExternalID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDelete_StopsFirstAndRemovesRecord(t *testing.T) {
	eng := &fakeEngine{}
	lc, st := newTestLifecycle(t, eng, 5)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)
	_, err = lc.Start(ctx, ws.ExternalID)
	require.NoError(t, err)

	warning, err := lc.Delete(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Empty(t, warning)

	_, err = st.GetWorkspace(ctx, ws.ExternalID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Len(t, eng.stopped, 1)
	require.Len(t, eng.removed, 1)
}

func TestDelete_ErroredWorkspaceReleasesPort(t *testing.T) {
	eng := &fakeEngine{}
	lc, st := newTestLifecycle(t, eng, 1)
	ctx := context.Background()

	ws, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "demo"})
	require.NoError(t, err)

	eng.failStart = true
	_, err = lc.Start(ctx, ws.ExternalID)
	require.Error(t, err)

	got, err := st.GetWorkspace(ctx, ws.ExternalID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.Status)
	require.NotNil(t, got.AssignedPort)

	_, err = lc.Delete(ctx, ws.ExternalID)
	require.NoError(t, err)

	// The errored workspace's reservation dies with its record.
	eng.failStart = false
	next, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "reuse"})
	require.NoError(t, err)
	require.Equal(t, *ws.AssignedPort, *next.AssignedPort)
}

func TestDelete_UnknownWorkspace(t *testing.T) {
	eng := &fakeEngine{}
	lc, _ := newTestLifecycle(t, eng, 5)

	_, err := lc.Delete(context.Background(), "ws-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecover_SeedsAllocatorFromRecords(t *testing.T) {
	eng := &fakeEngine{}
	st := openTestStore(t)
	ctx := context.Background()

	port := 8100
	require.NoError(t, st.CreateWorkspace(ctx, &models.Workspace{
		Name:         "survivor",
		Status:       models.StatusRunning,
		AssignedPort: &port,
	}))

	ports := NewPortAllocator(8100, 8100)
	lc := NewLifecycle(st, ports, eng, NewEvents(nil), "img")
	require.NoError(t, lc.Recover(ctx))

	// The survivor's port is reserved, so a new create must fail.
	_, err := lc.Create(ctx, CreateWorkspaceRequest{Name: "late"})
	require.ErrorIs(t, err, ErrPortsExhausted)
}
