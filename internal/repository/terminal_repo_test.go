package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-relay/backend/internal/db"
	"github.com/agent-relay/backend/internal/model"
)

func newTestRepo(t *testing.T) *TerminalRepository {
	t.Helper()
	database, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewTerminalRepository(database)
}

func runningSession(id string) *model.TerminalSession {
	pid := 4242
	now := time.Now().UTC()
	return &model.TerminalSession{
		ID:          id,
		Shell:       "/bin/bash",
		Cwd:         "/tmp",
		Status:      model.TerminalStatusRunning,
		PID:         &pid,
		LogFilePath: "data/logs/" + id + ".cast",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCreateAndGetByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, runningSession("term-1")))

	got, err := repo.GetByID(ctx, "term-1")
	require.NoError(t, err)
	assert.Equal(t, "/bin/bash", got.Shell)
	assert.Equal(t, "/tmp", got.Cwd)
	assert.Equal(t, model.TerminalStatusRunning, got.Status)
	require.NotNil(t, got.PID)
	assert.Equal(t, 4242, *got.PID)
	assert.Equal(t, "data/logs/term-1.cast", got.LogFilePath)
	assert.Nil(t, got.ExitCode)
}

func TestGetByID_Unknown(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetByID(context.Background(), "no-such-terminal")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestUpdateStatus_RecordsExit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, runningSession("term-1")))

	code := 7
	require.NoError(t, repo.UpdateStatus(ctx, "term-1", model.TerminalStatusExited, &code))

	got, err := repo.GetByID(ctx, "term-1")
	require.NoError(t, err)
	assert.Equal(t, model.TerminalStatusExited, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 7, *got.ExitCode)
}

func TestUpdateStatus_Unknown(t *testing.T) {
	repo := newTestRepo(t)
	code := 0
	err := repo.UpdateStatus(context.Background(), "ghost", model.TerminalStatusExited, &code)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	older := runningSession("term-old")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, runningSession("term-new")))

	sessions, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "term-new", sessions[0].ID)
	assert.Equal(t, "term-old", sessions[1].ID)
}
