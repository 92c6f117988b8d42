package database

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) *RunRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return NewRunRepository(db)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	run := &Run{ID: "run-1", TargetURL: "https://shop.test", DeviceProfile: "mobile", Status: "INITIALIZING"}
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", "RUNNING", ""))
	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", got.Status)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.FinishRun(ctx, "run-1", "BLOCKED", "captcha на странице входа", "captcha", 7, 1500*time.Millisecond))
	got, err = repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "BLOCKED", got.Status)
	assert.Equal(t, "captcha", got.BlockerKind)
	assert.Equal(t, 7, got.StepCount)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.NotNil(t, got.FinishedAt)
}

func TestStepsOrderedBySeq(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateRun(ctx, &Run{ID: "r", TargetURL: "https://a.test"}))

	for _, seq := range []int{2, 1, 3} {
		require.NoError(t, repo.CreateStep(ctx, &Step{RunID: "r", Seq: seq, ActionType: "click", Status: "EXECUTED"}))
	}

	steps, err := repo.GetSteps(ctx, "r")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, s := range steps {
		assert.Equal(t, i+1, s.Seq)
	}
}

func TestStepSeqUniquePerRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateStep(ctx, &Step{RunID: "r", Seq: 1, ActionType: "navigate", Status: "EXECUTED"}))
	err := repo.CreateStep(ctx, &Step{RunID: "r", Seq: 1, ActionType: "click", Status: "EXECUTED"})
	assert.Error(t, err)

	require.NoError(t, repo.CreateStep(ctx, &Step{RunID: "other", Seq: 1, ActionType: "navigate", Status: "EXECUTED"}))
}

func TestIssuesEvidenceVisionLogs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateIssue(ctx, &Issue{RunID: "r", StepSeq: 3, Category: "console", Severity: "high", Source: "console", Description: "TypeError"}))
	require.NoError(t, repo.SaveEvidence(ctx, &Evidence{ID: "ev-1", RunID: "r", StepSeq: 3, Kind: "console", Size: 12}))
	require.NoError(t, repo.CreateVisionLog(ctx, &VisionLog{RunID: "r", StepSeq: 5, Trigger: "interval", Outcome: "ok", IssuesFound: 2}))

	issues, err := repo.GetIssues(ctx, "r")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "TypeError", issues[0].Description)

	ev, err := repo.GetEvidence(ctx, "r")
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, "ev-1", ev[0].ID)

	logs, err := repo.GetVisionLogs(ctx, "r")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 2, logs[0].IssuesFound)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateRun(ctx, &Run{ID: id, TargetURL: "https://x.test"}))
	}
	runs, err := repo.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
