package engine

import (
	"context"
	"testing"
	"time"

	"explorer/internal/browser"
	"explorer/internal/config"
	"explorer/internal/database"
	"explorer/internal/events"
	"explorer/internal/logger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newManager(t *testing.T, site *fakeSite, cfg config.Exploration, opts ...func(*Deps)) *Manager {
	t.Helper()
	h := newHarness(site, cfg, opts...)
	m := NewManager(context.Background(), h.orch, logger.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitRun(t *testing.T, m *Manager, id string) Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func TestManagerRejectsInvalidURL(t *testing.T) {
	m := newManager(t, chainSite(1), config.Exploration{MaxSteps: 3})
	for _, raw := range []string{"", "ftp://site.test", "not a url", "https://"} {
		_, err := m.Start(Request{URL: raw})
		assert.ErrorIs(t, err, ErrInvalidRequest, raw)
	}
	assert.Empty(t, m.List())
}

func TestManagerRunsToReport(t *testing.T) {
	m := newManager(t, chainSite(2), config.Exploration{MaxSteps: 10})
	id, err := m.Start(Request{URL: pageURL(0), DeviceProfile: "mobile"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run := waitRun(t, m, id)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "mobile", run.DeviceProfile)

	rep, err := m.Report(id)
	require.NoError(t, err)
	assert.Equal(t, id, rep.RunID)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Len(t, rep.Steps, len(run.Steps))
	assert.NotNil(t, rep.Issues)
	assert.NotEmpty(t, rep.EvidenceRefs)

	runs := m.List()
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)

	assert.ErrorIs(t, m.Pause(id), ErrRunFinished)
	assert.ErrorIs(t, m.Cancel(id), ErrRunFinished)
}

func TestManagerUnknownRun(t *testing.T) {
	m := newManager(t, chainSite(1), config.Exploration{MaxSteps: 3})
	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, _, err = m.Subscribe("missing", 1)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, m.Resume("missing", "", false), ErrRunNotFound)
}

func TestManagerTakeControlAndOperate(t *testing.T) {
	ctl := make(chan struct{})
	site := chainSite(30)
	site.drain = func(n int) browser.Signals {
		if n == 2 {
			<-ctl
		}
		return browser.Signals{}
	}
	m := newManager(t, site, config.Exploration{MaxSteps: 6})

	id, err := m.Start(Request{URL: pageURL(0)})
	require.NoError(t, err)

	_, err = m.Operate(context.Background(), id, Command{Action: "screenshot"})
	assert.ErrorIs(t, err, ErrNotOperator)

	require.NoError(t, m.TakeControl(id))
	close(ctl)

	require.Eventually(t, func() bool {
		run, _ := m.Get(id)
		return run.Status == StatusWaitingForHuman
	}, 5*time.Second, 5*time.Millisecond)

	png, err := m.Operate(context.Background(), id, Command{Action: "screenshot"})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, png)

	_, err = m.Operate(context.Background(), id, Command{Action: "click", X: 10, Y: 20})
	require.NoError(t, err)
	_, err = m.Operate(context.Background(), id, Command{Action: "navigate", URL: "javascript:alert(1)"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = m.Operate(context.Background(), id, Command{Action: "dance"})
	assert.Error(t, err)

	require.NoError(t, m.ReleaseControl(id))
	run := waitRun(t, m, id)
	assert.Equal(t, StatusCompleted, run.Status)
	requireGapless(t, run)
}

func TestReleaseWaitsForOperatorCommand(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	site := chainSite(30)
	site.clickAt = func() {
		close(entered)
		<-release
	}
	m := newManager(t, site, config.Exploration{MaxSteps: 4})

	id, err := m.Start(Request{URL: pageURL(0)})
	require.NoError(t, err)
	require.NoError(t, m.TakeControl(id))
	require.Eventually(t, func() bool {
		run, _ := m.Get(id)
		return run.Status == StatusWaitingForHuman
	}, 5*time.Second, 5*time.Millisecond)

	clicked := make(chan error, 1)
	go func() {
		_, err := m.Operate(context.Background(), id, Command{Action: "click", X: 1, Y: 2})
		clicked <- err
	}()
	<-entered

	require.NoError(t, m.ReleaseControl(id))
	// Пока клик оператора не закончен, раннер не возвращается к вкладке
	assert.Never(t, func() bool {
		run, _ := m.Get(id)
		return run.Status != StatusWaitingForHuman
	}, 100*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-clicked)
	run := waitRun(t, m, id)
	assert.Equal(t, StatusCompleted, run.Status)
	requireGapless(t, run)
}

func TestManagerCancelStopsRun(t *testing.T) {
	block := make(chan struct{})
	site := chainSite(30)
	site.drain = func(n int) browser.Signals {
		if n == 1 {
			<-block
		}
		return browser.Signals{}
	}
	m := newManager(t, site, config.Exploration{MaxSteps: 20})
	id, err := m.Start(Request{URL: pageURL(0)})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	close(block)

	run := waitRun(t, m, id)
	assert.Equal(t, StatusCancelled, run.Status)
	assert.LessOrEqual(t, len(run.Steps), 1)
}

func TestManagerSubscribeStreamsSteps(t *testing.T) {
	block := make(chan struct{})
	site := chainSite(3)
	site.drain = func(n int) browser.Signals {
		if n == 1 {
			<-block
		}
		return browser.Signals{}
	}
	m := newManager(t, site, config.Exploration{MaxSteps: 10})
	id, err := m.Start(Request{URL: pageURL(0)})
	require.NoError(t, err)

	ch, unsubscribe, err := m.Subscribe(id, 256)
	require.NoError(t, err)
	defer unsubscribe()
	close(block)

	waitRun(t, m, id)
	var steps []int
	var last events.Event
	for len(ch) > 0 {
		e := <-ch
		if e.Kind == events.KindStep {
			steps = append(steps, e.StepNumber)
		}
		last = e
	}
	require.NotEmpty(t, steps)
	for i, n := range steps {
		assert.Equal(t, i+1, n)
	}
	assert.Equal(t, events.KindStatus, last.Kind)
	assert.Equal(t, string(StatusCompleted), last.Status)
}

func TestManagerPersistsThroughRepository(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	repo := database.NewRunRepository(db)

	m := newManager(t, chainSite(2), config.Exploration{MaxSteps: 10}, func(d *Deps) {
		d.Recorder = NewRepoRecorder(repo, logger.NewNop())
	})
	id, err := m.Start(Request{URL: pageURL(0), Instructions: "open the catalog"})
	require.NoError(t, err)
	run := waitRun(t, m, id)

	ctx := context.Background()
	stored, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), stored.Status)
	assert.Equal(t, len(run.Steps), stored.StepCount)

	steps, err := repo.GetSteps(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, len(run.Steps))
	for i, s := range steps {
		assert.Equal(t, i+1, s.Seq)
	}
}
