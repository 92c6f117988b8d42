package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"explorer/internal/blocker"
	"explorer/internal/browser"
	"explorer/internal/config"
	"explorer/internal/events"
	"explorer/internal/hitl"
	"explorer/internal/logger"
	"explorer/internal/perception"
	"explorer/internal/vision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRunFollowsChainToCompletion(t *testing.T) {
	h := newHarness(chainSite(3), config.Exploration{MaxSteps: 30})
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.NotEmpty(t, run.Reason)
	requireGapless(t, run)

	require.GreaterOrEqual(t, len(run.Steps), 4)
	assert.Equal(t, "navigate", run.Steps[0].Action)
	assert.Equal(t, StepExecuted, run.Steps[0].Status)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, "click", run.Steps[i].Action)
		assert.Equal(t, pageURL(i), run.Steps[i].URL)
	}
	for _, s := range run.Steps {
		assert.NotEmpty(t, s.ScreenshotRef, "шаг %d без скриншота", s.Seq)
	}
	assert.True(t, h.opener.last.Load().closed, "сессия должна быть закрыта")
	require.NotNil(t, h.recorder.finished)
	assert.Equal(t, StatusCompleted, h.recorder.finished.Status)
	assert.Len(t, h.recorder.steps, len(run.Steps))
}

func TestDegradedModelKeepsRunning(t *testing.T) {
	site := chainSite(2)
	base := site.page
	site.page = func(url string) *perception.PageModel {
		m := base(url)
		if m != nil {
			m.Degraded = []string{"facts: execution context was destroyed"}
		}
		return m
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusCompleted, run.Status)
	requireGapless(t, run)
	assert.GreaterOrEqual(t, len(run.Steps), 3)
}

func TestStepBudgetCompletesRun(t *testing.T) {
	h := newHarness(chainSite(50), config.Exploration{MaxSteps: 5})
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Contains(t, run.Reason, "бюджет шагов")
	assert.Len(t, run.Steps, 5)
	requireGapless(t, run)
}

func TestHardTimeoutFailsRun(t *testing.T) {
	var clock time.Time
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	h := newHarness(chainSite(50), config.Exploration{MaxSteps: 100, HardTimeout: 30 * time.Second},
		func(d *Deps) { d.Now = now })
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Reason, "жёсткий лимит")
	requireGapless(t, run)
}

func TestOpenFailureFailsRun(t *testing.T) {
	h := newHarness(chainSite(1), config.Exploration{MaxSteps: 5})
	h.opener.err = errBoom
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Reason, "boom")
	assert.Empty(t, run.Steps)
}

func TestUnreachableStartFailsRun(t *testing.T) {
	site := chainSite(1)
	h := newHarness(site, config.Exploration{MaxSteps: 5})
	h.orch.d.Browser = openerFunc(func(ctx context.Context, p browser.DeviceProfile) (browser.Session, error) {
		return &failingSession{fakeSession: fakeSession{site: site}}, nil
	})
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Reason, "стартовая страница недоступна")
	require.Len(t, run.Steps, 1)
	assert.Equal(t, StepFailed, run.Steps[0].Status)
}

type openerFunc func(ctx context.Context, p browser.DeviceProfile) (browser.Session, error)

func (f openerFunc) Open(ctx context.Context, p browser.DeviceProfile) (browser.Session, error) {
	return f(ctx, p)
}

type failingSession struct {
	fakeSession
}

func (f *failingSession) Navigate(ctx context.Context, url string) (*browser.Navigation, error) {
	return nil, errBoom
}

func TestCookieBannerDismissedAsOwnStep(t *testing.T) {
	accepted := false
	site := &fakeSite{
		page: func(url string) *perception.PageModel {
			switch url {
			case origin + "/":
				m := &perception.PageModel{Title: "Shop", Text: "Fresh goods every day"}
				m.Affordances = []perception.Affordance{link("about", "About us", origin+"/about")}
				if !accepted {
					m.Text += ". We use cookies to improve your experience"
					m.Affordances = append(m.Affordances, button("accept", "Accept all"))
				}
				return m
			case origin + "/about":
				return &perception.PageModel{Title: "About", Text: "Our story"}
			}
			return nil
		},
		click: func(url, ref string) (string, error) {
			switch ref {
			case "accept":
				accepted = true
				return "", nil
			case "about":
				return origin + "/about", nil
			}
			return "", browser.ErrTargetNotFound
		},
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(origin+"/", ""), nil)

	assert.Equal(t, StatusCompleted, run.Status, run.Reason)
	assert.Empty(t, run.Blocker)
	requireGapless(t, run)
	require.GreaterOrEqual(t, len(run.Steps), 2)
	assert.Equal(t, "click", run.Steps[1].Action)
	assert.Contains(t, run.Steps[1].Reason, "cookie")
	assert.Equal(t, StepExecuted, run.Steps[1].Status)
	for _, s := range run.Steps {
		assert.NotEqual(t, StepBlocked, s.Status)
	}
}

func TestCookieBannerWithoutAcceptBlocks(t *testing.T) {
	site := &fakeSite{
		page: func(url string) *perception.PageModel {
			return &perception.PageModel{
				Title:       "Shop",
				Text:        "This website uses cookies",
				Affordances: []perception.Affordance{button("prefs", "Manage preferences"), link("about", "About", origin+"/about")},
			}
		},
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(origin+"/", ""), nil)

	assert.Equal(t, StatusBlocked, run.Status)
	assert.Equal(t, string(blocker.CookieConsent), run.Blocker)
	assert.NotEmpty(t, run.Reason)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, StepBlocked, run.Steps[0].Status)
	assert.GreaterOrEqual(t, len(run.Steps[0].EvidenceRefs), 2, "скриншот и DOM")
}

func TestCookieBannerThatStaysBlocks(t *testing.T) {
	site := &fakeSite{
		page: func(url string) *perception.PageModel {
			return &perception.PageModel{
				Title:       "Shop",
				Text:        "We use cookies",
				Affordances: []perception.Affordance{button("accept", "Accept all")},
			}
		},
		click: func(url, ref string) (string, error) { return "", nil },
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(origin+"/", ""), nil)

	assert.Equal(t, StatusBlocked, run.Status)
	assert.Equal(t, string(blocker.CookieConsent), run.Blocker)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, StepBlocked, run.Steps[1].Status)
	assert.Contains(t, run.Reason, "не закрылся")
}

func mfaSite(passed *bool) *fakeSite {
	return &fakeSite{
		page: func(url string) *perception.PageModel {
			if *passed {
				return &perception.PageModel{Title: "Dashboard", Text: "Welcome back"}
			}
			return &perception.PageModel{
				Title: "Sign in",
				Text:  "Enter the verification code we sent to your phone",
				Affordances: []perception.Affordance{
					{Ref: "otp", Tag: "input", InputType: "text", Autocomplete: "one-time-code", FieldName: "otp", FormID: "f", Path: "body>form>input", Visible: true},
					{Ref: "verify", Tag: "button", Text: "Verify", FormID: "f", Path: "body>form>button", Visible: true},
				},
			}
		},
		click: func(url, ref string) (string, error) {
			if ref == "verify" {
				*passed = true
				return origin + "/dashboard", nil
			}
			return "", browser.ErrTargetNotFound
		},
	}
}

func TestMFAWithoutCodeBlocks(t *testing.T) {
	passed := false
	h := newHarness(mfaSite(&passed), config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(origin+"/login", ""), nil)

	assert.Equal(t, StatusBlocked, run.Status)
	assert.Equal(t, string(blocker.MFA), run.Blocker)
	require.Len(t, run.Steps, 1)
	assert.NotEmpty(t, run.Steps[0].EvidenceRefs)
}

func TestMFAWithOperatorCode(t *testing.T) {
	passed := false
	site := mfaSite(&passed)
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	ctl := hitl.New()
	require.NoError(t, ctl.SupplyOTP("482913"))

	run := h.execute(newRun(origin+"/login", ""), ctl)

	assert.Equal(t, StatusCompleted, run.Status, run.Reason)
	assert.True(t, passed)
	assert.Equal(t, "482913", site.typed["otp"])
	requireGapless(t, run)
	require.GreaterOrEqual(t, len(run.Steps), 3)
	assert.Equal(t, "type", run.Steps[1].Action)
	assert.Equal(t, "click", run.Steps[2].Action)
	for _, s := range run.Steps {
		assert.NotContains(t, s.Target, "482913")
		assert.NotContains(t, s.Reason, "482913")
	}
}

func TestCaptchaBlocksWithEvidence(t *testing.T) {
	site := &fakeSite{
		page: func(url string) *perception.PageModel {
			return &perception.PageModel{Title: "Check", Text: "Please confirm: I'm not a robot"}
		},
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(origin+"/", ""), nil)

	assert.Equal(t, StatusBlocked, run.Status)
	assert.Equal(t, string(blocker.Captcha), run.Blocker)
	require.NotEmpty(t, run.Steps)
	last := run.Steps[len(run.Steps)-1]
	assert.Equal(t, StepBlocked, last.Status)
	assert.NotEmpty(t, last.Reason)
	assert.NotEmpty(t, last.EvidenceRefs)
}

func TestClientRedirectLoopBlocksWithinFiveCycles(t *testing.T) {
	site := chainSite(20)
	a, b := pageURL(0), pageURL(1)
	// каждое наблюдение видит два полных цикла A→B→A
	site.drain = func(int) browser.Signals {
		return browser.Signals{Navigations: []string{a, b, a, b, a}}
	}
	h := newHarness(site, config.Exploration{MaxSteps: 20})
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusBlocked, run.Status)
	assert.Equal(t, string(blocker.Loop), run.Blocker)
	// пятый повтор перехода A→B приходится на третье наблюдение
	assert.LessOrEqual(t, len(run.Steps), 3)
	last := run.Steps[len(run.Steps)-1]
	assert.Equal(t, StepBlocked, last.Status)
	assert.NotEmpty(t, last.EvidenceRefs)
}

func TestServerRedirectLoopBlocksStart(t *testing.T) {
	site := chainSite(3)
	a, b := pageURL(0), pageURL(1)
	site.goTo = func(url string) (*browser.Navigation, error) {
		hops := []browser.Hop{{URL: a, Status: 302}, {URL: b, Status: 302}, {URL: a, Status: 302}, {URL: b, Status: 302}}
		return &browser.Navigation{URL: url, Hops: hops},
			fmt.Errorf("ошибка перехода на %s: %w: net::ERR_TOO_MANY_REDIRECTS", url, browser.ErrTooManyRedirects)
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(a, ""), nil)

	assert.Equal(t, StatusBlocked, run.Status)
	assert.Equal(t, string(blocker.Loop), run.Blocker)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, StepBlocked, run.Steps[0].Status)
	assert.Contains(t, run.Steps[0].Reason, "цепочку редиректов")
	assert.NotEmpty(t, run.Steps[0].EvidenceRefs)
	// переход не повторялся
	assert.Len(t, site.navigate, 1)
}

func TestConsoleAndNetworkErrorsBecomeIssues(t *testing.T) {
	site := chainSite(1)
	site.drain = func(n int) browser.Signals {
		if n != 1 {
			return browser.Signals{}
		}
		return browser.Signals{
			Console: []browser.ConsoleEntry{
				{Level: "pageerror", Text: "TypeError: x is undefined"},
				{Level: "log", Text: "hello"},
			},
			Network: []browser.NetworkEntry{
				{URL: origin + "/api/items?token=abc", Method: "GET", Status: 503},
				{URL: origin + "/missing.png", Method: "GET", Status: 404},
			},
		}
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(pageURL(0), ""), nil)

	bySource := map[string][]Issue{}
	for _, is := range run.Issues {
		bySource[is.Source] = append(bySource[is.Source], is)
	}
	require.Len(t, bySource["console"], 1)
	assert.Equal(t, "high", bySource["console"][0].Severity)
	assert.NotEmpty(t, bySource["console"][0].EvidenceRef)

	require.Len(t, bySource["network"], 2)
	severities := []string{bySource["network"][0].Severity, bySource["network"][1].Severity}
	assert.ElementsMatch(t, []string{"high", "medium"}, severities)
	for _, is := range bySource["network"] {
		assert.NotContains(t, is.Description, "abc")
	}
}

func TestStaleRefIsResolvedAgain(t *testing.T) {
	perceived := 0
	site := &fakeSite{
		page: func(url string) *perception.PageModel {
			if url == origin+"/done" {
				return &perception.PageModel{Title: "Done", Text: "Thanks"}
			}
			perceived++
			ref := "b1"
			if perceived > 1 {
				ref = "b2"
			}
			return &perception.PageModel{Title: "Home", Text: "Join us", Affordances: []perception.Affordance{button(ref, "Sign up")}}
		},
		click: func(url, ref string) (string, error) {
			if ref == "b2" {
				return origin + "/done", nil
			}
			return "", browser.ErrTargetNotFound
		},
	}
	h := newHarness(site, config.Exploration{MaxSteps: 10})
	run := h.execute(newRun(origin+"/", ""), nil)

	requireGapless(t, run)
	require.GreaterOrEqual(t, len(run.Steps), 2)
	assert.Equal(t, "click", run.Steps[1].Action)
	assert.Equal(t, StepExecuted, run.Steps[1].Status)
	assert.Equal(t, origin+"/done", run.Steps[1].URL)
}

func TestInstructionWithoutTargetTriggersVision(t *testing.T) {
	model := &fakeVision{reply: `{"issues":[{"severity":"High","description":"Кнопка входа не видна"}]}`}
	v := vision.NewValidator(model, 0, time.Second, logger.NewNop())
	h := newHarness(chainSite(2), config.Exploration{MaxSteps: 10, VisionInterval: 100, VisionOnIRL: true},
		func(d *Deps) { d.Vision = v })
	run := h.execute(newRun(pageURL(0), `click "Log in"`), nil)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Contains(t, run.Reason, "не выполнены инструкции")
	assert.GreaterOrEqual(t, model.calls.Load(), int32(1))

	var visual []Issue
	for _, is := range run.Issues {
		if is.Source == "vision" {
			visual = append(visual, is)
		}
	}
	require.NotEmpty(t, visual)
	assert.Equal(t, "high", visual[0].Severity)
	assert.NotEmpty(t, visual[0].EvidenceRef)
}

func TestVisionRunsOnInterval(t *testing.T) {
	model := &fakeVision{reply: `{"issues":[]}`}
	v := vision.NewValidator(model, 0, time.Second, logger.NewNop())
	h := newHarness(chainSite(40), config.Exploration{MaxSteps: 20, VisionInterval: 5},
		func(d *Deps) { d.Vision = v; d.VisionModel = "test-model" })
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Len(t, run.Steps, 20)
	assert.Equal(t, []int{5, 10, 15, 20}, h.recorder.visionSteps())
	assert.Equal(t, int32(4), model.calls.Load())
}

func TestMalformedVisionReplyDoesNotStopRun(t *testing.T) {
	model := &fakeVision{reply: "I think the page looks fine"}
	v := vision.NewValidator(model, 0, time.Second, logger.NewNop())
	h := newHarness(chainSite(12), config.Exploration{MaxSteps: 10, VisionInterval: 2},
		func(d *Deps) { d.Vision = v })
	run := h.execute(newRun(pageURL(0), ""), nil)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Len(t, run.Steps, 10)
	assert.Equal(t, int32(5), model.calls.Load())
	for _, is := range run.Issues {
		assert.NotEqual(t, "vision", is.Source)
	}
}

func TestPauseAndResumeContinuesAtNextStep(t *testing.T) {
	const k = 3
	ctl := hitl.New()
	site := chainSite(20)
	site.drain = func(n int) browser.Signals {
		if n == k {
			assert.NoError(t, ctl.Pause())
		}
		return browser.Signals{}
	}
	h := newHarness(site, config.Exploration{MaxSteps: 6})

	run := newRun(pageURL(0), "")
	ch, unsubscribe := h.orch.Bus().Subscribe(run.ID, 128)
	defer unsubscribe()

	st := newRunState(run)
	done := make(chan Run, 1)
	go func() { done <- h.orch.Execute(context.Background(), st, ctl) }()

	require.Eventually(t, func() bool { return st.status() == StatusPaused }, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, st.snapshot().Steps, k)

	require.NoError(t, ctl.Resume("", false))
	final := <-done

	assert.Equal(t, StatusCompleted, final.Status)
	requireGapless(t, final)
	require.Greater(t, len(final.Steps), k)
	assert.Equal(t, k+1, final.Steps[k].Seq)

	var statuses []string
	for len(ch) > 0 {
		e := <-ch
		if e.Kind == events.KindStatus {
			statuses = append(statuses, e.Status)
		}
	}
	assert.Contains(t, statuses, string(StatusPaused))
	assert.Equal(t, string(StatusCompleted), statuses[len(statuses)-1])
}

func TestResumeWithInstructionsReplacesGoal(t *testing.T) {
	ctl := hitl.New()
	site := chainSite(20)
	site.drain = func(n int) browser.Signals {
		if n == 1 {
			assert.NoError(t, ctl.Pause())
		}
		return browser.Signals{}
	}
	h := newHarness(site, config.Exploration{MaxSteps: 4})
	st := newRunState(newRun(pageURL(0), "explore everything"))
	done := make(chan Run, 1)
	go func() { done <- h.orch.Execute(context.Background(), st, ctl) }()

	require.Eventually(t, func() bool { return st.status() == StatusPaused }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, ctl.Resume(`click "Next 1"`, false))
	final := <-done

	assert.Equal(t, `click "Next 1"`, final.Instructions)
	require.GreaterOrEqual(t, len(final.Steps), 2)
	assert.Contains(t, final.Steps[1].Reason, "Next 1")
}

func TestCancelWhilePaused(t *testing.T) {
	ctl := hitl.New()
	require.NoError(t, ctl.Pause())
	h := newHarness(chainSite(5), config.Exploration{MaxSteps: 10})
	st := newRunState(newRun(pageURL(0), ""))
	done := make(chan Run, 1)
	go func() { done <- h.orch.Execute(context.Background(), st, ctl) }()

	require.Eventually(t, func() bool { return st.status() == StatusPaused }, 5*time.Second, 5*time.Millisecond)
	ctl.Cancel()
	final := <-done

	assert.Equal(t, StatusCancelled, final.Status)
	assert.Len(t, final.Steps, 1)
}

func TestContextCancelStopsRun(t *testing.T) {
	h := newHarness(chainSite(5), config.Exploration{MaxSteps: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	final := h.orch.Execute(ctx, newRunState(newRun(pageURL(0), "")), hitl.New())
	assert.Equal(t, StatusCancelled, final.Status)
	assert.True(t, final.Status.Terminal())
}

func TestStepsGaplessAndTerminalProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		last := rapid.IntRange(0, 8).Draw(rt, "last")
		maxSteps := rapid.IntRange(1, 12).Draw(rt, "maxSteps")
		blockAt := rapid.IntRange(-1, 8).Draw(rt, "blockAt")
		kind := rapid.SampledFrom([]string{"captcha", "paywall", "age"}).Draw(rt, "kind")

		site := chainSite(last)
		base := site.page
		site.page = func(url string) *perception.PageModel {
			m := base(url)
			if m != nil && pageNumber(url) == blockAt {
				switch kind {
				case "captcha":
					m.Text += " verify you are human"
				case "paywall":
					m.Text += " subscribe to continue"
				case "age":
					m.Text += " please confirm your age"
				}
			}
			return m
		}

		h := newHarness(site, config.Exploration{MaxSteps: maxSteps})
		run := h.execute(newRun(pageURL(0), ""), nil)

		require.True(rt, run.Status.Terminal())
		requireGapless(rt, run)
		require.LessOrEqual(rt, len(run.Steps), maxSteps)
		if run.Status == StatusBlocked {
			require.NotEmpty(rt, run.Reason)
			require.NotEmpty(rt, run.Blocker)
			lastStep := run.Steps[len(run.Steps)-1]
			require.Equal(rt, StepBlocked, lastStep.Status)
			require.NotEmpty(rt, lastStep.EvidenceRefs)
		}
		if blockAt >= 0 && blockAt <= last && blockAt < maxSteps {
			require.Equal(rt, StatusBlocked, run.Status)
		}
		for _, s := range run.Steps {
			require.False(rt, strings.TrimSpace(s.Action) == "")
		}
	})
}
