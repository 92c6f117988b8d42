package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"explorer/internal/browser"
	"explorer/internal/config"
	"explorer/internal/hitl"
	"explorer/internal/perception"
	"explorer/internal/vision"

	"github.com/stretchr/testify/require"
)

const origin = "https://site.test"

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// fakeSite описывает страницы и реакцию на клики.
type fakeSite struct {
	mu sync.Mutex
	// page строит модель страницы по URL; nil означает пустую страницу
	page func(url string) *perception.PageModel
	// click возвращает новый URL или ошибку
	click func(url, ref string) (string, error)
	// drain сигналы после n-го наблюдения
	drain func(n int) browser.Signals
	// goTo подменяет результат перехода; nil означает обычный ответ 200
	goTo func(url string) (*browser.Navigation, error)
	// clickAt вызывается на клике оператора
	clickAt func()

	typed    map[string]string
	navigate []string
}

func (s *fakeSite) model(url string) *perception.PageModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m *perception.PageModel
	if s.page != nil {
		m = s.page(url)
	}
	if m == nil {
		m = &perception.PageModel{}
	}
	m.URL = url
	if m.Signature.IsZero() {
		m.Signature = perception.Signature{URL: perception.NormalizeURL(url), Shape: "body", Text: m.Title + "|" + m.Text}
	}
	m.CapturedAt = time.Now()
	return m
}

type fakeSession struct {
	site *fakeSite

	mu     sync.Mutex
	url    string
	drains int
	closed bool
}

func (f *fakeSession) Navigate(ctx context.Context, url string) (*browser.Navigation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, browser.ErrSessionClosed
	}
	f.url = url
	f.site.mu.Lock()
	f.site.navigate = append(f.site.navigate, url)
	goTo := f.site.goTo
	f.site.mu.Unlock()
	if goTo != nil {
		return goTo(url)
	}
	return &browser.Navigation{URL: url, Status: 200, Hops: []browser.Hop{{URL: url, Status: 200}}}, nil
}

func (f *fakeSession) Click(ctx context.Context, t browser.Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.site.click == nil {
		return browser.ErrTargetNotFound
	}
	f.site.mu.Lock()
	next, err := f.site.click(f.url, t.Ref)
	f.site.mu.Unlock()
	if err != nil {
		return err
	}
	if next != "" {
		f.url = next
	}
	return nil
}

func (f *fakeSession) Type(ctx context.Context, t browser.Target, text string) error {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	if f.site.typed == nil {
		f.site.typed = make(map[string]string)
	}
	f.site.typed[t.Ref] = text
	return ctx.Err()
}

func (f *fakeSession) Press(ctx context.Context, key string) error { return ctx.Err() }
func (f *fakeSession) Scroll(ctx context.Context, dy int) error    { return ctx.Err() }
func (f *fakeSession) Wait(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func (f *fakeSession) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	return nil, nil
}

func (f *fakeSession) Content(ctx context.Context) (string, error) {
	m := f.site.model(f.URL())
	return "<html><head><title>" + m.Title + "</title></head><body><p>" + m.Text + "</p></body></html>", nil
}

func (f *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	return append([]byte(nil), pngBytes...), nil
}

func (f *fakeSession) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakeSession) Drain() browser.Signals {
	f.mu.Lock()
	f.drains++
	n := f.drains
	f.mu.Unlock()
	if f.site.drain == nil {
		return browser.Signals{}
	}
	return f.site.drain(n)
}

func (f *fakeSession) ClickAt(ctx context.Context, x, y float64) error {
	if f.site.clickAt != nil {
		f.site.clickAt()
	}
	return ctx.Err()
}
func (f *fakeSession) TypeText(ctx context.Context, text string) error { return ctx.Err() }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeOpener struct {
	site *fakeSite
	err  error
	last atomic.Pointer[fakeSession]
}

func (o *fakeOpener) Open(ctx context.Context, profile browser.DeviceProfile) (browser.Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeSession{site: o.site}
	o.last.Store(s)
	return s, nil
}

type fakePerceiver struct {
	site *fakeSite
}

func (p fakePerceiver) Perceive(ctx context.Context, page perception.Page) (*perception.PageModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.site.model(page.URL()), nil
}

// fakeVision считает вызовы модели зрения.
type fakeVision struct {
	calls atomic.Int32
	reply string
	err   error
}

func (v *fakeVision) Analyze(ctx context.Context, call vision.Call) (string, error) {
	v.calls.Add(1)
	return v.reply, v.err
}

// memRecorder запоминает, что сохранял оркестратор.
type memRecorder struct {
	NopRecorder
	mu       sync.Mutex
	steps    []Step
	statuses []Status
	vision   []int
	finished *Run
}

func (r *memRecorder) SaveStep(_ context.Context, _ string, s Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
	return nil
}

func (r *memRecorder) UpdateStatus(_ context.Context, _ string, st Status, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
	return nil
}

func (r *memRecorder) SaveVision(_ context.Context, _ string, step int, _ vision.Trigger, _ string, _ vision.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision = append(r.vision, step)
	return nil
}

func (r *memRecorder) Finish(_ context.Context, run Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = &run
	return nil
}

func (r *memRecorder) visionSteps() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.vision...)
}

func link(ref, text, href string) perception.Affordance {
	return perception.Affordance{
		Ref: ref, Tag: "a", Role: "link", Text: text, Href: href,
		Path: "body>nav>a:" + ref, Visible: true, Class: perception.Secondary,
	}
}

func button(ref, text string) perception.Affordance {
	return perception.Affordance{
		Ref: ref, Tag: "button", Role: "button", Text: text,
		Path: "body>div>button", Visible: true, Class: perception.Primary,
	}
}

func pageNumber(url string) int {
	i := strings.LastIndex(url, "/p/")
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(url[i+3:])
	if err != nil {
		return -1
	}
	return n
}

func pageURL(n int) string {
	return fmt.Sprintf("%s/p/%d", origin, n)
}

// chainSite цепочка страниц p/0 → p/1 → ... → p/last.
func chainSite(last int) *fakeSite {
	return &fakeSite{
		page: func(url string) *perception.PageModel {
			n := pageNumber(url)
			if n < 0 {
				return nil
			}
			m := &perception.PageModel{Title: fmt.Sprintf("Page %d", n), Text: fmt.Sprintf("Section number %d", n)}
			if n < last {
				m.Affordances = []perception.Affordance{link("next", fmt.Sprintf("Next %d", n+1), pageURL(n+1))}
			}
			return m
		},
		click: func(url, ref string) (string, error) {
			n := pageNumber(url)
			if ref != "next" || n < 0 || n >= last {
				return "", browser.ErrTargetNotFound
			}
			return pageURL(n + 1), nil
		},
	}
}

type harness struct {
	orch     *Orchestrator
	opener   *fakeOpener
	recorder *memRecorder
}

func newHarness(site *fakeSite, cfg config.Exploration, opts ...func(*Deps)) *harness {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.Seed == 0 {
		cfg.Seed = 7
	}
	h := &harness{opener: &fakeOpener{site: site}, recorder: &memRecorder{}}
	d := Deps{
		Browser:   h.opener,
		Perceiver: fakePerceiver{site: site},
		Recorder:  h.recorder,
		Config:    cfg,
	}
	for _, o := range opts {
		o(&d)
	}
	h.orch = NewOrchestrator(d)
	return h
}

func newRun(target, instructions string) Run {
	return Run{
		ID:            "run-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		TargetURL:     target,
		Instructions:  instructions,
		DeviceProfile: "desktop",
		Status:        StatusInitializing,
		CreatedAt:     time.Now(),
	}
}

func (h *harness) execute(run Run, ctl *hitl.Controller) Run {
	if ctl == nil {
		ctl = hitl.New()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.orch.Execute(ctx, newRunState(run), ctl)
}

func requireGapless(t require.TestingT, run Run) {
	for i, s := range run.Steps {
		require.Equal(t, i+1, s.Seq, "шаги должны идти без пропусков")
	}
}

var errBoom = errors.New("boom")
