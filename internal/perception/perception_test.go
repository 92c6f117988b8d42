package perception

import (
	"context"
	"errors"
	"testing"

	"explorer/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	url          string
	html         string
	affordances  []any
	facts        map[string]any
	factsErr     error
	contentErr   error
	evaluateHits int
}

func (f *fakePage) Evaluate(ctx context.Context, script string, _ any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.evaluateHits++
	switch script {
	case affordanceScript:
		return f.affordances, nil
	case factsScript:
		if f.factsErr != nil {
			return nil, f.factsErr
		}
		return f.facts, nil
	}
	return nil, errors.New("unexpected script")
}

func (f *fakePage) Content(ctx context.Context) (string, error) {
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.html, nil
}

func (f *fakePage) URL() string { return f.url }

func shopPage() *fakePage {
	return &fakePage{
		url:  "https://shop.test/",
		html: `<html><body><header><a href="/about">About</a></header><main><button>Sign up</button></main></body></html>`,
		affordances: []any{
			map[string]any{
				"ref": "e1", "tag": "a", "role": "link", "text": "About", "href": "https://shop.test/about",
				"path": "body>header:1>a:1", "inViewport": true, "x": 10.0, "y": 10.0, "width": 60.0, "height": 20.0,
			},
			map[string]any{
				"ref": "e2", "tag": "button", "role": "button", "text": "Sign up",
				"path": "body>main:1>button:1", "inViewport": true, "x": 100.0, "y": 200.0, "width": 180.0, "height": 48.0,
			},
			"garbage",
		},
		facts: map[string]any{
			"title": "Shop", "text": "About Sign up",
			"viewportWidth": 1366.0, "viewportHeight": 768.0, "scrollHeight": 2400.0, "scrollY": 0.0,
			"links": 1.0, "buttons": 1.0,
			"images": []any{
				map[string]any{"src": "/logo.png", "hasAlt": false, "broken": true, "width": 50.0, "height": 50.0},
			},
			"load": 1200.0,
			"frames": []any{"https://www.google.com/recaptcha/api2/anchor?k=x"},
			"overlays": []any{
				map[string]any{"path": "body>div:3", "text": "We use cookies"},
			},
		},
	}
}

func TestPerceiveRanksPrimaryFirst(t *testing.T) {
	p := New(logger.NewNop())
	page := shopPage()

	model, err := p.Perceive(context.Background(), page)
	require.NoError(t, err)

	require.Len(t, model.Affordances, 2)
	assert.Equal(t, "e2", model.Affordances[0].Ref)
	assert.Equal(t, Primary, model.Affordances[0].Class)
	assert.Equal(t, Secondary, model.Affordances[1].Class)
	assert.Equal(t, "Shop", model.Title)
	assert.True(t, model.BelowFold())
	assert.Empty(t, model.Degraded)
	assert.Equal(t, "https://shop.test/", model.Signature.URL)
	assert.NotEmpty(t, model.Signature.Shape)
	require.Len(t, model.Images, 1)
	assert.True(t, model.Images[0].Broken)
	assert.Len(t, model.Frames, 1)
	require.Len(t, model.Overlays, 1)
	assert.Equal(t, "We use cookies", model.Overlays[0].Text)
}

func TestOverlayContains(t *testing.T) {
	o := Overlay{Path: "body>div:3", Text: "We use cookies"}
	assert.True(t, o.Contains("body>div:3>div:1>button:2"))
	assert.False(t, o.Contains("body>div:3"))
	assert.False(t, o.Contains("body>div:30>button:1"))
	assert.False(t, Overlay{}.Contains("body>div:1"))
}

func TestPerceiveDegradesInsteadOfFailing(t *testing.T) {
	page := shopPage()
	page.factsErr = errors.New("execution context was destroyed")
	page.contentErr = errors.New("page closed")

	model, err := New(logger.NewNop()).Perceive(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, model.Degraded, 2)
	assert.Len(t, model.Affordances, 2)
	// Без HTML сигнатура строится по элементам
	assert.NotEmpty(t, model.Signature.Shape)
}

func TestPerceiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(logger.NewNop()).Perceive(ctx, shopPage())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRankIsStable(t *testing.T) {
	items := []Affordance{
		{Ref: "a", Tag: "a", Text: "One", Href: "https://x.test/1", Rect: Rect{Width: 40, Height: 20}},
		{Ref: "b", Tag: "a", Text: "Two", Href: "https://x.test/2", Rect: Rect{Width: 40, Height: 20}},
		{Ref: "c", Tag: "a", Text: "Three", Href: "https://x.test/3", Rect: Rect{Width: 40, Height: 20}},
	}
	ranked := Rank(items, Layout{ViewportWidth: 800, ViewportHeight: 600})
	assert.Equal(t, "a", ranked[0].Ref)
	assert.Equal(t, "b", ranked[1].Ref)
	assert.Equal(t, "c", ranked[2].Ref)
	assert.Empty(t, items[0].Class, "исходный срез не меняется")
}

func TestClassifyDecorative(t *testing.T) {
	tiny := Affordance{Tag: "button", Text: "x", Rect: Rect{Width: 4, Height: 4}}
	assert.Equal(t, Decorative, classify(tiny, Layout{}))

	disabled := Affordance{Tag: "button", Text: "Buy", Disabled: true, Rect: Rect{Width: 100, Height: 40}}
	assert.Equal(t, Decorative, classify(disabled, Layout{}))
}

func TestResolve(t *testing.T) {
	signup := Affordance{Ref: "e7", Tag: "button", Role: "button", Text: "Sign up", Path: "body>main:1>button:1", Rect: Rect{X: 100, Y: 200, Width: 180, Height: 48}}
	model := &PageModel{Affordances: []Affordance{
		{Ref: "e3", Tag: "a", Role: "link", Text: "About", Href: "https://shop.test/about", Path: "body>header:1>a:1", Rect: Rect{X: 10, Y: 10, Width: 60, Height: 20}},
		signup,
	}}

	t.Run("после смещения", func(t *testing.T) {
		d := DescriptorOf(signup)
		d.Rect.Y += 40
		ref, conf, ok := Resolve(d, model, 0)
		require.True(t, ok)
		assert.Equal(t, "e7", ref.Ref)
		assert.Greater(t, conf, 0.8)
		assert.InDelta(t, 190.0, ref.X, 0.001)
	})

	t.Run("тот же путь с другим текстом", func(t *testing.T) {
		d := DescriptorOf(signup)
		d.Text = "Delete account"
		_, conf, ok := Resolve(d, model, DefaultResolveThreshold)
		assert.False(t, ok)
		assert.Less(t, conf, DefaultResolveThreshold)
	})

	t.Run("пустая модель", func(t *testing.T) {
		_, _, ok := Resolve(DescriptorOf(signup), nil, 0)
		assert.False(t, ok)
	})
}

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, textSimilarity("Sign Up", "sign up"))
	assert.Equal(t, 0.0, textSimilarity("Sign up", "About"))
	assert.GreaterOrEqual(t, textSimilarity("Add to cart", "Add to cart now"), 0.7)
}

func TestComputeSignature(t *testing.T) {
	a := ComputeSignature("https://shop.test/?utm_source=mail", `<body><main><h1>Hello</h1><script>var t = 1;</script></main></body>`)
	b := ComputeSignature("https://shop.test/", `<body><main><h1>Hello</h1><script>var t = 2;</script></main></body>`)
	assert.Equal(t, a, b)

	c := ComputeSignature("https://shop.test/", `<body><main><h1>Goodbye</h1></main></body>`)
	assert.Equal(t, a.Shape, c.Shape)
	assert.NotEqual(t, a.Text, c.Text)
	assert.NotEqual(t, a.Key(), c.Key())

	d := ComputeSignature("https://shop.test/", `<body><main><h1>Hello</h1><p>more</p></main></body>`)
	assert.NotEqual(t, a.Shape, d.Shape)

	assert.True(t, Signature{}.IsZero())
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.com:443/a/?utm_source=x&b=2&a=1#section", "https://example.com/a?a=1&b=2"},
		{"http://example.com", "http://example.com/"},
		{"http://user:pw@example.com:8080/x?gclid=1", "http://example.com:8080/x"},
		{"https://app.test/#/settings", "https://app.test/#/settings"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestSameSite(t *testing.T) {
	assert.True(t, SameSite("https://www.a.test/x", "http://a.test"))
	assert.False(t, SameSite("https://a.test", "https://b.test"))
	assert.False(t, SameSite("mailto:x@a.test", "https://a.test"))
}

func categories(findings []Finding) map[string]int {
	out := map[string]int{}
	for _, f := range findings {
		out[f.Category]++
	}
	return out
}

func TestCheckOverlap(t *testing.T) {
	m := &PageModel{Affordances: []Affordance{
		{Ref: "e1", Tag: "button", Text: "Buy", Path: "body>div:1>button:1", InViewport: true, Rect: Rect{X: 0, Y: 0, Width: 100, Height: 40}},
		{Ref: "e2", Tag: "button", Text: "Chat", Path: "body>div:2>button:1", InViewport: true, Rect: Rect{X: 10, Y: 5, Width: 100, Height: 40}},
	}}
	findings := checkOverlap(m)
	require.Len(t, findings, 1)
	assert.Equal(t, "e1", findings[0].Ref)

	m.Affordances[1].Path = "body>div:1>button:1>span:1"
	assert.Empty(t, checkOverlap(m), "вложенные элементы не считаются перекрытием")
}

func TestCheckFindings(t *testing.T) {
	m := &PageModel{
		URL:            "http://shop.test/login",
		PasswordFields: 1,
		MixedContent:   []string{"http://cdn.test/a.js"},
		Timing:         Timing{LoadMs: 12000, CLS: 0.4},
		Images:         []Image{{Src: "/a.png", Rect: Rect{Width: 20, Height: 20}}},
		Affordances: []Affordance{
			{Ref: "e1", Tag: "button", Path: "body>button:1", Rect: Rect{Width: 16, Height: 16}},
		},
		TextSamples: []TextSample{
			{Text: "grey", Color: "rgb(119, 119, 119)", Background: "rgb(255, 255, 255)", FontSize: 16, FontWeight: 400},
			{Text: "ok", Color: "rgb(0, 0, 0)", Background: "rgb(255, 255, 255)", FontSize: 16, FontWeight: 400},
		},
	}

	desktop := Check(m, CheckOptions{})
	cats := categories(desktop)
	assert.Equal(t, 2, cats["security"])
	assert.Equal(t, 2, cats["performance"])
	// alt, безымянная кнопка, контраст
	assert.Equal(t, 3, cats["accessibility"])

	mobile := Check(m, CheckOptions{Mobile: true})
	assert.Equal(t, 4, categories(mobile)["accessibility"])

	for _, f := range desktop {
		if f.Category == "performance" && f.Severity == "high" {
			return
		}
	}
	t.Fatal("медленная загрузка должна иметь высокую важность")
}

func TestContrastRatio(t *testing.T) {
	r, ok := ContrastRatio("rgb(0, 0, 0)", "rgb(255, 255, 255)")
	require.True(t, ok)
	assert.InDelta(t, 21.0, r, 0.01)

	r, ok = ContrastRatio("rgb(119, 119, 119)", "rgba(255, 255, 255, 1)")
	require.True(t, ok)
	assert.InDelta(t, 4.48, r, 0.01)

	_, ok = ContrastRatio("rgb(0, 0, 0)", "rgba(255, 255, 255, 0.5)")
	assert.False(t, ok)
	_, ok = ContrastRatio("black", "white")
	assert.False(t, ok)

	large := &PageModel{TextSamples: []TextSample{
		{Text: "Heading", Color: "rgb(119, 119, 119)", Background: "rgb(255, 255, 255)", FontSize: 28, FontWeight: 700},
	}}
	assert.Empty(t, checkContrast(large))
}
