package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"explorer/internal/config"
	"explorer/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeModel struct {
	reply string
	err   error
	block bool
	calls []Call
}

func (f *fakeModel) Analyze(ctx context.Context, call Call) (string, error) {
	f.calls = append(f.calls, call)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func TestPolicyInterval(t *testing.T) {
	p := Policy{Interval: 5}
	var fired []int
	for step := 1; step <= 20; step++ {
		if ok, trig := p.ShouldInvoke(step, false, false); ok {
			assert.Equal(t, TriggerInterval, trig)
			fired = append(fired, step)
		}
	}
	assert.Equal(t, []int{5, 10, 15, 20}, fired)
}

func TestPolicyTriggers(t *testing.T) {
	p := DefaultPolicy()

	ok, trig := p.ShouldInvoke(3, true, false)
	assert.True(t, ok)
	assert.Equal(t, TriggerError, trig)

	ok, trig = p.ShouldInvoke(3, false, true)
	assert.True(t, ok)
	assert.Equal(t, TriggerIRLFailure, trig)

	p.OnError = false
	ok, _ = p.ShouldInvoke(3, true, false)
	assert.False(t, ok)

	p.Regression = true
	ok, trig = p.ShouldInvoke(1, false, false)
	assert.True(t, ok)
	assert.Equal(t, TriggerRegression, trig)
}

func TestParseIssues(t *testing.T) {
	raw := "```json\n{\"issues\":[{\"severity\":\"HIGH\",\"description\":\"Кнопка обрезана\",\"suggestion\":\"Увеличьте ширину\"},{\"severity\":\"low\",\"description\":\"  \"}]}\n```"
	issues, err := ParseIssues(raw)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityHigh, issues[0].Severity)
	assert.Equal(t, "Кнопка обрезана", issues[0].Description)

	for _, bad := range []string{"", "nothing here", "{not json}", `{"issues": "oops"}`} {
		issues, err := ParseIssues(bad)
		assert.Error(t, err, bad)
		assert.NotNil(t, issues)
		assert.Empty(t, issues)
	}
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, NormalizeSeverity("Blocker"))
	assert.Equal(t, SeverityHigh, NormalizeSeverity("very HIGH"))
	assert.Equal(t, SeverityLow, NormalizeSeverity("Low"))
	assert.Equal(t, SeverityMedium, NormalizeSeverity("critical"))
	assert.Equal(t, SeverityMedium, NormalizeSeverity(""))

	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "severity")
		got := NormalizeSeverity(s)
		if got != SeverityHigh && got != SeverityMedium && got != SeverityLow {
			t.Fatalf("неожиданная важность %q для %q", got, s)
		}
		prefix := rapid.SampledFrom([]string{"high", "HIGH", "Blocker"}).Draw(t, "marker")
		if NormalizeSeverity(prefix+s) != SeverityHigh {
			t.Fatalf("%q должно нормализоваться в high", prefix+s)
		}
	})
}

func TestValidatorOK(t *testing.T) {
	model := &fakeModel{reply: `{"issues":[{"severity":"medium","description":"Заголовок наезжает на меню"}]}`}
	v := NewValidator(model, 0, time.Second, logger.NewNop())

	res := v.Validate(context.Background(), Request{Screenshot: []byte{0x89, 'P', 'N', 'G'}, URL: "https://a.test/", Goal: "checkout", Step: 5, Trigger: TriggerInterval})
	assert.Equal(t, OK, res.Outcome)
	require.Len(t, res.Issues, 1)
	require.Len(t, model.calls, 1)
	assert.Equal(t, SystemPrompt, model.calls[0].SystemPrompt)
	assert.Equal(t, "iVBORw==", model.calls[0].Screenshot)
	assert.Equal(t, "checkout", model.calls[0].Goal)
}

func TestValidatorFailOpen(t *testing.T) {
	shot := []byte("png")

	t.Run("таймаут", func(t *testing.T) {
		v := NewValidator(&fakeModel{block: true}, 0, 50*time.Millisecond, logger.NewNop())
		res := v.Validate(context.Background(), Request{Screenshot: shot})
		assert.Equal(t, TimedOut, res.Outcome)
		assert.Empty(t, res.Issues)
	})

	t.Run("ошибка транспорта", func(t *testing.T) {
		v := NewValidator(&fakeModel{err: errors.New("connection refused")}, 0, time.Second, logger.NewNop())
		res := v.Validate(context.Background(), Request{Screenshot: shot})
		assert.Equal(t, Unavailable, res.Outcome)
		assert.Error(t, res.Err)
	})

	t.Run("мусор в ответе", func(t *testing.T) {
		v := NewValidator(&fakeModel{reply: "Sorry, I can't help"}, 0, time.Second, logger.NewNop())
		res := v.Validate(context.Background(), Request{Screenshot: shot})
		assert.Equal(t, ParseError, res.Outcome)
		assert.Empty(t, res.Issues)
	})

	t.Run("без модели", func(t *testing.T) {
		v := NewValidator(nil, 0, time.Second, logger.NewNop())
		assert.False(t, v.Enabled())
		assert.Equal(t, Unavailable, v.Validate(context.Background(), Request{Screenshot: shot}).Outcome)
	})
}

func TestHTTPModel(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issues":[{"severity":"low","description":"Мелкий шрифт в подвале"}]}`))
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, "secret", time.Second)
	raw, err := m.Analyze(context.Background(), Call{SystemPrompt: "p", Screenshot: "aGk=", URL: "https://a.test/", Goal: "g"})
	require.NoError(t, err)
	assert.Equal(t, "p", got.SystemPrompt)
	assert.Equal(t, "https://a.test/", got.Context.URL)

	issues, err := ParseIssues(raw)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityLow, issues[0].Severity)
}

func TestHTTPModelErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPModel(srv.URL, "", time.Second).Analyze(context.Background(), Call{})
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	m, err := NewModel(config.Vision{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = NewModel(config.Vision{Provider: "openai"})
	assert.Error(t, err)

	m, err = NewModel(config.Vision{Provider: "http", Endpoint: "http://localhost:9/vision"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPModel{}, m)

	_, err = NewModel(config.Vision{Provider: "gemini"})
	assert.Error(t, err)
}
