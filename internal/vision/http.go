package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type httpRequest struct {
	SystemPrompt string      `json:"systemPrompt"`
	Screenshot   string      `json:"screenshot"`
	Context      httpContext `json:"context"`
}

type httpContext struct {
	URL  string `json:"url"`
	Goal string `json:"goal,omitempty"`
}

// HTTPModel отправляет скриншот на произвольный JSON-эндпоинт, который
// отвечает {"issues":[...]}.
type HTTPModel struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPModel(endpoint, token string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPModel{client: client, endpoint: endpoint}
}

func (m *HTTPModel) Analyze(ctx context.Context, call Call) (string, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(httpRequest{
			SystemPrompt: call.SystemPrompt,
			Screenshot:   call.Screenshot,
			Context:      httpContext{URL: call.URL, Goal: call.Goal},
		}).
		Post(m.endpoint)
	if err != nil {
		return "", fmt.Errorf("ошибка запроса к модели зрения: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("модель зрения вернула статус %d", resp.StatusCode())
	}
	return resp.String(), nil
}
