package vision

import (
	"context"
	"errors"
	"fmt"

	"explorer/internal/config"

	"github.com/sashabaranov/go-openai"
)

// OpenAIModel обращается к OpenAI-совместимому chat completion API с
// изображением в сообщении пользователя.
type OpenAIModel struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAIModel(apiKey, baseURL, model string, maxTokens int) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &OpenAIModel{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (m *OpenAIModel) Analyze(ctx context.Context, call Call) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.model,
		MaxTokens:   m.maxTokens,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: call.SystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userText(call)},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + call.Screenshot,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("ошибка запроса к модели зрения: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("пустой ответ модели зрения")
	}
	return resp.Choices[0].Message.Content, nil
}

func userText(call Call) string {
	text := "Page URL: " + call.URL
	if call.Goal != "" {
		text += "\nExploration goal: " + call.Goal
	}
	return text
}

// NewModel выбирает транспорт по конфигурации. Возвращает nil, если
// визуальная проверка выключена.
func NewModel(cfg config.Vision) (Model, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.KeyAI == "" {
			return nil, errors.New("не задан ключ API для модели зрения")
		}
		return NewOpenAIModel(cfg.KeyAI, cfg.BaseURL, cfg.Model, cfg.MaxTokens), nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, errors.New("не задан адрес модели зрения")
		}
		return NewHTTPModel(cfg.Endpoint, cfg.KeyAI, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("неизвестный провайдер модели зрения: %s", cfg.Provider)
	}
}
