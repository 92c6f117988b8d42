package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"explorer/internal/config"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix префикс канала pub/sub; полное имя explorer:runs:<id>.
const DefaultChannelPrefix = "explorer:runs:"

// RedisSink публикует события в Redis pub/sub.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink подключается к Redis и проверяет соединение.
func NewRedisSink(ctx context.Context, cfg config.Redis) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	prefix := cfg.Channel
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisSink{client: client, prefix: prefix}, nil
}

// Channel имя канала запуска.
func (s *RedisSink) Channel(runID string) string {
	return s.prefix + runID
}

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.Channel(e.RunID), payload).Err(); err != nil {
		return fmt.Errorf("публикация события в Redis: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
