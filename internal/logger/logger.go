package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zap оборачивает *zap.Logger, чтобы компоненты зависели от одного типа.
type Zap struct {
	*zap.Logger
}

// New создаёт логгер: JSON для prod, консольный вывод для остальных окружений.
func New(env, level string) (*Zap, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("неизвестный уровень логирования %q: %w", level, err)
	}

	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Zap{Logger: l}, nil
}

func NewNop() *Zap {
	return &Zap{Logger: zap.NewNop()}
}

// Named возвращает дочерний логгер компонента.
func (z *Zap) Named(name string) *Zap {
	return &Zap{Logger: z.Logger.Named(name)}
}

// With возвращает логгер с постоянными полями.
func (z *Zap) With(fields ...zap.Field) *Zap {
	return &Zap{Logger: z.Logger.With(fields...)}
}
