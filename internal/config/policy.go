package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Exploration Exploration `yaml:"exploration"`
	Lexicon     Lexicon     `yaml:"lexicon"`
}

// LoadPolicy накладывает значения из YAML-файла поверх env-конфигурации.
// Ключи, отсутствующие в файле, сохраняют текущие значения.
func LoadPolicy(cfg *Cfg, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	p := policyFile{
		Exploration: cfg.Exploration,
		Lexicon:     cfg.Lexicon,
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("невалидный YAML в %s: %w", path, err)
	}

	p.Exploration.PolicyFile = path
	if err := p.Exploration.Validate(); err != nil {
		return err
	}

	cfg.Exploration = p.Exploration
	cfg.Lexicon = p.Lexicon
	return nil
}

// Validate проверяет согласованность порогов.
func (e Exploration) Validate() error {
	if e.MaxSteps <= 0 {
		return fmt.Errorf("max_steps должен быть положительным")
	}
	if e.HardTimeout > 0 && e.SoftTimeout > e.HardTimeout {
		return fmt.Errorf("soft_timeout (%v) больше hard_timeout (%v)", e.SoftTimeout, e.HardTimeout)
	}
	if e.ResolveConfidence < 0 || e.ResolveConfidence > 1 {
		return fmt.Errorf("resolve_confidence вне диапазона [0,1]: %v", e.ResolveConfidence)
	}
	return nil
}
