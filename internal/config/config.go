package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Cfg struct {
	Database    Database
	Logger      Logger
	Vision      Vision
	Browser     Browser
	Migrations  Migrations
	App         App
	Exploration Exploration
	Lexicon     Lexicon
	Redis       Redis
	Telemetry   Telemetry
	Evidence    Evidence
}

type Database struct {
	Enabled  bool
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// DSN возвращает строку подключения для gorm postgres драйвера.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// URL возвращает строку подключения в формате golang-migrate.
func (d Database) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type Migrations struct {
	Enabled bool
	Path    string
}

type Logger struct {
	Env   string
	Level string
}

// Vision описывает транспорт для визуальной проверки скриншотов.
// Provider: openai | http | none.
type Vision struct {
	Provider          string
	KeyAI             string
	Model             string
	BaseURL           string
	Endpoint          string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

type Browser struct {
	Engine          string
	Display         string
	Headless        bool
	BrowsersPath    string
	Timeout         time.Duration
	NavigateTimeout time.Duration
	ActionTimeout   time.Duration
}

type App struct {
	Host string
	Port string
	// Console включает интерактивную консоль рядом с HTTP API.
	Console bool
}

// Exploration содержит пороги цикла исследования. Все значения можно
// переопределить через policy-файл (EXPLORE_POLICY_FILE).
type Exploration struct {
	MaxSteps          int           `yaml:"max_steps"`
	SoftTimeout       time.Duration `yaml:"soft_timeout"`
	HardTimeout       time.Duration `yaml:"hard_timeout"`
	ActionAttempts    int           `yaml:"action_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	GuardWindow       int           `yaml:"guard_window"`
	StateRepeat       int           `yaml:"state_repeat"`
	ActionRepeat      int           `yaml:"action_repeat"`
	Stagnation        int           `yaml:"stagnation"`
	MaxRedirects      int           `yaml:"max_redirects"`
	VisionInterval    int           `yaml:"vision_interval"`
	VisionOnError     bool          `yaml:"vision_on_error"`
	VisionOnIRL       bool          `yaml:"vision_on_irl_failure"`
	ResolveConfidence float64       `yaml:"resolve_confidence"`
	Seed              int64         `yaml:"seed"`
	PolicyFile        string        `yaml:"-"`
}

// Lexicon перечисляет фразы классификатора блокеров. Пустые списки
// означают встроенные значения по умолчанию.
type Lexicon struct {
	Accept  []string `yaml:"accept"`
	Cookie  []string `yaml:"cookie"`
	Captcha []string `yaml:"captcha"`
	MFA     []string `yaml:"mfa"`
	AgeGate []string `yaml:"age_gate"`
	Paywall []string `yaml:"paywall"`
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type Telemetry struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	SampleRate   float64
}

type Evidence struct {
	Dir string
}

func Load() (*Cfg, error) {
	_ = godotenv.Load()

	cfg := &Cfg{
		Database: Database{
			Enabled:  envBool("DB_ENABLED", true),
			Host:     env("DB_HOST", "localhost"),
			Port:     env("DB_PORT", "5432"),
			Name:     os.Getenv("DB_NAME"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASS"),
		},
		Logger: Logger{
			Env:   env("ENV", "dev"),
			Level: env("LOG_LEVEL", "info"),
		},
		Vision: Vision{
			Provider:          env("VISION_PROVIDER", "openai"),
			KeyAI:             os.Getenv("OPENAI_API_KEY"),
			Model:             env("VISION_MODEL", "gpt-4o"),
			BaseURL:           os.Getenv("OPENAI_BASE_URL"),
			Endpoint:          os.Getenv("VISION_ENDPOINT"),
			MaxTokens:         envInt("VISION_MAX_TOKENS", 1500),
			Timeout:           envDuration("VISION_TIMEOUT", 30*time.Second),
			RequestsPerMinute: envInt("VISION_RPM", 30),
		},
		Browser: Browser{
			Engine:          env("PW_ENGINE", "chromium"),
			Display:         os.Getenv("DISPLAY"),
			Headless:        envBool("PW_HEADLESS", true),
			BrowsersPath:    env("PLAYWRIGHT_BROWSERS_PATH", ""),
			Timeout:         envDuration("PW_TIMEOUT", 30*time.Second),
			NavigateTimeout: envDuration("PW_NAVIGATE_TIMEOUT", 60*time.Second),
			ActionTimeout:   envDuration("PW_ACTION_TIMEOUT", 10*time.Second),
		},
		Migrations: Migrations{
			Enabled: envBool("MIGRATIONS_ENABLED", true),
			Path:    env("MIGRATIONS_PATH", ""),
		},
		App: App{
			Host:    env("APP_HOST", "0.0.0.0"),
			Port:    env("APP_PORT", "8080"),
			Console: envBool("APP_CONSOLE", true),
		},
		Exploration: Exploration{
			MaxSteps:          envInt("EXPLORE_MAX_STEPS", 60),
			SoftTimeout:       envDuration("EXPLORE_SOFT_TIMEOUT", 10*time.Minute),
			HardTimeout:       envDuration("EXPLORE_HARD_TIMEOUT", 20*time.Minute),
			ActionAttempts:    envInt("EXPLORE_ACTION_ATTEMPTS", 2),
			RetryDelay:        envDuration("EXPLORE_RETRY_DELAY", 500*time.Millisecond),
			GuardWindow:       envInt("GUARD_WINDOW", 20),
			StateRepeat:       envInt("GUARD_STATE_REPEAT", 5),
			ActionRepeat:      envInt("GUARD_ACTION_REPEAT", 5),
			Stagnation:        envInt("GUARD_STAGNATION", 10),
			MaxRedirects:      envInt("GUARD_MAX_REDIRECTS", 10),
			VisionInterval:    envInt("VISION_INTERVAL", 5),
			VisionOnError:     envBool("VISION_ON_ERROR", true),
			VisionOnIRL:       envBool("VISION_ON_IRL_FAILURE", true),
			ResolveConfidence: envFloat("RESOLVE_CONFIDENCE", 0.55),
			Seed:              int64(envInt("EXPLORE_SEED", 0)),
			PolicyFile:        os.Getenv("EXPLORE_POLICY_FILE"),
		},
		Redis: Redis{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			Channel:  env("REDIS_CHANNEL_PREFIX", "explorer:runs:"),
		},
		Telemetry: Telemetry{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  env("OTEL_SERVICE_NAME", "explorer"),
			SampleRate:   envFloat("OTEL_SAMPLE_RATE", 1.0),
		},
		Evidence: Evidence{
			Dir: env("EVIDENCE_DIR", "./evidence"),
		},
	}

	if cfg.Exploration.PolicyFile != "" {
		if err := LoadPolicy(cfg, cfg.Exploration.PolicyFile); err != nil {
			return nil, fmt.Errorf("ошибка загрузки policy-файла: %w", err)
		}
	}

	return cfg, nil
}

func env(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func envFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func envBool(key string, defaultValue bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
