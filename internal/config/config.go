// Package config loads process settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"harvestflow/internal/mailer"
	"harvestflow/internal/scheduler"
	"harvestflow/internal/store"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const defaultSMTPPort = 587

type Redis struct {
	Host          string        `env:"REDIS_HOST" envDefault:"localhost" validate:"required"`
	Port          int           `env:"REDIS_PORT" envDefault:"6379" validate:"min=1,max=65535"`
	Password      string        `env:"REDIS_PASSWORD"`
	DBNotify      int           `env:"REDIS_DB_NOTIFICATIONS" envDefault:"2" validate:"min=0,max=15"`
	DBAnalytics   int           `env:"REDIS_DB_ANALYTICS" envDefault:"3" validate:"min=0,max=15"`
	DBInventory   int           `env:"REDIS_DB_INVENTORY" envDefault:"4" validate:"min=0,max=15"`
	DBImages      int           `env:"REDIS_DB_IMAGES" envDefault:"5" validate:"min=0,max=15"`
	DBBeat        int           `env:"REDIS_DB_BEAT" envDefault:"0" validate:"min=0,max=15"`
	RetryAttempts int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3" validate:"min=1"`
	RetryInterval time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
}

// Store returns the connection settings for one logical database.
func (r Redis) Store(db int) store.Config {
	return store.Config{
		Addr:          fmt.Sprintf("%s:%d", r.Host, r.Port),
		Password:      r.Password,
		DB:            db,
		RetryAttempts: r.RetryAttempts,
		RetryInterval: r.RetryInterval,
	}
}

type Analytics struct {
	BaseURL   string        `env:"ANALYTICS_API_BASE" envDefault:"http://localhost:5008/api" validate:"required,url"`
	Timeout   time.Duration `env:"ANALYTICS_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	RateLimit float64       `env:"ANALYTICS_RATE_LIMIT" envDefault:"5" validate:"min=0"`
}

// MailVars is one spelling of the SMTP settings. Both SMTP_* and EMAIL_* are
// accepted.
type MailVars struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT"`
	User string `env:"USER"`
	Pass string `env:"PASS"`
	From string `env:"FROM"`
}

type Schedules struct {
	UpdateAnalyticsCache string        `env:"SCHEDULE_UPDATE_ANALYTICS_CACHE" envDefault:"*/30 * * * *"`
	CheckLowStock        string        `env:"SCHEDULE_CHECK_LOW_STOCK" envDefault:"0 * * * *"`
	CleanupOldImages     string        `env:"SCHEDULE_CLEANUP_OLD_IMAGES" envDefault:"0 2 * * *"`
	UserEngagementReport string        `env:"SCHEDULE_USER_ENGAGEMENT_REPORT" envDefault:"0 3 * * 1"`
	MaxSleep             time.Duration `env:"BEAT_MAX_SLEEP" envDefault:"1m" validate:"gt=0"`
}

type Config struct {
	BrokerURL        string        `env:"BROKER_URL" envDefault:"redis://localhost:6379/0" validate:"required"`
	ResultBackendURL string        `env:"RESULT_BACKEND_URL" envDefault:"redis://localhost:6379/1" validate:"required"`
	ResultTTL        time.Duration `env:"RESULT_TTL" envDefault:"24h" validate:"gt=0"`
	QueueName        string        `env:"QUEUE_NAME" envDefault:"harvestflow" validate:"required"`
	ReportsDir       string        `env:"REPORTS_DIR" envDefault:"reports" validate:"required"`

	Concurrency   int           `env:"WORKER_CONCURRENCY" envDefault:"8" validate:"min=1"`
	TaskTimeout   time.Duration `env:"TASK_TIMEOUT" envDefault:"300s" validate:"gt=0"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s" validate:"min=0"`
	APIAddr       string        `env:"API_ADDR" envDefault:":8001"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`

	Redis     Redis
	Analytics Analytics
	Schedules Schedules
	SMTP      MailVars `envPrefix:"SMTP_"`
	Email     MailVars `envPrefix:"EMAIL_"`
}

var validate = validator.New()

// Load reads .env (if any) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// APIEnabled reports whether the HTTP API should be served. "off" disables it.
func (c Config) APIEnabled() bool {
	a := strings.TrimSpace(c.APIAddr)
	return a != "" && !strings.EqualFold(a, scheduler.Disabled)
}

// Mail merges SMTP_* over EMAIL_*. The port defaults to 587 and the sender to
// the login user.
func (c Config) Mail() mailer.Config {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	m := mailer.Config{
		Host:     pick(c.SMTP.Host, c.Email.Host),
		User:     pick(c.SMTP.User, c.Email.User),
		Password: pick(c.SMTP.Pass, c.Email.Pass),
		From:     pick(c.SMTP.From, c.Email.From),
		Port:     c.SMTP.Port,
	}
	if m.Port == 0 {
		m.Port = c.Email.Port
	}
	if m.Port == 0 {
		m.Port = defaultSMTPPort
	}
	if m.From == "" {
		m.From = m.User
	}
	return m
}

// Schedule lists the periodic entries. Each entry is named after its task.
func (c Config) Schedule() []scheduler.Spec {
	return []scheduler.Spec{
		{Name: "update_analytics_cache", Expr: c.Schedules.UpdateAnalyticsCache},
		{Name: "check_low_stock_periodic", Expr: c.Schedules.CheckLowStock},
		{Name: "cleanup_old_images", Expr: c.Schedules.CleanupOldImages, Kwargs: map[string]any{"retention_days": 30}},
		{Name: "generate_user_engagement_report", Expr: c.Schedules.UserEngagementReport, Kwargs: map[string]any{"period": "weekly"}},
	}
}
