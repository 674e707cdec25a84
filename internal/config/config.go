package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	WebhookURL  string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	HTTPServer  `yaml:"http_server"`
	Scheduler   `yaml:"scheduler"`
	Policy      `yaml:"policy"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type Scheduler struct {
	TickInterval time.Duration `yaml:"tick_interval" env-default:"60s"`
	TickLockTTL  time.Duration `yaml:"tick_lock_ttl" env-default:"55s"`
}

// Policy holds the time-based transition windows. They are product decisions,
// not protocol constants, so every one of them is tunable.
type Policy struct {
	PaymentWindow      time.Duration `yaml:"payment_window" env-default:"15m"`
	DecisionWindow     time.Duration `yaml:"decision_window" env-default:"24h"`
	NoShowGrace        time.Duration `yaml:"no_show_grace" env-default:"15m"`
	CancelCutoff       time.Duration `yaml:"cancel_cutoff" env-default:"24h"`
	DefaultHorizonDays int           `yaml:"default_horizon_days" env-default:"14"`
	MaxHorizonDays     int           `yaml:"max_horizon_days" env-default:"90"`
	DefaultCurrency    string        `yaml:"default_currency" env-default:"VND"`
}

func MustLoad() *Config {
	var cfg Config

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("Config file does not exist: %s", configPath)
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	return &cfg
}
