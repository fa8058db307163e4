package main

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/agromarket/internal/notify/rabbitmq"
)

// Config holds the alert relay configuration, loadable from environment
// variables (ALERTS_ prefix), flags, or YAML config files.
type Config struct {
	Addr     string `default:"0.0.0.0:8081" usage:"Health endpoint listen address"`
	AMQPURL  string `usage:"RabbitMQ URL" flag:"amqp-url"`
	Queue    string `default:"low_stock_alerts" usage:"Queue to consume low-stock alerts from"`
	Prefetch int    `default:"10" usage:"Unacknowledged deliveries held at once"`

	RedisURL string        `usage:"Redis URL for duplicate suppression, disabled when empty" flag:"redis-url"`
	DedupTTL time.Duration `default:"10m" usage:"How long a relayed alert is remembered"`

	Telegram TelegramConfig
}

// TelegramConfig configures the chat the alerts are relayed to.
type TelegramConfig struct {
	BaseURL string        `usage:"Bot API base URL"`
	Token   string        `usage:"Bot token"`
	ChatID  string        `usage:"Target chat id" flag:"chat-id"`
	Timeout time.Duration `default:"10s" usage:"Timeout of a single API call"`
}

func loadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ALERTS",
		Files:     []string{"alerts.yaml", "/etc/shop/alerts.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if cfg.Queue == "" {
		cfg.Queue = rabbitmq.DefaultQueue
	}
	switch {
	case cfg.AMQPURL == "":
		return nil, errors.New("amqp url is required: set ALERTS_AMQP_URL")
	case cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "":
		return nil, errors.New("telegram token and chat id are required")
	}
	return &cfg, nil
}
