package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Port      string
	DataDir   string
	PublicDir string
	Timezone  string

	// Relay behaviour
	DefaultGas        string
	LivenessInterval  time.Duration
	LivenessTimeout   time.Duration
	ModeChangeTimeout time.Duration
	MirrorBuffer      int

	// Optional record mirrors
	MQTTBroker         string
	MQTTUser           string
	MQTTPass           string
	MQTTTopic          string
	RabbitMQURL        string
	RabbitMQExchange   string
	RabbitMQRoutingKey string
	KafkaBrokers       []string
	KafkaTopic         string
	WebhookURL         string

	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	FirebaseBatchSize          int
	FirebaseBatchTimeout       int // seconds

	// Optional sensor alerts
	TelegramBotToken string
	TelegramChatID   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		Port:      getEnv("PORT", "3000"),
		DataDir:   getEnv("DATA_DIR", "sensor_data"),
		PublicDir: getEnv("PUBLIC_DIR", "public"),
		Timezone:  getEnv("TIMEZONE", ""),

		DefaultGas:        strings.ToUpper(getEnv("DEFAULT_GAS", "CO")),
		LivenessInterval:  time.Duration(getEnvInt("LIVENESS_INTERVAL_SEC", 5)) * time.Second,
		LivenessTimeout:   time.Duration(getEnvInt("LIVENESS_TIMEOUT_SEC", 10)) * time.Second,
		ModeChangeTimeout: time.Duration(getEnvInt("MODE_CHANGE_TIMEOUT_SEC", 5)) * time.Second,
		MirrorBuffer:      getEnvInt("MIRROR_BUFFER", 256),

		MQTTBroker:         getEnv("MQTT_BROKER", ""),
		MQTTUser:           getEnv("MQTT_USER", ""),
		MQTTPass:           getEnv("MQTT_PASS", ""),
		MQTTTopic:          getEnv("MQTT_TOPIC", "mq7/readings"),
		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:   getEnv("RABBITMQ_EXCHANGE", "gas_readings"),
		RabbitMQRoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "gas.readings"),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "gas-readings"),
		WebhookURL:         getEnv("WEBHOOK_URL", ""),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseBatchSize:          getEnvInt("FIREBASE_BATCH_SIZE", 20),
		FirebaseBatchTimeout:       getEnvInt("FIREBASE_BATCH_TIMEOUT", 10),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings the relay cannot run without.
func (c *Config) Validate() error {
	if _, err := models.ParseMode(c.DefaultGas); err != nil {
		return fmt.Errorf("invalid DEFAULT_GAS: %w", err)
	}
	if c.LivenessInterval <= 0 || c.ModeChangeTimeout <= 0 {
		return fmt.Errorf("liveness interval and mode change timeout must be positive")
	}
	if c.LivenessTimeout <= c.LivenessInterval {
		return fmt.Errorf("liveness timeout (%s) must exceed the check interval (%s)", c.LivenessTimeout, c.LivenessInterval)
	}
	if c.MirrorBuffer <= 0 {
		return fmt.Errorf("MIRROR_BUFFER must be positive")
	}
	if c.FirebaseDbUrl != "" && c.FirebaseServiceAccountJSON == "" {
		return fmt.Errorf("FIREBASE_SERVICE_ACCOUNT_JSON is required when FIREBASE_DB_URL is set")
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// Log echoes the effective configuration. Credentials are never logged.
func (c *Config) Log(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("port", c.Port),
		zap.String("data_dir", c.DataDir),
		zap.String("public_dir", c.PublicDir),
		zap.String("timezone", c.Timezone),
		zap.String("default_gas", c.DefaultGas),
		zap.Duration("liveness_interval", c.LivenessInterval),
		zap.Duration("liveness_timeout", c.LivenessTimeout),
		zap.Duration("mode_change_timeout", c.ModeChangeTimeout),
		zap.Bool("mqtt", c.MQTTBroker != ""),
		zap.Bool("rabbitmq", c.RabbitMQURL != ""),
		zap.Strings("kafka_brokers", c.KafkaBrokers),
		zap.Bool("firebase", c.FirebaseDbUrl != ""),
		zap.Bool("telegram", c.TelegramBotToken != ""),
		zap.Bool("webhook", c.WebhookURL != ""),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
