package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/pkg/utils"
)

// Config holds application configuration for exchange-core.
type Config struct {
	Port        string `mapstructure:"PORT" validate:"required"`
	MetricsAddr string `mapstructure:"METRICS_ADDR" validate:"required"`

	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReadDbAddr    string `mapstructure:"READ_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`

	RedisAddr string `mapstructure:"REDIS_ADDR" validate:"required"`

	// AesKey is a base64-encoded 32-byte key used to seal card numbers
	// at rest.
	AesKey string `mapstructure:"AES_KEY" validate:"required"`

	KafkaBrokers              string `mapstructure:"KAFKA_BROKERS" validate:"required"`
	KafkaRateTopic            string `mapstructure:"KAFKA_RATE_TOPIC" validate:"required"`
	KafkaRateConsumerGroup    string `mapstructure:"KAFKA_RATE_CONSUMER_GROUP" validate:"required"`
	KafkaDepositTopic         string `mapstructure:"KAFKA_DEPOSIT_TOPIC" validate:"required"`
	KafkaDepositDLQTopic      string `mapstructure:"KAFKA_DEPOSIT_DLQ_TOPIC" validate:"required"`
	KafkaDepositConsumerGroup string `mapstructure:"KAFKA_DEPOSIT_CONSUMER_GROUP" validate:"required"`
	MaxDepositConcurrentJobs  int    `mapstructure:"MAX_DEPOSIT_CONCURRENT_JOBS" validate:"min=1"`
	KafkaPartitions           int    `mapstructure:"KAFKA_PARTITION" validate:"min=1"`

	KafkaDLQRetention time.Duration `mapstructure:"KAFKA_DLQ_RETENTION" validate:"required"`

	OrderRateLimit int `mapstructure:"ORDER_RATE_LIMIT" validate:"min=1"`
	OrderRateBurst int `mapstructure:"ORDER_RATE_BURST" validate:"min=1"`

	RateLockWindow      time.Duration `mapstructure:"RATE_LOCK_WINDOW" validate:"required"`
	AbandonAfter        time.Duration `mapstructure:"ABANDON_AFTER" validate:"required"`
	DepositFreshness    time.Duration `mapstructure:"DEPOSIT_FRESHNESS" validate:"required"`
	DepositTolerancePct string        `mapstructure:"DEPOSIT_TOLERANCE_PCT" validate:"required"`
	PlatformFeePct      string        `mapstructure:"PLATFORM_FEE_PCT" validate:"required"`
	// NetworkFees is a comma-separated list of currency:fee entries,
	// e.g. "btc:0.0005,eth:0.002". Parsed by the app wiring.
	NetworkFees string `mapstructure:"NETWORK_FEES"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("METRICS_ADDR", ":9100")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("MAX_DEPOSIT_CONCURRENT_JOBS", "8")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("KAFKA_DLQ_RETENTION", "168h")
	viper.SetDefault("ORDER_RATE_LIMIT", "50")
	viper.SetDefault("ORDER_RATE_BURST", "100")
	viper.SetDefault("RATE_LOCK_WINDOW", "90s")
	viper.SetDefault("ABANDON_AFTER", "30m")
	viper.SetDefault("DEPOSIT_FRESHNESS", "24h")
	viper.SetDefault("DEPOSIT_TOLERANCE_PCT", "0.02")
	viper.SetDefault("PLATFORM_FEE_PCT", "0.005")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}

	// Validate after unmarshal
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
