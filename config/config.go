package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Paystack PaystackConfig
	Auth     AuthConfig
	Business BusinessConfig
	Delivery DeliveryConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig holds the Postgres URL; empty selects the in-memory store
type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers            []string
	TopicNotifications string
	ConsumerGroup      string
}

// ObservabilityConfig controls tracing; an empty endpoint keeps spans local
type ObservabilityConfig struct {
	JaegerEndpoint string
	SampleRatio    float64
}

type PaystackConfig struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type BusinessConfig struct {
	AdminEmail               string
	CheckoutLockTTL          time.Duration
	IdempotencyTTL           time.Duration
	CancellationPenaltyRatio decimal.Decimal
}

// DeliveryConfig is the per-box delivery charge table
type DeliveryConfig struct {
	Country     string
	CityRates   map[string]decimal.Decimal
	RegionRates map[string]decimal.Decimal
	DefaultRate decimal.Decimal
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	sampleRatio, err := strconv.ParseFloat(getEnv("TRACE_SAMPLE_RATIO", "1"), 64)
	if err != nil || sampleRatio < 0 || sampleRatio > 1 {
		log.Printf("invalid TRACE_SAMPLE_RATIO, sampling everything")
		sampleRatio = 1
	}
	paystackTimeout, _ := strconv.Atoi(getEnv("PAYSTACK_TIMEOUT_SECONDS", "15"))
	lockSeconds, _ := strconv.Atoi(getEnv("CHECKOUT_LOCK_SECONDS", "30"))
	idempotencyHours, _ := strconv.Atoi(getEnv("IDEMPOTENCY_TTL_HOURS", "24"))
	penaltyPercent, err := decimal.NewFromString(getEnv("CANCELLATION_PENALTY_PERCENT", "10"))
	if err != nil {
		log.Printf("invalid CANCELLATION_PENALTY_PERCENT, using 10: %v", err)
		penaltyPercent = decimal.NewFromInt(10)
	}
	defaultRate, err := decimal.NewFromString(getEnv("DELIVERY_DEFAULT_RATE", "60"))
	if err != nil {
		log.Printf("invalid DELIVERY_DEFAULT_RATE, using 60: %v", err)
		defaultRate = decimal.NewFromInt(60)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:            splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicNotifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "shea-notifications"),
			ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "shea-order-service-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRatio:    sampleRatio,
		},
		Paystack: PaystackConfig{
			BaseURL:     strings.TrimRight(getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"), "/"),
			SecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
			CallbackURL: getEnv("PAYSTACK_CALLBACK_URL", "http://localhost:3000/checkout/callback"),
			Timeout:     time.Duration(paystackTimeout) * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
		},
		Business: BusinessConfig{
			AdminEmail:               getEnv("ADMIN_EMAIL", "orders@localhost"),
			CheckoutLockTTL:          time.Duration(lockSeconds) * time.Second,
			IdempotencyTTL:           time.Duration(idempotencyHours) * time.Hour,
			CancellationPenaltyRatio: penaltyPercent.Div(decimal.NewFromInt(100)),
		},
		Delivery: DeliveryConfig{
			Country:     getEnv("DELIVERY_COUNTRY", "Ghana"),
			CityRates:   parseRates(getEnv("DELIVERY_CITY_RATES", "Tamale=25")),
			RegionRates: parseRates(getEnv("DELIVERY_REGION_RATES", "Northern=35")),
			DefaultRate: defaultRate,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRates reads "Name=amount,Other=amount"; malformed pairs are skipped
func parseRates(raw string) map[string]decimal.Decimal {
	rates := make(map[string]decimal.Decimal)
	for _, pair := range splitList(raw) {
		name, amount, ok := strings.Cut(pair, "=")
		if !ok {
			log.Printf("skipping delivery rate %q: missing '='", pair)
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			log.Printf("skipping delivery rate %q: %v", pair, err)
			continue
		}
		rates[strings.TrimSpace(name)] = value
	}
	return rates
}
