package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database (generic record store)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (notification store)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS transports
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// Push gateway (empty disables push delivery)
	PushGatewayURL string

	// Engine timing
	EngineTickSeconds    int // delayed-action drain interval
	SchedulerTickSeconds int // recurring task check interval
	DeliveryTickSeconds  int // delivery queue poll interval

	// Delivery retry policy
	DeliveryMaxAttempts    int
	DeliveryRetentionHours int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "postgres",
		DBPassword: "",
		DBName:     "automation",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@automation.local",

		EngineTickSeconds:    1,
		SchedulerTickSeconds: 60,
		DeliveryTickSeconds:  5,

		DeliveryMaxAttempts:    3,
		DeliveryRetentionHours: 24,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("PUSH_GATEWAY_URL"); url != "" {
		cfg.PushGatewayURL = url
	}

	if tick := os.Getenv("ENGINE_TICK_SECONDS"); tick != "" {
		t, err := strconv.Atoi(tick)
		if err != nil {
			return nil, fmt.Errorf("invalid ENGINE_TICK_SECONDS: %w", err)
		}
		cfg.EngineTickSeconds = t
	}

	if tick := os.Getenv("SCHEDULER_TICK_SECONDS"); tick != "" {
		t, err := strconv.Atoi(tick)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_TICK_SECONDS: %w", err)
		}
		cfg.SchedulerTickSeconds = t
	}

	if tick := os.Getenv("DELIVERY_TICK_SECONDS"); tick != "" {
		t, err := strconv.Atoi(tick)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_TICK_SECONDS: %w", err)
		}
		cfg.DeliveryTickSeconds = t
	}

	if max := os.Getenv("DELIVERY_MAX_ATTEMPTS"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_MAX_ATTEMPTS: %w", err)
		}
		cfg.DeliveryMaxAttempts = m
	}

	if hours := os.Getenv("DELIVERY_RETENTION_HOURS"); hours != "" {
		h, err := strconv.Atoi(hours)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_RETENTION_HOURS: %w", err)
		}
		cfg.DeliveryRetentionHours = h
	}

	return cfg, nil
}
