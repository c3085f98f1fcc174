package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	MongoURI string
	MongoDB  string

	AMQPURL      string
	AMQPExchange string

	OTLPEndpoint string
	OTLPInsecure bool

	// Written to estimatedWaitingTimeQueue when an SLA is removed.
	DefaultEstimatedWaitingTime int
	// Sentinel priorityWeight for rooms without a priority.
	PriorityWeightNotSpecified int

	SweepInterval time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int

	// Unit ids every mutation is scoped to; empty means unrestricted.
	RestrictedUnits []string
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	mongoDB := os.Getenv("MONGO_DB")
	if mongoDB == "" {
		mongoDB = "rocketchat"
	}

	exchange := os.Getenv("AMQP_EXCHANGE")
	if exchange == "" {
		exchange = "room-events"
	}

	return Config{
		Port:                        port,
		MongoURI:                    os.Getenv("MONGO_URI"),
		MongoDB:                     mongoDB,
		AMQPURL:                     os.Getenv("AMQP_URL"),
		AMQPExchange:                exchange,
		OTLPEndpoint:                os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:                readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		DefaultEstimatedWaitingTime: readInt("DEFAULT_ESTIMATED_WAITING_TIME", 9999999),
		PriorityWeightNotSpecified:  readInt("PRIORITY_WEIGHT_NOT_SPECIFIED", 99999),
		SweepInterval:               readDurationSeconds("ABANDONMENT_SWEEP_INTERVAL_SECONDS", 30),
		RateLimitPerMinute:          readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:              readInt("RATE_LIMIT_BURST", 30),
		RestrictedUnits:             readList("RESTRICTED_UNITS"),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}
