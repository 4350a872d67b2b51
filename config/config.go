package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	DatabaseURL string

	CORSOrigin string

	WorkspaceImage string
	PortRangeStart int
	PortRangeEnd   int

	LLMProvider     string
	LLMModel        string
	AnthropicAPIKey string
	OpenAIAPIKey    string

	RedisURL string
}

func Load() *Config {
	godotenv.Load()
	godotenv.Load("../.env")

	cfg := &Config{
		Port: getEnv("PORT", "4000"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		WorkspaceImage: getEnv("WORKSPACE_IMAGE", "portside/workspace:latest"),
		PortRangeStart: getEnvInt("PORT_RANGE_START", 8100),
		PortRangeEnd:   getEnvInt("PORT_RANGE_END", 8199),

		LLMProvider:     getEnv("LLM_PROVIDER", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		RedisURL: getEnv("REDIS_URL", ""),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.PortRangeStart > cfg.PortRangeEnd {
		log.Fatalf("Invalid port range %d-%d", cfg.PortRangeStart, cfg.PortRangeEnd)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("Invalid value for %s: %q", key, val)
	}
	return n
}
