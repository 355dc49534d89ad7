package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	GroqAPIKey  string
	GroqModel   string
	WindowTurns int
	APITokens   string
}

func Load() Config {
	return Config{
		Port:        envInt("NEXUS_PORT", 8000),
		NatsURL:     envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		GroqAPIKey:  envStr("GROQ_API_KEY", ""),
		GroqModel:   envStr("NEXUS_MODEL", "llama-3.3-70b-versatile"),
		WindowTurns: envInt("NEXUS_WINDOW_TURNS", 40),
		APITokens:   envStr("NEXUS_API_TOKENS", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
