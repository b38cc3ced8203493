package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir string
	DBPath  string

	MaxIterations    int64
	MaxCostUSD       float64
	MaxDelegateDepth int

	MaxViewTokens int
	MaxViewEvents int

	CondenserKind string
	CondenserKeep int
}

func Load() Config {
	_ = godotenv.Load()
	dataDir := getEnv("TASKCORE_DATA_DIR", "data")
	return Config{
		DataDir: dataDir,
		DBPath:  getEnv("TASKCORE_DB_PATH", filepath.Join(dataDir, "taskcore.db")),

		MaxIterations:    getEnvInt64("TASKCORE_MAX_ITERATIONS", 100),
		MaxCostUSD:       getEnvFloat("TASKCORE_MAX_COST_USD", 0),
		MaxDelegateDepth: int(getEnvInt64("TASKCORE_MAX_DELEGATE_DEPTH", 3)),

		MaxViewTokens: int(getEnvInt64("TASKCORE_MAX_VIEW_TOKENS", 100_000)),
		MaxViewEvents: int(getEnvInt64("TASKCORE_MAX_VIEW_EVENTS", 0)),

		CondenserKind: getEnv("TASKCORE_CONDENSER", "noop"),
		CondenserKeep: int(getEnvInt64("TASKCORE_CONDENSER_KEEP", 4)),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
