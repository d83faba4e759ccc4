package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StockCacheTTLSeconds  int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
}

type TerminalConfig struct {
	ServerURL           string
	AccessToken         string
	ShopID              string
	LocalDBPath         string
	SyncIntervalSeconds int
	HTTPTimeoutSeconds  int
	LogLevel            string
	LogFormat           string
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	present := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			present = append(present, file)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL := getPositiveInt("STOCK_CACHE_TTL_SECONDS", 30)
	tokenTTL := getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AutoMigrate:           getBool("DB_AUTO_MIGRATE", true),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StockCacheTTLSeconds:  cacheTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) StockCacheTTL() time.Duration {
	return time.Duration(c.StockCacheTTLSeconds) * time.Second
}

func LoadTerminal() TerminalConfig {
	return TerminalConfig{
		ServerURL:           strings.TrimRight(getEnv("CARTPOS_SERVER_URL", "http://127.0.0.1:8080"), "/"),
		AccessToken:         strings.TrimSpace(os.Getenv("CARTPOS_TOKEN")),
		ShopID:              strings.TrimSpace(os.Getenv("CARTPOS_SHOP_ID")),
		LocalDBPath:         getEnv("CARTPOS_LOCAL_DB", "cartpos-terminal.db"),
		SyncIntervalSeconds: getPositiveInt("CARTPOS_SYNC_INTERVAL_SECONDS", 30),
		HTTPTimeoutSeconds:  getPositiveInt("CARTPOS_HTTP_TIMEOUT_SECONDS", 15),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}
}

func (c TerminalConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c TerminalConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
