package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                 string
	AllowedOrigin        string
	DatabaseURL          string
	SQLitePath           string
	AutoMigrate          bool
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	CatalogCacheTTL      time.Duration
	LoyaltyEventsChannel string
	AuthSecret           string
	AccessTokenTTL       time.Duration
	DefaultBranchID      string
	BootstrapOwnerUser   string
	BootstrapOwnerPass   string
}

// Load reads a .env file when one exists, then the process environment.
// Variables already set in the environment win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] WARN: reading .env failed: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL, err := strconv.Atoi(getEnv("CATALOG_CACHE_TTL_SECONDS", "60"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 60
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	autoMigrate, err := strconv.ParseBool(getEnv("AUTO_MIGRATE", "false"))
	if err != nil {
		autoMigrate = false
	}

	cfg := Config{
		Port:                 getEnv("PORT", "8080"),
		AllowedOrigin:        getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           os.Getenv("SQLITE_PATH"),
		AutoMigrate:          autoMigrate,
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		CatalogCacheTTL:      time.Duration(cacheTTL) * time.Second,
		LoyaltyEventsChannel: getEnv("LOYALTY_EVENTS_CHANNEL", "loyalty:achievements"),
		AuthSecret:           os.Getenv("AUTH_SECRET"),
		AccessTokenTTL:       time.Duration(tokenTTL) * time.Minute,
		DefaultBranchID:      getEnv("DEFAULT_BRANCH_ID", "cabang-utama"),
		BootstrapOwnerUser:   getEnv("BOOTSTRAP_OWNER_USERNAME", "owner"),
		BootstrapOwnerPass:   os.Getenv("BOOTSTRAP_OWNER_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", strings.TrimPrefix(c.Port, ":"))
}

func getEnv(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
