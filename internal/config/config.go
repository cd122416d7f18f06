package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	Env           string
	AllowedOrigin string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret     string
	AccessTokenTTL time.Duration

	SnapshotPath string

	GeminiAPIKey string
	DescribeTTL  time.Duration

	DefaultBranchID string
}

// Load reads configuration from a .env file (if present) and the process
// environment. Environment variables win over the file.
func Load() *Config {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGIN", "*")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("AUTH_SECRET", "dev-secret-change-me")
	viper.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	viper.SetDefault("DESCRIBE_TTL_HOURS", 24)
	viper.SetDefault("DEFAULT_BRANCH_ID", "branch-1")

	return &Config{
		Port:            viper.GetString("PORT"),
		Env:             viper.GetString("SERVER_ENV"),
		AllowedOrigin:   viper.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:     viper.GetString("DATABASE_URL"),
		RedisAddr:       viper.GetString("REDIS_ADDR"),
		RedisPassword:   viper.GetString("REDIS_PASSWORD"),
		RedisDB:         viper.GetInt("REDIS_DB"),
		AuthSecret:      viper.GetString("AUTH_SECRET"),
		AccessTokenTTL:  time.Duration(viper.GetInt("ACCESS_TOKEN_TTL_MINUTES")) * time.Minute,
		SnapshotPath:    viper.GetString("SNAPSHOT_PATH"),
		GeminiAPIKey:    viper.GetString("GEMINI_API_KEY"),
		DescribeTTL:     time.Duration(viper.GetInt("DESCRIBE_TTL_HOURS")) * time.Hour,
		DefaultBranchID: viper.GetString("DEFAULT_BRANCH_ID"),
	}
}

// Address is the listen address for the HTTP server.
func (c *Config) Address() string {
	return ":" + c.Port
}
