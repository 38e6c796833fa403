package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config carries the environment configuration for all three processes
// (chat server, history store, terminal client). Each process reads the
// subset it needs; unknown keys are harmless.
type Config struct {
	AppPort int `mapstructure:"APP_PORT"`

	// Provider settings. A missing API key must not crash the server; it
	// is reported through the health endpoint as a readiness flag.
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`
	GeminiURL    string `mapstructure:"GEMINI_URL"`
	GeminiModel  string `mapstructure:"GEMINI_MODEL"`

	// History store settings.
	HistoryPort     int    `mapstructure:"HISTORY_PORT"`
	DatabasePath    string `mapstructure:"DATABASE_PATH"`
	HistoryStoreURL string `mapstructure:"HISTORY_STORE_URL"`

	// Client settings.
	ChatServerURL string `mapstructure:"CHAT_SERVER_URL"`
	ChatUserID    string `mapstructure:"CHAT_USER_ID"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

func Load() (*Config, error) {
	viper.SetDefault("APP_PORT", 9000)
	viper.SetDefault("GEMINI_API_KEY", "")
	viper.SetDefault("GEMINI_URL", "https://generativelanguage.googleapis.com")
	viper.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	viper.SetDefault("HISTORY_PORT", 3000)
	viper.SetDefault("DATABASE_PATH", "/data/chatrelay.db")
	viper.SetDefault("HISTORY_STORE_URL", "http://localhost:3000")
	viper.SetDefault("CHAT_SERVER_URL", "http://localhost:9000")
	viper.SetDefault("CHAT_USER_ID", "user-a1b2c3d4e5")
	viper.SetDefault("LOG_LEVEL", "INFO")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./backend")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
