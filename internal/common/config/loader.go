package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like HUNTER_BOT_TOKEN
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored if absent
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Telegram.HunterBotToken == "" {
		if val := os.Getenv("HUNTER_BOT_TOKEN"); val != "" {
			cfg.Telegram.HunterBotToken = val
		}
	}
	if cfg.Telegram.ModeratorBotToken == "" {
		if val := os.Getenv("MODERATOR_BOT_TOKEN"); val != "" {
			cfg.Telegram.ModeratorBotToken = val
		}
	}
	if cfg.Telegram.ChannelID == "" {
		if val := os.Getenv("CHANNEL_ID"); val != "" {
			cfg.Telegram.ChannelID = val
		}
	}
	if cfg.Moderation.AdminChatID == "" {
		if val := os.Getenv("ADMIN_ID"); val != "" {
			cfg.Moderation.AdminChatID = val
		}
	}
	if len(cfg.Moderation.ModeratorIDs) == 0 {
		if val := os.Getenv("MODERATOR_IDS"); val != "" {
			cfg.Moderation.ModeratorIDs = strings.Split(val, ",")
		}
	}
	if cfg.Web.PublicDomain == "" {
		if val := os.Getenv("DOMAIN_NAME"); val != "" {
			cfg.Web.PublicDomain = val
		}
	}
	if cfg.Web.JWTSecret == "" {
		if val := os.Getenv("JWT_SECRET"); val != "" {
			cfg.Web.JWTSecret = val
		}
	}
	if cfg.Web.AdminPassword == "" {
		if val := os.Getenv("ADMIN_PASSWORD"); val != "" {
			cfg.Web.AdminPassword = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Telegram.APIBaseURL == "" {
		cfg.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if cfg.Telegram.RequestTimeout == 0 {
		cfg.Telegram.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "published-listings"
	}

	if cfg.Web.ListenAddress == "" {
		cfg.Web.ListenAddress = ":8080"
	}
	if cfg.Web.PublicDomain == "" {
		cfg.Web.PublicDomain = "localhost"
	}
	if cfg.Web.StaticDir == "" {
		cfg.Web.StaticDir = "./static"
	}

	// 15 minutes, matching the submission rate limit the channel runs with
	if cfg.Submissions.CooldownSeconds == 0 {
		cfg.Submissions.CooldownSeconds = 900
	}
	if cfg.Submissions.MaxPhotos == 0 {
		cfg.Submissions.MaxPhotos = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Telegram.HunterBotToken == "" {
		return fmt.Errorf("telegram.hunter_bot_token is required")
	}
	if cfg.Telegram.ModeratorBotToken == "" {
		return fmt.Errorf("telegram.moderator_bot_token is required")
	}
	if cfg.Telegram.ChannelID == "" {
		return fmt.Errorf("telegram.channel_id is required")
	}
	if len(cfg.Moderation.ModeratorIDs) == 0 && cfg.Moderation.AdminChatID == "" {
		return fmt.Errorf("moderation.moderator_ids or moderation.admin_chat_id is required")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when elasticsearch is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// Cooldown returns the submission cooldown as a duration.
func (s SubmissionConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}
