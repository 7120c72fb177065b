package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Telegram      TelegramConfig     `mapstructure:"telegram"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Web           WebConfig          `mapstructure:"web"`
	Moderation    ModerationConfig   `mapstructure:"moderation"`
	Submissions   SubmissionConfig   `mapstructure:"submissions"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// TelegramConfig holds the two bot tokens and the publication channel.
type TelegramConfig struct {
	HunterBotToken    string `mapstructure:"hunter_bot_token"`
	ModeratorBotToken string `mapstructure:"moderator_bot_token"`
	ChannelID         string `mapstructure:"channel_id"`
	APIBaseURL        string `mapstructure:"api_base_url"`
	RequestTimeout    int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
	Enabled   bool     `mapstructure:"enabled"`
}

// WebConfig holds the HTTP server settings.
type WebConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
	PublicDomain  string `mapstructure:"public_domain"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminPassword string `mapstructure:"admin_password"`
	StaticDir     string `mapstructure:"static_dir"`
}

// ModerationConfig identifies who may moderate.
type ModerationConfig struct {
	ModeratorIDs []string `mapstructure:"moderator_ids"`
	AdminChatID  string   `mapstructure:"admin_chat_id"`
}

// SubmissionConfig holds lifecycle tunables.
type SubmissionConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	MaxPhotos       int `mapstructure:"max_photos"`
}

// NotificationConfig holds settings for the moderator alert channels.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled     bool   `mapstructure:"enabled"`
		PhoneNumber string `mapstructure:"phone_number"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// IsModerator reports whether the given chat id is configured as a
// moderator. The admin chat always moderates, so a deployment that
// sets only admin_chat_id still has a working moderator bot and panel
// login.
func (m ModerationConfig) IsModerator(chatID string) bool {
	if chatID == "" {
		return false
	}
	if chatID == m.AdminChatID {
		return true
	}
	for _, id := range m.ModeratorIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
