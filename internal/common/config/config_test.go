package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validModeration() ModerationConfig {
	return ModerationConfig{
		ModeratorIDs: []string{"100500", "100501"},
		AdminChatID:  "42",
	}
}

func TestIsModerator_ListedID(t *testing.T) {
	m := validModeration()
	assert.True(t, m.IsModerator("100500"))
	assert.True(t, m.IsModerator("100501"))
	assert.False(t, m.IsModerator("999"))
}

func TestIsModerator_AdminOnlyDeployment(t *testing.T) {
	// the canonical single-admin shape: no moderator_ids, only
	// admin_chat_id. validateConfig accepts it, so the admin must be
	// able to moderate.
	m := ModerationConfig{AdminChatID: "42"}

	assert.True(t, m.IsModerator("42"))
	assert.False(t, m.IsModerator("41"))
}

func TestIsModerator_EmptyChatIDNeverMatches(t *testing.T) {
	m := ModerationConfig{}
	assert.False(t, m.IsModerator(""))

	m.AdminChatID = "42"
	assert.False(t, m.IsModerator(""))
}

func TestValidateConfig_AcceptsAdminOnlyModeration(t *testing.T) {
	cfg := &Config{
		Telegram: TelegramConfig{
			HunterBotToken:    "t1",
			ModeratorBotToken: "t2",
			ChannelID:         "@channel",
		},
		Moderation: ModerationConfig{AdminChatID: "42"},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{Host: "localhost", Database: "geneva", User: "geneva"},
			Redis:    RedisConfig{Address: "localhost:6379"},
		},
	}

	assert.NoError(t, validateConfig(cfg))

	cfg.Moderation.AdminChatID = ""
	assert.Error(t, validateConfig(cfg))
}

func TestCooldown_Duration(t *testing.T) {
	s := SubmissionConfig{CooldownSeconds: 900}
	assert.Equal(t, 15*time.Minute, s.Cooldown())
}
