// Package session keeps conversational state for the applicant bot
// and the per-applicant submission cooldown in Redis, so a restart of
// the bot never loses an in-progress form.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/domain"
)

// Step enumerates the stops of the applicant conversation.
type Step string

const (
	StepIdle        Step = "idle"
	StepKind        Step = "kind"
	StepRentTerm    Step = "rent_term"
	StepDescription Step = "description"
	StepPrice       Step = "price"
	StepPhotos      Step = "photos"
	StepContact     Step = "contact"
	StepConfirm     Step = "confirm"
)

// State is one applicant's in-flight form. Stored as a single JSON
// blob per chat so partial updates can never interleave.
type State struct {
	ChatID  int64          `json:"chat_id"`
	Step    Step           `json:"step"`
	Kind    domain.Kind    `json:"kind,omitempty"`
	Payload domain.Payload `json:"payload"`

	// EditingID/EditingVersion are set when the form re-fills an
	// existing draft instead of creating a new submission.
	EditingID      string    `json:"editing_id,omitempty"`
	EditingVersion int64     `json:"editing_version,omitempty"`
	UpdateAt       time.Time `json:"updated_at"`
}

// Manager persists conversation state and enforces the submission
// cooldown window.
type Manager struct {
	client   *redis.Client
	cooldown time.Duration
	ttl      time.Duration
	logger   logger.Logger
}

const defaultSessionTTL = 24 * time.Hour

func NewManager(client *redis.Client, cooldown time.Duration, log logger.Logger) *Manager {
	return &Manager{
		client:   client,
		cooldown: cooldown,
		ttl:      defaultSessionTTL,
		logger:   log.WithFields(map[string]interface{}{"component": "session"}),
	}
}

func sessionKey(chatID int64) string  { return fmt.Sprintf("session:%d", chatID) }
func cooldownKey(ownerRef string) string { return "cooldown:" + ownerRef }

// Get returns the stored state for a chat, or a fresh idle state when
// none exists or the stored blob is unreadable.
func (m *Manager) Get(ctx context.Context, chatID int64) (*State, error) {
	raw, err := m.client.Get(ctx, sessionKey(chatID)).Bytes()
	if err == redis.Nil {
		return &State{ChatID: chatID, Step: StepIdle}, nil
	}
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		m.logger.Warn("discarding corrupt session state", map[string]interface{}{
			"chatId": chatID,
			"error":  err,
		})
		return &State{ChatID: chatID, Step: StepIdle}, nil
	}
	return &state, nil
}

// Save writes the state back with a sliding TTL: abandoned forms
// evaporate after a day.
func (m *Manager) Save(ctx context.Context, state *State) error {
	state.UpdateAt = time.Now().UTC()
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := m.client.Set(ctx, sessionKey(state.ChatID), raw, m.ttl).Err(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

// Clear drops the conversation state, returning the chat to idle.
func (m *Manager) Clear(ctx context.Context, chatID int64) error {
	if err := m.client.Del(ctx, sessionKey(chatID)).Err(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

// CheckCooldown returns a CooldownActive error when the owner
// submitted inside the cooldown window. Redis is the fast path; the
// caller falls back to the store's LastSubmissionTime when the key is
// missing, so an eviction can only soften the limit, never block a
// legitimate applicant.
func (m *Manager) CheckCooldown(ctx context.Context, ownerRef string) error {
	if m.cooldown <= 0 {
		return nil
	}
	remaining, err := m.client.TTL(ctx, cooldownKey(ownerRef)).Result()
	if err != nil {
		m.logger.Warn("cooldown lookup failed, allowing submission", map[string]interface{}{
			"ownerRef": ownerRef,
			"error":    err,
		})
		return nil
	}
	if remaining > 0 {
		return stderrors.NewCooldownActiveError(remaining)
	}
	return nil
}

// MarkSubmitted starts the cooldown window for an owner.
func (m *Manager) MarkSubmitted(ctx context.Context, ownerRef string) {
	if m.cooldown <= 0 {
		return
	}
	if err := m.client.Set(ctx, cooldownKey(ownerRef), time.Now().UTC().Unix(), m.cooldown).Err(); err != nil {
		m.logger.Warn("failed to record cooldown", map[string]interface{}{
			"ownerRef": ownerRef,
			"error":    err,
		})
	}
}
