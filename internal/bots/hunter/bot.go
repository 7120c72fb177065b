// Package hunter implements the applicant-facing Telegram bot: a
// step-by-step form that collects a housing offer or request and
// submits it into the moderation lifecycle.
package hunter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"geneva-listings/internal/common/config"
	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/telegram"
	"geneva-listings/internal/domain"
	"geneva-listings/internal/lifecycle"
	"geneva-listings/internal/session"
	"geneva-listings/internal/store"
)

const pollTimeoutSeconds = 20

// Bot drives the applicant conversation. All form state lives in the
// session manager, so concurrent chats and restarts are safe.
type Bot struct {
	client   *telegram.Client
	engine   *lifecycle.Engine
	sessions *session.Manager
	store    *store.SubmissionStore
	cfg      config.SubmissionConfig
	logger   logger.Logger
}

func NewBot(client *telegram.Client, engine *lifecycle.Engine, sessions *session.Manager, st *store.SubmissionStore, cfg config.SubmissionConfig, log logger.Logger) *Bot {
	return &Bot{
		client:   client,
		engine:   engine,
		sessions: sessions,
		store:    st,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "hunter_bot"}),
	}
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := b.client.GetUpdates(ctx, offset, pollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("update poll failed", map[string]interface{}{"error": err})
			time.Sleep(3 * time.Second)
			continue
		}

		for i := range updates {
			offset = updates[i].UpdateID + 1
			b.handleUpdate(ctx, &updates[i])
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd *telegram.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	switch {
	case text == "/start":
		b.startForm(ctx, chatID)
		return
	case text == "/cancel":
		if err := b.sessions.Clear(ctx, chatID); err != nil {
			b.logger.Warn("failed to clear session", map[string]interface{}{"chatId": chatID, "error": err})
		}
		b.reply(ctx, chatID, "Форма отменена. Нажмите /start чтобы начать заново.")
		return
	case text == "/my":
		b.listOwn(ctx, chatID)
		return
	}

	state, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		b.logger.Error("session read failed", map[string]interface{}{"chatId": chatID, "error": err})
		b.reply(ctx, chatID, "Что-то пошло не так, попробуйте ещё раз позже.")
		return
	}

	switch state.Step {
	case session.StepDescription:
		b.collectDescription(ctx, state, msg)
	case session.StepPrice:
		b.collectPrice(ctx, state, text)
	case session.StepPhotos:
		b.collectPhoto(ctx, state, msg)
	case session.StepContact:
		b.collectContact(ctx, state, msg)
	default:
		b.reply(ctx, chatID, "Нажмите /start чтобы подать объявление, /my — мои заявки.")
	}
}

func (b *Bot) startForm(ctx context.Context, chatID int64) {
	state := &session.State{ChatID: chatID, Step: session.StepKind}
	if err := b.sessions.Save(ctx, state); err != nil {
		b.logger.Error("session write failed", map[string]interface{}{"chatId": chatID, "error": err})
		return
	}

	keyboard := &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineButton{
		{{Text: "\U0001F3E0 Сдать жильё", CallbackData: "kind:listing"}},
		{{Text: "\U0001F50D Найти жильё", CallbackData: "kind:request"}},
	}}
	b.replyWithMarkup(ctx, chatID, "Что вы хотите сделать?", keyboard)
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	parts := strings.Split(cb.Data, ":")
	var ack string
	switch parts[0] {
	case "kind":
		ack = b.selectKind(ctx, chatID, parts)
	case "term":
		ack = b.selectTerm(ctx, chatID, parts)
	case "send":
		ack = b.submitForm(ctx, chatID)
	case "discard":
		if err := b.sessions.Clear(ctx, chatID); err == nil {
			ack = "Отменено"
			b.reply(ctx, chatID, "Форма отменена.")
		}
	case "withdraw":
		ack = b.withdraw(ctx, chatID, parts)
	case "edit":
		ack = b.requestEdit(ctx, chatID, parts)
	}

	if err := b.client.AnswerCallbackQuery(ctx, cb.ID, ack); err != nil {
		b.logger.Warn("failed to answer callback", map[string]interface{}{"chatId": chatID, "error": err})
	}
}

func (b *Bot) selectKind(ctx context.Context, chatID int64, parts []string) string {
	if len(parts) != 2 {
		return ""
	}
	state, err := b.sessions.Get(ctx, chatID)
	if err != nil || state.Step != session.StepKind {
		return ""
	}

	switch parts[1] {
	case "listing":
		state.Kind = domain.KindListing
		state.Step = session.StepRentTerm
		if err := b.sessions.Save(ctx, state); err != nil {
			return ""
		}
		keyboard := &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineButton{
			{{Text: "Долгосрочно", CallbackData: "term:long_term"}},
			{{Text: "Посуточно", CallbackData: "term:daily"}},
		}}
		b.replyWithMarkup(ctx, chatID, "На какой срок сдаётся жильё?", keyboard)
	case "request":
		state.Kind = domain.KindRequest
		state.Step = session.StepDescription
		if err := b.sessions.Save(ctx, state); err != nil {
			return ""
		}
		b.reply(ctx, chatID, "Опишите, какое жильё вы ищете (район, бюджет, сроки).")
	default:
		return ""
	}
	return "Принято"
}

func (b *Bot) selectTerm(ctx context.Context, chatID int64, parts []string) string {
	if len(parts) != 2 {
		return ""
	}
	state, err := b.sessions.Get(ctx, chatID)
	if err != nil || state.Step != session.StepRentTerm {
		return ""
	}

	switch parts[1] {
	case "long_term":
		state.Payload.RentTerm = domain.RentLongTerm
	case "daily":
		state.Payload.RentTerm = domain.RentDaily
	default:
		return ""
	}

	state.Step = session.StepDescription
	if err := b.sessions.Save(ctx, state); err != nil {
		return ""
	}
	b.reply(ctx, chatID, "Опишите жильё: адрес или район, количество комнат, условия.")
	return "Принято"
}

func (b *Bot) collectDescription(ctx context.Context, state *session.State, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	if len([]rune(text)) < 10 {
		b.reply(ctx, state.ChatID, "Описание слишком короткое, добавьте деталей.")
		return
	}
	state.Payload.Description = text

	if state.Kind == domain.KindListing {
		state.Step = session.StepPrice
		b.save(ctx, state)
		b.reply(ctx, state.ChatID, "Укажите цену в гривнах (только число).")
		return
	}
	state.Step = session.StepContact
	b.save(ctx, state)
	b.reply(ctx, state.ChatID, "Оставьте контакт для связи (телефон или @username).")
}

func (b *Bot) collectPrice(ctx context.Context, state *session.State, text string) {
	price, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || price <= 0 {
		b.reply(ctx, state.ChatID, "Нужно положительное число, например 8000.")
		return
	}
	state.Payload.Price = price
	state.Step = session.StepPhotos
	b.save(ctx, state)
	b.reply(ctx, state.ChatID, fmt.Sprintf("Пришлите до %d фото. Когда закончите — отправьте /done, либо /skip чтобы пропустить.", b.cfg.MaxPhotos))
}

func (b *Bot) collectPhoto(ctx context.Context, state *session.State, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	switch text {
	case "/done", "/skip":
		state.Step = session.StepContact
		b.save(ctx, state)
		b.reply(ctx, state.ChatID, "Оставьте контакт для связи (телефон или @username).")
		return
	}

	fileID := msg.LargestPhoto()
	if fileID == "" {
		b.reply(ctx, state.ChatID, "Пришлите фото, или /done чтобы продолжить.")
		return
	}
	if len(state.Payload.PhotoRefs) >= b.cfg.MaxPhotos {
		b.reply(ctx, state.ChatID, fmt.Sprintf("Максимум %d фото. Отправьте /done чтобы продолжить.", b.cfg.MaxPhotos))
		return
	}

	state.Payload.PhotoRefs = append(state.Payload.PhotoRefs, fileID)
	b.save(ctx, state)
	if len(state.Payload.PhotoRefs) == b.cfg.MaxPhotos {
		b.reply(ctx, state.ChatID, "Фото добавлено. Это был лимит — отправьте /done.")
	}
}

func (b *Bot) collectContact(ctx context.Context, state *session.State, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	if len(text) < 2 {
		b.reply(ctx, state.ChatID, "Контакт слишком короткий.")
		return
	}
	state.Payload.Contact = text
	if msg.From != nil {
		state.Payload.AuthorUsername = msg.From.Username
	}
	state.Step = session.StepConfirm
	b.save(ctx, state)

	keyboard := &telegram.InlineKeyboard{InlineKeyboard: [][]telegram.InlineButton{
		{{Text: "✅ Отправить на модерацию", CallbackData: "send"}},
		{{Text: "❌ Отменить", CallbackData: "discard"}},
	}}
	b.replyWithMarkup(ctx, state.ChatID, b.summary(state), keyboard)
}

func (b *Bot) summary(state *session.State) string {
	var sb strings.Builder
	sb.WriteString("Проверьте заявку:\n\n")
	sb.WriteString(state.Payload.Description)
	if state.Payload.Price > 0 {
		fmt.Fprintf(&sb, "\n\nЦена: %d грн", state.Payload.Price)
	}
	if state.Payload.RentTerm == domain.RentLongTerm {
		sb.WriteString("\nСрок: долгосрочно")
	} else if state.Payload.RentTerm == domain.RentDaily {
		sb.WriteString("\nСрок: посуточно")
	}
	if n := len(state.Payload.PhotoRefs); n > 0 {
		fmt.Fprintf(&sb, "\nФото: %d", n)
	}
	fmt.Fprintf(&sb, "\nКонтакт: %s", state.Payload.Contact)
	return sb.String()
}

// submitForm runs the cooldown gate and hands the completed payload
// to the lifecycle engine. Redis answers the cooldown fast; when its
// key is missing the store's last-submission timestamp decides.
func (b *Bot) submitForm(ctx context.Context, chatID int64) string {
	state, err := b.sessions.Get(ctx, chatID)
	if err != nil || state.Step != session.StepConfirm {
		return ""
	}
	ownerRef := telegram.ChatRef(chatID)

	if err := b.checkCooldown(ctx, ownerRef); err != nil {
		if stderrors.IsCode(err, stderrors.ErrCodeCooldownActive) {
			b.reply(ctx, chatID, "Слишком часто. Подождите немного перед следующей заявкой.")
			return "Подождите"
		}
		b.logger.Warn("cooldown check failed", map[string]interface{}{"chatId": chatID, "error": err})
	}

	if state.EditingID != "" {
		return b.resubmitEdited(ctx, state, ownerRef)
	}

	sub, err := b.engine.CreateSubmission(ctx, state.Kind, ownerRef, state.Payload)
	if err != nil {
		b.logger.Error("submission failed", map[string]interface{}{"chatId": chatID, "error": err})
		if stderrors.IsCode(err, stderrors.ErrCodeValidationFailed) {
			b.reply(ctx, chatID, "Заявка не прошла проверку: "+err.Error())
		} else {
			b.reply(ctx, chatID, "Не получилось отправить заявку, попробуйте позже.")
		}
		return ""
	}

	b.sessions.MarkSubmitted(ctx, ownerRef)
	if err := b.sessions.Clear(ctx, chatID); err != nil {
		b.logger.Warn("failed to clear session", map[string]interface{}{"chatId": chatID, "error": err})
	}
	b.reply(ctx, chatID, "Заявка отправлена на модерацию. Мы сообщим о решении.")
	b.logger.Info("submission created", map[string]interface{}{"chatId": chatID, "submissionId": sub.ID})
	return "Отправлено"
}

// resubmitEdited saves the reworked payload onto the draft and moves
// it back into the review queue.
func (b *Bot) resubmitEdited(ctx context.Context, state *session.State, ownerRef string) string {
	updated, err := b.engine.UpdatePayload(ctx, state.EditingID, state.EditingVersion, state.Payload, ownerRef, domain.RoleOwner)
	if err != nil {
		b.logger.Error("payload update failed", map[string]interface{}{"chatId": state.ChatID, "error": err})
		b.reply(ctx, state.ChatID, "Не получилось сохранить изменения, начните заново через /my.")
		return ""
	}
	if _, err := b.engine.Apply(ctx, updated.ID, updated.Version, domain.ActionSubmit, ownerRef, domain.RoleOwner, lifecycle.TransitionArgs{}); err != nil {
		b.logger.Error("resubmit failed", map[string]interface{}{"chatId": state.ChatID, "error": err})
		b.reply(ctx, state.ChatID, "Изменения сохранены, но переотправка не удалась. Попробуйте через /my.")
		return ""
	}

	if err := b.sessions.Clear(ctx, state.ChatID); err != nil {
		b.logger.Warn("failed to clear session", map[string]interface{}{"chatId": state.ChatID, "error": err})
	}
	b.reply(ctx, state.ChatID, "Обновлённая заявка отправлена на модерацию.")
	return "Отправлено"
}

func (b *Bot) checkCooldown(ctx context.Context, ownerRef string) error {
	if err := b.sessions.CheckCooldown(ctx, ownerRef); err != nil {
		return err
	}
	// Redis key may have been evicted; the store is authoritative.
	last, err := b.store.LastSubmissionTime(ctx, ownerRef)
	if err != nil {
		return err
	}
	cooldown := b.cfg.Cooldown()
	if !last.IsZero() && time.Since(last) < cooldown {
		return stderrors.NewCooldownActiveError(cooldown - time.Since(last))
	}
	return nil
}

// listOwn shows the caller's active submissions with per-item
// withdraw and edit controls.
func (b *Bot) listOwn(ctx context.Context, chatID int64) {
	ownerRef := telegram.ChatRef(chatID)
	subs, err := b.store.OwnedBy(ctx, ownerRef)
	if err != nil {
		b.logger.Error("owned lookup failed", map[string]interface{}{"chatId": chatID, "error": err})
		b.reply(ctx, chatID, "Не получилось загрузить ваши заявки.")
		return
	}

	active := subs[:0]
	for _, sub := range subs {
		if !sub.Status.Terminal() {
			active = append(active, sub)
		}
	}
	if len(active) == 0 {
		b.reply(ctx, chatID, "У вас нет активных заявок. Нажмите /start чтобы подать новую.")
		return
	}

	for _, sub := range active {
		rows := [][]telegram.InlineButton{}
		if _, ok := sub.Status.Next(domain.ActionWithdraw); ok {
			rows = append(rows, []telegram.InlineButton{{
				Text:         "Отозвать",
				CallbackData: fmt.Sprintf("withdraw:%s:%d", sub.ID, sub.Version),
			}})
		}
		if _, ok := sub.Status.Next(domain.ActionRequestEdit); ok {
			rows = append(rows, []telegram.InlineButton{{
				Text:         "Изменить",
				CallbackData: fmt.Sprintf("edit:%s:%d", sub.ID, sub.Version),
			}})
		}

		text := fmt.Sprintf("%s\nСтатус: %s", firstLine(sub.Payload.Description), statusLabel(sub.Status))
		if sub.Status == domain.StatusRejected {
			text += "\nПричина: " + sub.RejectionReason
		}
		if len(rows) > 0 {
			b.replyWithMarkup(ctx, chatID, text, &telegram.InlineKeyboard{InlineKeyboard: rows})
		} else {
			b.reply(ctx, chatID, text)
		}
	}
}

func (b *Bot) withdraw(ctx context.Context, chatID int64, parts []string) string {
	if len(parts) != 3 {
		return ""
	}
	version, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ""
	}
	ownerRef := telegram.ChatRef(chatID)

	if _, err := b.engine.Apply(ctx, parts[1], version, domain.ActionWithdraw, ownerRef, domain.RoleOwner, lifecycle.TransitionArgs{}); err != nil {
		if stderrors.IsCode(err, stderrors.ErrCodeStaleVersion) {
			b.reply(ctx, chatID, "Заявка уже изменилась, обновите список через /my.")
			return "Устарело"
		}
		b.logger.Warn("withdraw failed", map[string]interface{}{"chatId": chatID, "submissionId": parts[1], "error": err})
		return "Не удалось"
	}
	b.reply(ctx, chatID, "Заявка отозвана.")
	return "Отозвано"
}

// requestEdit pulls a pending submission back to draft and restarts
// the form pre-filled with its payload.
func (b *Bot) requestEdit(ctx context.Context, chatID int64, parts []string) string {
	if len(parts) != 3 {
		return ""
	}
	version, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ""
	}
	ownerRef := telegram.ChatRef(chatID)

	sub, err := b.engine.Apply(ctx, parts[1], version, domain.ActionRequestEdit, ownerRef, domain.RoleOwner, lifecycle.TransitionArgs{})
	if err != nil {
		if stderrors.IsCode(err, stderrors.ErrCodeStaleVersion) {
			b.reply(ctx, chatID, "Заявка уже изменилась, обновите список через /my.")
			return "Устарело"
		}
		b.logger.Warn("request edit failed", map[string]interface{}{"chatId": chatID, "submissionId": parts[1], "error": err})
		return "Не удалось"
	}

	state := &session.State{
		ChatID:         chatID,
		Step:           session.StepDescription,
		Kind:           sub.Kind,
		Payload:        sub.Payload,
		EditingID:      sub.ID,
		EditingVersion: sub.Version,
	}
	if err := b.sessions.Save(ctx, state); err != nil {
		b.logger.Error("session write failed", map[string]interface{}{"chatId": chatID, "error": err})
		return ""
	}
	b.reply(ctx, chatID, "Заявка возвращена в черновик. Пришлите новое описание.")
	return "Редактирование"
}

func (b *Bot) save(ctx context.Context, state *session.State) {
	if err := b.sessions.Save(ctx, state); err != nil {
		b.logger.Error("session write failed", map[string]interface{}{"chatId": state.ChatID, "error": err})
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.client.SendMessage(ctx, telegram.ChatRef(chatID), text, nil); err != nil {
		b.logger.Warn("send failed", map[string]interface{}{"chatId": chatID, "error": err})
	}
}

func (b *Bot) replyWithMarkup(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboard) {
	opts := &telegram.SendOptions{ReplyMarkup: keyboard}
	if _, err := b.client.SendMessage(ctx, telegram.ChatRef(chatID), text, opts); err != nil {
		b.logger.Warn("send failed", map[string]interface{}{"chatId": chatID, "error": err})
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i > 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 80 {
		return string(runes[:80]) + "…"
	}
	return s
}

func statusLabel(s domain.Status) string {
	switch s {
	case domain.StatusDraft:
		return "черновик"
	case domain.StatusPendingReview:
		return "на модерации"
	case domain.StatusApproved:
		return "одобрено, ждёт публикации"
	case domain.StatusRejected:
		return "отклонено"
	case domain.StatusPublished:
		return "опубликовано"
	case domain.StatusWithdrawn:
		return "отозвано"
	default:
		return string(s)
	}
}
