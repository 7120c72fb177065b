// Package moderator implements the review-side Telegram bot: the
// moderation queue, approve/reject/publish controls, and queue
// statistics. Only chat ids listed in the moderation config are
// served.
package moderator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"geneva-listings/internal/common/config"
	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/telegram"
	"geneva-listings/internal/domain"
	"geneva-listings/internal/lifecycle"
	"geneva-listings/internal/store"
)

const pollTimeoutSeconds = 20

// pendingInput tracks which submission a moderator's next free-text
// message applies to. Kept in memory: on restart the moderator simply
// presses the button again.
type pendingInput struct {
	kind    string // "reject" or "address"
	id      string
	version int64
}

type Bot struct {
	client  *telegram.Client
	engine  *lifecycle.Engine
	store   *store.SubmissionStore
	cfg     config.ModerationConfig
	logger  logger.Logger
	mu      sync.Mutex
	pending map[int64]pendingInput
}

func NewBot(client *telegram.Client, engine *lifecycle.Engine, st *store.SubmissionStore, cfg config.ModerationConfig, log logger.Logger) *Bot {
	return &Bot{
		client:  client,
		engine:  engine,
		store:   st,
		cfg:     cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "moderator_bot"}),
		pending: make(map[int64]pendingInput),
	}
}

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
	var chatID int64
	switch {
	case upd.Message != nil:
		chatID = upd.Message.Chat.ID
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		chatID = upd.CallbackQuery.Message.Chat.ID
	default:
		return
	}

	if !b.cfg.IsModerator(telegram.ChatRef(chatID)) {
		b.logger.Warn("rejected non-moderator chat", map[string]interface{}{"chatId": chatID})
		return
	}

	if upd.CallbackQuery != nil {
		b.handleCallback(ctx, chatID, upd.CallbackQuery)
		return
	}
	b.handleMessage(ctx, chatID, upd.Message)
}

func (b *Bot) handleMessage(ctx context.Context, chatID int64, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)

	switch text {
	case "/start", "/help":
		b.reply(ctx, chatID, "Команды:\n/queue — очередь модерации\n/published — опубликованные\n/stats — статистика")
		return
	case "/queue":
		b.showQueue(ctx, chatID)
		return
	case "/published":
		b.showPublished(ctx, chatID)
		return
	case "/stats":
		b.showStats(ctx, chatID)
		return
	}

	b.mu.Lock()
	input, ok := b.pending[chatID]
	delete(b.pending, chatID)
	b.mu.Unlock()
	if !ok {
		b.reply(ctx, chatID, "Нажмите /queue чтобы открыть очередь.")
		return
	}

	switch input.kind {
	case "reject":
		b.completeReject(ctx, chatID, input, text)
	case "address":
		b.completeAddress(ctx, chatID, input, text)
	}
}

func (b *Bot) handleCallback(ctx context.Context, chatID int64, cb *telegram.CallbackQuery) {
	parts := strings.Split(cb.Data, ":")
	actorRef := telegram.ChatRef(chatID)

	var ack string
	if len(parts) == 3 {
		version, err := strconv.ParseInt(parts[2], 10, 64)
		if err == nil {
			id := parts[1]
			switch parts[0] {
			case "approve":
				ack = b.apply(ctx, chatID, id, version, domain.ActionApprove, actorRef, "")
			case "publish":
				ack = b.apply(ctx, chatID, id, version, domain.ActionPublish, actorRef, "")
			case "unpublish":
				ack = b.apply(ctx, chatID, id, version, domain.ActionUnpublish, actorRef, "")
			case "reject":
				b.mu.Lock()
				b.pending[chatID] = pendingInput{kind: "reject", id: id, version: version}
				b.mu.Unlock()
				b.reply(ctx, chatID, "Отправьте причину отклонения одним сообщением.")
				ack = "Жду причину"
			case "address":
				b.mu.Lock()
				b.pending[chatID] = pendingInput{kind: "address", id: id, version: version}
				b.mu.Unlock()
				b.reply(ctx, chatID, "Отправьте адрес и координаты:\nпервая строка — адрес, вторая — широта, долгота.")
				ack = "Жду адрес"
			}
		}
	}

	if err := b.client.AnswerCallbackQuery(ctx, cb.ID, ack); err != nil {
		b.logger.Warn("failed to answer callback", map[string]interface{}{"chatId": chatID, "error": err})
	}
}

// apply runs one moderator transition and translates the outcome into
// a short human answer. A stale version means another moderator got
// there first; the refreshed state is shown instead of an error.
func (b *Bot) apply(ctx context.Context, chatID int64, id string, version int64, action domain.Action, actorRef, reason string) string {
	_, err := b.engine.Apply(ctx, id, version, action, actorRef, domain.RoleModerator, lifecycle.TransitionArgs{Reason: reason})
	if err == nil {
		return "Готово"
	}

	switch {
	case stderrors.IsCode(err, stderrors.ErrCodeStaleVersion):
		current, gerr := b.store.GetByID(ctx, id)
		if gerr == nil {
			b.reply(ctx, chatID, fmt.Sprintf("Эту заявку уже обработали: статус %s.", current.Status))
		}
		return "Уже обработано"
	case stderrors.IsCode(err, stderrors.ErrCodeValidationFailed):
		b.reply(ctx, chatID, "Нельзя выполнить: "+err.Error())
		return "Проверьте данные"
	case stderrors.IsCode(err, stderrors.ErrCodeInvalidTransition):
		return "Недопустимый переход"
	default:
		b.logger.Error("transition failed", map[string]interface{}{
			"chatId":       chatID,
			"submissionId": id,
			"action":       action,
			"error":        err,
		})
		return "Ошибка"
	}
}

func (b *Bot) completeReject(ctx context.Context, chatID int64, input pendingInput, reason string) {
	if reason == "" {
		b.reply(ctx, chatID, "Причина не может быть пустой. Нажмите «Отклонить» ещё раз.")
		return
	}
	actorRef := telegram.ChatRef(chatID)
	if ack := b.apply(ctx, chatID, input.id, input.version, domain.ActionReject, actorRef, reason); ack == "Готово" {
		b.reply(ctx, chatID, "Заявка отклонена, автор уведомлён.")
	}
}

// completeAddress parses "address\nlat, lon" and stores it as a
// moderator payload edit, so the listing becomes publishable.
func (b *Bot) completeAddress(ctx context.Context, chatID int64, input pendingInput, text string) {
	lines := strings.SplitN(text, "\n", 2)
	address := strings.TrimSpace(lines[0])
	if address == "" {
		b.reply(ctx, chatID, "Первая строка должна содержать адрес.")
		return
	}

	sub, err := b.store.GetByID(ctx, input.id)
	if err != nil {
		b.reply(ctx, chatID, "Заявка не найдена.")
		return
	}

	payload := sub.Payload
	payload.Address = address
	if len(lines) == 2 {
		lat, lon, perr := parseCoordinates(lines[1])
		if perr != nil {
			b.reply(ctx, chatID, "Не удалось разобрать координаты: "+perr.Error())
			return
		}
		payload.Latitude = lat
		payload.Longitude = lon
	}

	actorRef := telegram.ChatRef(chatID)
	if _, err := b.engine.UpdatePayload(ctx, input.id, input.version, payload, actorRef, domain.RoleModerator); err != nil {
		if stderrors.IsCode(err, stderrors.ErrCodeStaleVersion) {
			b.reply(ctx, chatID, "Заявка уже изменилась, откройте очередь заново.")
			return
		}
		b.logger.Error("address edit failed", map[string]interface{}{"chatId": chatID, "submissionId": input.id, "error": err})
		b.reply(ctx, chatID, "Не получилось сохранить адрес.")
		return
	}
	b.reply(ctx, chatID, "Адрес сохранён.")
}

func parseCoordinates(line string) (float64, float64, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	nums := make([]float64, 0, 2)
	for _, f := range fields {
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%q is not a number", f)
		}
		nums = append(nums, v)
	}
	if len(nums) != 2 {
		return 0, 0, fmt.Errorf("expected two numbers, got %d", len(nums))
	}
	if nums[0] < -90 || nums[0] > 90 || nums[1] < -180 || nums[1] > 180 {
		return 0, 0, fmt.Errorf("coordinates out of range")
	}
	return nums[0], nums[1], nil
}

func (b *Bot) showQueue(ctx context.Context, chatID int64) {
	subs, err := b.store.PendingQueue(ctx)
	if err != nil {
		b.logger.Error("queue lookup failed", map[string]interface{}{"error": err})
		b.reply(ctx, chatID, "Не получилось загрузить очередь.")
		return
	}
	if len(subs) == 0 {
		b.reply(ctx, chatID, "Очередь пуста.")
		return
	}

	for _, sub := range subs {
		b.sendCard(ctx, chatID, sub, [][]telegram.InlineButton{
			{
				{Text: "✅ Одобрить", CallbackData: fmt.Sprintf("approve:%s:%d", sub.ID, sub.Version)},
				{Text: "❌ Отклонить", CallbackData: fmt.Sprintf("reject:%s:%d", sub.ID, sub.Version)},
			},
			{{Text: "\U0001F4CD Адрес", CallbackData: fmt.Sprintf("address:%s:%d", sub.ID, sub.Version)}},
		})
	}

	// approved-but-unpublished items need a publish nudge
	approved, err := b.store.ByStatus(ctx, domain.StatusApproved)
	if err != nil {
		return
	}
	for _, sub := range approved {
		b.sendCard(ctx, chatID, sub, [][]telegram.InlineButton{
			{
				{Text: "\U0001F4E2 Опубликовать", CallbackData: fmt.Sprintf("publish:%s:%d", sub.ID, sub.Version)},
				{Text: "❌ Отклонить", CallbackData: fmt.Sprintf("reject:%s:%d", sub.ID, sub.Version)},
			},
		})
	}
}

func (b *Bot) showPublished(ctx context.Context, chatID int64) {
	subs, err := b.store.Published(ctx)
	if err != nil {
		b.logger.Error("published lookup failed", map[string]interface{}{"error": err})
		b.reply(ctx, chatID, "Не получилось загрузить публикации.")
		return
	}
	if len(subs) == 0 {
		b.reply(ctx, chatID, "Опубликованных заявок нет.")
		return
	}

	for _, sub := range subs {
		b.sendCard(ctx, chatID, sub, [][]telegram.InlineButton{
			{{Text: "\U0001F5D1 Снять с публикации", CallbackData: fmt.Sprintf("unpublish:%s:%d", sub.ID, sub.Version)}},
		})
	}
}

func (b *Bot) showStats(ctx context.Context, chatID int64) {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		b.logger.Error("stats lookup failed", map[string]interface{}{"error": err})
		b.reply(ctx, chatID, "Не получилось загрузить статистику.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf(
		"Статистика:\nВ очереди: %d\nОпубликовано: %d\nЗаявок сегодня: %d",
		stats.PendingCount, stats.PublishedCount, stats.TodayCount,
	))
}

func (b *Bot) sendCard(ctx context.Context, chatID int64, sub *domain.Submission, rows [][]telegram.InlineButton) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s · %s\n\n", kindLabel(sub.Kind), sub.Status)
	sb.WriteString(sub.Payload.Description)
	if sub.Payload.Address != "" {
		fmt.Fprintf(&sb, "\n\U0001F4CD %s", sub.Payload.Address)
	}
	if sub.Payload.Price > 0 {
		fmt.Fprintf(&sb, "\n\U0001F4B0 %d грн", sub.Payload.Price)
	}
	if sub.Payload.Contact != "" {
		fmt.Fprintf(&sb, "\n☎ %s", sub.Payload.Contact)
	}
	if n := len(sub.Payload.PhotoRefs); n > 0 {
		fmt.Fprintf(&sb, "\nФото: %d", n)
	}

	opts := &telegram.SendOptions{ReplyMarkup: &telegram.InlineKeyboard{InlineKeyboard: rows}}
	if _, err := b.client.SendMessage(ctx, telegram.ChatRef(chatID), sb.String(), opts); err != nil {
		b.logger.Warn("send failed", map[string]interface{}{"chatId": chatID, "error": err})
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.client.SendMessage(ctx, telegram.ChatRef(chatID), text, nil); err != nil {
		b.logger.Warn("send failed", map[string]interface{}{"chatId": chatID, "error": err})
	}
}

func kindLabel(kind domain.Kind) string {
	switch kind {
	case domain.KindListing:
		return "Сдаётся"
	case domain.KindRequest:
		return "Ищет жильё"
	default:
		return string(kind)
	}
}
