package projector

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/telegram"
	"geneva-listings/internal/domain"
)

// ChannelPublisher posts approved submissions to the public Telegram
// channel. The returned reference is the channel message id, which is
// enough to take the post back down on unpublish.
type ChannelPublisher struct {
	sender    telegram.Sender
	channelID string
	logger    logger.Logger
}

func NewChannelPublisher(sender telegram.Sender, channelID string, log logger.Logger) *ChannelPublisher {
	return &ChannelPublisher{
		sender:    sender,
		channelID: channelID,
		logger:    log.WithFields(map[string]interface{}{"component": "channel_publisher"}),
	}
}

// Publish posts the announcement and returns its message id. Photos
// go out as a media group with the announcement as caption; text-only
// submissions go out as a plain message.
func (p *ChannelPublisher) Publish(ctx context.Context, sub *domain.Submission) (string, error) {
	caption := FormatAnnouncement(sub)

	var (
		messageID int64
		err       error
	)
	switch {
	case len(sub.Payload.PhotoRefs) > 1:
		messageID, err = p.sender.SendMediaGroup(ctx, p.channelID, sub.Payload.PhotoRefs, caption)
	case len(sub.Payload.PhotoRefs) == 1:
		messageID, err = p.sender.SendPhoto(ctx, p.channelID, sub.Payload.PhotoRefs[0], caption)
	default:
		messageID, err = p.sender.SendMessage(ctx, p.channelID, caption, &telegram.SendOptions{ParseMode: "HTML"})
	}
	if err != nil {
		return "", stderrors.NewPublicationFailedError(err)
	}

	p.logger.Info("posted to channel", map[string]interface{}{
		"submissionId": sub.ID,
		"messageId":    messageID,
	})
	return strconv.FormatInt(messageID, 10), nil
}

// Unpublish deletes the channel post referenced by published_ref.
// A missing or already-deleted message is logged and swallowed: the
// store, not the channel, is the source of truth.
func (p *ChannelPublisher) Unpublish(ctx context.Context, sub *domain.Submission) error {
	ref := sub.PublishedRef
	if ref == "" {
		return nil
	}
	messageID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		p.logger.Warn("unparseable published ref, skipping channel delete", map[string]interface{}{
			"submissionId": sub.ID,
			"publishedRef": ref,
		})
		return nil
	}
	if err := p.sender.DeleteMessage(ctx, p.channelID, messageID); err != nil {
		p.logger.Warn("failed to delete channel post", map[string]interface{}{
			"submissionId": sub.ID,
			"messageId":    messageID,
			"error":        err,
		})
	}
	return nil
}

// FormatAnnouncement renders the channel post body in Telegram HTML.
func FormatAnnouncement(sub *domain.Submission) string {
	var b strings.Builder

	switch sub.Kind {
	case domain.KindListing:
		b.WriteString("<b>\U0001F3E0 Сдаётся жильё</b>\n\n")
	case domain.KindRequest:
		b.WriteString("<b>\U0001F50D Ищу жильё</b>\n\n")
	}

	b.WriteString(html.EscapeString(sub.Payload.Description))
	b.WriteString("\n")

	if sub.Payload.Address != "" {
		fmt.Fprintf(&b, "\n\U0001F4CD %s", html.EscapeString(sub.Payload.Address))
	}
	if sub.Payload.Price > 0 {
		fmt.Fprintf(&b, "\n\U0001F4B0 %d грн", sub.Payload.Price)
		switch sub.Payload.RentTerm {
		case domain.RentLongTerm:
			b.WriteString("/мес")
		case domain.RentDaily:
			b.WriteString("/сутки")
		}
	}
	if sub.Payload.Contact != "" {
		fmt.Fprintf(&b, "\n☎ %s", html.EscapeString(sub.Payload.Contact))
	}
	if sub.Payload.AuthorUsername != "" {
		fmt.Fprintf(&b, "\n\U0001F464 @%s", html.EscapeString(strings.TrimPrefix(sub.Payload.AuthorUsername, "@")))
	}

	return b.String()
}
