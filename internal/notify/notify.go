// Package notify fans committed lifecycle events out to the people
// who care about them: owners hear about moderation outcomes through
// the applicant bot, moderators hear about new work through the
// moderator bot, optionally duplicated over email and SMS.
//
// Notification failures are logged and counted, never propagated: a
// broken alert channel must not fail a transition.
package notify

import (
	"context"
	"fmt"

	awsclients "geneva-listings/internal/common/aws"
	"geneva-listings/internal/common/config"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/metrics"
	"geneva-listings/internal/common/telegram"
	"geneva-listings/internal/domain"
)

// Notifier routes event notifications. Either AWS client may be nil
// when its channel is disabled.
type Notifier struct {
	ownerBot     telegram.Sender
	moderatorBot telegram.Sender
	moderation   config.ModerationConfig
	cfg          config.NotificationConfig
	ses          *awsclients.SESClient
	sns          *awsclients.SNSClient
	logger       logger.Logger
}

func NewNotifier(ownerBot, moderatorBot telegram.Sender, moderation config.ModerationConfig, cfg config.NotificationConfig, log logger.Logger) *Notifier {
	return &Notifier{
		ownerBot:     ownerBot,
		moderatorBot: moderatorBot,
		moderation:   moderation,
		cfg:          cfg,
		logger:       log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// WithAWS wires the optional email and SMS alert channels.
func (n *Notifier) WithAWS(ses *awsclients.SESClient, sns *awsclients.SNSClient) *Notifier {
	n.ses = ses
	n.sns = sns
	return n
}

// HandleEvent implements the lifecycle event sink.
func (n *Notifier) HandleEvent(ctx context.Context, event *domain.Event, sub *domain.Submission) {
	switch {
	case event.OldStatus == domain.StatusDraft && event.NewStatus == domain.StatusPendingReview:
		n.alertModerators(ctx, sub)
	case event.NewStatus == domain.StatusApproved && event.OldStatus == domain.StatusPendingReview:
		n.tellOwner(ctx, sub, "Ваша заявка одобрена и скоро появится в канале.")
	case event.NewStatus == domain.StatusRejected:
		n.tellOwner(ctx, sub, "Ваша заявка отклонена.\nПричина: "+event.Reason)
	case event.NewStatus == domain.StatusPublished:
		n.tellOwner(ctx, sub, "Ваша заявка опубликована в канале.")
	case event.OldStatus == domain.StatusPublished && event.NewStatus == domain.StatusWithdrawn && event.ActorRole == domain.RoleModerator:
		n.tellOwner(ctx, sub, "Ваша публикация снята модератором.")
	}
}

func (n *Notifier) tellOwner(ctx context.Context, sub *domain.Submission, text string) {
	if n.ownerBot == nil {
		return
	}
	if _, err := n.ownerBot.SendMessage(ctx, sub.OwnerRef, text, nil); err != nil {
		metrics.NotificationsSent.WithLabelValues("telegram", "error").Inc()
		n.logger.Error("failed to notify owner", map[string]interface{}{
			"submissionId": sub.ID,
			"ownerRef":     sub.OwnerRef,
			"error":        err,
		})
		return
	}
	metrics.NotificationsSent.WithLabelValues("telegram", "ok").Inc()
}

func (n *Notifier) alertModerators(ctx context.Context, sub *domain.Submission) {
	text := fmt.Sprintf("Новая заявка на модерацию: %s\nID: %s", kindLabel(sub.Kind), sub.ID)

	if n.moderatorBot != nil && n.moderation.AdminChatID != "" {
		if _, err := n.moderatorBot.SendMessage(ctx, n.moderation.AdminChatID, text, nil); err != nil {
			metrics.NotificationsSent.WithLabelValues("telegram", "error").Inc()
			n.logger.Error("failed to alert moderators", map[string]interface{}{
				"submissionId": sub.ID,
				"error":        err,
			})
		} else {
			metrics.NotificationsSent.WithLabelValues("telegram", "ok").Inc()
		}
	}

	if n.cfg.Email.Enabled && n.ses != nil {
		subject := "New submission pending review"
		body := text + "\nQueue position: see /stats in the moderator bot."
		if err := n.ses.SendAlertEmail(ctx, n.cfg.Email.FromEmail, n.cfg.Email.ToEmail, subject, body); err != nil {
			metrics.NotificationsSent.WithLabelValues("email", "error").Inc()
			n.logger.Error("failed to send alert email", map[string]interface{}{
				"submissionId": sub.ID,
				"error":        err,
			})
		} else {
			metrics.NotificationsSent.WithLabelValues("email", "ok").Inc()
		}
	}

	if n.cfg.SMS.Enabled && n.sns != nil {
		if err := n.sns.SendSMS(ctx, n.cfg.SMS.PhoneNumber, text); err != nil {
			metrics.NotificationsSent.WithLabelValues("sms", "error").Inc()
			n.logger.Error("failed to send alert sms", map[string]interface{}{
				"submissionId": sub.ID,
				"error":        err,
			})
		} else {
			metrics.NotificationsSent.WithLabelValues("sms", "ok").Inc()
		}
	}
}

func kindLabel(kind domain.Kind) string {
	switch kind {
	case domain.KindListing:
		return "сдаётся жильё"
	case domain.KindRequest:
		return "поиск жилья"
	default:
		return string(kind)
	}
}
