// Package notification implements email, SMS and push tasks.
package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"harvestflow/internal/domain"
	"harvestflow/internal/fanout"
	"harvestflow/internal/mailer"
	"harvestflow/internal/registry"
)

const (
	historyMaxLen = 100
	historyTTL    = 30 * 24 * time.Hour
	DefaultBrand  = "GreenHarvest"
)

// HistoryKey is the list holding a user's recent push notifications.
func HistoryKey(userID string) string { return "user:" + userID + ":notifications" }

// Channel is the pub/sub channel a user's clients subscribe to.
func Channel(userID string) string { return "user_notifications:" + userID }

type Deps struct {
	Mailer mailer.Mailer
	Fanout *fanout.Notifier
	Brand  string
	Now    func() time.Time
}

type tasks struct {
	Deps
}

func Register(reg *registry.Registry, d Deps) error {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Brand == "" {
		d.Brand = DefaultBrand
	}
	if d.Mailer == nil {
		d.Mailer = mailer.Console{}
	}
	t := &tasks{Deps: d}
	for _, r := range []struct {
		name   string
		fn     registry.HandlerFunc
		params []registry.Param
	}{
		{"send_email", t.sendEmail, []registry.Param{
			registry.Required("to", registry.String),
			registry.Required("subject", registry.String),
			registry.Required("body", registry.String),
			registry.Optional("html_body", registry.String, nil),
		}},
		{"send_sms", t.sendSMS, []registry.Param{
			registry.Required("phone_number", registry.String),
			registry.Required("message", registry.String),
		}},
		{"send_push_notification", t.sendPush, []registry.Param{
			registry.Required("user_id", registry.String),
			registry.Required("title", registry.String),
			registry.Required("message", registry.String),
			registry.Optional("data", registry.Map, nil),
		}},
		{"send_bulk_notification", t.sendBulk, []registry.Param{
			registry.Required("user_ids", registry.List),
			registry.Required("title", registry.String),
			registry.Required("message", registry.String),
			registry.Optional("data", registry.Map, nil),
		}},
		{"send_welcome_email", t.sendWelcomeEmail, []registry.Param{
			registry.Required("user_email", registry.String),
			registry.Required("user_name", registry.String),
		}},
		{"send_order_confirmation", t.sendOrderConfirmation, []registry.Param{
			registry.Required("user_email", registry.String),
			registry.Required("user_name", registry.String),
			registry.Required("order_id", registry.String),
			registry.Required("items", registry.List),
			registry.Required("total_amount", registry.Float),
		}},
		{"send_otp_email", t.sendOTPEmail, []registry.Param{
			registry.Required("user_email", registry.String),
			registry.Required("code", registry.String),
			registry.Optional("expires_minutes", registry.Int, int64(5)),
		}},
	} {
		if err := reg.Register(r.name, r.fn, registry.WithParams(r.params...)); err != nil {
			return err
		}
	}
	return nil
}

func (t *tasks) sendEmail(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	msg := mailer.Message{
		To:       a.String("to"),
		Subject:  a.String("subject"),
		Body:     a.String("body"),
		HTMLBody: a.String("html_body"),
	}
	delivered, err := t.Mailer.Send(ctx, msg)
	value := map[string]any{"success": delivered, "to": msg.To, "subject": msg.Subject}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("to", msg.To).Msg("failed to send email")
		return registry.Upstream(err, value), nil
	}
	return registry.Success(value), nil
}

func (t *tasks) sendSMS(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	phone := a.String("phone_number")
	zerolog.Ctx(ctx).Info().Str("phone", phone).Str("message", a.String("message")).Msg("sms")
	return registry.Success(map[string]any{"success": true, "phone": phone}), nil
}

func (t *tasks) sendPush(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	userID := a.String("user_id")
	data := a.Map("data")
	notification := map[string]any{
		"user_id":   userID,
		"title":     a.String("title"),
		"message":   a.String("message"),
		"data":      data,
		"timestamp": t.Now().UTC().Format(time.RFC3339Nano),
	}
	receivers := t.Fanout.PublishWithHistory(ctx, Channel(userID), HistoryKey(userID), notification,
		fanout.History{MaxLen: historyMaxLen, TTL: historyTTL})
	zerolog.Ctx(ctx).Debug().Str("user_id", userID).Int64("receivers", receivers).Msg("push notification published")

	return registry.Success(map[string]any{"success": true, "user_id": userID, "title": a.String("title")}), nil
}

func (t *tasks) sendBulk(_ context.Context, a registry.Args) (registry.Outcome, error) {
	userIDs := a.StringSlice("user_ids")
	ids := make([]string, 0, len(userIDs))
	envs := make([]domain.Envelope, 0, len(userIDs))
	for _, id := range userIDs {
		kwargs := map[string]any{
			"user_id": id,
			"title":   a.String("title"),
			"message": a.String("message"),
		}
		if a.Has("data") {
			kwargs["data"] = a.Map("data")
		}
		env := domain.NewEnvelope("send_push_notification", nil, kwargs)
		envs = append(envs, env)
		ids = append(ids, env.ID.String())
	}
	return registry.Success(map[string]any{"success": true, "results": ids}).Then(envs...), nil
}

// emailFollowUp renders a message and hands delivery to send_email.
func (t *tasks) emailFollowUp(to string, m rendered) registry.Outcome {
	env := domain.NewEnvelope("send_email", nil, map[string]any{
		"to":        to,
		"subject":   m.subject,
		"body":      m.text,
		"html_body": m.html,
	})
	return registry.Success(map[string]any{
		"success": true,
		"to":      to,
		"subject": m.subject,
		"task_id": env.ID.String(),
	}).Then(env)
}

func (t *tasks) sendWelcomeEmail(_ context.Context, a registry.Args) (registry.Outcome, error) {
	m, err := renderWelcome(t.Brand, a.String("user_email"), a.String("user_name"))
	if err != nil {
		return registry.Outcome{}, err
	}
	return t.emailFollowUp(a.String("user_email"), m), nil
}

func (t *tasks) sendOrderConfirmation(_ context.Context, a registry.Args) (registry.Outcome, error) {
	items := make([]orderItem, 0)
	for _, raw := range a.Slice("items") {
		items = append(items, toOrderItem(raw))
	}
	m, err := renderOrderConfirmation(t.Brand, a.String("user_name"), a.String("order_id"), items, a.Float("total_amount"))
	if err != nil {
		return registry.Outcome{}, err
	}
	return t.emailFollowUp(a.String("user_email"), m), nil
}

func (t *tasks) sendOTPEmail(_ context.Context, a registry.Args) (registry.Outcome, error) {
	m, err := renderOTP(t.Brand, a.String("code"), a.Int("expires_minutes"))
	if err != nil {
		return registry.Outcome{}, err
	}
	return t.emailFollowUp(a.String("user_email"), m), nil
}
