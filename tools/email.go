package tools

import (
	"context"
	"fmt"

	"github.com/concordlabs/concord/core"
)

// EmailMessage is the composed message handed to a Mailer
type EmailMessage struct {
	To          []string
	Subject     string
	Body        string
	Attachments []string
}

// Mailer delivers composed email. Implementations may draft locally or
// hand off to an SMTP or API backend.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// DraftMailer logs the message instead of sending it. Used when no
// delivery backend is configured.
type DraftMailer struct {
	logger core.Logger
}

// NewDraftMailer creates a mailer that only drafts
func NewDraftMailer(logger core.Logger) *DraftMailer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &DraftMailer{logger: logger}
}

func (m *DraftMailer) Send(ctx context.Context, msg EmailMessage) error {
	m.logger.Info("Email drafted, delivery backend not configured", map[string]interface{}{
		"operation":   "email_draft",
		"to":          msg.To,
		"subject":     msg.Subject,
		"attachments": len(msg.Attachments),
	})
	return nil
}

// EmailTool composes and optionally sends email through a Mailer
type EmailTool struct {
	mailer Mailer
}

// NewEmailTool creates the compose_email handler
func NewEmailTool(mailer Mailer) *EmailTool {
	return &EmailTool{mailer: mailer}
}

// Compose builds an email from parameters and sends it when the send
// flag is set. Either a non-empty body or at least one attachment is
// required.
func (t *EmailTool) Compose(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	msg := EmailMessage{
		Subject: stringParam(params, "subject"),
		Body:    stringParam(params, "body"),
	}
	msg.To = stringListParam(params, "to")
	msg.Attachments = stringListParam(params, "attachments")

	if msg.Body == "" && len(msg.Attachments) == 0 {
		return nil, fmt.Errorf("compose_email requires a body or attachments")
	}

	send, _ := params["send"].(bool)
	if send {
		if err := t.mailer.Send(ctx, msg); err != nil {
			return map[string]interface{}{
				"error":          true,
				"error_type":     "delivery_failed",
				"error_message":  err.Error(),
				"retry_possible": true,
			}, nil
		}
	}

	return map[string]interface{}{
		"sent":        send,
		"to":          msg.To,
		"subject":     msg.Subject,
		"attachments": msg.Attachments,
	}, nil
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// stringListParam accepts either a single string or a JSON array of
// strings, which is how plans commonly express recipient lists
func stringListParam(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}
