package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	sent []EmailMessage
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg EmailMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestComposeDraftOnly(t *testing.T) {
	mailer := &recordingMailer{}
	tool := NewEmailTool(mailer)

	out, err := tool.Compose(context.Background(), map[string]interface{}{
		"to":      []interface{}{"me@example.com"},
		"subject": "Arsenal score",
		"body":    "Arsenal won 2-1.",
	})
	require.NoError(t, err)

	payload := out.(map[string]interface{})
	assert.Equal(t, false, payload["sent"])
	assert.Empty(t, mailer.sent, "no send flag means no delivery")
}

func TestComposeAndSend(t *testing.T) {
	mailer := &recordingMailer{}
	tool := NewEmailTool(mailer)

	out, err := tool.Compose(context.Background(), map[string]interface{}{
		"to":      []interface{}{"me@example.com", "boss@example.com"},
		"subject": "Arsenal score",
		"body":    "Arsenal won 2-1.",
		"send":    true,
	})
	require.NoError(t, err)

	payload := out.(map[string]interface{})
	assert.Equal(t, true, payload["sent"])
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"me@example.com", "boss@example.com"}, mailer.sent[0].To)
	assert.Equal(t, "Arsenal score", mailer.sent[0].Subject)
}

func TestComposeRequiresBodyOrAttachments(t *testing.T) {
	tool := NewEmailTool(&recordingMailer{})

	_, err := tool.Compose(context.Background(), map[string]interface{}{
		"to":      "me@example.com",
		"subject": "empty",
	})
	require.Error(t, err)

	// Attachments alone satisfy the requirement
	out, err := tool.Compose(context.Background(), map[string]interface{}{
		"to":          "me@example.com",
		"subject":     "report",
		"attachments": []interface{}{"/tmp/report.pdf"},
	})
	require.NoError(t, err)
	payload := out.(map[string]interface{})
	assert.Equal(t, []string{"/tmp/report.pdf"}, payload["attachments"])
}

func TestComposeDeliveryFailure(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp connection refused")}
	tool := NewEmailTool(mailer)

	out, err := tool.Compose(context.Background(), map[string]interface{}{
		"to":   "me@example.com",
		"body": "hello",
		"send": true,
	})
	require.NoError(t, err, "delivery failures come back as an error payload")

	payload := out.(map[string]interface{})
	assert.Equal(t, true, payload["error"])
	assert.Equal(t, "delivery_failed", payload["error_type"])
	assert.Equal(t, true, payload["retry_possible"])
	assert.Contains(t, payload["error_message"], "smtp connection refused")
}

func TestDraftMailerNeverFails(t *testing.T) {
	m := NewDraftMailer(nil)
	err := m.Send(context.Background(), EmailMessage{
		To:      []string{"me@example.com"},
		Subject: "x",
		Body:    "y",
	})
	assert.NoError(t, err)
}

func TestStringListParam(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		want   []string
	}{
		{"single string", map[string]interface{}{"to": "a@x.com"}, []string{"a@x.com"}},
		{"empty string", map[string]interface{}{"to": ""}, nil},
		{"json array", map[string]interface{}{"to": []interface{}{"a@x.com", "b@x.com"}}, []string{"a@x.com", "b@x.com"}},
		{"mixed array drops non-strings", map[string]interface{}{"to": []interface{}{"a@x.com", 42}}, []string{"a@x.com"}},
		{"string slice", map[string]interface{}{"to": []string{"a@x.com"}}, []string{"a@x.com"}},
		{"missing", map[string]interface{}{}, nil},
		{"wrong type", map[string]interface{}{"to": 7}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stringListParam(tt.params, "to"))
		})
	}
}
