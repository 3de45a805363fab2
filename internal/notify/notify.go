// Package notify delivers templated email notifications for terminal
// simulation states. The pipeline only assembles template data; delivery runs
// through an external transactional-mail API.
package notify

import "context"

// Attachment is a named file included with a message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Notifier sends one templated message. TemplateData carries run identifiers,
// result links and error text; rendering happens on the provider side.
type Notifier interface {
	Send(ctx context.Context, to, templateID string, data map[string]string, attachments []Attachment) error
}
