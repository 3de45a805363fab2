package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPNotifier posts messages to a transactional-mail HTTP API
// (sendgrid-style dynamic templates: template id + substitution data).
type HTTPNotifier struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

// NewHTTPNotifier builds a notifier for the given mail API endpoint.
func NewHTTPNotifier(endpoint, apiKey, from string) *HTTPNotifier {
	return &HTTPNotifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type mailRequest struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	TemplateID  string            `json:"template_id"`
	Data        map[string]string `json:"dynamic_template_data"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

func (n *HTTPNotifier) Send(ctx context.Context, to, templateID string, data map[string]string, attachments []Attachment) error {
	body, err := json.Marshal(mailRequest{
		From:        n.from,
		To:          to,
		TemplateID:  templateID,
		Data:        data,
		Attachments: attachments,
	})
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("send mail: provider returned %s", resp.Status)
	}
	return nil
}
