package notify

import (
	"context"
	"sync"
)

// Message is one recorded notification.
type Message struct {
	To         string
	TemplateID string
	Data       map[string]string
}

// Recorder is a Notifier for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, to, templateID string, data map[string]string, _ []Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	r.messages = append(r.messages, Message{To: to, TemplateID: templateID, Data: cp})
	return nil
}

// Messages returns a snapshot of recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
