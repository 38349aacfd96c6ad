// Package notify emails a failure digest when a run has failed scenarios.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/scenario-suite/internal/obs"
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// MockSender captures messages instead of sending them. Each message is
// also written as JSON to an outbox directory for manual inspection.
type MockSender struct {
	mu        sync.Mutex
	messages  []Message
	outboxDir string
	seq       uint64
}

// NewMockSender creates a mock sender. The outbox is MOCK_EMAIL_OUTBOX_DIR,
// or a directory under os.TempDir; pass "-" to disable it.
func NewMockSender(outboxDir string) *MockSender {
	if outboxDir == "" {
		outboxDir = os.Getenv("MOCK_EMAIL_OUTBOX_DIR")
	}
	if outboxDir == "" {
		outboxDir = filepath.Join(os.TempDir(), "scenario-suite-mock-email-outbox")
	}
	if outboxDir == "-" {
		outboxDir = ""
	} else if err := os.MkdirAll(outboxDir, 0o755); err != nil {
		obs.Pkg("notify").Warn("outbox_dir_failed", "dir", outboxDir, "error", err)
		outboxDir = ""
	}
	return &MockSender{outboxDir: outboxDir}
}

func (m *MockSender) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	obs.Pkg("notify").Info("mock_email", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	return m.writeOutboxEvent(msg)
}

// Messages returns a copy of the captured messages.
func (m *MockSender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// LastMessage returns the most recent message, or the zero value.
func (m *MockSender) LastMessage() Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return Message{}
	}
	return m.messages[len(m.messages)-1]
}

func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// OutboxDir returns the directory messages are written to, or "".
func (m *MockSender) OutboxDir() string {
	return m.outboxDir
}

type outboxEvent struct {
	Sequence       uint64   `json:"sequence"`
	To             []string `json:"to"`
	Subject        string   `json:"subject"`
	Text           string   `json:"text"`
	SentAtUnixNano int64    `json:"sent_at_unix_nano"`
}

func (m *MockSender) writeOutboxEvent(msg Message) error {
	if m.outboxDir == "" {
		return nil
	}
	m.seq++
	event := outboxEvent{
		Sequence:       m.seq,
		To:             msg.To,
		Subject:        msg.Subject,
		Text:           msg.Text,
		SentAtUnixNano: time.Now().UnixNano(),
	}

	fileName := fmt.Sprintf("%020d-%020d-%s.json", event.Sequence, event.SentAtUnixNano, sanitizeOutboxComponent(strings.Join(msg.To, ",")))
	finalPath := filepath.Join(m.outboxDir, fileName)
	tempPath := finalPath + ".tmp"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename outbox file: %w", err)
	}
	return nil
}

var outboxSanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)

func sanitizeOutboxComponent(input string) string {
	safe := strings.TrimSpace(input)
	if safe == "" {
		return "unknown"
	}
	return outboxSanitizePattern.ReplaceAllString(safe, "_")
}
