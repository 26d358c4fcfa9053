package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Event distinguishes the two kinds of outbound notification.
type Event string

const (
	EventAlert    Event = "alert"
	EventRecovery Event = "recovery"
)

// Message is the channel-independent payload of one notification.
type Message struct {
	Event        Event
	ModelName    string
	ModelID      string
	ErrorCode    int
	ErrorMessage string
	At           time.Time
	CustomText   string // operator-configured text appended to every message
}

// Channel is one way to deliver a notification. Channels are independent:
// a failing channel is logged and never blocks the others.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Title returns the one-line summary used as subject/heading.
func (m Message) Title() string {
	if m.Event == EventRecovery {
		return fmt.Sprintf("Model recovered: %s", m.ModelName)
	}
	return fmt.Sprintf("Model offline: %s", m.ModelName)
}

// Markdown renders the message for chat-bot webhooks.
func (m Message) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", m.Title())
	fmt.Fprintf(&b, "**Model**: %s\n\n", m.ModelName)
	fmt.Fprintf(&b, "**Model ID**: `%s`\n\n", m.ModelID)
	if m.Event == EventRecovery {
		b.WriteString("**Status**: connectivity restored\n\n")
	} else {
		b.WriteString("**Status**: connection failed\n\n")
		if m.ErrorCode != 0 {
			fmt.Fprintf(&b, "**Error code**: %d\n\n", m.ErrorCode)
		}
		if m.ErrorMessage != "" {
			fmt.Fprintf(&b, "**Error**: %s\n\n", m.ErrorMessage)
		}
	}
	if m.CustomText != "" {
		fmt.Fprintf(&b, "%s\n\n", m.CustomText)
	}
	fmt.Fprintf(&b, "---\n*%s*", m.At.Format("2006-01-02 15:04:05"))
	return b.String()
}

// PlainText renders the message for email bodies.
func (m Message) PlainText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s\n", m.ModelName)
	fmt.Fprintf(&b, "Model ID: %s\n", m.ModelID)
	if m.Event == EventRecovery {
		b.WriteString("Status: connectivity restored\n")
	} else {
		b.WriteString("Status: connection failed\n")
		if m.ErrorCode != 0 {
			fmt.Fprintf(&b, "Error code: %d\n", m.ErrorCode)
		}
		if m.ErrorMessage != "" {
			fmt.Fprintf(&b, "Error: %s\n", m.ErrorMessage)
		}
	}
	if m.CustomText != "" {
		fmt.Fprintf(&b, "\n%s\n", m.CustomText)
	}
	fmt.Fprintf(&b, "\nSent at %s by the model availability monitor.\n", m.At.Format("2006-01-02 15:04:05"))
	return b.String()
}
