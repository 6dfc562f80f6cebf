// Package notify defines output backends for keyword match notifications.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/hazyhaar/chatwatch/idgen"
	"github.com/hazyhaar/chatwatch/match"
)

// maxBodyRunes bounds the message excerpt included in a notification body.
const maxBodyRunes = 100

// Notification is one keyword match ready for delivery.
type Notification struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Keyword            string    `json:"keyword"`
	Sender             string    `json:"sender,omitempty"`
	Text               string    `json:"text"`
	At                 time.Time `json:"at"`
	RequireInteraction bool      `json:"require_interaction"`
}

// Sink is the delivery interface. Implementations deliver notifications
// to different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, n Notification) error
	Close() error
}

var newID = idgen.Prefixed("ntf_", idgen.UUIDv7())

// FromResult builds a Notification from a pipeline match.
func FromResult(r *match.Result) Notification {
	return Notification{
		ID:                 newID(),
		Title:              "Keyword Match Found",
		Body:               formatBody(r),
		Keyword:            r.Keyword,
		Sender:             r.Sender,
		Text:               r.Text,
		At:                 r.At,
		RequireInteraction: true,
	}
}

func formatBody(r *match.Result) string {
	lines := []string{
		"From: " + senderOrUnknown(r.Sender),
		"Message: " + truncate(r.Text, maxBodyRunes),
		"Time: " + r.At.Format(time.RFC3339),
	}
	return strings.Join(lines, "\n")
}

func senderOrUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// truncate cuts s to max runes, reserving three for the ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
