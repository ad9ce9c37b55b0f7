// Package notify renders fresh items for each sink kind and delivers them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind identifies a sink variant.
type Kind string

const (
	KindLog      Kind = "log"
	KindSlack    Kind = "slack"
	KindTelegram Kind = "telegram"
)

var (
	// ErrUnsupported is returned for sink kinds that cannot deliver yet.
	ErrUnsupported = errors.New("notifier not implemented")

	// ErrTransport wraps delivery failures reported by a sink's transport.
	ErrTransport = errors.New("notifier transport failure")
)

// Notifier delivers an ordered batch of rendered notifications.
type Notifier interface {
	// Kind selects the rendering convention used for this sink.
	Kind() Kind

	// Notify delivers texts in order. batch only changes how the transport
	// groups or paces delivery, never the content.
	Notify(ctx context.Context, texts []string, batch bool) error
}

// Config describes one sink as it appears in configuration.
type Config struct {
	Type       string
	WebhookURL string
	Channel    string
}

// FromConfig builds notifiers in configuration order. Log sinks write to out.
func FromConfig(cfgs []Config, out io.Writer) ([]Notifier, error) {
	notifiers := make([]Notifier, 0, len(cfgs))
	for i, c := range cfgs {
		switch Kind(strings.ToLower(strings.TrimSpace(c.Type))) {
		case KindLog:
			notifiers = append(notifiers, NewLog(out))
		case KindSlack:
			s, err := NewSlack(c.WebhookURL, c.Channel)
			if err != nil {
				return nil, fmt.Errorf("notifiers[%d]: %w", i, err)
			}
			notifiers = append(notifiers, s)
		case KindTelegram:
			notifiers = append(notifiers, NewTelegram())
		default:
			return nil, fmt.Errorf("notifiers[%d]: unknown type %q", i, c.Type)
		}
	}
	return notifiers, nil
}
