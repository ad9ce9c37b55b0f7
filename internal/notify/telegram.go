package notify

import (
	"context"
	"fmt"
)

// TelegramNotifier is a placeholder for Telegram delivery. Every call fails
// with ErrUnsupported so a configured Telegram sink never drops items silently.
type TelegramNotifier struct{}

func NewTelegram() *TelegramNotifier {
	return &TelegramNotifier{}
}

func (t *TelegramNotifier) Kind() Kind {
	return KindTelegram
}

func (t *TelegramNotifier) Notify(_ context.Context, _ []string, _ bool) error {
	return fmt.Errorf("telegram: %w", ErrUnsupported)
}
