package notify

import (
	"context"
	"fmt"
	"io"
	"os"
)

// LogNotifier writes notifications as plain lines, one per item.
type LogNotifier struct {
	out io.Writer
}

// NewLog creates a log sink writing to out (stdout when nil).
func NewLog(out io.Writer) *LogNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &LogNotifier{out: out}
}

func (l *LogNotifier) Kind() Kind {
	return KindLog
}

func (l *LogNotifier) Notify(_ context.Context, texts []string, _ bool) error {
	for _, text := range texts {
		if _, err := fmt.Fprintln(l.out, text); err != nil {
			return fmt.Errorf("%w: write log line: %v", ErrTransport, err)
		}
	}
	return nil
}
