// Package privacy masks secrets before they reach log output.
package privacy

import (
	"fmt"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

const redactedPlaceholder = "[REDACTED]"

// Webhook and bot token shapes that end up in transport errors.
var builtinPatterns = []string{
	`https://hooks\.slack\.com/services/[A-Za-z0-9/_-]+`,
	`bot[0-9]+:[A-Za-z0-9_-]{20,}`,
}

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Apply replaces all matches of the compiled patterns in text with [REDACTED].
func Apply(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Redactor masks known secret values and pattern matches.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New builds a redactor for the literal secrets (webhook URLs, tokens) and
// the extra regex patterns, on top of the built-in webhook shapes.
func New(secrets, patterns []string) (*Redactor, error) {
	all := make([]string, 0, len(secrets)+len(patterns)+len(builtinPatterns))
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			all = append(all, regexp.QuoteMeta(s))
		}
	}
	all = append(all, builtinPatterns...)
	all = append(all, patterns...)

	compiled, err := Compile(all)
	if err != nil {
		return nil, err
	}
	return &Redactor{patterns: compiled}, nil
}

func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}
	return Apply(text, r.patterns)
}

// Error returns err with a masked message. errors.Is and errors.As still see
// the original chain.
func (r *Redactor) Error(err error) error {
	if err == nil || r == nil {
		return err
	}
	msg := r.Redact(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// Hook returns a logrus hook masking the message and every string or error field.
func (r *Redactor) Hook() log.Hook {
	return &hook{r: r}
}

type hook struct {
	r *Redactor
}

func (h *hook) Levels() []log.Level {
	return log.AllLevels
}

func (h *hook) Fire(e *log.Entry) error {
	e.Message = h.r.Redact(e.Message)
	for k, v := range e.Data {
		switch val := v.(type) {
		case string:
			e.Data[k] = h.r.Redact(val)
		case error:
			e.Data[k] = h.r.Error(val)
		}
	}
	return nil
}
