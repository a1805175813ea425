// Package policy contains the version policy engine for staged updates.
// This is part of the Functional Core - no I/O, only pure functions.
package policy

import (
	"fmt"
	"strings"
)

// Severity ranks a validation finding. Higher values dominate lower ones.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the lowercase name used in payloads and logs.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "ok"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "ok", "":
		*s = SeverityOK
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", string(text))
	}
	return nil
}

// Result is a single finding produced by a rule or an event subscriber.
type Result struct {
	Severity Severity `json:"severity"`
	Summary  string   `json:"summary,omitempty"`
	Messages []string `json:"messages"`
	// Rule names the producer. Used for supersession and audit output.
	Rule string `json:"rule,omitempty"`
}

// OK returns an empty passing result.
func OK() Result {
	return Result{Severity: SeverityOK}
}

// NewError builds an error result. A summary is only meaningful when
// there is more than one message.
func NewError(rule, summary string, messages ...string) Result {
	return Result{Severity: SeverityError, Rule: rule, Summary: summary, Messages: messages}
}

// NewWarning builds a warning result.
func NewWarning(rule, summary string, messages ...string) Result {
	return Result{Severity: SeverityWarning, Rule: rule, Summary: summary, Messages: messages}
}

// Errorf builds a single-message error result.
func Errorf(rule, format string, args ...any) Result {
	return NewError(rule, "", fmt.Sprintf(format, args...))
}

// IsOK reports whether the result carries no finding.
func (r Result) IsOK() bool {
	return r.Severity == SeverityOK
}

// String renders the result on one line, summary first.
func (r Result) String() string {
	text := strings.Join(r.Messages, " ")
	if r.Summary != "" {
		text = r.Summary + ": " + text
	}
	return fmt.Sprintf("[%s] %s", r.Severity, text)
}

// MaxSeverity returns the dominant severity across results.
// Error dominates warning dominates ok.
func MaxSeverity(results []Result) Severity {
	highest := SeverityOK
	for _, r := range results {
		if r.Severity > highest {
			highest = r.Severity
		}
	}
	return highest
}

// HasErrors reports whether any result carries error severity.
func HasErrors(results []Result) bool {
	return MaxSeverity(results) == SeverityError
}

// FilterBySeverity returns the results at exactly the given severity.
func FilterBySeverity(results []Result, severity Severity) []Result {
	var out []Result
	for _, r := range results {
		if r.Severity == severity {
			out = append(out, r)
		}
	}
	return out
}

// Messages flattens the messages of all results in order.
func Messages(results []Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Messages...)
	}
	return out
}
