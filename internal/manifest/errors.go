package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorCode identifies a class of configuration problem.
type ErrorCode string

const (
	CodeDuplicateKey     ErrorCode = "DUPLICATE_KEY"
	CodeInvalidName      ErrorCode = "INVALID_NAME"
	CodeInvalidPattern   ErrorCode = "INVALID_PATTERN"
	CodeUnsupportedEvent ErrorCode = "UNSUPPORTED_EVENT"
	CodeMissingHandler   ErrorCode = "MISSING_HANDLER"
	CodeUnboundHandler   ErrorCode = "UNBOUND_HANDLER"
	CodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	CodeInvalidCategory  ErrorCode = "INVALID_CATEGORY"
	CodeInvalidFile      ErrorCode = "INVALID_DEFINITION"
)

// ConfigError describes one invalid handler definition. It always names the
// offending source unit; duplicate errors also name the earlier one.
type ConfigError struct {
	Code     ErrorCode `json:"code"`
	Category Category  `json:"category,omitempty"`
	Key      string    `json:"key,omitempty"`
	Source   string    `json:"source"`
	Related  string    `json:"related,omitempty"`
	Message  string    `json:"message"`
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	b.WriteString(": ")
	if e.Category != 0 && e.Key != "" {
		fmt.Fprintf(&b, "%s %q: ", e.Category, e.Key)
	}
	b.WriteString(e.Message)
	if e.Related != "" {
		fmt.Fprintf(&b, " (first defined in %s)", e.Related)
	}
	return b.String()
}

// BuildError collects every problem found by a build. A manifest is never
// produced alongside a BuildError.
type BuildError struct {
	Errors []*ConfigError `json:"errors"`
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid handler definition: " + e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d invalid handler definitions:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *BuildError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}

// Add appends problems.
func (e *BuildError) Add(errs ...*ConfigError) {
	e.Errors = append(e.Errors, errs...)
}

// Len returns the number of problems.
func (e *BuildError) Len() int {
	return len(e.Errors)
}

// ToJSON returns the problems as indented JSON for tooling.
func (e *BuildError) ToJSON() (string, error) {
	bytes, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
