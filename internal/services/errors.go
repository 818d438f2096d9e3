package services

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Kind markers. Every error produced by a stage or adapter carries exactly one
// of these so the orchestrator can decide between retry and terminal failure
// with errors.Is.
var (
	ErrTransient     = errors.New("transient failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrTimeout       = errors.New("timeout")
	ErrExternalTool  = errors.New("external tool error")
	ErrContent       = errors.New("content rejected")
	ErrCorrupted     = errors.New("corrupted media")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrCancelled     = errors.New("cancelled")
)

var kindOrder = []error{
	ErrCancelled, ErrContent, ErrCorrupted, ErrNotFound, ErrValidation,
	ErrConfiguration, ErrRateLimited, ErrTimeout, ErrExternalTool, ErrTransient,
}

var kindNames = map[error]string{
	ErrTransient:     "transient",
	ErrRateLimited:   "rate_limited",
	ErrTimeout:       "timeout",
	ErrExternalTool:  "external_tool",
	ErrContent:       "content",
	ErrCorrupted:     "corrupted",
	ErrNotFound:      "not_found",
	ErrValidation:    "validation",
	ErrConfiguration: "configuration",
	ErrCancelled:     "cancelled",
}

// Error is the single structured error value used across the pipeline.
type Error struct {
	Kind      error
	Code      string
	Stage     string
	Operation string
	Message   string
	Details   map[string]any
	Err       error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	if e.Operation != "" {
		parts = append(parts, e.Operation)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(parts) == 0 {
		parts = append(parts, "service failure")
	}
	msg := strings.Join(parts, ": ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind marker and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Option customizes an Error built by Wrap.
type Option func(*Error)

// WithCode sets a stable machine-readable failure code.
func WithCode(code string) Option {
	return func(e *Error) { e.Code = code }
}

// WithDetail attaches one key/value pair for operator diagnostics.
func WithDetail(key string, value any) Option {
	return func(e *Error) {
		if e.Details == nil {
			e.Details = make(map[string]any)
		}
		e.Details[key] = value
	}
}

// Wrap builds a structured error tagged with the provided kind marker. When
// err is already a structured Error its kind, code and details are kept and
// only missing fields are filled in, so wrapping twice never loses the
// original classification.
func Wrap(kind error, stage, operation, message string, err error, opts ...Option) error {
	var inner *Error
	if errors.As(err, &inner) {
		merged := *inner
		merged.Details = maps.Clone(inner.Details)
		if merged.Stage == "" {
			merged.Stage = strings.TrimSpace(stage)
		}
		if merged.Operation == "" {
			merged.Operation = strings.TrimSpace(operation)
		}
		if merged.Message == "" {
			merged.Message = strings.TrimSpace(message)
		}
		for _, opt := range opts {
			opt(&merged)
		}
		return &merged
	}
	if kind == nil {
		kind = ErrTransient
	}
	out := &Error{
		Kind:      kind,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// IsRetryable reports whether the orchestrator may retry the failed work.
// Content, corruption, not-found, validation, configuration and cancellation
// failures are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, terminal := range []error{ErrContent, ErrCorrupted, ErrNotFound, ErrValidation, ErrConfiguration, ErrCancelled} {
		if errors.Is(err, terminal) {
			return false
		}
	}
	return true
}

// KindName returns the short classification label for err.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	var structured *Error
	if errors.As(err, &structured) && structured.Kind != nil {
		if name, ok := kindNames[structured.Kind]; ok {
			return name
		}
	}
	for _, marker := range kindOrder {
		if errors.Is(err, marker) {
			return kindNames[marker]
		}
	}
	return "unknown"
}

// Description is the operator-facing view of a failure.
type Description struct {
	Kind      string
	Code      string
	Stage     string
	Operation string
	Message   string
	Retryable bool
	Details   map[string]any
	Cause     error
}

// Describe flattens err into a Description. Unstructured errors are reported
// as retryable transient failures.
func Describe(err error) Description {
	if err == nil {
		return Description{}
	}
	desc := Description{
		Kind:      KindName(err),
		Retryable: IsRetryable(err),
		Message:   err.Error(),
	}
	var structured *Error
	if errors.As(err, &structured) {
		desc.Code = structured.Code
		desc.Stage = structured.Stage
		desc.Operation = structured.Operation
		if structured.Message != "" {
			desc.Message = structured.Message
		}
		desc.Details = maps.Clone(structured.Details)
		desc.Cause = structured.Err
	}
	if desc.Code == "" {
		desc.Code = desc.Kind
	}
	return desc
}

// Errorf is a convenience for Wrap with a formatted message and no cause.
func Errorf(kind error, stage, operation, format string, args ...any) error {
	return Wrap(kind, stage, operation, fmt.Sprintf(format, args...), nil)
}
