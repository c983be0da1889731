package domain

import (
	"errors"
	"fmt"
)

// Tag classifies a pipeline-level failure into the closed taxonomy the
// orchestrator and stages branch on. Tags are carried as a field on
// TaggedError rather than as distinct sentinel types so that logging,
// retry policy, and fatal/transient classification can all switch on one
// value.
type Tag string

const (
	TagInvalidConfig      Tag = "invalid_config"
	TagInvalidEnv         Tag = "invalid_env"
	TagNotAuthorized      Tag = "not_authorized"
	TagFloodWait          Tag = "flood_wait"
	TagTransientPlatform  Tag = "transient_platform_error"
	TagTransientLLM       Tag = "transient_llm_error"
	TagQuotaExceeded      Tag = "quota_exceeded"
	TagAuthFailed         Tag = "auth_failed"
	TagInvalidLLMResponse Tag = "invalid_llm_response"
	TagStorageBusy        Tag = "storage_busy"
)

// Fatal reports whether a Tag always terminates the process rather than
// being retried or swallowed by the orchestrator.
func (t Tag) Fatal() bool {
	switch t {
	case TagInvalidConfig, TagInvalidEnv, TagNotAuthorized:
		return true
	default:
		return false
	}
}

// Retryable reports whether operations tagged with t should be retried
// under an exponential backoff policy before propagating.
func (t Tag) Retryable() bool {
	switch t {
	case TagFloodWait, TagTransientPlatform, TagTransientLLM, TagStorageBusy:
		return true
	default:
		return false
	}
}

// TaggedError wraps an underlying error with a closed-set Tag and optional
// context, so callers can branch on Tag without string-matching messages.
type TaggedError struct {
	Tag     Tag
	Context string
	Wrapped error
}

func (e *TaggedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Context, e.Wrapped)
	}
	return fmt.Sprintf("%s: %v", e.Tag, e.Wrapped)
}

func (e *TaggedError) Unwrap() error { return e.Wrapped }

// NewTaggedError builds a TaggedError, wrapping a plain message if wrapped is nil.
func NewTaggedError(tag Tag, context string, wrapped error) *TaggedError {
	if wrapped == nil {
		wrapped = errors.New(string(tag))
	}
	return &TaggedError{Tag: tag, Context: context, Wrapped: wrapped}
}

// AsTagged extracts the Tag from err if it (or something it wraps) is a
// *TaggedError, reporting ok=false otherwise.
func AsTagged(err error) (tag Tag, ok bool) {
	var te *TaggedError
	if errors.As(err, &te) {
		return te.Tag, true
	}
	return "", false
}

// Sentinel errors for field-level validation failures raised by Validate*.
var (
	ErrEmptyText    = errors.New("text is empty")
	ErrTextTooLong  = errors.New("text exceeds maximum length")
	ErrEmptyHandle  = errors.New("channel handle is empty")
	ErrInvalidScore = errors.New("llm score out of 1-10 range")
	ErrClockSkew    = errors.New("ingested_at precedes occurred_at beyond tolerance")
)

// ValidationError wraps a field-level sentinel with the offending value,
// mirroring the shape storage and ingestion callers pattern-match on.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
