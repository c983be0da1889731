package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ClockSkewTolerance bounds how far IngestedAt may precede OccurredAt before
// ValidateRawMessage rejects it; platform clients can report timestamps
// from a server clock slightly ahead of ours.
const ClockSkewTolerance = 5 * time.Minute

// ValidateChannelHandle normalizes and validates a channel handle. Handles
// are compared case-insensitively, so callers should persist the lowercase
// form returned here.
func ValidateChannelHandle(handle string) (string, error) {
	trimmed := strings.TrimSpace(handle)
	if trimmed == "" {
		return "", NewValidationError("handle", handle, ErrEmptyHandle)
	}
	return strings.ToLower(trimmed), nil
}

// ValidateRawMessage checks the field-level invariants a RawMessage must
// satisfy before it is persisted: non-empty sanitized text bounded by
// MaxTextLength, and IngestedAt not preceding OccurredAt beyond
// ClockSkewTolerance.
func ValidateRawMessage(m RawMessage) error {
	if strings.TrimSpace(m.Text) == "" {
		return NewValidationError("text", m.Text, ErrEmptyText)
	}
	if utf8.RuneCountInString(m.Text) > MaxTextLength {
		return NewValidationError("text", truncateForError(m.Text), ErrTextTooLong)
	}
	if !m.IngestedAt.IsZero() && !m.OccurredAt.IsZero() {
		if m.IngestedAt.Before(m.OccurredAt.Add(-ClockSkewTolerance)) {
			return NewValidationError("ingested_at", m.IngestedAt.String(), ErrClockSkew)
		}
	}
	return nil
}

// ValidateLLMScore checks that a score, if present, falls in the 1-10 range
// the selection stage is contracted to produce.
func ValidateLLMScore(score int) error {
	if score < 1 || score > 10 {
		return NewValidationError("llm_score", strconv.Itoa(score), ErrInvalidScore)
	}
	return nil
}

func truncateForError(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "…"
}
