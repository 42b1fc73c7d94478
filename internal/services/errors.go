package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used to classify stage failures. Adapters wrap errors
// with one of these so the scheduler can decide between retry, permanent
// failure, and validation rejection without inspecting engine-specific
// error text.
var (
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
	ErrTransient         = errors.New("transient failure")
	ErrPermanent         = errors.New("permanent failure")
	ErrCancelled         = errors.New("cancelled")
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error should re-enter the ready queue
// after backoff. Validation, configuration, permanent, and cancellation
// failures never retry.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrPermanent):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, ErrResourceExhausted),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		// Unclassified errors are treated as transient so a flaky external
		// tool gets its bounded retries before the job is failed.
		return true
	}
}

// IsCancellation reports whether err represents user- or shutdown-initiated
// cancellation rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// Message extracts the human-readable portion of a wrapped stage error,
// stripping the leading marker text when present.
func Message(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	for _, marker := range []error{
		ErrValidation, ErrConfiguration, ErrNotFound,
		ErrTransient, ErrPermanent, ErrCancelled, ErrResourceExhausted,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return strings.TrimPrefix(text, prefix)
		}
	}
	return text
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
