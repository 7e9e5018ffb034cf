package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrReadinessTimeout = errors.New("gpu readiness timeout")
	ErrJobFailed        = errors.New("conversion failed")
	ErrJobTimeout       = errors.New("conversion timed out")
	ErrOutputNotFound   = errors.New("output not found")
	ErrRelocation       = errors.New("output relocation failed")
	ErrExternalTool     = errors.New("external tool error")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// JobError reports a conversion run that exited with a non-zero status. The
// captured standard error is carried verbatim.
type JobError struct {
	Input    string
	ExitCode int
	Stderr   string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s (exit %d): %s", ErrJobFailed, e.Input, e.ExitCode, e.Stderr)
}

// Is reports ErrJobFailed so callers can classify with errors.Is.
func (e *JobError) Is(target error) bool {
	return target == ErrJobFailed
}

// HTTPStatus maps a pipeline error to the status code the API layer returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReadinessTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrJobTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
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
