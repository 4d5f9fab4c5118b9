package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stencil/internal/runs"
)

var (
	ErrDecode        = errors.New("image decode failed")
	ErrDataset       = errors.New("invalid dataset")
	ErrDivergence    = errors.New("training diverged: non-finite loss")
	ErrIO            = errors.New("storage failure")
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("invalid configuration")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
)

// Wrap tags err with one of the sentinel markers above and prefixes the
// message with component and operation context. Both the marker and err
// stay reachable through errors.Is.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	detail := joinDetail(component, operation, message)
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// FailureStatus maps a pipeline error to the run status the experiment runner
// should persist after the run ends abnormally.
func FailureStatus(err error) runs.Status {
	if errors.Is(err, context.Canceled) {
		return runs.StatusCancelled
	}
	return runs.StatusFailed
}

func joinDetail(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return "service failure"
	}
	return strings.Join(kept, ": ")
}
