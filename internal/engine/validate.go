package engine

import (
	"errors"
	"fmt"

	"github.com/backcast/backcast/internal/store"
)

// Boundary validation errors. Invalid events are logged and dropped at the
// ingestion boundary; they never reach the graph.
var (
	ErrInvalidActivity = errors.New("invalid activity")
	ErrOutOfOrder      = errors.New("activity timestamp out of order")
)

// validateActivity checks a sanitized activity for obvious garbage before it
// can touch any state. Content-level sanitization happened upstream (privacy
// filter); this only guards structural invariants.
func validateActivity(a store.Activity) error {
	if a.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidActivity)
	}
	if a.DurationMS < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidActivity, a.DurationMS)
	}
	if a.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidActivity)
	}
	if a.App == "" && a.Target == "" {
		return fmt.Errorf("%w: no app or target", ErrInvalidActivity)
	}
	return nil
}
