package notification

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by stores when no notification matches the id
// within the tenant's scope.
var ErrNotFound = errors.New("notification not found")

// ErrConflict is returned by stores when a conditional update matched no
// row, meaning another pass already moved the notification on.
var ErrConflict = errors.New("notification modified concurrently")

// InvalidNotificationError reports construction-time invariant violations.
// It is fatal to the create call that produced it and nothing else.
type InvalidNotificationError struct {
	Violations []string
}

func (e *InvalidNotificationError) Error() string {
	return fmt.Sprintf("invalid notification: %s", strings.Join(e.Violations, "; "))
}

// InvalidTransitionError reports an illegal state-machine mutation. It
// indicates a caller bug and is surfaced immediately.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid notification transition: %s -> %s", e.From, e.To)
}
