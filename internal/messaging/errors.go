package messaging

import (
	"errors"
	"fmt"
)

// Policy errors are deliberate refusals, never retried.
var (
	ErrAutoCreateDisabled = errors.New("no existing conversation for participants and auto-create is disabled")
	ErrMMSDisabled        = errors.New("mms is not enabled for this gateway")
)

// NotFoundError names the specific missing record.
type NotFoundError struct {
	Kind string // "conversation" or "message"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func conversationNotFound(id string) error {
	return &NotFoundError{Kind: "conversation", ID: id}
}

func messageNotFound(sid string) error {
	return &NotFoundError{Kind: "message", ID: sid}
}
