package actions

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when a call names an action outside the registry.
var ErrUnknownAction = errors.New("unknown action")

// DeliveryError reports a Responder failure. It never ends a conversation;
// the loop surfaces it to the engine as an error turn.
type DeliveryError struct {
	To  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ArgumentError reports a missing or mistyped argument.
type ArgumentError struct {
	Action string
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("action %s: argument %q %s", e.Action, e.Param, e.Reason)
}
