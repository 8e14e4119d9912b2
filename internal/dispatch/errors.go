package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ConfigError reports an integration whose config is missing a required
// field. It is raised before any network call.
type ConfigError struct {
	Type    string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// DeliveryError reports a failed call to the external system: a transport
// failure, a non-success response, an authentication failure or a timeout.
type DeliveryError struct {
	Target  string
	Status  int
	Timeout bool
	Message string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// transportError classifies an error returned while talking to target.
func transportError(target string, err error) *DeliveryError {
	de := &DeliveryError{Target: target, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		de.Timeout = true
	}
	return de
}
