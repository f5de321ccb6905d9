package errors

import (
	sterrors "errors"
)

var (
	ErrBridgeRequired       = sterrors.New("embedbridge: bridge is required")
	ErrConfigRequired       = sterrors.New("embedbridge: configuration is required")
	ErrLoggerRequired       = sterrors.New("embedbridge: logger is required")
	ErrPublisherRequired    = sterrors.New("embedbridge: publisher is required")
	ErrSubscriberRequired   = sterrors.New("embedbridge: subscriber is required")
	ErrTopicRequired        = sterrors.New("embedbridge: topic is required")
	ErrChannelNameRequired  = sterrors.New("embedbridge: channel name is required")
	ErrEngineRunnerRequired = sterrors.New("embedbridge: engine runner is required")
	ErrLoopStopped          = sterrors.New("embedbridge: event loop is not running")
)

// ConfigValidationError marks errors produced while validating a Config so
// callers can tell them apart from transport or runtime failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "embedbridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
