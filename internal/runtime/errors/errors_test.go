package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrBridgeRequired", ErrBridgeRequired, "embedbridge: bridge is required"},
		{"ErrConfigRequired", ErrConfigRequired, "embedbridge: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "embedbridge: logger is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "embedbridge: publisher is required"},
		{"ErrSubscriberRequired", ErrSubscriberRequired, "embedbridge: subscriber is required"},
		{"ErrTopicRequired", ErrTopicRequired, "embedbridge: topic is required"},
		{"ErrChannelNameRequired", ErrChannelNameRequired, "embedbridge: channel name is required"},
		{"ErrEngineRunnerRequired", ErrEngineRunnerRequired, "embedbridge: engine runner is required"},
		{"ErrLoopStopped", ErrLoopStopped, "embedbridge: event loop is not running"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "embedbridge: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is sees the wrapped error", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
