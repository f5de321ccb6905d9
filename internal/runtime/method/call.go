// Package method layers structured method calls over a message channel:
// a call names a method and carries arguments, and its reply is a success
// value, a coded error or "not implemented".
package method

import (
	"errors"
	"fmt"
)

// ErrNotImplemented resolves an invocation the peer has no handler for.
var ErrNotImplemented = errors.New("method: not implemented")

// Error is a coded failure returned by the peer's handler.
type Error struct {
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("method error %s", e.Code)
	}
	return fmt.Sprintf("method error %s: %s", e.Code, e.Message)
}

// Call is a method invocation.
type Call struct {
	Method    string
	Arguments any
}

// Argument returns the value stored under key when Arguments is a map.
func (c Call) Argument(key string) (any, bool) {
	switch args := c.Arguments.(type) {
	case map[string]any:
		v, ok := args[key]
		return v, ok
	case map[string]string:
		v, ok := args[key]
		return v, ok
	default:
		return nil, false
	}
}

// String returns the string argument under key.
func (c Call) String(key string) (string, error) {
	v, ok := c.Argument(key)
	if !ok {
		return "", fmt.Errorf("method %s: missing argument %q", c.Method, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("method %s: argument %q is %T, not a string", c.Method, key, v)
	}
	return s, nil
}

// Int returns the integral argument under key. Codecs decode numbers as
// float64, so fractional values are rejected.
func (c Call) Int(key string) (int, error) {
	v, ok := c.Argument(key)
	if !ok {
		return 0, fmt.Errorf("method %s: missing argument %q", c.Method, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("method %s: argument %q is not integral", c.Method, key)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("method %s: argument %q is %T, not a number", c.Method, key, v)
	}
}
