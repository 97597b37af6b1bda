package forest

import "github.com/pkg/errors"

// ConfigError reports a caller-supplied configuration or precondition
// violation: bad training options, a forest already trained, empty training
// labels, a load-time truncation the file cannot satisfy.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func newConfigError(msg string) error {
	return errors.WithStack(&ConfigError{msg: msg})
}

// IOError wraps a failure writing the persisted model to the underlying
// io.Writer. Read failures while loading are reported as ParseError.
type IOError struct {
	msg string
	err error
}

func (e *IOError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *IOError) Unwrap() error { return e.err }

func newIOError(msg string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&IOError{msg: msg, err: err})
}

// ParseError reports a malformed persisted model: a missing token, a value
// out of range, a header that does not match the forest being loaded into.
type ParseError struct {
	msg string
	err error
}

func (e *ParseError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}
func (e *ParseError) Unwrap() error { return e.err }

func newParseError(msg string, err error) error {
	return errors.WithStack(&ParseError{msg: msg, err: err})
}
