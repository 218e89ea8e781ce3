package model

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration marks an invalid construction request: unsupported multiplier,
	// pretrained weights with a non batch-norm layer, feature levels out of range or a
	// stage the architecture does not define.
	ErrConfiguration = stderrors.New("configuration error")

	// ErrNotFound marks an architecture name unknown to the model registry.
	ErrNotFound = stderrors.New("not found")
)

// Configurationf wraps ErrConfiguration with a formatted message.
func Configurationf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// NotFoundError reports an unknown registry name together with near misses.
type NotFoundError struct {
	Name        string
	Suggestions []string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return "model " + e.Name + ": " + ErrNotFound.Error()
	}
	msg := "model " + e.Name + ": " + ErrNotFound.Error() + " (did you mean"
	for i, s := range e.Suggestions {
		if i > 0 {
			msg += ","
		}
		msg += " " + s
	}
	return msg + "?)"
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }
