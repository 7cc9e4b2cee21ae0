// Package errors provides error wrapping utilities for context-aware error messages
// and the failure categories shared by the packaging steps.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Failure categories. Callers test for them with Is; every returned error
// wraps exactly one of these when the failure belongs to a category.
var (
	// ErrConfigMissing reports a required parameter absent from its source file.
	ErrConfigMissing = stderrors.New("config missing")

	// ErrMalformedValue reports a fuse value shorter than its declared width or unparsable.
	ErrMalformedValue = stderrors.New("malformed value")

	// ErrMissingComponent reports a required component binary absent from the source directory.
	ErrMissingComponent = stderrors.New("missing component")

	// ErrExternalTool reports a container serializer or OTA generator failure.
	ErrExternalTool = stderrors.New("external tool failure")
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Newf returns an error in the given category carrying a formatted message.
func Newf(category error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", category, fmt.Sprintf(format, args...))
}

// New returns a plain error with the given text.
func New(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
