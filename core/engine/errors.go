package engine

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable identifier carried by every
// domain error the engine returns.
type ErrorKind string

const (
	ErrCollectionNotFound      ErrorKind = "collection_not_found"
	ErrAttributeNotFound       ErrorKind = "attribute_not_found"
	ErrIndexNotFound           ErrorKind = "index_not_found"
	ErrCollectionAlreadyExists ErrorKind = "collection_already_exists"
	ErrAttributeAlreadyExists  ErrorKind = "attribute_already_exists"
	ErrIndexAlreadyExists      ErrorKind = "index_already_exists"
	ErrAttributeValueInvalid   ErrorKind = "attribute_value_invalid"
	ErrAttributeFormatInvalid  ErrorKind = "attribute_format_unsupported"
	ErrAttributeDefaultInvalid ErrorKind = "attribute_default_unsupported"
	ErrAttributeTypeInvalid    ErrorKind = "attribute_type_invalid"
	ErrIndexInvalid            ErrorKind = "index_invalid"
	ErrAttributeUnknown        ErrorKind = "attribute_unknown"
	ErrCollectionLimit         ErrorKind = "collection_limit_exceeded"
	ErrAttributeLimit          ErrorKind = "attribute_limit_exceeded"
	ErrIndexLimit              ErrorKind = "index_limit_exceeded"
	ErrAttributeNotAvailable   ErrorKind = "attribute_not_available"
	ErrAttributeInvalidResize  ErrorKind = "attribute_invalid_resize"
	ErrPermissionInvalid       ErrorKind = "permission_invalid"
	ErrInternal                ErrorKind = "internal"
)

// Error is a domain error with a stable kind and a human-readable detail
// string. Anything originating from the store that is not one of the mapped
// failures surfaces as ErrInternal.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a domain error with a formatted detail message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, returning ErrInternal for anything
// that is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ClientError reports whether the error is attributable to the caller rather
// than the system: validation, conflict, limit, not-found and state errors.
func ClientError(err error) bool {
	switch KindOf(err) {
	case ErrInternal:
		return false
	default:
		return err != nil
	}
}
