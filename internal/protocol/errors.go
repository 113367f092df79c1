package protocol

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrorKind classifies a decoding failure.
type ErrorKind int

const (
	// ErrKindBase64 means the text frame was not valid standard base64.
	ErrKindBase64 ErrorKind = iota + 1
	// ErrKindBinary means the decoded bytes did not match a known layout.
	ErrKindBinary
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindBase64:
		return "base64"
	case ErrKindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Binary layout violations wrapped by an EncodingError of kind ErrKindBinary.
var (
	ErrUnsupportedVersion = errors.New("unsupported wire version")
	ErrUnknownTag         = errors.New("unknown message tag")
	ErrTruncated          = errors.New("truncated message")
	ErrTrailingData       = errors.New("trailing data after message")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrMalformedDelta     = errors.New("malformed delta")
)

// EncodingError is returned by DecodeText and DecodeBinary. Stack holds the
// goroutine stack at the point of failure for diagnostics.
type EncodingError struct {
	Kind  ErrorKind
	Err   error
	Stack []byte
}

func newEncodingError(kind ErrorKind, err error) *EncodingError {
	return &EncodingError{
		Kind:  kind,
		Err:   err,
		Stack: debug.Stack(),
	}
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s decoding failed: %v", e.Kind, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// IsEncodingError reports whether err is an EncodingError of the given kind.
func IsEncodingError(err error, kind ErrorKind) bool {
	var encErr *EncodingError
	return errors.As(err, &encErr) && encErr.Kind == kind
}
