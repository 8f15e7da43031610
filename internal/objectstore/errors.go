package objectstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrWrite    = errors.New("storage write failed")
	ErrRead     = errors.New("storage read failed")
	ErrDelete   = errors.New("storage delete failed")
	ErrEmpty    = errors.New("empty object body")
)

type Op string

const (
	OpPut     Op = "put"
	OpGet     Op = "get"
	OpHead    Op = "head"
	OpDelete  Op = "delete"
	OpPresign Op = "presign"
)

// maxDiagnosticBody bounds how much of a backend error body is kept.
const maxDiagnosticBody = 1024

// Error carries what an operator needs to debug a backend failure. It is never shown
// to end users as is.
type Error struct {
	Op         Op
	Key        string
	StatusCode int
	Code       string
	RequestID  string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "objectstore %s %q", e.Op, e.Key)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, "; body=%s", e.Body)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := []error{e.class()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) class() error {
	switch e.Op {
	case OpPut:
		return ErrWrite
	case OpDelete:
		return ErrDelete
	default:
		return ErrRead
	}
}

// NewError builds an Error, trimming body to a bounded diagnostic excerpt.
func NewError(op Op, key string, status int, code, requestID, body string, err error) *Error {
	body = strings.TrimSpace(body)
	if len(body) > maxDiagnosticBody {
		body = body[:maxDiagnosticBody]
	}
	return &Error{
		Op:         op,
		Key:        key,
		StatusCode: status,
		Code:       code,
		RequestID:  requestID,
		Body:       body,
		Err:        err,
	}
}

// EmptyBodyError is what every backend returns for a zero-length Put.
func EmptyBodyError(key string) error {
	return &Error{Op: OpPut, Key: key, Err: ErrEmpty}
}

func NotFoundError(op Op, key string) error {
	return fmt.Errorf("objectstore %s %q: %w", op, key, ErrNotFound)
}
