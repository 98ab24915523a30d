package common

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// ErrorKind is the machine-readable class of a failed operation.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindNotFound          ErrorKind = "not_found"
	KindUnknownReference  ErrorKind = "unknown_reference"
	KindIllegalTransition ErrorKind = "illegal_transition"
	KindOtpExpired        ErrorKind = "otp_expired"
	KindAttemptsExhausted ErrorKind = "attempts_exhausted"
	KindOtpRejected       ErrorKind = "otp_rejected"
	KindGatewayTransport  ErrorKind = "gateway_transport_error"
	KindConflict          ErrorKind = "conflict"
	KindInternal          ErrorKind = "internal_error"
)

// Sentinels for errors.Is. Any *AppError of the same kind matches.
var (
	ErrValidation        = &AppError{Kind: KindValidation}
	ErrNotFound          = &AppError{Kind: KindNotFound}
	ErrUnknownReference  = &AppError{Kind: KindUnknownReference}
	ErrIllegalTransition = &AppError{Kind: KindIllegalTransition}
	ErrOtpExpired        = &AppError{Kind: KindOtpExpired}
	ErrAttemptsExhausted = &AppError{Kind: KindAttemptsExhausted}
	ErrOtpRejected       = &AppError{Kind: KindOtpRejected}
	ErrGatewayTransport  = &AppError{Kind: KindGatewayTransport}
	ErrConflict          = &AppError{Kind: KindConflict}
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewError(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind ErrorKind, err error, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func (e *AppError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// KindOf returns the kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Retryable reports whether the same request may succeed if sent again.
func (k ErrorKind) Retryable() bool {
	return k == KindGatewayTransport || k == KindConflict
}

func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation, KindOtpExpired, KindAttemptsExhausted, KindOtpRejected:
		return http.StatusBadRequest
	case KindNotFound, KindUnknownReference:
		return http.StatusNotFound
	case KindIllegalTransition, KindConflict:
		return http.StatusConflict
	case KindGatewayTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (k ErrorKind) GRPCCode() codes.Code {
	switch k {
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound, KindUnknownReference:
		return codes.NotFound
	case KindIllegalTransition, KindOtpExpired, KindAttemptsExhausted, KindOtpRejected:
		return codes.FailedPrecondition
	case KindConflict:
		return codes.Aborted
	case KindGatewayTransport:
		return codes.Unavailable
	}
	return codes.Internal
}
