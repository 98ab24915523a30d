package common

import (
	"errors"
	"net/http"
)

type SuccessResponse struct {
	Status  int         `json:"status"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type ErrorResponse struct {
	Status    int         `json:"status"`
	Message   string      `json:"message"`
	Success   bool        `json:"success"`
	Kind      ErrorKind   `json:"kind"`
	Retryable bool        `json:"retryable"`
	Data      interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}, message string) SuccessResponse {
	return SuccessResponse{
		Status:  http.StatusOK,
		Success: true,
		Message: message,
		Data:    data,
	}
}

func NewCreatedResponse(data interface{}, message string) SuccessResponse {
	res := NewSuccessResponse(data, message)
	res.Status = http.StatusCreated
	return res
}

// ErrorResponseFrom maps err onto the envelope, keeping its kind.
func ErrorResponseFrom(err error, data interface{}) ErrorResponse {
	kind := KindOf(err)
	message := err.Error()
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	if kind == KindInternal {
		message = "internal error"
	}
	return ErrorResponse{
		Status:    kind.HTTPStatus(),
		Success:   false,
		Message:   message,
		Kind:      kind,
		Retryable: kind.Retryable(),
		Data:      data,
	}
}
