package models

import (
	"time"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
)

// Response is the uniform envelope every provider operation returns to
// callers. Exactly one of Data or Error is populated.
type Response struct {
	Success   bool            `json:"success"`
	Data      interface{}     `json:"data,omitempty"`
	Error     *gwerrors.Error `json:"error,omitempty"`
	Provider  string          `json:"provider"`
	Timestamp time.Time       `json:"timestamp"`
}

// OK wraps a successful result.
func OK(provider string, data interface{}) *Response {
	return &Response{
		Success:   true,
		Data:      data,
		Provider:  provider,
		Timestamp: time.Now(),
	}
}

// Fail wraps a normalized gateway error.
func Fail(provider string, err *gwerrors.Error) *Response {
	return &Response{
		Success:   false,
		Error:     err,
		Provider:  provider,
		Timestamp: time.Now(),
	}
}
