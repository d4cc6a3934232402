// Package rpcerr carries errors that are safe to show to MCP clients, rendered
// as JSON-RPC 2.0 error envelopes at the HTTP boundary.
package rpcerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeServerError is the start of the implementation-defined range and is
	// used for throttling.
	CodeServerError = -32000
)

const (
	DefaultMessage = "Internal error"
	DefaultStatus  = http.StatusInternalServerError
)

// Error wraps a root cause with the JSON-RPC code, public message and HTTP
// status used when responding.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	// Status is the HTTP status code used when responding via HTTP.
	Status int `json:"-"`
	// Err is the internal cause, logged but never sent.
	Err error `json:"-"`
}

// Wrap wraps a root cause with an HTTP status, a JSON-RPC code and a public
// message.
func Wrap(err error, status, code int, msg string) error {
	return Error{
		Code:    code,
		Message: msg,
		Status:  status,
		Err:     err,
	}
}

// Errorf creates a public error whose message is also its cause.
func Errorf(status, code int, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return Error{
		Code:    code,
		Message: err.Error(),
		Status:  status,
		Err:     err,
	}
}

// WrapDefaults wraps err as an internal error.
func WrapDefaults(err error) error {
	return Error{
		Code:    CodeInternalError,
		Message: DefaultMessage,
		Status:  DefaultStatus,
		Err:     err,
	}
}

func ParseError(err error) error {
	return Wrap(err, http.StatusBadRequest, CodeParseError, "Parse error")
}

func InvalidRequest(status int, msg string) error {
	return Wrap(errors.New(msg), status, CodeInvalidRequest, msg)
}

func Internal(err error, status int) error {
	return Wrap(err, status, CodeInternalError, DefaultMessage)
}

func (e Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Err.Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// As returns the public form of err. Errors that aren't an Error become
// internal errors.
func As(err error) Error {
	var pe Error
	if errors.As(err, &pe) {
		return pe
	}
	var pp *Error
	if errors.As(err, &pp) && pp != nil {
		return *pp
	}
	return WrapDefaults(err).(Error)
}

type envelope struct {
	JSONRPC string `json:"jsonrpc"`
	Error   Error  `json:"error"`
	ID      any    `json:"id"`
}

// WriteHTTP writes err as a JSON-RPC error response. id is the request id, or
// nil when the request couldn't be read.
func WriteHTTP(w http.ResponseWriter, id any, err error) error {
	pe := As(err)
	status := pe.Status
	if status == 0 {
		status = DefaultStatus
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(envelope{JSONRPC: "2.0", Error: pe, ID: id})
}
