// Package apperr holds the error taxonomy shared by the transport, the
// provider adapters and the checkout orchestrator. Every error that crosses
// the core boundary carries a stable Kind and a human readable message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindNetwork             Kind = "transport_network"
	KindHTTP                Kind = "transport_http"
	KindUnknown             Kind = "transport_unknown"
	KindDeclined            Kind = "provider_declined"
	KindProtocol            Kind = "provider_protocol_error"
	KindConflict            Kind = "conflict"
	KindInit                Kind = "init_error"
	KindNotFound            Kind = "not_found"
)

type Error struct {
	Kind    Kind
	Message string
	// Field names the offending input for validation errors.
	Field string
	// Status and Body are set for transport_http.
	Status int
	Body   string
	// Code is the provider decline code, e.g. "card_declined".
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Field != "" {
		msg += " (field " + e.Field + ")"
	}
	if e.Kind == KindHTTP && e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrHTTP                = &Error{Kind: KindHTTP}
	ErrUnknown             = &Error{Kind: KindUnknown}
	ErrDeclined            = &Error{Kind: KindDeclined}
	ErrProtocol            = &Error{Kind: KindProtocol}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInit                = &Error{Kind: KindInit}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

func Unavailable(msg string) *Error { return &Error{Kind: KindProviderUnavailable, Message: msg} }

func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "network failure", Err: err}
}

func HTTP(status int, body string) *Error {
	return &Error{Kind: KindHTTP, Message: http.StatusText(status), Status: status, Body: body}
}

func Unknown(err error) *Error {
	return &Error{Kind: KindUnknown, Message: "unexpected transport failure", Err: err}
}

func Declined(code, msg string) *Error {
	return &Error{Kind: KindDeclined, Code: code, Message: msg}
}

func Protocol(msg string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: msg, Err: err}
}

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

func Init(msg string) *Error { return &Error{Kind: KindInit, Message: msg} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsTransport(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindHTTP, KindUnknown:
		return true
	}
	return false
}

// Retriable reports whether the transport may repeat the call that produced err:
// network failures, 5xx, 429 and 401. Other 4xx are final.
func Retriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTP:
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusUnauthorized
	}
	return false
}
