package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Body is the JSON error envelope returned by every HTTP endpoint
type Body struct {
	Error BodyError `json:"error"`
}

// BodyError is the inner error object
type BodyError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// HTTPStatus maps an error to its response status
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAgentNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindNoActivePause, KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation, KindUnknownMessage:
		return http.StatusBadRequest
	case KindStoreUnavailable, KindCacheUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Code maps an error to the machine-readable code in the body
func Code(err error) string {
	switch k := KindOf(err); k {
	case KindConflict:
		return "busy"
	default:
		return string(k)
	}
}

// WriteHTTP writes err as a JSON error response. Internal errors hide their cause.
func WriteHTTP(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	msg := err.Error()
	retryable := false
	var e *Error
	if errors.As(err, &e) {
		retryable = e.Retryable()
		if e.Msg != "" && kind != KindInternal {
			msg = e.Msg
		}
	} else if kind == KindConflict || kind == KindStoreUnavailable || kind == KindCacheUnavailable {
		retryable = true
	}
	if kind == KindInternal {
		msg = "internal error"
	}
	WriteStatus(w, HTTPStatus(err), Code(err), msg, retryable)
}

// WriteStatus writes an explicit JSON error response
func WriteStatus(w http.ResponseWriter, status int, code, message string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Body{Error: BodyError{Code: code, Message: message, Retryable: retryable}})
}
