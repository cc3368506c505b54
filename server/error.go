package server

import "net/http"

// httpError carries the status and body a failed request should answer
// with, the Go-idiomatic shape of the teacher's LDAP result codes,
// grounded on original_source/server/src/error.rs's Error type.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

func badRequest(message string) *httpError {
	return newHTTPError(http.StatusBadRequest, message)
}

func notFound(message string) *httpError {
	return newHTTPError(http.StatusNotFound, message)
}

func internalError(message string) *httpError {
	return newHTTPError(http.StatusInternalServerError, message)
}

func writeHTTPError(w http.ResponseWriter, err *httpError) {
	http.Error(w, err.message, err.status)
}
