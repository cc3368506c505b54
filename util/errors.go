package util

import "fmt"

// ErrorKind classifies a failure the way §7 of the design does: by how
// the server is supposed to react to it, not by which package raised it.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindProtocol
	KindPersistence
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindPersistence:
		return "persistence"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// DocError wraps an underlying error with the classification that
// determines whether the offending sink is closed, the descriptor is
// poisoned, or the process aborts. See spec §7.
type DocError struct {
	Kind ErrorKind
	Err  error
}

func (e *DocError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *DocError) Unwrap() error {
	return e.Err
}

func NewTransportError(err error) *DocError {
	return &DocError{Kind: KindTransport, Err: err}
}

func NewProtocolError(err error) *DocError {
	return &DocError{Kind: KindProtocol, Err: err}
}

func NewPersistenceError(err error) *DocError {
	return &DocError{Kind: KindPersistence, Err: err}
}

func NewConfigurationError(err error) *DocError {
	return &DocError{Kind: KindConfiguration, Err: err}
}
