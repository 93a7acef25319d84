package nfse

import (
	"fmt"

	"github.com/alapierre/go-nfse-client/nfse/api"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "nfse")

type Kind int

const (
	KindTransport Kind = iota + 1
	KindValidation
	KindAuthentication
	KindLookup
	KindProtocol
	KindDownload
	KindPrecondition
)

var (
	// ErrTransport network failure or timeout, retryable.
	ErrTransport = errors.New("nfse transport error")
	// ErrValidation bad local input or a field rejected by the portal; fix the input.
	ErrValidation = errors.New("nfse validation error")
	// ErrAuthentication login did not reach an authenticated page.
	ErrAuthentication = errors.New("nfse authentication error")
	// ErrLookup taxpayer lookup answered with a non-2xx status, retryable.
	ErrLookup = errors.New("nfse lookup error")
	// ErrProtocol portal markup or status no longer matches what the client expects.
	ErrProtocol = errors.New("nfse protocol error")
	// ErrDownload DANFSe download answered with a non-200 status, retryable.
	ErrDownload = errors.New("nfse download error")
	// ErrPrecondition the step is not allowed in the current session state.
	ErrPrecondition = errors.New("nfse precondition error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindValidation:
		return ErrValidation
	case KindAuthentication:
		return ErrAuthentication
	case KindLookup:
		return ErrLookup
	case KindProtocol:
		return ErrProtocol
	case KindDownload:
		return ErrDownload
	case KindPrecondition:
		return ErrPrecondition
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindLookup:
		return "lookup"
	case KindProtocol:
		return "protocol"
	case KindDownload:
		return "download"
	case KindPrecondition:
		return "precondition"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every Session step. Body keeps the raw portal response when
// the failure has to be diagnosed by a human (protocol drift, rejected submission).
type Error struct {
	Kind    Kind
	Op      string
	Status  int // HTTP status, 0 when no response was received
	Message string
	Body    []byte
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("nfse %s: %s error", e.Op, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProtocol) and friends work on *Error.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Retryable reports whether repeating the same step may succeed without any change
// on the caller side.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindLookup, KindDownload:
		return true
	}
	return false
}

// KindOf returns the kind of a Session error or 0 for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func responseError(kind Kind, op, message string, resp *api.Response) *Error {
	e := newError(kind, op, message)
	if resp != nil {
		e.Status = resp.StatusCode
		e.Body = resp.Body
	}
	return e
}

func transportError(op string, err error) *Error {
	e := &Error{Kind: KindTransport, Op: op, Err: err}
	var te *api.TransportError
	if errors.As(err, &te) && te.Timeout() {
		e.Message = "timeout"
	}
	return e
}
