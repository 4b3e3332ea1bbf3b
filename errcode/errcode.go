package errcode

// Code is a stable, cross-package error identifier. It is a string
// newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	InvalidArgument       Code = "invalid_argument"
	Timeout               Code = "timeout"
	CapacityExceeded      Code = "capacity_exceeded"
	NotWhitelisted        Code = "not_whitelisted"
	ProtocolRejected      Code = "protocol_rejected"
	TransportDisconnected Code = "transport_disconnected"
	ParseFailure          Code = "parse_failure"
	RetriesExhausted      Code = "retries_exhausted"
	AlreadyProvisioning   Code = "already_provisioning"
	NoFreeAddress         Code = "no_free_address"

	Error Code = "error" // generic fallback
)

// E keeps an operation name and cause alongside the stable code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + string(e.C) + ": " + e.Msg
	}
	return e.Op + ": " + string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E with the given operation, code, and cause.
func New(op string, c Code, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
