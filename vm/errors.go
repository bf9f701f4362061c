package vm

import (
	"errors"
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Call errors: structural, recoverable by the immediate caller
// ---------------------------------------------------------------------------

// CallErrorKind classifies a failed call.
type CallErrorKind uint8

const (
	CallOK CallErrorKind = iota
	CallInvalidMethod
	CallInvalidArgument
	CallTooManyArguments
	CallTooFewArguments
	CallInstanceIsNull
	CallMethodNotConst
)

var callErrorNames = [...]string{
	CallOK:               "ok",
	CallInvalidMethod:    "invalid method",
	CallInvalidArgument:  "invalid argument",
	CallTooManyArguments: "too many arguments",
	CallTooFewArguments:  "too few arguments",
	CallInstanceIsNull:   "instance is null",
	CallMethodNotConst:   "method not const",
}

func (k CallErrorKind) String() string {
	if int(k) < len(callErrorNames) {
		return callErrorNames[k]
	}
	return "CallErrorKind(" + strconv.Itoa(int(k)) + ")"
}

// CallError reports why a call could not be made.
//
// Argument is the offending argument index for CallInvalidArgument.
// Expected is the expected Type for CallInvalidArgument and the expected
// argument count for the arity kinds.
type CallError struct {
	Kind     CallErrorKind
	Argument int
	Expected int
}

func (e *CallError) Error() string {
	switch e.Kind {
	case CallInvalidArgument:
		return fmt.Sprintf("invalid argument %d: expected %s", e.Argument, Type(e.Expected))
	case CallTooManyArguments, CallTooFewArguments:
		return fmt.Sprintf("%s: expected %d", e.Kind, e.Expected)
	}
	return e.Kind.String()
}

func invalidArgument(index int, expected Type) *CallError {
	return &CallError{Kind: CallInvalidArgument, Argument: index, Expected: int(expected)}
}

func tooManyArguments(expected int) *CallError {
	return &CallError{Kind: CallTooManyArguments, Expected: expected}
}

func tooFewArguments(expected int) *CallError {
	return &CallError{Kind: CallTooFewArguments, Expected: expected}
}

var errInvalidMethod = &CallError{Kind: CallInvalidMethod}

// checkArity validates argc against a declared parameter count with
// trailing defaults.
func checkArity(argc, declared, defaults int, vararg bool) *CallError {
	if argc > declared && !vararg {
		return tooManyArguments(declared)
	}
	if argc < declared-defaults {
		return tooFewArguments(declared - defaults)
	}
	return nil
}

// callErrorText renders a call error for diagnostics. where names the call
// site role, e.g. "method 'foo'" or "base 'bar'".
func callErrorText(err error, where string, args []Value) string {
	var ce *CallError
	if !errors.As(err, &ce) {
		return fmt.Sprintf("Error calling %s: %v.", where, err)
	}
	switch ce.Kind {
	case CallInvalidMethod:
		return "Invalid call. Nonexistent " + where + "."
	case CallInvalidArgument:
		if ce.Argument < 0 || ce.Argument >= len(args) {
			return "Bug: invalid argument index in call to " + where + "."
		}
		return fmt.Sprintf("Invalid type in %s. Cannot convert argument %d from %s to %s.",
			where, ce.Argument+1, args[ce.Argument].Type(), Type(ce.Expected))
	case CallTooManyArguments, CallTooFewArguments:
		return fmt.Sprintf("Invalid call to %s. Expected %d argument(s).", where, ce.Expected)
	case CallInstanceIsNull:
		return "Attempt to call " + where + " on a null instance."
	case CallMethodNotConst:
		return "Attempt to call " + where + " on a const instance."
	}
	return ""
}

// ---------------------------------------------------------------------------
// Runtime errors: fatal for the current invocation
// ---------------------------------------------------------------------------

// ErrorClass groups fatal errors.
type ErrorClass uint8

const (
	ClassType     ErrorClass = iota // instruction-level type violation
	ClassResource                   // stack overflow, malformed bytecode
	ClassProtocol                   // a host iterable broke the iteration contract
)

func (c ErrorClass) String() string {
	switch c {
	case ClassType:
		return "type"
	case ClassResource:
		return "resource"
	case ClassProtocol:
		return "protocol"
	}
	return "unknown"
}

var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrInvalidOperands = errors.New("invalid operands")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrOutOfBounds     = errors.New("out of bounds")
	ErrInvalidAccess   = errors.New("invalid access")
	ErrInvalidCast     = errors.New("invalid cast")
	ErrNotIterable     = errors.New("not iterable")
	ErrInvalidCall     = errors.New("invalid call")
	ErrNullInstance    = errors.New("null instance")
	ErrFreedInstance   = errors.New("freed instance")
	ErrAssertion       = errors.New("assertion failed")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrBadAddress      = errors.New("bad address")
	ErrBadJump         = errors.New("bad jump target")
	ErrMalformed       = errors.New("malformed bytecode")
	ErrIterProtocol    = errors.New("iteration protocol violation")
	ErrInvalidResume   = errors.New("invalid resume")
	ErrAwait           = errors.New("await failed")
)

// classOf maps a sentinel to its error class.
func classOf(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrStackOverflow), errors.Is(err, ErrBadAddress),
		errors.Is(err, ErrBadJump), errors.Is(err, ErrMalformed):
		return ClassResource
	case errors.Is(err, ErrIterProtocol):
		return ClassProtocol
	}
	return ClassType
}

// RuntimeError is a fatal error raised while executing a function. The
// call that raised it returns the default value of its return type.
type RuntimeError struct {
	Class    ErrorClass
	Err      error
	Message  string
	Function string
	Source   string
	NodeID   int
	IP       int
}

func (e *RuntimeError) Error() string {
	loc := e.Function
	if e.Source != "" {
		loc = e.Source + "::" + e.Function
	}
	return fmt.Sprintf("%s (node %d, ip %d): %s", loc, e.NodeID, e.IP, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// fault is a runtime failure before location data is attached.
type fault struct {
	err error
	msg string
}

func (f *fault) Error() string { return f.msg }
func (f *fault) Unwrap() error { return f.err }

func failf(sentinel error, format string, args ...any) error {
	return &fault{err: sentinel, msg: fmt.Sprintf(format, args...)}
}

// addressFault is panicked by operand decoding and recovered by execute.
type addressFault struct {
	addr int32
	why  string
}
