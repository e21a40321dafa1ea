package sandbox

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// Kind classifies why generated code could not produce a result.
type Kind string

const (
	KindCompile Kind = "compile"
	KindRuntime Kind = "runtime"
	KindTimeout Kind = "timeout"
)

// Error is returned by Run when the program fails. Message holds the engine's
// own text, e.g. the message of a thrown JavaScript Error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsKind reports whether err is a sandbox error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// jsErrorMessage extracts the message of a thrown or rejected value. Error
// objects yield their message property; anything else is stringified.
func jsErrorMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) && !goja.IsNull(m) {
			return m.String()
		}
	}
	return v.String()
}

// classify maps an error raised while running the program.
func classify(err error, timeoutMsg string) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &Error{Kind: KindTimeout, Message: timeoutMsg}
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &Error{Kind: KindCompile, Message: syntax.Error()}
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &Error{Kind: KindRuntime, Message: jsErrorMessage(exception.Value())}
	}
	var stackOverflow *goja.StackOverflowError
	if errors.As(err, &stackOverflow) {
		return &Error{Kind: KindRuntime, Message: "Maximum call stack size exceeded"}
	}
	return &Error{Kind: KindRuntime, Message: fmt.Sprint(err)}
}
