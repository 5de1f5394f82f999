// Package crawlerr implements the error taxonomy from spec §7: Input,
// Configuration, Transport, Protocol, Lag, and Sink errors, each tagged with
// whether it is fatal to the run.
package crawlerr

import "fmt"

// Class names one of the six error categories from spec §7.
type Class string

const (
	Input         Class = "input"
	Configuration Class = "configuration"
	Transport     Class = "transport"
	Protocol      Class = "protocol"
	Lag           Class = "lag"
	Sink          Class = "sink"
)

// fatalClasses mirrors spec §7's propagation policy: Input, Configuration,
// and Sink failures terminate the run; Transport, Protocol, and Lag become
// Error/Unretrieved events and the run continues.
var fatalClasses = map[Class]bool{
	Input:         true,
	Configuration: true,
	Sink:          true,
}

// Error wraps an underlying error with its taxonomy class.
type Error struct {
	class Class
	msg   string
	cause error
}

func New(class Class, msg string) *Error {
	return &Error{class: class, msg: msg}
}

func Wrap(class Class, msg string, cause error) *Error {
	return &Error{class: class, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Class returns the taxonomy class of the error.
func (e *Error) Class() Class {
	return e.class
}

// Fatal reports whether this error must terminate the run per spec §7.
func (e *Error) Fatal() bool {
	return fatalClasses[e.class]
}
