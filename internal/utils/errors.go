package utils

import "fmt"

// AppError tags a failure with the operation it arose from, so collaborator
// errors (collector, annotator, sinks) log with a stable op identifier.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	switch {
	case e.Err == nil:
		return e.Op + ": " + e.Msg
	case e.Msg == "":
		return e.Op + ": " + e.Err.Error()
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps err with an operation tag and message. Either msg or err
// may be empty, not both.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
