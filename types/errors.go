package types

import "fmt"

// ValidationError reports a malformed, incomplete, or unsigned launch.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Invalidf(format string, params ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, params...)}
}

// PermissionError reports a launch whose roles do not allow the requested action.
type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }

func Forbiddenf(format string, params ...interface{}) error {
	return &PermissionError{Msg: fmt.Sprintf(format, params...)}
}

// NotFoundError reports a missing local record. When the missing record is a
// class, ClassLaunchURL points at the launch that would provision it again.
type NotFoundError struct {
	Msg            string
	ClassLaunchURL string
}

func (e *NotFoundError) Error() string { return e.Msg }

func NotFoundf(format string, params ...interface{}) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, params...)}
}
