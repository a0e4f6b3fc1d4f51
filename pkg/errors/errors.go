package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// stackError 携带调用栈的错误
type stackError struct {
	msg   string
	cause error
	*stack
}

func (e *stackError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *stackError) Unwrap() error { return e.cause }

func (e *stackError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			io.WriteString(s, e.Error())
			for _, f := range e.fullStack() {
				io.WriteString(s, "\n\t"+f)
			}
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

type stack []uintptr

func callers() *stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

func (s *stack) fullStack() []string {
	frames := runtime.CallersFrames(*s)
	out := make([]string, 0, len(*s))
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	// reporters index the caller frame directly
	for len(out) < 3 {
		out = append(out, "")
	}
	return out
}

// New returns an error with the supplied message and the caller stack.
func New(message string) error {
	return &stackError{msg: message, stack: callers()}
}

// NewWithReport 创建错误并上报
func NewWithReport(message string) error {
	err := &stackError{msg: message, stack: callers()}
	report(err)
	return err
}

// Errorf formats according to a format specifier and records the stack.
func Errorf(format string, args ...interface{}) error {
	return &stackError{msg: fmt.Sprintf(format, args...), stack: callers()}
}

// ErrorfAndReport 格式化创建错误并上报
func ErrorfAndReport(format string, args ...interface{}) error {
	err := &stackError{msg: fmt.Sprintf(format, args...), stack: callers()}
	report(err)
	return err
}

// Wrap annotates err with message. Wrap returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &stackError{msg: message, cause: err, stack: callers()}
}

// Wrapf annotates err with the format specifier.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &stackError{msg: fmt.Sprintf(format, args...), cause: err, stack: callers()}
}

// WrapAndReport 包装错误并上报
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := &stackError{msg: message, cause: err, stack: callers()}
	report(wrapped)
	return wrapped
}

// WrapfAndReport 格式化包装错误并上报
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := &stackError{msg: fmt.Sprintf(format, args...), cause: err, stack: callers()}
	report(wrapped)
	return wrapped
}

// WithStack records the stack at the point it was called without changing the message.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var se *stackError
	if stderrors.As(err, &se) {
		return err
	}
	return &stackError{cause: err, stack: callers()}
}

// WithStackAndReport 记录调用栈并上报
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	err = &stackError{cause: err, stack: callers()}
	report(err)
	return err
}

// WithMessage annotates err with a new message, keeping the original error as cause.
func WithMessage(err error, message string) error {
	if err == nil {
		return nil
	}
	return &stackError{msg: message, cause: err, stack: callers()}
}

// WithMessageAndReport 附加消息并上报
func WithMessageAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := &stackError{msg: message, cause: err, stack: callers()}
	report(wrapped)
	return wrapped
}

// Cause returns the innermost error of the chain.
func Cause(err error) error {
	for err != nil {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }
