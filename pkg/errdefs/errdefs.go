// Package errdefs defines the error kinds surfaced by meta-repository
// operations. Callers classify with errors.Is against the sentinels.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUser marks bad or unresolvable input, including merge conflicts.
	ErrUser = errors.New("user error")
	// ErrConsistency marks a meta tree that disagrees with its submodule
	// configuration or with the sub-repository data available on disk.
	ErrConsistency = errors.New("consistency error")
	// ErrNotFound marks an unknown submodule name.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a merge that could not be completed automatically.
	// Every conflict is also a user error.
	ErrConflict = errors.New("merge conflict")
)

// UserError carries a message meant to be shown verbatim.
type UserError struct {
	Msg string
	Err error
}

// Userf formats a UserError.
func Userf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

func (e *UserError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *UserError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *UserError) Is(target error) bool { return target == ErrUser }

// ConsistencyError reports a broken pointer/configuration relationship or a
// changed submodule that cannot be opened.
type ConsistencyError struct {
	Submodule string
	Msg       string
	Err       error
}

// Consistencyf formats a ConsistencyError for the named submodule.
func Consistencyf(submodule, format string, args ...any) error {
	return &ConsistencyError{Submodule: submodule, Msg: fmt.Sprintf(format, args...)}
}

func (e *ConsistencyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("inconsistent meta repository")
	if e.Submodule != "" {
		fmt.Fprintf(&b, ": submodule %q", e.Submodule)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConsistencyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// NotFoundError reports an unknown submodule name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("submodule %q not found", e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError describes an aborted merge. Submodule is set when the
// conflict was found inside (or about) a submodule; Paths lists the
// conflicting paths relative to the repository that was being merged.
type ConflictError struct {
	Submodule string
	Reason    string
	Paths     []string
	Err       error
}

func (e *ConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Submodule != "" {
		fmt.Fprintf(&b, "conflict in submodule %q", e.Submodule)
	} else {
		b.WriteString("merge conflict")
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Paths) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Paths, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConflictError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || target == ErrUser
}
