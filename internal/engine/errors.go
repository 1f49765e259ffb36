package engine

import (
	"errors"
	"fmt"
	"strings"

	"envline/internal/validation"
)

var (
	// ErrStaleSession is returned when a session was cancelled or superseded by a
	// newer one for the same environment. Late server responses are dropped.
	ErrStaleSession = errors.New("edit session is no longer current")
	// ErrNotEditable is returned for changes to data declared in a config repository.
	ErrNotEditable = errors.New("not editable")
)

// ValidationError carries the attribute errors that blocked a submission.
type ValidationError struct {
	Environment string
	Errors      validation.Errors
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, attr := range e.Errors.Attributes() {
		parts = append(parts, attr+": "+e.Errors.Display(attr))
	}
	return fmt.Sprintf("environment %q is invalid: %s", e.Environment, strings.Join(parts, " "))
}

// ConflictError reports a pipeline that already belongs to another environment.
type ConflictError struct {
	Environment string
	Pipeline    string
	Other       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pipeline %q cannot be added to environment %q: it already belongs to environment %q", e.Pipeline, e.Environment, e.Other)
}
