package dispatch

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned by NewPipeline for an unusable template.
var ErrConfiguration = errors.New("mail template configuration error")

// Stage names the step of a send that failed.
type Stage string

const (
	StageFiltering  Stage = "filtering"
	StageHooks      Stage = "hooks"
	StageRendering  Stage = "rendering"
	StageSubmitting Stage = "submitting"
	StagePersisting Stage = "persisting"
)

// StageError wraps an error with the label and the stage it happened in.
type StageError struct {
	Label string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("dispatch %s: %s: %v", e.Label, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
