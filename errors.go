package gotopics

import (
	"errors"
	"fmt"
)

var (
	// ErrInput is returned for unusable input: no records, or duplicate IDs.
	ErrInput = errors.New("gotopics: invalid input")

	// ErrModelUnavailable is returned when the embedding service fails.
	ErrModelUnavailable = errors.New("gotopics: model service unavailable")

	// ErrDegenerateInput marks a run that found no structure and fell back
	// to a single group. It is reported, never returned by Run.
	ErrDegenerateInput = errors.New("gotopics: degenerate input")

	// ErrCanceled is returned when the run's context is done.
	ErrCanceled = errors.New("gotopics: run canceled")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("gotopics: invalid configuration")

	// ErrRunNotFound is returned when a stored run ID does not exist.
	ErrRunNotFound = errors.New("gotopics: run not found")

	// ErrStoreDisabled is returned by run-history methods when no database
	// is configured.
	ErrStoreDisabled = errors.New("gotopics: run store disabled")
)

// Pipeline stage names used in StageError and progress callbacks.
const (
	StageInput     = "input"
	StageEmbed     = "embed"
	StageReduce    = "reduce"
	StageCluster   = "cluster"
	StageLabel     = "label"
	StageHierarchy = "hierarchy"
	StageSentiment = "sentiment"
	StageSummarize = "summarize"
	StageAssemble  = "assemble"
	StageStore     = "store"
)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("gotopics: %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
