package pipeline

import (
	"errors"
	"fmt"
)

// ErrCritical marks failures that must abort the whole job.
var ErrCritical = errors.New("critical pipeline failure")

// Stage names the step a page failed at.
type Stage string

const (
	StageLoad           Stage = "load"
	StageSummarize      Stage = "summarize"
	StageContext        Stage = "context"
	StageClassify       Stage = "classify"
	StageMerge          Stage = "merge"
	StageShardWrite     Stage = "shard_write"
	StageIndexWrite     Stage = "index_write"
	StageRollingSummary Stage = "rolling_summary"
	StageStability      Stage = "stability"
	StageReconcile      Stage = "reconcile"
)

// CriticalError carries the stage of a job-aborting failure.
type CriticalError struct {
	Stage Stage
	Page  int
	Err   error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("page %d: %s: %v", e.Page, e.Stage, e.Err)
}

func (e *CriticalError) Is(target error) bool { return target == ErrCritical }

func (e *CriticalError) Unwrap() error { return e.Err }

func critical(stage Stage, page int, err error) error {
	return &CriticalError{Stage: stage, Page: page, Err: err}
}

// IsCritical reports whether err must abort the job.
func IsCritical(err error) bool {
	return errors.Is(err, ErrCritical)
}
