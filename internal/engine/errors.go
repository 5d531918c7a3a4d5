package engine

import (
	"errors"
	"fmt"
)

// Stage names the step of a cycle where an error occurred.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageVerify   Stage = "verify"
	StageGenerate Stage = "generate"
	StagePublish  Stage = "publish"
	StagePersist  Stage = "persist"
)

// StageError wraps an error with the cycle stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err aborted a cycle before any candidate was
// considered.
func IsFetchError(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == StageFetch
}
