package direct

import (
	"errors"
	"fmt"
)

// Status is the termination code of a DIRECT run. Positive values are
// normal terminations, negative values are failures.
type Status int

const (
	// StatusMaxEvaluations means the evaluation budget was used up.
	StatusMaxEvaluations Status = 1
	// StatusMaxIterations means the iteration limit was reached.
	StatusMaxIterations Status = 2
	// StatusGlobalFound means the best value came within the requested
	// percentage of the known global minimum.
	StatusGlobalFound Status = 3
	// StatusVolumeTolerance means the rectangle holding the best point
	// shrank below the volume tolerance (percent of the search box).
	StatusVolumeTolerance Status = 4
	// StatusSigmaTolerance means the size measure of the rectangle holding
	// the best point fell below the sigma tolerance.
	StatusSigmaTolerance Status = 5

	StatusInvalidBounds        Status = -1
	StatusMaxEvaluationsTooBig Status = -2
	StatusInitFailed           Status = -3
	StatusSamplePointsFailed   Status = -4
	StatusSampleFailed         Status = -5
	StatusMaxLevelReached      Status = -6
	StatusForcedStop           Status = -102
)

var statusNames = map[Status]string{
	StatusMaxEvaluations:       "max evaluations reached",
	StatusMaxIterations:        "max iterations reached",
	StatusGlobalFound:          "global minimum found within tolerance",
	StatusVolumeTolerance:      "volume tolerance reached",
	StatusSigmaTolerance:       "sigma tolerance reached",
	StatusInvalidBounds:        "invalid bounds",
	StatusMaxEvaluationsTooBig: "max evaluations too big",
	StatusInitFailed:           "initialization failed",
	StatusSamplePointsFailed:   "sample point outside the box",
	StatusSampleFailed:         "objective evaluation failed",
	StatusMaxLevelReached:      "maximum division level reached",
	StatusForcedStop:           "forced stop",
}

// String returns a human readable description of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Failed reports whether the status is an error code.
func (s Status) Failed() bool {
	return s < 0
}

// StatusError ties a failure status to its cause.
type StatusError struct {
	Status Status
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("direct: %s (ierror=%d)", e.Status, int(e.Status))
	}
	return fmt.Sprintf("direct: %s (ierror=%d): %v", e.Status, int(e.Status), e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusOf extracts the status carried by err. It returns 0 when err holds
// no *StatusError.
func StatusOf(err error) Status {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func statusError(status Status, err error) error {
	return &StatusError{Status: status, Err: err}
}
