package extract

import (
	"errors"
	"fmt"
)

// PipelineError classifies a failed extraction or finalization attempt.
// Transient failures count against the retry ceiling; a permanent failure
// bypasses it and fails the document immediately. The underlying OCR tools
// give no transient/permanent signal, so everything defaults to transient;
// the only permanent case is a file the pipeline will never understand.
type PipelineError struct {
	Reason    string
	Permanent bool
	Err       error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PipelineError) Unwrap() error { return e.Err }

func Transient(reason string, err error) *PipelineError {
	return &PipelineError{Reason: reason, Err: err}
}

func Permanent(reason string, err error) *PipelineError {
	return &PipelineError{Reason: reason, Permanent: true, Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Permanent
}

// Reason extracts a short failure reason for persistence.
func Reason(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
