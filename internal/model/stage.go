package model

import (
	"encoding/json"
	"fmt"
)

// StageError records the failure of one pipeline stage. Stage failures are
// collected, never propagated past the coordinator.
type StageError struct {
	Stage string `json:"stage"`
	Err   error  `json:"-"`
}

func (e StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e StageError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the wrapped error as a plain message so run results
// can be returned in API envelopes.
func (e StageError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage string `json:"stage"`
		Error string `json:"error"`
	}{Stage: e.Stage, Error: e.Err.Error()})
}

// RunResult is the outcome of one coordinator invocation: whatever artifacts
// are now available, plus the failures of the stages that produced nothing.
type RunResult struct {
	SessionID string                           `json:"sessionId"`
	Artifacts map[ArtifactName]json.RawMessage `json:"artifacts"`
	Errors    []StageError                     `json:"errors,omitempty"`
}

// Artifact returns the named artifact payload, or nil when the stage did not
// produce one this run.
func (r *RunResult) Artifact(name ArtifactName) json.RawMessage {
	if r == nil {
		return nil
	}
	return r.Artifacts[name]
}

// Complete reports whether every required artifact is present in the result.
func (r *RunResult) Complete() bool {
	for _, name := range RequiredArtifacts {
		if _, ok := r.Artifacts[name]; !ok {
			return false
		}
	}
	return true
}
