package artifact

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/verity-group/appraisal-api/internal/model"
)

// ErrNotFound is returned by Read when the artifact does not exist. Absence
// is the normal completion signal for a stage that has not run, so callers
// check it with errors.Is rather than treating it as exceptional.
var ErrNotFound = errors.New("artifact not found")

// Store persists session artifacts as JSON documents keyed by
// (sessionID, name). Write must be atomic: a concurrent Read or Exists sees
// either the previous document or the complete new one, never a torn write.
// Visibility of a Write to subsequent reads may lag; the pipeline's waiter
// compensates for that.
type Store interface {
	Exists(ctx context.Context, sessionID string, name model.ArtifactName) (bool, error)
	Read(ctx context.Context, sessionID string, name model.ArtifactName) (json.RawMessage, error)
	Write(ctx context.Context, sessionID string, name model.ArtifactName, doc json.RawMessage) error

	// ListExisting is the batched form of Exists used by the coordinator to
	// compute the missing-stage set in one pass.
	ListExisting(ctx context.Context, sessionID string, names []model.ArtifactName) (map[model.ArtifactName]bool, error)
}

// ReadInto reads the named artifact and unmarshals it into out.
func ReadInto(ctx context.Context, s Store, sessionID string, name model.ArtifactName, out any) error {
	raw, err := s.Read(ctx, sessionID, name)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// WriteJSON marshals doc and writes it as the named artifact.
func WriteJSON(ctx context.Context, s Store, sessionID string, name model.ArtifactName, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.Write(ctx, sessionID, name, raw)
}
