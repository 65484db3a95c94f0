package artifact

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/verity-group/appraisal-api/internal/model"
)

// MemoryStore is an in-process Store for tests and local runs. Writes are
// atomic under a mutex and immediately visible, which makes it strictly
// better-behaved than object storage; tests that need propagation lag layer
// it behind a delaying wrapper instead.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func memKey(sessionID string, name model.ArtifactName) string {
	return sessionID + "/" + string(name)
}

func (s *MemoryStore) Exists(_ context.Context, sessionID string, name model.ArtifactName) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[memKey(sessionID, name)]
	return ok, nil
}

func (s *MemoryStore) Read(_ context.Context, sessionID string, name model.ArtifactName) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[memKey(sessionID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), raw...), nil
}

func (s *MemoryStore) Write(_ context.Context, sessionID string, name model.ArtifactName, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[memKey(sessionID, name)] = append(json.RawMessage(nil), doc...)
	return nil
}

func (s *MemoryStore) ListExisting(_ context.Context, sessionID string, names []model.ArtifactName) (map[model.ArtifactName]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ArtifactName]bool, len(names))
	for _, name := range names {
		_, ok := s.data[memKey(sessionID, name)]
		out[name] = ok
	}
	return out, nil
}

// Delete removes an artifact; used only by tests exercising re-runs.
func (s *MemoryStore) Delete(_ context.Context, sessionID string, name model.ArtifactName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, memKey(sessionID, name))
}
