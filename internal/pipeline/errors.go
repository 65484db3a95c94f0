package pipeline

import "errors"

// ErrSessionNotFound is returned when a session has no metadata artifact.
// It is the only condition fatal to a coordinator run.
var ErrSessionNotFound = errors.New("session not found")

// ErrWaitTimeout is returned by the Waiter when a dependency artifact never
// appeared within the retry bound. The coordinator converts it into the
// dependent stage's failure, never into a pipeline abort.
var ErrWaitTimeout = errors.New("wait timed out")
