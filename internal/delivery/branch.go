package delivery

import (
	"context"

	"go.uber.org/zap"
)

// branch runs one delivery fan-out step under the non-fatal contract: the
// step's failure is logged and reported back as false, and never propagates
// to sibling branches or any caller. Every best-effort side channel goes
// through here rather than ad hoc error swallowing at call sites.
func branch(ctx context.Context, sessionID, name string, fn func(context.Context) error) bool {
	if err := fn(ctx); err != nil {
		zap.L().Error("delivery branch failed",
			zap.String("session_id", sessionID),
			zap.String("branch", name),
			zap.Error(err),
		)
		return false
	}
	zap.L().Debug("delivery branch complete",
		zap.String("session_id", sessionID),
		zap.String("branch", name),
	)
	return true
}
