package app

import (
	"context"
	"strings"
)

// logStaffAction writes an audit event on behalf of a user; actorID 0 is the
// system itself.
func (a *App) logStaffAction(ctx context.Context, actorID int64, action string, details map[string]any) {
	act := strings.TrimSpace(action)
	if act == "" {
		act = "unknown"
	}
	role := "system"
	if actorID != 0 {
		role = a.roleOf(ctx, actorID)
	}
	for k, v := range details {
		if s, ok := v.(string); ok {
			details[k] = shorten(strings.TrimSpace(s), 2000)
		}
	}
	a.audit.Record(ctx, actorID, role, act, details)
}
