// Package audit records staff and system actions in an append-only log.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id" bson:"_id"`
	Timestamp time.Time      `json:"ts" bson:"ts"`
	ActorID   int64          `json:"actor_id" bson:"actor_id"`
	ActorRole string         `json:"actor_role" bson:"actor_role"`
	Action    string         `json:"action" bson:"action"`
	Details   map[string]any `json:"details" bson:"details"`
}

// Sink stores events. Tail returns up to n latest events, oldest first.
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Tail(ctx context.Context, n int) ([]Event, error)
	Close(ctx context.Context) error
}

// Recorder stamps events and logs sink failures instead of returning them:
// a failed audit write must not break the user-facing action.
type Recorder struct {
	sink Sink
	log  *zap.Logger
	now  func() time.Time
}

func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sink: sink, log: log, now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, actorID int64, role, action string, details map[string]any) {
	if r == nil || r.sink == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: r.now().UTC(),
		ActorID:   actorID,
		ActorRole: role,
		Action:    action,
		Details:   details,
	}
	if err := r.sink.Write(ctx, ev); err != nil {
		r.log.Warn("⚠️ Не удалось записать audit-событие", zap.String("action", action), zap.Error(err))
	}
}

func (r *Recorder) Tail(ctx context.Context, n int) ([]Event, error) {
	return r.sink.Tail(ctx, n)
}
